package bot

// =============================================================================
// General messages
// =============================================================================

const (
	MsgOk            = `Ok!`
	MsgUnexpectedErr = `Unexpected error: %s`
	MsgStartPrompt   = `
	Send me up to %d photos that say something about you, then tell me what you
	want recommendations for, e.g. _travel destinations_ or _books_.

	/vision picks how photos are analyzed
	/text picks the model that writes recommendations
	/recommend asks again with the current topic
	/labels shows what I saw in your photos
	/photos removes your photos`
)

// =============================================================================
// Photo messages
// =============================================================================

const (
	MsgPhotoAdded          = "Photo added (%s). Now tell me what you want recommendations for."
	MsgPhotosRemoved       = "Photos removed."
	MsgImageDownloadFailed = "Error: downloading the photo failed"
	MsgNotAnImage          = "Only photos and image files are supported."
)

// =============================================================================
// Recommendation messages
// =============================================================================

const (
	MsgMissingTopic    = "Please enter a topic"
	MsgMissingImages   = "Please upload at least one image"
	MsgTooManyImages   = "Please upload a maximum of %d images"
	MsgNoLabels        = "I could not recognize anything in your photos. Try other photos or another /vision backend."
	MsgNoLabelsYet     = "No labels yet. Send photos and a topic first."
	MsgLabels          = "*Labels (%s):*\n%s"
	MsgRecommendations = "*Labels:* %s\n\n*%s:*\n%s"
	MsgVisionFailed    = "Analyzing photos with %s failed: %s"
	MsgTextFailed      = "Generating recommendations with %s failed: %s"
	MsgBackendDisabled = "%s is not configured on this bot. Pick another one."
	MsgPhotoUnreadable = "Could not read photo %s: %s"
)

// =============================================================================
// Backend selection messages
// =============================================================================

const (
	MsgSelectVision  = "How should your photos be analyzed?"
	MsgSelectText    = "Which model should write the recommendations?"
	MsgVisionChanged = "Photos are analyzed with *%s*."
	MsgTextChanged   = "Recommendations are written by *%s*."
	BtnSelected      = "✓ "
)

// =============================================================================
// Admin command messages
// =============================================================================

const (
	MsgAdminUsage           = "Usage:\n`/admin users add <user_id>`\n`/admin users remove <user_id>`\n`/admin users list`"
	MsgAdminUserAddUsage    = "Usage: `/admin users add <user_id>`"
	MsgAdminUserRemoveUsage = "Usage: `/admin users remove <user_id>`"
	MsgAdminUserInvalidID   = "Invalid user ID. Give a number."
	MsgAdminUserAdded       = "✅ User `%d` added."
	MsgAdminUserRemoved     = "🗑 User `%d` removed."
	MsgAdminNoUsers         = "No allowed users."
	MsgAdminAllowedUsers    = "*Allowed users:*\n"
)
