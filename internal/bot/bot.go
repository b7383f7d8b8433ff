package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/raine/telegram-recommender-bot/internal/imaging"
	"github.com/raine/telegram-recommender-bot/internal/llm"
	"github.com/raine/telegram-recommender-bot/internal/recommend"
	"github.com/raine/telegram-recommender-bot/internal/storage"
	"github.com/rs/zerolog/log"
)

// BotAPI defines the interface for Telegram bot API operations.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Store persists per-chat choices and the user whitelist.
type Store interface {
	GetChatSettings(chatID int64) (*storage.ChatSettings, error)
	SaveChatSettings(settings *storage.ChatSettings) error
	IsUserAllowed(telegramID int64) (bool, error)
	AddAllowedUser(telegramID, addedBy int64) error
	RemoveAllowedUser(telegramID int64) error
	GetAllowedUsers() ([]storage.AllowedUser, error)
}

// Recommender turns photos and a topic into recommendations.
type Recommender interface {
	Run(ctx context.Context, state recommend.SessionState, req recommend.Request) (recommend.SessionState, error)
	MaxImages() int
}

// ImageDownloader fetches files uploaded to Telegram.
type ImageDownloader interface {
	FetchTelegramFile(ctx context.Context, getFileDirectURL func(fileID string) (string, error), fileID string) ([]byte, error)
}

// Bot is the main Telegram bot handler.
type Bot struct {
	tg          BotAPI
	state       BotState
	store       Store
	recommender Recommender
	downloader  ImageDownloader
	adminID     int64
}

// NewBot creates a new Bot instance.
func NewBot(tg BotAPI, store Store, recommender Recommender, downloader ImageDownloader, adminID int64) *Bot {
	bot := &Bot{
		tg:          tg,
		store:       store,
		recommender: recommender,
		downloader:  downloader,
		adminID:     adminID,
	}
	bot.state = bot.NewBotState()
	return bot
}

// Shutdown stops all session workers.
func (b *Bot) Shutdown() {
	b.state.Shutdown()
}

// HandleUpdate is the main message router.
// It dispatches messages to the appropriate session worker for sequential processing.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	b.dispatchUpdate(ctx, update, false)
}

// handleUpdateSync is like HandleUpdate but waits for message processing to complete.
// Used in tests where we need synchronous behavior.
func (b *Bot) handleUpdateSync(ctx context.Context, update tgbotapi.Update) {
	b.dispatchUpdate(ctx, update, true)
}

// dispatchUpdate routes updates to the appropriate session worker.
// If sync is true, it waits for message processing to complete.
func (b *Bot) dispatchUpdate(ctx context.Context, update tgbotapi.Update, sync bool) {
	var userId int64

	if update.CallbackQuery != nil {
		userId = update.CallbackQuery.From.ID
	} else if update.Message != nil && update.Message.From != nil {
		userId = update.Message.From.ID
	} else {
		return
	}

	// Check if user is allowed (admin always allowed)
	// MUST be before getUserSession to prevent memory exhaustion from random user IDs
	if userId != b.adminID {
		allowed, err := b.store.IsUserAllowed(userId)
		if err != nil {
			log.Error().Err(err).Int64("user_id", userId).Msg("whitelist check failed")
			return // Fail closed
		}
		if !allowed {
			return // Silent drop
		}
	}

	session, err := b.state.getUserSession(userId)
	if err != nil {
		log.Error().Err(err).Send()
		return
	}

	send := func(msg SessionMessage) {
		if sync {
			session.SendSync(msg)
		} else {
			session.Send(msg)
		}
	}

	if update.CallbackQuery != nil {
		send(SessionMessage{
			Type:          "callback",
			Ctx:           ctx,
			CallbackQuery: update.CallbackQuery,
		})
		return
	}

	log.Info().Str("text", update.Message.Text).Str("caption", update.Message.Caption).Msg("got message")

	switch {
	case len(update.Message.Photo) > 0, update.Message.Document != nil:
		send(SessionMessage{Type: "photo", Ctx: ctx, Message: update.Message})
	default:
		send(SessionMessage{Type: "text", Ctx: ctx, Message: update.Message})
	}
}

// HandleSessionMessage implements MessageHandler interface.
// This is called by the session worker goroutine for sequential processing.
func (b *Bot) HandleSessionMessage(ctx context.Context, session *UserSession, msg SessionMessage) {
	switch msg.Type {
	case "callback":
		b.handleCallbackQuery(ctx, session, msg.CallbackQuery)
	case "photo":
		b.handlePhotoMessage(ctx, session, msg.Message)
	case "text":
		b.handleTextMessage(ctx, session, msg.Message)
	}
}

// handlePhotoMessage downloads a photo or image document and adds it to the
// session's photos. A caption is treated like a topic message.
func (b *Bot) handlePhotoMessage(ctx context.Context, session *UserSession, message *tgbotapi.Message) {
	fileID, filename, ok := photoFile(message)
	if !ok {
		session.reply(MsgNotAnImage)
		return
	}

	maxImages := b.recommender.MaxImages()
	if session.ImageCount() >= maxImages {
		session.reply(MsgTooManyImages, maxImages)
		return
	}

	data, err := b.downloader.FetchTelegramFile(ctx, b.tg.GetFileDirectURL, fileID)
	if err != nil {
		log.Error().Err(err).Str("fileID", fileID).Msg("failed to download photo")
		session.reply(MsgImageDownloadFailed)
		return
	}

	count := session.addImage(imaging.FromBytes(data, filename))
	log.Info().Int64("userId", session.userId).Int("count", count).Str("filename", filename).Msg("added photo")

	if caption := strings.TrimSpace(message.Caption); caption != "" {
		b.setTopic(session, caption)
		b.runRecommendation(ctx, session)
		return
	}
	session.reply(MsgPhotoAdded, pluralize("photo", "photos", count))
}

// photoFile picks the largest photo size, or an image document.
func photoFile(message *tgbotapi.Message) (fileID, filename string, ok bool) {
	if n := len(message.Photo); n > 0 {
		largest := message.Photo[n-1]
		return largest.FileID, largest.FileUniqueID + ".jpg", true
	}
	if doc := message.Document; doc != nil && strings.HasPrefix(doc.MimeType, "image/") {
		name := doc.FileName
		if name == "" {
			name = doc.FileUniqueID
		}
		return doc.FileID, name, true
	}
	return "", "", false
}

// handleTextMessage treats any plain text as the topic and runs a recommendation.
func (b *Bot) handleTextMessage(ctx context.Context, session *UserSession, message *tgbotapi.Message) {
	text := strings.TrimSpace(message.Text)
	if strings.HasPrefix(text, "/") {
		b.handleCommand(ctx, session, message)
		return
	}
	if text == "" {
		session.reply(MsgMissingTopic)
		return
	}

	b.setTopic(session, text)
	b.runRecommendation(ctx, session)
}

// handleCommand processes bot commands.
func (b *Bot) handleCommand(ctx context.Context, session *UserSession, message *tgbotapi.Message) {
	command, args := parseCommand(message.Text)
	argsStr := strings.Join(args, " ")
	switch command {
	case "/start":
		session.reply(MsgStartPrompt, b.recommender.MaxImages())
	case "/recommend":
		if session.topic == "" {
			session.reply(MsgMissingTopic)
			return
		}
		b.runRecommendation(ctx, session)
	case "/vision":
		msg := tgbotapi.NewMessage(session.userId, MsgSelectVision)
		msg.ReplyMarkup = makeVisionKeyboard(session.vision)
		session.replyWithMessage(msg)
	case "/text":
		msg := tgbotapi.NewMessage(session.userId, MsgSelectText)
		msg.ReplyMarkup = makeTextKeyboard(session.text)
		session.replyWithMessage(msg)
	case "/labels":
		state := session.State()
		if !state.HasLabels() {
			session.reply(MsgNoLabelsYet)
			return
		}
		session.reply(MsgLabels, state.Vision.Label(), escapeMarkdown(state.Labels.String()))
	case "/photos":
		session.clearImages()
		session.reply(MsgPhotosRemoved)
	case "/admin":
		b.handleAdminCommand(session, argsStr)
	default:
		session.reply(MsgStartPrompt, b.recommender.MaxImages())
	}
}

// handleCallbackQuery handles inline keyboard button presses.
func (b *Bot) handleCallbackQuery(ctx context.Context, session *UserSession, query *tgbotapi.CallbackQuery) {
	// Answer the callback to remove the loading state
	callback := tgbotapi.NewCallback(query.ID, "")
	b.tg.Request(callback)

	kind, value, _ := strings.Cut(query.Data, ":")
	var text string
	switch kind {
	case "vision":
		backend, err := llm.ParseVisionBackend(value)
		if err != nil {
			log.Warn().Str("data", query.Data).Msg("invalid vision callback")
			return
		}
		session.vision = backend
		text = fmt.Sprintf(MsgVisionChanged, backend.Label())
	case "text":
		backend, err := llm.ParseTextBackend(value)
		if err != nil {
			log.Warn().Str("data", query.Data).Msg("invalid text callback")
			return
		}
		session.text = backend
		text = fmt.Sprintf(MsgTextChanged, backend.Label())
	default:
		return
	}

	b.saveSettings(session)

	if query.Message != nil {
		edit := tgbotapi.NewEditMessageText(query.Message.Chat.ID, query.Message.MessageID, text)
		edit.ParseMode = tgbotapi.ModeMarkdown
		if _, err := b.tg.Request(edit); err != nil {
			log.Error().Err(err).Msg("failed to edit backend selection message")
		}
	}
}

func (b *Bot) setTopic(session *UserSession, topic string) {
	session.topic = topic
	b.saveSettings(session)
}

func (b *Bot) saveSettings(session *UserSession) {
	err := b.store.SaveChatSettings(&storage.ChatSettings{
		ChatID: session.userId,
		Topic:  session.topic,
		Vision: session.vision.String(),
		Text:   session.text.String(),
	})
	if err != nil {
		log.Error().Err(err).Int64("userId", session.userId).Msg("failed to save chat settings")
	}
}

// runRecommendation analyzes the session's photos and replies with
// recommendations for its topic.
func (b *Bot) runRecommendation(ctx context.Context, session *UserSession) {
	typingCtx, cancelTyping := context.WithCancel(ctx)
	go session.startTypingLoop(typingCtx)
	defer cancelTyping()

	session.mu.Lock()
	images := append([]imaging.Image(nil), session.images...)
	state := session.state
	session.mu.Unlock()

	state, err := b.recommender.Run(ctx, state, recommend.Request{
		Topic:  session.topic,
		Images: images,
		Vision: session.vision,
		Text:   session.text,
	})
	session.setState(state)
	cancelTyping()

	if err != nil {
		b.replyRecommendationError(session, err)
		return
	}

	session.reply(MsgRecommendations,
		escapeMarkdown(state.Labels.String()),
		escapeMarkdown(state.Topic),
		escapeMarkdown(state.Recommendations))
}

func (b *Bot) replyRecommendationError(session *UserSession, err error) {
	var (
		validationErr *recommend.ValidationError
		visionErr     *llm.VisionProviderError
		textErr       *llm.TextProviderError
		decodeErr     *imaging.DecodeError
	)

	switch {
	case errors.As(err, &validationErr):
		switch validationErr {
		case recommend.ErrMissingTopic:
			session.reply(MsgMissingTopic)
		case recommend.ErrMissingImages:
			session.reply(MsgMissingImages)
		case recommend.ErrTooManyImages:
			session.reply(MsgTooManyImages, b.recommender.MaxImages())
		case recommend.ErrNoLabels:
			session.reply(MsgNoLabels)
		default:
			session.reply(escapeMarkdown(validationErr.Reason))
		}
	case errors.As(err, &decodeErr):
		session.reply(MsgPhotoUnreadable, escapeMarkdown(decodeErr.Filename), escapeMarkdown(decodeErr.Err.Error()))
	case errors.As(err, &visionErr):
		if errors.Is(err, llm.ErrBackendUnavailable) {
			session.reply(MsgBackendDisabled, visionErr.Backend.Label())
			return
		}
		session.reply(MsgVisionFailed, visionErr.Backend.Label(), escapeMarkdown(visionErr.Err.Error()))
	case errors.As(err, &textErr):
		if errors.Is(err, llm.ErrBackendUnavailable) {
			session.reply(MsgBackendDisabled, textErr.Backend.Label())
			return
		}
		session.reply(MsgTextFailed, textErr.Backend.Label(), escapeMarkdown(textErr.Err.Error()))
	default:
		session.replyWithError(err)
	}
}

// handleAdminCommand handles /admin command with subcommands.
// Only the admin user can use this command (defense in depth check).
func (b *Bot) handleAdminCommand(session *UserSession, args string) {
	// Defense in depth: verify caller is admin even though whitelist check passed
	if session.userId != b.adminID {
		return // Silent drop for non-admin users
	}

	parts := strings.Fields(args)
	if len(parts) < 2 || parts[0] != "users" {
		session.reply(MsgAdminUsage)
		return
	}
	b.handleAdminUsersCommand(session, parts[1], parts[2:])
}

// handleAdminUsersCommand handles /admin users subcommands.
func (b *Bot) handleAdminUsersCommand(session *UserSession, action string, args []string) {
	switch action {
	case "add":
		if len(args) < 1 {
			session.reply(MsgAdminUserAddUsage)
			return
		}
		userID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			session.reply(MsgAdminUserInvalidID)
			return
		}
		if err := b.store.AddAllowedUser(userID, session.userId); err != nil {
			session.replyWithError(err)
			return
		}
		session.reply(MsgAdminUserAdded, userID)

	case "remove":
		if len(args) < 1 {
			session.reply(MsgAdminUserRemoveUsage)
			return
		}
		userID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			session.reply(MsgAdminUserInvalidID)
			return
		}
		if err := b.store.RemoveAllowedUser(userID); err != nil {
			session.replyWithError(err)
			return
		}
		session.reply(MsgAdminUserRemoved, userID)

	case "list":
		users, err := b.store.GetAllowedUsers()
		if err != nil {
			session.replyWithError(err)
			return
		}
		if len(users) == 0 {
			session.reply(MsgAdminNoUsers)
			return
		}
		var sb strings.Builder
		sb.WriteString(MsgAdminAllowedUsers)
		for _, u := range users {
			fmt.Fprintf(&sb, "• `%d` (added %s)\n", u.TelegramID, u.AddedAt.Format("2006-01-02"))
		}
		session.reply(sb.String())

	default:
		session.reply(MsgAdminUsage)
	}
}
