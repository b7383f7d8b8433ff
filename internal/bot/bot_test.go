package bot

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/raine/telegram-recommender-bot/internal/blobstore"
	"github.com/raine/telegram-recommender-bot/internal/download"
	"github.com/raine/telegram-recommender-bot/internal/llm"
	"github.com/raine/telegram-recommender-bot/internal/recommend"
	"github.com/raine/telegram-recommender-bot/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	adminID int64 = 1
	guestID int64 = 42
)

type botApiMock struct {
	mock.Mock
}

func (m *botApiMock) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return args.Get(0).(tgbotapi.Message), args.Error(1)
}

func (m *botApiMock) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	args := m.Called(c)
	return args.Get(0).(*tgbotapi.APIResponse), args.Error(1)
}

func (m *botApiMock) GetFileDirectURL(fileID string) (string, error) {
	args := m.Called(fileID)
	return args.Get(0).(string), args.Error(1)
}

// outbox collects everything the bot sent, guarded for the typing goroutine.
type outbox struct {
	mu    sync.Mutex
	sent  []tgbotapi.MessageConfig
	edits []tgbotapi.EditMessageTextConfig
}

func (o *outbox) texts() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for _, m := range o.sent {
		out = append(out, m.Text)
	}
	return out
}

func (o *outbox) last() tgbotapi.MessageConfig {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.sent) == 0 {
		return tgbotapi.MessageConfig{}
	}
	return o.sent[len(o.sent)-1]
}

func (o *outbox) editTexts() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for _, e := range o.edits {
		out = append(out, e.Text)
	}
	return out
}

type fixedVision struct {
	mu     sync.Mutex
	labels []string
	calls  int
}

func (v *fixedVision) DetectLabels(ctx context.Context, ref blobstore.Reference) ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	return v.labels, nil
}

func (v *fixedVision) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

type fixedText struct {
	reply string
}

func (t fixedText) Recommend(ctx context.Context, labels []string, topic string) (string, error) {
	return t.reply, nil
}

type botFixture struct {
	bot    *Bot
	tg     *botApiMock
	store  *storage.SQLiteStore
	vision *fixedVision
	out    *outbox
}

func pngBytes(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{R: shade, G: 255 - shade, B: 10, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// newTelegramMock answers every API call and serves a distinct PNG for each
// known file ID.
func newTelegramMock(t *testing.T) (*botApiMock, *outbox) {
	t.Helper()

	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		shade := uint8(len(r.URL.Path) * 20)
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngBytes(t, shade))
	}))
	t.Cleanup(files.Close)

	out := &outbox{}
	tg := new(botApiMock)
	tg.On("Send", mock.Anything).Run(func(args mock.Arguments) {
		if m, ok := args.Get(0).(tgbotapi.MessageConfig); ok {
			out.mu.Lock()
			out.sent = append(out.sent, m)
			out.mu.Unlock()
		}
	}).Return(tgbotapi.Message{MessageID: 1}, nil)
	tg.On("Request", mock.Anything).Run(func(args mock.Arguments) {
		if e, ok := args.Get(0).(tgbotapi.EditMessageTextConfig); ok {
			out.mu.Lock()
			out.edits = append(out.edits, e)
			out.mu.Unlock()
		}
	}).Return(&tgbotapi.APIResponse{Ok: true}, nil)
	for _, id := range []string{"a", "bb", "ccc"} {
		tg.On("GetFileDirectURL", id).Return(files.URL+"/"+id, nil)
	}
	return tg, out
}

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:", blobstore.NewResolver("", "", ""))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newBotFixture(t *testing.T, visionSet func(*fixedVision) llm.VisionSet) *botFixture {
	t.Helper()

	store := newTestStore(t)
	vision := &fixedVision{labels: []string{"beach", "sunset"}}
	if visionSet == nil {
		visionSet = func(v *fixedVision) llm.VisionSet { return llm.VisionSet{Structured: v, Generative: v} }
	}
	orchestrator := recommend.New(store, visionSet(vision), llm.TextSet{
		Fast:      fixedText{reply: "1. Bali\n2. Lofoten"},
		OpenModel: fixedText{reply: "1. Madeira"},
	}, recommend.Config{MaxImages: 2, Concurrency: 2})

	tg, out := newTelegramMock(t)
	bot := NewBot(tg, store, orchestrator, download.NewImageDownloader(), adminID)
	t.Cleanup(bot.Shutdown)

	return &botFixture{bot: bot, tg: tg, store: store, vision: vision, out: out}
}

func textUpdate(userID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID},
		Chat: &tgbotapi.Chat{ID: userID},
		Text: text,
	}}
}

func photoUpdate(userID int64, fileID string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID},
		Chat: &tgbotapi.Chat{ID: userID},
		Photo: []tgbotapi.PhotoSize{
			{FileID: "thumb", FileUniqueID: "thumb", Width: 90},
			{FileID: fileID, FileUniqueID: fileID, Width: 1280},
		},
	}}
}

func callbackUpdate(userID int64, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:   "cb",
		From: &tgbotapi.User{ID: userID},
		Data: data,
		Message: &tgbotapi.Message{
			MessageID: 7,
			Chat:      &tgbotapi.Chat{ID: userID},
		},
	}}
}

func TestBot_PhotoThenTopicRecommends(t *testing.T) {
	f := newBotFixture(t, nil)
	ctx := context.Background()

	f.bot.handleUpdateSync(ctx, photoUpdate(adminID, "a"))
	assert.Equal(t, "Photo added (1 photo). Now tell me what you want recommendations for.", f.out.last().Text)

	f.bot.handleUpdateSync(ctx, textUpdate(adminID, "travel destinations"))

	last := f.out.last()
	assert.Equal(t, tgbotapi.ModeMarkdown, last.ParseMode)
	assert.Contains(t, last.Text, "*Labels:* beach, sunset")
	assert.Contains(t, last.Text, "*travel destinations:*")
	assert.Contains(t, last.Text, "1. Bali")

	settings, err := f.store.GetChatSettings(adminID)
	require.NoError(t, err)
	require.NotNil(t, settings)
	assert.Equal(t, "travel destinations", settings.Topic)
	assert.Equal(t, "structured", settings.Vision)
	assert.Equal(t, "fast", settings.Text)
}

func TestBot_NewTopicReusesLabels(t *testing.T) {
	f := newBotFixture(t, nil)
	ctx := context.Background()

	f.bot.handleUpdateSync(ctx, photoUpdate(adminID, "a"))
	f.bot.handleUpdateSync(ctx, textUpdate(adminID, "travel destinations"))
	f.bot.handleUpdateSync(ctx, textUpdate(adminID, "books"))
	f.bot.handleUpdateSync(ctx, textUpdate(adminID, "/recommend"))

	assert.Equal(t, 1, f.vision.callCount())
	assert.Contains(t, f.out.last().Text, "*books:*")
}

func TestBot_TopicWithoutPhotos(t *testing.T) {
	f := newBotFixture(t, nil)

	f.bot.handleUpdateSync(context.Background(), textUpdate(adminID, "books"))

	assert.Equal(t, "Please upload at least one image", f.out.last().Text)
	assert.Equal(t, 0, f.vision.callCount())
}

func TestBot_PhotoLimit(t *testing.T) {
	f := newBotFixture(t, nil)
	ctx := context.Background()

	f.bot.handleUpdateSync(ctx, photoUpdate(adminID, "a"))
	f.bot.handleUpdateSync(ctx, photoUpdate(adminID, "bb"))
	f.bot.handleUpdateSync(ctx, photoUpdate(adminID, "ccc"))

	assert.Equal(t, "Please upload a maximum of 2 images", f.out.last().Text)
	f.tg.AssertNotCalled(t, "GetFileDirectURL", "ccc")

	session, err := f.bot.state.getUserSession(adminID)
	require.NoError(t, err)
	assert.Equal(t, 2, session.ImageCount())
}

func TestBot_PhotoCaptionIsTopic(t *testing.T) {
	f := newBotFixture(t, nil)

	update := photoUpdate(adminID, "a")
	update.Message.Caption = "hiking trails"
	f.bot.handleUpdateSync(context.Background(), update)

	assert.Contains(t, f.out.last().Text, "*hiking trails:*")
}

func TestBot_ImageDocument(t *testing.T) {
	f := newBotFixture(t, nil)
	ctx := context.Background()

	update := textUpdate(adminID, "")
	update.Message.Document = &tgbotapi.Document{FileID: "bb", FileUniqueID: "u", FileName: "holiday.png", MimeType: "image/png"}
	f.bot.handleUpdateSync(ctx, update)
	assert.Contains(t, f.out.last().Text, "Photo added (1 photo)")

	update = textUpdate(adminID, "")
	update.Message.Document = &tgbotapi.Document{FileID: "doc", FileName: "notes.pdf", MimeType: "application/pdf"}
	f.bot.handleUpdateSync(ctx, update)
	assert.Equal(t, MsgNotAnImage, f.out.last().Text)
}

func TestBot_RecommendWithoutTopic(t *testing.T) {
	f := newBotFixture(t, nil)

	f.bot.handleUpdateSync(context.Background(), textUpdate(adminID, "/recommend"))

	assert.Equal(t, "Please enter a topic", f.out.last().Text)
}

func TestBot_UnconfiguredVisionBackend(t *testing.T) {
	f := newBotFixture(t, func(v *fixedVision) llm.VisionSet { return llm.VisionSet{Generative: v} })
	ctx := context.Background()

	f.bot.handleUpdateSync(ctx, photoUpdate(adminID, "a"))
	f.bot.handleUpdateSync(ctx, textUpdate(adminID, "books"))

	assert.Equal(t, "Cloud Vision (faster) is not configured on this bot. Pick another one.", f.out.last().Text)
}

func TestBot_SelectBackends(t *testing.T) {
	f := newBotFixture(t, nil)
	ctx := context.Background()

	f.bot.handleUpdateSync(ctx, textUpdate(adminID, "/vision"))
	markup, ok := f.out.last().ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 2)
	assert.Equal(t, "✓ Cloud Vision (faster)", markup.InlineKeyboard[0][0].Text)
	assert.Equal(t, "vision:generative", *markup.InlineKeyboard[1][0].CallbackData)

	f.bot.handleUpdateSync(ctx, callbackUpdate(adminID, "vision:generative"))
	f.bot.handleUpdateSync(ctx, callbackUpdate(adminID, "text:open"))

	assert.Equal(t, []string{
		"Photos are analyzed with *Generative vision (slower)*.",
		"Recommendations are written by *Open model (Llama)*.",
	}, f.out.editTexts())

	settings, err := f.store.GetChatSettings(adminID)
	require.NoError(t, err)
	require.NotNil(t, settings)
	assert.Equal(t, "generative", settings.Vision)
	assert.Equal(t, "open", settings.Text)

	f.bot.handleUpdateSync(ctx, photoUpdate(adminID, "a"))
	f.bot.handleUpdateSync(ctx, textUpdate(adminID, "islands"))
	assert.Contains(t, f.out.last().Text, "1. Madeira")
}

func TestBot_InvalidCallbackIgnored(t *testing.T) {
	f := newBotFixture(t, nil)

	f.bot.handleUpdateSync(context.Background(), callbackUpdate(adminID, "vision:psychic"))

	assert.Empty(t, f.out.editTexts())
	settings, err := f.store.GetChatSettings(adminID)
	require.NoError(t, err)
	assert.Nil(t, settings)
}

func TestBot_LabelsAndPhotosCommands(t *testing.T) {
	f := newBotFixture(t, nil)
	ctx := context.Background()

	f.bot.handleUpdateSync(ctx, textUpdate(adminID, "/labels"))
	assert.Equal(t, MsgNoLabelsYet, f.out.last().Text)

	f.bot.handleUpdateSync(ctx, photoUpdate(adminID, "a"))
	f.bot.handleUpdateSync(ctx, textUpdate(adminID, "books"))
	f.bot.handleUpdateSync(ctx, textUpdate(adminID, "/labels"))
	assert.Equal(t, "*Labels (Cloud Vision (faster)):*\nbeach, sunset", f.out.last().Text)

	f.bot.handleUpdateSync(ctx, textUpdate(adminID, "/photos"))
	assert.Equal(t, MsgPhotosRemoved, f.out.last().Text)

	f.bot.handleUpdateSync(ctx, textUpdate(adminID, "books"))
	assert.Equal(t, "Please upload at least one image", f.out.last().Text)
}

func TestBot_SessionRestoresSettings(t *testing.T) {
	f := newBotFixture(t, nil)
	require.NoError(t, f.store.SaveChatSettings(&storage.ChatSettings{
		ChatID: adminID,
		Topic:  "board games",
		Vision: "generative",
		Text:   "accurate",
	}))

	session, err := f.bot.state.getUserSession(adminID)
	require.NoError(t, err)
	assert.Equal(t, "board games", session.topic)
	assert.Equal(t, llm.VisionGenerative, session.vision)
	assert.Equal(t, llm.TextAccurate, session.text)
}

func TestBot_Whitelist(t *testing.T) {
	f := newBotFixture(t, nil)
	ctx := context.Background()

	f.bot.handleUpdateSync(ctx, textUpdate(guestID, "/start"))
	assert.Empty(t, f.out.texts(), "unknown users are dropped silently")

	f.bot.handleUpdateSync(ctx, textUpdate(adminID, "/admin users add 42"))
	assert.Equal(t, "✅ User `42` added.", f.out.last().Text)

	f.bot.handleUpdateSync(ctx, textUpdate(guestID, "/start"))
	assert.True(t, strings.HasPrefix(f.out.last().Text, "Send me up to 2 photos"))
	assert.Equal(t, guestID, f.out.last().ChatID)

	f.bot.handleUpdateSync(ctx, textUpdate(adminID, "/admin users list"))
	assert.Contains(t, f.out.last().Text, "`42`")

	f.bot.handleUpdateSync(ctx, textUpdate(adminID, "/admin users remove 42"))
	assert.Equal(t, "🗑 User `42` removed.", f.out.last().Text)

	before := len(f.out.texts())
	f.bot.handleUpdateSync(ctx, textUpdate(guestID, "/start"))
	assert.Len(t, f.out.texts(), before)
}

func TestBot_AdminCommandOnlyForAdmin(t *testing.T) {
	f := newBotFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.store.AddAllowedUser(guestID, adminID))

	f.bot.handleUpdateSync(ctx, textUpdate(guestID, "/admin users add 99"))

	assert.Empty(t, f.out.texts())
	allowed, err := f.store.IsUserAllowed(99)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestBot_AdminUsage(t *testing.T) {
	f := newBotFixture(t, nil)
	ctx := context.Background()

	f.bot.handleUpdateSync(ctx, textUpdate(adminID, "/admin"))
	assert.Equal(t, MsgAdminUsage, f.out.last().Text)

	f.bot.handleUpdateSync(ctx, textUpdate(adminID, "/admin users add abc"))
	assert.Equal(t, MsgAdminUserInvalidID, f.out.last().Text)
}
