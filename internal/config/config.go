// Package config reads the bot's settings from the environment. Variables
// may also come from config.env in the user's config directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/raine/telegram-recommender-bot/internal/blobstore"
	"github.com/raine/telegram-recommender-bot/internal/llm"
	"github.com/raine/telegram-recommender-bot/internal/recommend"
)

const (
	AppName     = "telegram-recommender-bot"
	EnvFileName = "config.env"
)

// Blob store kinds accepted by BLOB_STORE.
const (
	BlobStoreSQLite = "sqlite"
	BlobStoreFile   = "file"
	BlobStoreMemory = "memory"
)

// Generative vision drivers accepted by VISION_GENERATIVE_DRIVER.
const (
	DriverOpenAI = "openai"
	DriverGemini = "gemini"
)

// requiredEnvVars lists the variables the bot cannot start without.
var requiredEnvVars = []string{"BOT_TOKEN", "ADMIN_TELEGRAM_ID"}

type Config struct {
	BotToken string
	AdminID  int64
	DBPath   string
	HTTPAddr string

	BlobStore     string
	BlobDir       string
	BlobNamespace string
	BlobDomain    string

	// BlobBaseURL is the prefix blobs are served under, so it must include
	// the handler path, e.g. http://host:8080/blobs. References resolve to
	// {BlobBaseURL}/{fingerprint}.
	BlobBaseURL string
	// BlobPublicURLs sends reference URLs to the generative vision backend
	// instead of inlining image bytes. Only set it when BlobBaseURL is
	// reachable from the provider.
	BlobPublicURLs bool

	MaxImages   int
	Concurrency int

	CloudVision         bool
	MinConfidence       float64
	StructuredMaxLabels int
	GenerativeMaxLabels int
	GenerativeDriver    string
	LabelCache          bool
	ProviderRateLimit   float64

	GeminiAPIKey      string
	GeminiVisionModel string
	GeminiTextModel   string
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIVisionModel string
	OpenAITextModel   string
	OllamaURL         string
	OllamaModel       string
}

// LoadEnvFile loads environment variables from the config file in the user's
// config directory. Errors are ignored since the file may not exist.
// Variables already set in the environment take precedence.
func LoadEnvFile() {
	configBase, err := os.UserConfigDir()
	if err != nil {
		return
	}
	configPath := filepath.Join(configBase, AppName, EnvFileName)
	_ = godotenv.Load(configPath)
}

// CheckRequired returns the names of required variables that are not set.
func CheckRequired(getenv func(string) string) []string {
	var missing []string
	for _, v := range requiredEnvVars {
		if getenv(v) == "" {
			missing = append(missing, v)
		}
	}
	return missing
}

// FromEnv parses the process environment.
func FromEnv() (Config, error) {
	return Parse(os.Getenv)
}

// Parse builds a Config from getenv, applying defaults for unset variables.
// All invalid values are reported together.
func Parse(getenv func(string) string) (Config, error) {
	p := parser{getenv: getenv}

	cfg := Config{
		BotToken: getenv("BOT_TOKEN"),
		AdminID:  p.int64Or("ADMIN_TELEGRAM_ID", 0),
		DBPath:   p.stringOr("DB_PATH", "recommender.db"),
		HTTPAddr: getenv("HTTP_ADDR"),

		BlobStore:      strings.ToLower(p.stringOr("BLOB_STORE", BlobStoreSQLite)),
		BlobDir:        p.stringOr("BLOB_DIR", "blobs"),
		BlobNamespace:  p.stringOr("BLOB_NAMESPACE", blobstore.DefaultNamespace),
		BlobDomain:     p.stringOr("BLOB_DOMAIN", blobstore.DefaultDomain),
		BlobBaseURL:    strings.TrimSuffix(getenv("BLOB_BASE_URL"), "/"),
		BlobPublicURLs: p.boolOr("BLOB_PUBLIC_URLS", false),

		MaxImages:   p.intOr("MAX_IMAGES", recommend.DefaultMaxImages),
		Concurrency: p.intOr("CONCURRENCY", recommend.DefaultConcurrency),

		CloudVision:         p.boolOr("CLOUD_VISION", true),
		MinConfidence:       p.floatOr("VISION_MIN_CONFIDENCE", llm.DefaultMinConfidence),
		StructuredMaxLabels: p.intOr("VISION_STRUCTURED_MAX_LABELS", llm.DefaultStructuredMaxLabels),
		GenerativeMaxLabels: p.intOr("VISION_GENERATIVE_MAX_LABELS", llm.DefaultGenerativeMaxLabels),
		GenerativeDriver:    strings.ToLower(p.stringOr("VISION_GENERATIVE_DRIVER", DriverOpenAI)),
		LabelCache:          p.boolOr("LABEL_CACHE", true),
		ProviderRateLimit:   p.floatOr("PROVIDER_RATE_LIMIT", 0),

		GeminiAPIKey:      getenv("GEMINI_API_KEY"),
		GeminiVisionModel: p.stringOr("GEMINI_VISION_MODEL", llm.DefaultGeminiVisionModel),
		GeminiTextModel:   p.stringOr("GEMINI_TEXT_MODEL", llm.DefaultGeminiTextModel),
		OpenAIAPIKey:      getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:     getenv("OPENAI_BASE_URL"),
		OpenAIVisionModel: p.stringOr("OPENAI_VISION_MODEL", llm.DefaultOpenAIVisionModel),
		OpenAITextModel:   p.stringOr("OPENAI_TEXT_MODEL", llm.DefaultOpenAITextModel),
		OllamaURL:         getenv("OLLAMA_URL"),
		OllamaModel:       p.stringOr("OLLAMA_MODEL", llm.DefaultOllamaModel),
	}

	switch cfg.BlobStore {
	case BlobStoreSQLite, BlobStoreFile, BlobStoreMemory:
	default:
		p.fail("BLOB_STORE", cfg.BlobStore, errors.New("must be sqlite, file or memory"))
	}
	switch cfg.GenerativeDriver {
	case DriverOpenAI, DriverGemini:
	default:
		p.fail("VISION_GENERATIVE_DRIVER", cfg.GenerativeDriver, errors.New("must be openai or gemini"))
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 100 {
		p.fail("VISION_MIN_CONFIDENCE", getenv("VISION_MIN_CONFIDENCE"), errors.New("must be between 0 and 100"))
	}
	if cfg.BlobPublicURLs && cfg.BlobBaseURL == "" {
		p.fail("BLOB_PUBLIC_URLS", getenv("BLOB_PUBLIC_URLS"), errors.New("requires BLOB_BASE_URL"))
	}

	return cfg, errors.Join(p.errs...)
}

type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) fail(key, value string, err error) {
	p.errs = append(p.errs, fmt.Errorf("invalid %s %q: %w", key, value, err))
}

func (p *parser) stringOr(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) intOr(key string, def int) int {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	if n <= 0 {
		p.fail(key, v, errors.New("must be positive"))
		return def
	}
	return n
}

func (p *parser) int64Or(key string, def int64) int64 {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return n
}

func (p *parser) floatOr(key string, def float64) float64 {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return f
}

func (p *parser) boolOr(key string, def bool) bool {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return b
}
