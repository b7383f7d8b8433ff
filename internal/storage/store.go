package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/raine/telegram-recommender-bot/internal/blobstore"
	"github.com/raine/telegram-recommender-bot/internal/imaging"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// ChatSettings holds the choices a chat made, so they survive restarts.
// Backends are stored in their String form.
type ChatSettings struct {
	ChatID    int64
	Topic     string
	Vision    string
	Text      string
	UpdatedAt time.Time
}

// AllowedUser represents a user in the whitelist.
type AllowedUser struct {
	TelegramID int64
	AddedAt    time.Time
	AddedBy    int64
}

// SQLiteStore is the bot's persistent store. It doubles as a content-addressed
// blob store and as the label cache for vision backends.
type SQLiteStore struct {
	db       *sql.DB
	resolver blobstore.Resolver
	mu       sync.RWMutex
}

var _ blobstore.Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at dbPath. Use ":memory:" for
// a throwaway database.
func NewSQLiteStore(dbPath string, resolver blobstore.Resolver) (*SQLiteStore, error) {
	// Configure SQLite with WAL mode and busy timeout for better concurrency
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	store := &SQLiteStore{db: db, resolver: resolver}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}

	// The file only exists once init has run the first statement
	if dbPath != ":memory:" {
		if err := os.Chmod(dbPath, 0600); err != nil {
			log.Warn().Err(err).Str("path", dbPath).Msg("failed to restrict database permissions")
		}
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	tables := []struct {
		name  string
		query string
	}{
		{"blobs", `
		CREATE TABLE IF NOT EXISTS blobs (
			fingerprint TEXT PRIMARY KEY,
			content_type TEXT NOT NULL,
			data BLOB NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`},
		{"label_cache", `
		CREATE TABLE IF NOT EXISTS label_cache (
			fingerprint TEXT NOT NULL,
			backend TEXT NOT NULL,
			labels TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (fingerprint, backend)
		);`},
		{"chat_settings", `
		CREATE TABLE IF NOT EXISTS chat_settings (
			chat_id INTEGER PRIMARY KEY,
			topic TEXT NOT NULL DEFAULT '',
			vision_backend TEXT NOT NULL DEFAULT '',
			text_backend TEXT NOT NULL DEFAULT '',
			updated_at DATETIME NOT NULL
		);`},
		{"allowed_users", `
		CREATE TABLE IF NOT EXISTS allowed_users (
			telegram_id INTEGER PRIMARY KEY,
			added_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			added_by INTEGER
		);`},
	}

	for _, t := range tables {
		if _, err := s.db.Exec(t.query); err != nil {
			return fmt.Errorf("failed to create %s table: %w", t.name, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Exists reports whether a blob is stored under fp.
func (s *SQLiteStore) Exists(ctx context.Context, fp imaging.Fingerprint) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM blobs WHERE fingerprint = ?", string(fp)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query blob: %w", err)
	}
	return true, nil
}

// Put stores img under fp. Storing an existing key keeps the first object.
func (s *SQLiteStore) Put(ctx context.Context, fp imaging.Fingerprint, img imaging.NormalizedImage) (blobstore.Reference, error) {
	if !fp.Valid() {
		return blobstore.Reference{}, fmt.Errorf("invalid fingerprint %q", fp)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (fingerprint, content_type, data)
		VALUES (?, ?, ?)
		ON CONFLICT(fingerprint) DO NOTHING
	`, string(fp), img.ContentType, img.Data)
	if err != nil {
		return blobstore.Reference{}, fmt.Errorf("failed to store blob: %w", err)
	}
	return s.resolver.Resolve(fp), nil
}

// Resolve returns the reference of fp without touching the database.
func (s *SQLiteStore) Resolve(fp imaging.Fingerprint) blobstore.Reference {
	return s.resolver.Resolve(fp)
}

// Get reads the blob stored under fp.
func (s *SQLiteStore) Get(ctx context.Context, fp imaging.Fingerprint) (blobstore.Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var blob blobstore.Blob
	err := s.db.QueryRowContext(ctx,
		"SELECT content_type, data FROM blobs WHERE fingerprint = ?",
		string(fp),
	).Scan(&blob.ContentType, &blob.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return blobstore.Blob{}, blobstore.ErrNotFound
	}
	if err != nil {
		return blobstore.Blob{}, fmt.Errorf("failed to query blob: %w", err)
	}
	return blob, nil
}

// GetLabels returns cached labels for an image and vision backend.
func (s *SQLiteStore) GetLabels(fingerprint, backend string) ([]string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var raw string
	err := s.db.QueryRow(
		"SELECT labels FROM label_cache WHERE fingerprint = ? AND backend = ?",
		fingerprint, backend,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query label cache: %w", err)
	}

	var labels []string
	if err := json.Unmarshal([]byte(raw), &labels); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached labels: %w", err)
	}
	return labels, true, nil
}

// SetLabels stores labels for an image and vision backend.
func (s *SQLiteStore) SetLabels(fingerprint, backend string, labels []string) error {
	if labels == nil {
		labels = []string{}
	}
	raw, err := json.Marshal(labels)
	if err != nil {
		return fmt.Errorf("failed to marshal labels: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT INTO label_cache (fingerprint, backend, labels)
		VALUES (?, ?, ?)
		ON CONFLICT(fingerprint, backend) DO UPDATE SET
			labels = excluded.labels,
			created_at = CURRENT_TIMESTAMP
	`, fingerprint, backend, string(raw))
	if err != nil {
		return fmt.Errorf("failed to cache labels: %w", err)
	}
	return nil
}

// GetChatSettings returns the stored settings of a chat.
// Returns nil, nil if nothing has been stored.
func (s *SQLiteStore) GetChatSettings(chatID int64) (*ChatSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settings := ChatSettings{ChatID: chatID}
	err := s.db.QueryRow(
		"SELECT topic, vision_backend, text_backend, updated_at FROM chat_settings WHERE chat_id = ?",
		chatID,
	).Scan(&settings.Topic, &settings.Vision, &settings.Text, &settings.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query chat settings: %w", err)
	}
	return &settings, nil
}

// SaveChatSettings stores or updates the settings of a chat.
func (s *SQLiteStore) SaveChatSettings(settings *ChatSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings.UpdatedAt = time.Now()
	_, err := s.db.Exec(`
		INSERT INTO chat_settings (chat_id, topic, vision_backend, text_backend, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			topic = excluded.topic,
			vision_backend = excluded.vision_backend,
			text_backend = excluded.text_backend,
			updated_at = excluded.updated_at
	`, settings.ChatID, settings.Topic, settings.Vision, settings.Text, settings.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save chat settings: %w", err)
	}
	return nil
}

// IsUserAllowed checks if a user is in the whitelist.
func (s *SQLiteStore) IsUserAllowed(telegramID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM allowed_users WHERE telegram_id = ?",
		telegramID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check allowed user: %w", err)
	}
	return count > 0, nil
}

// AddAllowedUser adds a user to the whitelist.
func (s *SQLiteStore) AddAllowedUser(telegramID, addedBy int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO allowed_users (telegram_id, added_by)
		VALUES (?, ?)
		ON CONFLICT(telegram_id) DO UPDATE SET
			added_by = excluded.added_by,
			added_at = CURRENT_TIMESTAMP
	`, telegramID, addedBy)
	if err != nil {
		return fmt.Errorf("failed to add allowed user: %w", err)
	}
	return nil
}

// RemoveAllowedUser removes a user from the whitelist.
func (s *SQLiteStore) RemoveAllowedUser(telegramID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM allowed_users WHERE telegram_id = ?", telegramID); err != nil {
		return fmt.Errorf("failed to remove allowed user: %w", err)
	}
	return nil
}

// GetAllowedUsers returns all users in the whitelist, oldest first.
func (s *SQLiteStore) GetAllowedUsers() ([]AllowedUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT telegram_id, added_at, added_by FROM allowed_users ORDER BY added_at, telegram_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query allowed users: %w", err)
	}
	defer rows.Close()

	var users []AllowedUser
	for rows.Next() {
		var user AllowedUser
		if err := rows.Scan(&user.TelegramID, &user.AddedAt, &user.AddedBy); err != nil {
			return nil, fmt.Errorf("failed to scan allowed user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}
