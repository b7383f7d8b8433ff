package storage

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/raine/telegram-recommender-bot/internal/blobstore"
	"github.com/raine/telegram-recommender-bot/internal/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:", blobstore.NewResolver("", "", ""))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_Blobs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	fp := imaging.FingerprintOf([]byte("photo"), "beach.jpg")

	exists, err := store.Exists(ctx, fp)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.Get(ctx, fp)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	ref, err := store.Put(ctx, fp, imaging.NormalizedImage{Data: []byte("first"), ContentType: "image/jpeg"})
	require.NoError(t, err)
	assert.Equal(t, store.Resolve(fp), ref)
	assert.Equal(t, "https://recommender-images.s3.amazonaws.com/"+string(fp), ref.URL)

	exists, err = store.Exists(ctx, fp)
	require.NoError(t, err)
	assert.True(t, exists)

	// A second put keeps the first object
	_, err = store.Put(ctx, fp, imaging.NormalizedImage{Data: []byte("second"), ContentType: "image/png"})
	require.NoError(t, err)

	blob, err := store.Get(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), blob.Data)
	assert.Equal(t, "image/jpeg", blob.ContentType)
}

func TestSQLiteStore_PutRejectsInvalidFingerprint(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Put(context.Background(), imaging.Fingerprint("../etc/passwd"), imaging.NormalizedImage{Data: []byte("x")})
	assert.Error(t, err)
}

func TestSQLiteStore_ConcurrentPuts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	fp := imaging.FingerprintOf([]byte("same"), "a.png")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Put(ctx, fp, imaging.NormalizedImage{Data: []byte("same"), ContentType: "image/png"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var count int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM blobs").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSQLiteStore_LabelCache(t *testing.T) {
	store := newTestStore(t)

	_, ok, err := store.GetLabels("abc.jpg", "structured")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetLabels("abc.jpg", "structured", []string{"Beach", "Sky"}))
	require.NoError(t, store.SetLabels("abc.jpg", "generative", nil))

	labels, ok, err := store.GetLabels("abc.jpg", "structured")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"Beach", "Sky"}, labels)

	labels, ok, err = store.GetLabels("abc.jpg", "generative")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, labels)

	require.NoError(t, store.SetLabels("abc.jpg", "structured", []string{"Sand"}))
	labels, _, err = store.GetLabels("abc.jpg", "structured")
	require.NoError(t, err)
	assert.Equal(t, []string{"Sand"}, labels)
}

func TestSQLiteStore_ChatSettings(t *testing.T) {
	store := newTestStore(t)

	settings, err := store.GetChatSettings(42)
	require.NoError(t, err)
	assert.Nil(t, settings)

	require.NoError(t, store.SaveChatSettings(&ChatSettings{ChatID: 42, Topic: "books", Vision: "structured", Text: "fast"}))
	require.NoError(t, store.SaveChatSettings(&ChatSettings{ChatID: 42, Topic: "movies", Vision: "generative", Text: "open"}))

	settings, err = store.GetChatSettings(42)
	require.NoError(t, err)
	require.NotNil(t, settings)
	assert.Equal(t, "movies", settings.Topic)
	assert.Equal(t, "generative", settings.Vision)
	assert.Equal(t, "open", settings.Text)
	assert.False(t, settings.UpdatedAt.IsZero())
}

func TestSQLiteStore_AllowedUsers(t *testing.T) {
	store := newTestStore(t)

	allowed, err := store.IsUserAllowed(100)
	require.NoError(t, err)
	assert.False(t, allowed)

	require.NoError(t, store.AddAllowedUser(100, 1))
	require.NoError(t, store.AddAllowedUser(200, 1))

	allowed, err = store.IsUserAllowed(100)
	require.NoError(t, err)
	assert.True(t, allowed)

	users, err := store.GetAllowedUsers()
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, int64(1), users[0].AddedBy)

	require.NoError(t, store.RemoveAllowedUser(100))
	allowed, err = store.IsUserAllowed(100)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "bot.db")
	fp := imaging.FingerprintOf([]byte("persist"), "p.jpg")

	store, err := NewSQLiteStore(dbPath, blobstore.NewResolver("", "", "http://localhost:8080/blobs"))
	require.NoError(t, err)
	_, err = store.Put(context.Background(), fp, imaging.NormalizedImage{Data: []byte("persist"), ContentType: "image/jpeg"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = NewSQLiteStore(dbPath, blobstore.NewResolver("", "", "http://localhost:8080/blobs"))
	require.NoError(t, err)
	defer store.Close()

	exists, err := store.Exists(context.Background(), fp)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, "http://localhost:8080/blobs/"+string(fp), store.Resolve(fp).URL)
}

func TestSQLiteStore_NewDatabaseIsPrivate(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}
	dbPath := filepath.Join(t.TempDir(), "fresh.db")

	store, err := NewSQLiteStore(dbPath, blobstore.NewResolver("", "", ""))
	require.NoError(t, err)
	defer store.Close()

	info, err := os.Stat(dbPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}
