package blobstore

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/raine/telegram-recommender-bot/internal/imaging"
	"github.com/rs/zerolog/log"
)

// Handler serves stored blobs at /{fingerprint}. Mount it with
// http.StripPrefix when serving under a sub path.
func Handler(store Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		fp, err := imaging.ParseFingerprint(strings.TrimPrefix(r.URL.Path, "/"))
		if err != nil {
			http.NotFound(w, r)
			return
		}

		blob, err := store.Get(r.Context(), fp)
		if errors.Is(err, ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			log.Error().Err(err).Str("fingerprint", fp.Short()).Msg("failed to read blob")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", blob.ContentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(blob.Data)))
		// Content-addressed, never changes
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		if r.Method == http.MethodHead {
			return
		}
		w.Write(blob.Data)
	})
}
