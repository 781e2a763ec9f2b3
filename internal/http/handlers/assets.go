package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"pageforge/internal/domain"
)

// ServeAsset streams a rehosted object. Expired objects answer 410.
func (a *App) ServeAsset(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if key == "" || a.Assets == nil {
		a.error(w, http.StatusNotFound, "not_found", "asset not found")
		return
	}
	obj, data, err := a.Assets.Open(r.Context(), key)
	switch {
	case errors.Is(err, domain.ErrObjectExpired):
		a.error(w, http.StatusGone, "expired", "asset has expired")
		return
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidObjectKey):
		a.error(w, http.StatusNotFound, "not_found", "asset not found")
		return
	case err != nil:
		a.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", obj.MIME)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if !obj.ExpiresAt.IsZero() {
		w.Header().Set("Expires", obj.ExpiresAt.UTC().Format(http.TimeFormat))
		if ttl := time.Until(obj.ExpiresAt); ttl > 0 {
			w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(int(ttl.Seconds())))
		}
	}
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(data)
	}
}
