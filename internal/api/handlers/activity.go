package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/lumina-control/backend/internal/api/middleware"
	"github.com/lumina-control/backend/internal/storage/models"
)

// ActivityReader lists recent activity entries.
type ActivityReader interface {
	Recent(ctx context.Context, limit int) ([]models.ActivityEntry, error)
}

// ListActivity returns the newest activity entries. Admins only.
func ListActivity(activity ActivityReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		if !actor.Privileged() {
			forbidden(w)
			return
		}

		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "limit must be a non-negative integer")
				return
			}
			limit = n
		}

		entries, err := activity.Recent(r.Context(), limit)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to load activity")
			return
		}
		if entries == nil {
			entries = []models.ActivityEntry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}
