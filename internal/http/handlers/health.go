package handlers

import (
	"database/sql"
	"net/http"
	"time"
)

// HealthHandler reports service liveness and database reachability.
type HealthHandler struct {
	db *sql.DB
}

// NewHealthHandler creates a health handler over the database pool.
func NewHealthHandler(db *sql.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithTimeout(r, 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
