// internal/api/handler.go
package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/saadkhi/crawl-pipeline/internal/model"
	"github.com/saadkhi/crawl-pipeline/internal/store"
)

// Reader is the read-only slice of the store the API serves from.
type Reader interface {
	ListRepos(ctx context.Context, limit int) ([]model.RepoRecord, error)
	GetRepoByFullName(ctx context.Context, fullName string) (model.RepoRecord, error)
	StarHistory(ctx context.Context, repoID string) ([]model.StarObservation, error)
	ExportRows(ctx context.Context) ([]store.ExportRow, error)
}

// Handler is the container for API dependencies.
type Handler struct {
	db     Reader
	logger *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(db Reader, logger *slog.Logger) http.Handler {
	h := &Handler{
		db:     db,
		logger: logger,
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", h.healthCheck)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/repos", h.listRepos)
		r.Get("/repos/{owner}/{name}/stars", h.getStarHistory)
		r.Get("/export/stars.csv", h.exportStarsCSV)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listRepos returns the crawled repository snapshots.
// GET /v1/repos?limit=N
func (h *Handler) listRepos(w http.ResponseWriter, r *http.Request) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		limitStr = "100"
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 || limit > 1000 {
		respondWithError(w, http.StatusBadRequest, "Invalid 'limit' parameter. Must be an integer between 1 and 1000.")
		return
	}

	repos, err := h.db.ListRepos(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list repositories", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, repos)
}

// getStarHistory returns the star observations for one repository.
// GET /v1/repos/{owner}/{name}/stars
func (h *Handler) getStarHistory(w http.ResponseWriter, r *http.Request) {
	fullName := chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "name")

	repo, err := h.db.GetRepoByFullName(r.Context(), fullName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Repository not found")
			return
		}
		h.logger.Error("Failed to get repository", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	history, err := h.db.StarHistory(r.Context(), repo.ID)
	if err != nil {
		h.logger.Error("Failed to get star history", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, history)
}

// exportStarsCSV renders the full observation history as CSV.
// GET /v1/export/stars.csv
func (h *Handler) exportStarsCSV(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.ExportRows(r.Context())
	if err != nil {
		h.logger.Error("Failed to read export rows", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="repo_stars.csv"`)
	if err := WriteCSV(w, rows); err != nil {
		h.logger.Error("Failed to write CSV export", "error", err)
	}
}

// WriteCSV renders export rows in the flat full_name/observed_at/stargazers
// shape. Shared with the standalone export command.
func WriteCSV(w io.Writer, rows []store.ExportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"full_name", "observed_at", "stargazers"}); err != nil {
		return err
	}
	for _, row := range rows {
		if err := cw.Write([]string{row.FullName, row.ObservedAt, strconv.Itoa(row.Stars)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// Headers are already out; nothing left to do but note it.
		slog.Error("Failed to encode response", "error", err)
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
