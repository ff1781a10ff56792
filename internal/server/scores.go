// ABOUTME: HTTP handler for component score lookups.
// ABOUTME: Serves counters and the derived score from the score cache.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deepnetworkgmbh/joseki-sub000/internal/database"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/types"
)

// ScoreProvider is the slice of the score cache the handler needs.
type ScoreProvider interface {
	GetCountersSummary(ctx context.Context, componentID string, date time.Time) (types.CountersSummary, error)
}

// ScoresHandler answers /scores lookups.
type ScoresHandler struct {
	scores ScoreProvider
	logger *logrus.Logger
}

// ScoreResponse is the JSON body of a successful score lookup.
type ScoreResponse struct {
	Component string                `json:"component"`
	Date      string                `json:"date"`
	Counters  types.CountersSummary `json:"counters"`
	Total     int                   `json:"total"`
	Score     int                   `json:"score"`
}

// NewScoresHandler wires the handler.
func NewScoresHandler(scores ScoreProvider, logger *logrus.Logger) *ScoresHandler {
	return &ScoresHandler{scores: scores, logger: logger}
}

func (h *ScoresHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	componentID := strings.TrimSpace(r.URL.Query().Get("component"))
	if componentID == "" {
		componentID = types.OverallComponentID
	}

	date := time.Now().UTC()
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			http.Error(w, "Invalid date. Expected format: 2006-01-02", http.StatusBadRequest)
			return
		}
		date = parsed
	}

	summary, err := h.scores.GetCountersSummary(r.Context(), componentID, date)
	if errors.Is(err, database.ErrAuditNotFound) {
		http.Error(w, "No audit found for the component and date", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"component": componentID,
			"date":      date.Format("2006-01-02"),
		}).Error("Failed to load counters summary")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	response := ScoreResponse{
		Component: componentID,
		Date:      date.Format("2006-01-02"),
		Counters:  summary,
		Total:     summary.Total(),
		Score:     summary.Score(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.WithError(err).Error("Failed to encode score response")
	}
}

// CreateScoresHandler creates a standard HTTP handler usable with http.ServeMux.
func CreateScoresHandler(scores ScoreProvider, logger *logrus.Logger) http.HandlerFunc {
	handler := NewScoresHandler(scores, logger)
	return handler.ServeHTTP
}
