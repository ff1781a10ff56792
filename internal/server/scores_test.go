// ABOUTME: Tests for the /scores HTTP handler.

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deepnetworkgmbh/joseki-sub000/internal/database"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/types"
)

type stubScoreProvider struct {
	summaries map[string]types.CountersSummary
}

func (s *stubScoreProvider) GetCountersSummary(_ context.Context, componentID string, _ time.Time) (types.CountersSummary, error) {
	summary, ok := s.summaries[componentID]
	if !ok {
		return types.CountersSummary{}, fmt.Errorf("%w: %s", database.ErrAuditNotFound, componentID)
	}
	return summary, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestScoresHandler(t *testing.T) {
	provider := &stubScoreProvider{
		summaries: map[string]types.CountersSummary{
			types.OverallComponentID: {Passed: 3, Failed: 1},
			"/k8s/cluster-1":         {Passed: 1, Warning: 1},
		},
	}
	handler := CreateScoresHandler(provider, testLogger())

	t.Run("defaults to the overall component", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		handler(recorder, httptest.NewRequest(http.MethodGet, "/scores", nil))

		if recorder.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", recorder.Code)
		}

		var response ScoreResponse
		if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
			t.Fatalf("invalid JSON response: %v", err)
		}
		if response.Component != types.OverallComponentID {
			t.Errorf("component = %s, want %s", response.Component, types.OverallComponentID)
		}
		if response.Score != 75 {
			t.Errorf("score = %d, want 75", response.Score)
		}
		if response.Total != 4 {
			t.Errorf("total = %d, want 4", response.Total)
		}
	})

	t.Run("component and date query", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		handler(recorder, httptest.NewRequest(http.MethodGet, "/scores?component=/k8s/cluster-1&date=2026-08-28", nil))

		if recorder.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", recorder.Code)
		}

		var response ScoreResponse
		if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
			t.Fatalf("invalid JSON response: %v", err)
		}
		if response.Date != "2026-08-28" {
			t.Errorf("date = %s", response.Date)
		}
		if response.Counters.Warning != 1 {
			t.Errorf("counters = %+v", response.Counters)
		}
	})

	t.Run("unknown component is 404", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		handler(recorder, httptest.NewRequest(http.MethodGet, "/scores?component=/k8s/ghost", nil))

		if recorder.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", recorder.Code)
		}
	})

	t.Run("malformed date is 400", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		handler(recorder, httptest.NewRequest(http.MethodGet, "/scores?date=yesterday", nil))

		if recorder.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", recorder.Code)
		}
	})
}
