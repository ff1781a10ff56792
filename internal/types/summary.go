// ABOUTME: Counters summary: the pass/fail/warning/no-data aggregate behind
// ABOUTME: every health score shown for a component or the whole infrastructure.

package types

import "math"

// CountersSummary is the aggregated check-result counters of one component
// for one day. Failed checks with Critical or High severity count as Failed;
// failed checks of any other severity count as Warning; InProgress and
// NoData checks both count as NoData.
type CountersSummary struct {
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Warning int `json:"warning"`
	NoData  int `json:"noData"`
}

// Total is the overall amount of counted checks.
func (s CountersSummary) Total() int {
	return s.Passed + s.Failed + s.Warning + s.NoData
}

// Score maps the counters onto a 0-100 value. NoData checks are excluded;
// Passed and Failed have doubled weight. Defined as 0 when there is nothing
// to score.
func (s CountersSummary) Score() int {
	denominator := s.Failed*2 + s.Passed*2 + s.Warning
	if denominator == 0 {
		return 0
	}

	return int(math.Round(100 * float64(s.Passed*2) / float64(denominator)))
}

// Add accumulates counters from another summary into this one.
func (s *CountersSummary) Add(another CountersSummary) {
	s.Passed += another.Passed
	s.Failed += another.Failed
	s.Warning += another.Warning
	s.NoData += another.NoData
}

// CountCheck buckets a single check result into the summary.
func (s *CountersSummary) CountCheck(value CheckValue, severity CheckSeverity) {
	switch value {
	case Succeeded:
		s.Passed++
	case Failed:
		if severity == SeverityCritical || severity == SeverityHigh {
			s.Failed++
		} else {
			s.Warning++
		}
	case InProgress, NoData:
		s.NoData++
	}
}
