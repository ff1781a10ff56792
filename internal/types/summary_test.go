// ABOUTME: Tests for counters summary scoring and check bucketing.

package types

import "testing"

func TestScore(t *testing.T) {
	tests := []struct {
		name    string
		summary CountersSummary
		want    int
	}{
		{"empty", CountersSummary{}, 0},
		{"only no-data", CountersSummary{NoData: 10}, 0},
		{"all passed", CountersSummary{Passed: 5}, 100},
		{"all failed", CountersSummary{Failed: 5}, 0},
		{"half passed half failed", CountersSummary{Passed: 3, Failed: 3}, 50},
		{"warning has single weight", CountersSummary{Passed: 1, Warning: 1}, 67},
		{"no-data excluded", CountersSummary{Passed: 1, Failed: 1, NoData: 100}, 50},
		{"mixed", CountersSummary{Passed: 7, Failed: 2, Warning: 3}, 67},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.summary.Score(); got != tt.want {
				t.Errorf("Score() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCountCheck(t *testing.T) {
	tests := []struct {
		name     string
		value    CheckValue
		severity CheckSeverity
		want     CountersSummary
	}{
		{"succeeded", Succeeded, SeverityCritical, CountersSummary{Passed: 1}},
		{"failed critical", Failed, SeverityCritical, CountersSummary{Failed: 1}},
		{"failed high", Failed, SeverityHigh, CountersSummary{Failed: 1}},
		{"failed medium is warning", Failed, SeverityMedium, CountersSummary{Warning: 1}},
		{"failed low is warning", Failed, SeverityLow, CountersSummary{Warning: 1}},
		{"failed unknown is warning", Failed, SeverityUnknown, CountersSummary{Warning: 1}},
		{"no data", NoData, SeverityHigh, CountersSummary{NoData: 1}},
		{"in progress counts as no data", InProgress, SeverityHigh, CountersSummary{NoData: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var summary CountersSummary
			summary.CountCheck(tt.value, tt.severity)
			if summary != tt.want {
				t.Errorf("CountCheck(%v, %v) = %+v, want %+v", tt.value, tt.severity, summary, tt.want)
			}
		})
	}
}

func TestAdd(t *testing.T) {
	total := CountersSummary{Passed: 1, Failed: 2}
	total.Add(CountersSummary{Passed: 3, Warning: 4, NoData: 5})

	want := CountersSummary{Passed: 4, Failed: 2, Warning: 4, NoData: 5}
	if total != want {
		t.Errorf("Add() = %+v, want %+v", total, want)
	}
	if total.Total() != 15 {
		t.Errorf("Total() = %d, want 15", total.Total())
	}
}
