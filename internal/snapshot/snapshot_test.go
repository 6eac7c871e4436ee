package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"webcam-uploader/internal/cycle"
)

func TestObserveAggregatesStreaks(t *testing.T) {
	s := New("http", "prusa")
	if got := s.Get(); got.TotalCycles != 0 || got.Backend != "http" || got.DelayState != "short" {
		t.Fatalf("unexpected initial snapshot: %+v", got)
	}

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	fail := cycle.Outcome{
		CycleID:   "c1",
		StartedAt: start,
		Stage:     cycle.StageUpload,
		Err:       errors.New("upload: unexpected status: 503"),
		NextState: cycle.StateLong,
		NextDelay: time.Minute,
	}
	s.Observe(context.Background(), fail)
	fail.CycleID = "c2"
	s.Observe(context.Background(), fail)

	got := s.Get()
	if got.ConsecutiveFail != 2 || got.TotalFails != 2 || got.TotalCycles != 2 {
		t.Fatalf("unexpected counters after failures: %+v", got)
	}
	if got.OK || got.Stage != "upload" || got.DelayState != "long" || got.NextDelaySeconds != 60 {
		t.Fatalf("unexpected failure view: %+v", got)
	}

	s.Observe(context.Background(), cycle.Outcome{
		CycleID:    "c3",
		StartedAt:  start.Add(time.Minute),
		Duration:   2 * time.Second,
		ImageBytes: 2048,
		StatusCode: 200,
		NextState:  cycle.StateShort,
		NextDelay:  10 * time.Second,
	})

	got = s.Get()
	if !got.OK || got.ConsecutiveSuccess != 1 || got.ConsecutiveFail != 0 || got.TotalFails != 2 {
		t.Fatalf("unexpected counters after recovery: %+v", got)
	}
	if got.LastError != "" || got.LastSuccessAt != "2026-01-02T03:05:07Z" {
		t.Fatalf("unexpected success view: %+v", got)
	}
}
