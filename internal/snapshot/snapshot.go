// Package snapshot keeps a lock-free, read-only view of the latest cycle.
package snapshot

import (
	"context"
	"sync/atomic"
	"time"

	"webcam-uploader/internal/cycle"
)

// Snapshot is the read-only view used by the status API.
type Snapshot struct {
	Backend string `json:"backend"`
	Host    string `json:"host"`

	CycleID     string `json:"cycle_id,omitempty"`
	LastCycleAt string `json:"last_cycle_at,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
	OK          bool   `json:"ok"`
	Stage       string `json:"stage,omitempty"`
	LastError   string `json:"last_error,omitempty"`
	StatusCode  int    `json:"status_code,omitempty"`
	ImageBytes  int64  `json:"image_bytes"`

	DelayState       string  `json:"delay_state"`
	NextDelaySeconds float64 `json:"next_delay_seconds"`
	LastSuccessAt    string  `json:"last_success_at,omitempty"`

	ConsecutiveSuccess int `json:"consecutive_success"`
	ConsecutiveFail    int `json:"consecutive_fail"`
	TotalCycles        int `json:"total_cycles"`
	TotalFails         int `json:"total_fails"`
}

// Store aggregates outcomes and publishes a fresh Snapshot after each one.
// Observe is called from the single cycle goroutine; Get is safe from any.
type Store struct {
	current atomic.Value // stores Snapshot
	state   Snapshot
}

func New(backend, host string) *Store {
	s := &Store{state: Snapshot{Backend: backend, Host: host, DelayState: string(cycle.StateShort)}}
	s.current.Store(s.state)
	return s
}

// Get returns the latest snapshot.
func (s *Store) Get() Snapshot {
	if v := s.current.Load(); v != nil {
		return v.(Snapshot)
	}
	return Snapshot{}
}

func (s *Store) Observe(_ context.Context, out cycle.Outcome) {
	st := &s.state
	st.CycleID = out.CycleID
	st.LastCycleAt = out.StartedAt.UTC().Format(time.RFC3339)
	st.DurationMs = out.Duration.Milliseconds()
	st.OK = out.OK()
	st.Stage = string(out.Stage)
	st.StatusCode = out.StatusCode
	st.ImageBytes = out.ImageBytes
	st.DelayState = string(out.NextState)
	st.NextDelaySeconds = out.NextDelay.Seconds()
	st.TotalCycles++

	if out.OK() {
		st.ConsecutiveSuccess++
		st.ConsecutiveFail = 0
		st.LastError = ""
		st.LastSuccessAt = out.StartedAt.Add(out.Duration).UTC().Format(time.RFC3339)
	} else {
		st.TotalFails++
		st.ConsecutiveFail++
		st.ConsecutiveSuccess = 0
		if out.Err != nil {
			st.LastError = out.Err.Error()
		}
	}

	s.current.Store(*st)
}
