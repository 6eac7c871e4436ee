package cycle

import (
	"context"
	"errors"
	"time"

	"webcam-uploader/internal/artifact"
	"webcam-uploader/internal/upload"
)

// DelayState is the pacing carried from one cycle into the next.
type DelayState string

const (
	StateShort DelayState = "short"
	StateLong  DelayState = "long"
)

// Stage names the step at which a cycle failed.
type Stage string

const (
	StageNone         Stage = ""
	StageConnectivity Stage = "connectivity"
	StageCapture      Stage = "capture"
	StageUpload       Stage = "upload"
	StageUnclassified Stage = "unclassified"
)

// ErrUnreachable is reported when the connectivity check fails.
var ErrUnreachable = errors.New("cycle: host not reachable")

// Outcome describes one finished cycle.
type Outcome struct {
	CycleID   string
	StartedAt time.Time
	Duration  time.Duration
	Host      string

	Stage      Stage // StageNone on success
	Err        error
	ImageBytes int64
	StatusCode int

	PrevState DelayState
	NextState DelayState
	NextDelay time.Duration

	// Cancelled marks a cycle cut short by shutdown. Such cycles keep the
	// delay state and are not published to observers.
	Cancelled bool
}

func (o Outcome) OK() bool { return o.Stage == StageNone }

// Transitioned reports whether the delay state changed in this cycle.
func (o Outcome) Transitioned() bool { return o.PrevState != o.NextState }

// Observer receives every outcome. Observers must not block for long; their
// failures never influence pacing.
type Observer interface {
	Observe(ctx context.Context, out Outcome)
}

type ObserverFunc func(ctx context.Context, out Outcome)

func (f ObserverFunc) Observe(ctx context.Context, out Outcome) { f(ctx, out) }

// Uploader delivers the artifact. Satisfied by *upload.Client.
type Uploader interface {
	Upload(ctx context.Context, store *artifact.Store) upload.Result
}
