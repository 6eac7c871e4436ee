// Package cycle runs the capture, upload and cleanup loop with adaptive
// pacing.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"webcam-uploader/internal/artifact"
	"webcam-uploader/internal/capture"
	"webcam-uploader/internal/connectivity"
	"webcam-uploader/internal/logging"
)

type Options struct {
	NormalDelay  time.Duration
	PenaltyDelay time.Duration
	Host         string

	Checker  connectivity.Checker
	Capturer capture.Backend
	Uploader Uploader
	Store    *artifact.Store

	Logger    logrus.FieldLogger
	Observers []Observer

	// Sleep pauses between cycles and must return early when ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
	Clock func() time.Time
	NewID func() string
}

// Scheduler owns the delay state. It runs exactly one cycle at a time.
type Scheduler struct {
	opts  Options
	log   logrus.FieldLogger
	state DelayState
	delay time.Duration
}

func New(opts Options) (*Scheduler, error) {
	switch {
	case opts.Checker == nil:
		return nil, errors.New("cycle: connectivity checker is required")
	case opts.Capturer == nil:
		return nil, errors.New("cycle: capture backend is required")
	case opts.Uploader == nil:
		return nil, errors.New("cycle: uploader is required")
	case opts.Store == nil:
		return nil, errors.New("cycle: artifact store is required")
	case opts.NormalDelay <= 0 || opts.PenaltyDelay <= 0:
		return nil, errors.New("cycle: delays must be > 0")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	return &Scheduler{
		opts:  opts,
		log:   opts.Logger,
		state: StateShort,
		delay: opts.NormalDelay,
	}, nil
}

// State returns the current delay state and the delay it implies.
func (s *Scheduler) State() (DelayState, time.Duration) {
	return s.state, s.delay
}

// Run loops until ctx is cancelled, then removes the artifact and returns nil.
func (s *Scheduler) Run(ctx context.Context) error {
	defer func() {
		s.Cleanup()
		s.log.Info("Webcam uploader stopped")
	}()

	for {
		if ctx.Err() != nil {
			s.log.Info("Received shutdown signal, shutting down...")
			return nil
		}

		out := s.RunCycle(ctx)

		if err := s.opts.Sleep(ctx, out.NextDelay); err != nil {
			s.log.Info("Received shutdown signal, shutting down...")
			return nil
		}
	}
}

// RunCycle executes one connectivity check, capture, upload and cleanup.
// Any panic inside the cycle is recovered and treated as a failure.
func (s *Scheduler) RunCycle(ctx context.Context) (out Outcome) {
	out = Outcome{
		CycleID:   s.opts.NewID(),
		StartedAt: s.opts.Clock(),
		Host:      s.opts.Host,
		PrevState: s.state,
	}
	log := s.log.WithField("cycle_id", out.CycleID)

	defer func() {
		if r := recover(); r != nil {
			out.Stage = StageUnclassified
			out.Err = fmt.Errorf("unexpected error in main loop: %v", r)
			log.WithField("stack", string(debug.Stack())).Error(out.Err)
		}
		s.Cleanup()
		if !out.OK() && ctx.Err() != nil {
			out.Cancelled = true
			out.NextState, out.NextDelay = s.state, s.delay
			out.Duration = s.opts.Clock().Sub(out.StartedAt)
			log.WithField("stage", out.Stage).Info("Cycle interrupted by shutdown")
			return
		}
		s.transition(log, &out)
		out.Duration = s.opts.Clock().Sub(out.StartedAt)
		s.publish(ctx, log, out)
	}()

	s.step(ctx, log, &out)
	return out
}

func (s *Scheduler) step(ctx context.Context, log logrus.FieldLogger, out *Outcome) {
	if !s.opts.Checker.Reachable(ctx, s.opts.Host) {
		log.WithField("host", s.opts.Host).Warnf("Printer not reachable at %s", s.opts.Host)
		out.Stage, out.Err = StageConnectivity, ErrUnreachable
		return
	}

	cres := s.opts.Capturer.Capture(ctx)
	if !cres.OK() {
		out.Stage, out.Err = StageCapture, cres.Err
		return
	}
	out.ImageBytes = cres.Size
	log.WithFields(logrus.Fields{"backend": s.opts.Capturer.Name(), "bytes": cres.Size}).Debug("snapshot captured")

	ures := s.opts.Uploader.Upload(ctx, s.opts.Store)
	out.StatusCode = ures.StatusCode
	if !ures.OK() {
		out.Stage, out.Err = StageUpload, ures.Err
	}
}

func (s *Scheduler) transition(log logrus.FieldLogger, out *Outcome) {
	if out.OK() {
		s.state, s.delay = StateShort, s.opts.NormalDelay
	} else {
		s.state, s.delay = StateLong, s.opts.PenaltyDelay
	}
	out.NextState, out.NextDelay = s.state, s.delay

	log = log.WithField("next_delay", s.delay)
	switch out.Stage {
	case StageNone:
		log.Debugf("Next upload in %s", s.delay)
	case StageConnectivity:
		log.Warnf("Connectivity check failed, retrying in %s", s.delay)
	case StageCapture:
		log.Warnf("Snapshot capture failed, retrying in %s", s.delay)
	case StageUpload:
		log.Warnf("Upload failed, retrying in %s", s.delay)
	default:
		log.Warnf("Cycle aborted, retrying in %s", s.delay)
	}
}

// Cleanup removes the artifact. Failures are logged and never fatal.
func (s *Scheduler) Cleanup() {
	if err := s.opts.Store.Remove(); err != nil {
		s.log.Warnf("Cleanup failed: %v", err)
		return
	}
	s.log.Debug("Cleanup completed")
}

func (s *Scheduler) publish(ctx context.Context, log logrus.FieldLogger, out Outcome) {
	for _, o := range s.opts.Observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("observer panic: %v", r)
				}
			}()
			o.Observe(ctx, out)
		}()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
