// Package capture acquires one still image per cycle into the artifact file.
package capture

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"webcam-uploader/internal/artifact"
	"webcam-uploader/internal/config"
	"webcam-uploader/internal/logging"
)

// Backend produces one still image in the artifact, or reports why it could
// not. Implementations never panic out of Capture.
type Backend interface {
	Name() string
	Capture(ctx context.Context) Result
}

// Kind classifies a capture failure.
type Kind string

const (
	KindTransport    Kind = "transport"
	KindStatus       Kind = "status"
	KindEmpty        Kind = "empty"
	KindWrite        Kind = "write"
	KindStreamOpen   Kind = "stream_open"
	KindFrameTimeout Kind = "frame_timeout"
	KindFrameRead    Kind = "frame_read"
	KindEncode       Kind = "encode"
	KindInternal     Kind = "internal"
)

var (
	ErrTransport    = errors.New("capture: transport error")
	ErrStatus       = errors.New("capture: unexpected status")
	ErrEmptyPayload = errors.New("capture: empty payload")
	ErrWrite        = errors.New("capture: artifact write failed")
	ErrStreamOpen   = errors.New("capture: stream open failed")
	ErrFrameTimeout = errors.New("capture: frame timeout")
	ErrFrameRead    = errors.New("capture: frame read failed")
	ErrEncode       = errors.New("capture: encode failed")
	ErrInternal     = errors.New("capture: internal error")
)

var sentinels = map[Kind]error{
	KindTransport:    ErrTransport,
	KindStatus:       ErrStatus,
	KindEmpty:        ErrEmptyPayload,
	KindWrite:        ErrWrite,
	KindStreamOpen:   ErrStreamOpen,
	KindFrameTimeout: ErrFrameTimeout,
	KindFrameRead:    ErrFrameRead,
	KindEncode:       ErrEncode,
	KindInternal:     ErrInternal,
}

// Failure is the typed error carried by a failed Result.
type Failure struct {
	Kind Kind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return sentinels[f.Kind].Error()
	}
	return fmt.Sprintf("%s: %v", sentinels[f.Kind], f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Is matches the sentinel for the failure's kind.
func (f *Failure) Is(target error) bool {
	return sentinels[f.Kind] == target
}

// Result is the outcome of one capture attempt.
type Result struct {
	Size int64 // artifact size on success
	Kind Kind  // empty on success
	Err  error
}

func (r Result) OK() bool { return r.Err == nil }

func fail(kind Kind, err error) Result {
	return Result{Kind: kind, Err: &Failure{Kind: kind, Err: err}}
}

// Deps are the collaborators a backend may need.
type Deps struct {
	Client *http.Client
	Store  *artifact.Store
	Opener Opener
	Logger logrus.FieldLogger
}

// New picks the backend selected by cfg. The choice is fixed for the
// lifetime of the returned value.
func New(cfg config.Config, deps Deps) (Backend, error) {
	if deps.Store == nil {
		return nil, errors.New("capture: artifact store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	switch cfg.CaptureMethod {
	case config.CaptureHTTP:
		if deps.Client == nil {
			return nil, errors.New("capture: http client is required")
		}
		return &StreamSnapshotCapturer{
			Client: deps.Client,
			URL:    cfg.SnapshotURL,
			Store:  deps.Store,
			Logger: logger,
		}, nil
	case config.CaptureRTSP:
		if deps.Opener == nil {
			return nil, errors.New("capture: video stream opener is required")
		}
		return &VideoFrameCapturer{
			Opener:  deps.Opener,
			URL:     cfg.RTSPURL,
			Timeout: cfg.RTSPTimeout,
			Store:   deps.Store,
			Logger:  logger,
		}, nil
	default:
		return nil, fmt.Errorf("capture: unknown method %q", cfg.CaptureMethod)
	}
}
