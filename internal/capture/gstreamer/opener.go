// Package gstreamer reads single frames from RTSP sources with GStreamer.
package gstreamer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"webcam-uploader/internal/capture"
)

var initOnce sync.Once

// Opener builds one short-lived appsink pipeline per capture.
type Opener struct {
	// Latency is the rtspsrc jitter buffer in milliseconds.
	Latency int
	Logger  logrus.FieldLogger
}

func NewOpener(logger logrus.FieldLogger) *Opener {
	return &Opener{Latency: 200, Logger: logger}
}

// Open never returns a nil Stream: a pipeline that cannot be built or
// started yields a Stream whose IsOpened reports false.
func (o *Opener) Open(ctx context.Context, url string, bufferDepth int) (capture.Stream, error) {
	initOnce.Do(func() { gst.Init(nil) })

	s := &stream{url: url, logger: o.Logger}

	pipeline, err := gst.NewPipelineFromString(launchLine(url, o.Latency, bufferDepth))
	if err != nil {
		return s, fmt.Errorf("gstreamer: build pipeline: %w", err)
	}
	s.pipeline = pipeline

	elem, err := pipeline.GetElementByName("sink")
	if err != nil {
		return s, fmt.Errorf("gstreamer: appsink not found: %w", err)
	}
	s.sink = app.SinkFromElement(elem)

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		if o.Logger != nil {
			o.Logger.WithField("url", url).Warnf("failed to start pipeline: %v", err)
		}
		return s, nil
	}
	s.opened = true
	return s, nil
}

// launchLine decodes any codec rtspsrc negotiates to packed RGB and keeps
// at most bufferDepth frames in the appsink.
func launchLine(url string, latencyMs, bufferDepth int) string {
	if bufferDepth < 1 {
		bufferDepth = 1
	}
	if latencyMs < 0 {
		latencyMs = 0
	}
	return fmt.Sprintf(
		"rtspsrc location=%s protocols=tcp latency=%d ! decodebin ! videoconvert ! "+
			"video/x-raw,format=RGB ! appsink name=sink max-buffers=%d drop=true sync=false",
		quote(url), latencyMs, bufferDepth,
	)
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

type stream struct {
	url      string
	pipeline *gst.Pipeline
	sink     *app.Sink
	opened   bool
	logger   logrus.FieldLogger

	releaseOnce sync.Once
	releaseErr  error
}

func (s *stream) IsOpened() bool { return s.opened }

func (s *stream) Read(ctx context.Context, timeout time.Duration) (capture.Frame, error) {
	if !s.opened || s.sink == nil {
		return capture.Frame{}, errors.New("gstreamer: stream not opened")
	}

	type result struct {
		frame capture.Frame
		err   error
	}
	done := make(chan result, 1)
	go func() {
		f, err := s.pull(timeout)
		done <- result{f, err}
	}()

	select {
	case <-ctx.Done():
		// Release moves the pipeline to NULL, which unblocks the pull.
		return capture.Frame{}, ctx.Err()
	case r := <-done:
		return r.frame, r.err
	}
}

func (s *stream) pull(timeout time.Duration) (capture.Frame, error) {
	sample := s.sink.TryPullSample(timeout)
	if sample == nil {
		if err := s.busError(); err != nil {
			return capture.Frame{}, err
		}
		return capture.Frame{}, capture.ErrFrameTimeout
	}

	width, height, err := dimensions(sample)
	if err != nil {
		return capture.Frame{}, err
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return capture.Frame{}, errors.New("gstreamer: sample without buffer")
	}
	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return capture.Frame{}, errors.New("gstreamer: empty buffer")
	}
	// GStreamer reuses the buffer.
	pixels, err := packRGB(data, width, height)
	buffer.Unmap()
	if err != nil {
		return capture.Frame{}, err
	}

	return capture.Frame{Width: width, Height: height, Data: pixels}, nil
}

func dimensions(sample *gst.Sample) (int, int, error) {
	caps := sample.GetCaps()
	if caps == nil || caps.GetSize() == 0 {
		return 0, 0, errors.New("gstreamer: sample without caps")
	}
	st := caps.GetStructureAt(0)
	w, err := st.GetValue("width")
	if err != nil {
		return 0, 0, fmt.Errorf("gstreamer: caps width: %w", err)
	}
	h, err := st.GetValue("height")
	if err != nil {
		return 0, 0, fmt.Errorf("gstreamer: caps height: %w", err)
	}
	width, wok := w.(int)
	height, hok := h.(int)
	if !wok || !hok {
		return 0, 0, fmt.Errorf("gstreamer: unexpected caps dimension types %T/%T", w, h)
	}
	return width, height, nil
}

// packRGB copies the frame, dropping any per-row stride padding.
func packRGB(data []byte, width, height int) ([]byte, error) {
	row := width * 3
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("gstreamer: invalid dimensions %dx%d", width, height)
	}
	if len(data) == row*height {
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}
	if len(data)%height != 0 || len(data)/height < row {
		return nil, fmt.Errorf("gstreamer: buffer of %d bytes does not fit %dx%d RGB", len(data), width, height)
	}
	stride := len(data) / height
	out := make([]byte, row*height)
	for y := 0; y < height; y++ {
		copy(out[y*row:(y+1)*row], data[y*stride:y*stride+row])
	}
	return out, nil
}

func (s *stream) busError() error {
	if s.pipeline == nil {
		return nil
	}
	bus := s.pipeline.GetPipelineBus()
	if bus == nil {
		return nil
	}
	msg := bus.PopFiltered(gst.MessageError)
	if msg == nil {
		return nil
	}
	return fmt.Errorf("gstreamer: %w", msg.ParseError())
}

func (s *stream) Release() error {
	s.releaseOnce.Do(func() {
		if s.pipeline == nil {
			return
		}
		if err := s.pipeline.SetState(gst.StateNull); err != nil {
			s.releaseErr = fmt.Errorf("gstreamer: stop pipeline: %w", err)
		}
	})
	return s.releaseErr
}
