package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"webcam-uploader/internal/artifact"
)

// StreamSnapshotCapturer pulls one image from an image-serving HTTP endpoint
// such as mjpg-streamer's ?action=snapshot.
type StreamSnapshotCapturer struct {
	Client *http.Client
	URL    string
	Store  *artifact.Store
	Logger logrus.FieldLogger
}

func (c *StreamSnapshotCapturer) Name() string { return "http" }

func (c *StreamSnapshotCapturer) Capture(ctx context.Context) (res Result) {
	log := c.Logger.WithFields(logrus.Fields{"backend": "http", "url": c.URL})

	defer func() {
		if r := recover(); r != nil {
			res = fail(KindInternal, fmt.Errorf("panic: %v", r))
		}
		if !res.OK() {
			c.Store.Remove()
			log.WithField("kind", res.Kind).Errorf("failed to capture HTTP snapshot: %v", res.Err)
		}
	}()

	if err := c.Store.Remove(); err != nil {
		return fail(KindWrite, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return fail(KindTransport, fmt.Errorf("build request: %w", err))
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return fail(KindTransport, fmt.Errorf("%s: %w", classifyHTTPError(err), err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return fail(KindStatus, fmt.Errorf("bad status: %d", resp.StatusCode))
	}

	f, err := c.Store.Create()
	if err != nil {
		return fail(KindWrite, err)
	}
	w := &trackingWriter{w: f}
	n, copyErr := io.Copy(w, resp.Body)
	closeErr := f.Close()

	switch {
	case w.err != nil:
		return fail(KindWrite, w.err)
	case copyErr != nil:
		return fail(KindTransport, fmt.Errorf("read body: %w", copyErr))
	case closeErr != nil:
		return fail(KindWrite, closeErr)
	case n == 0:
		return fail(KindEmpty, errors.New("captured image is empty"))
	}

	log.WithField("bytes", n).Debug("HTTP snapshot captured")
	return Result{Size: n}
}

// trackingWriter remembers write errors so they can be told apart from
// errors reading the response body.
type trackingWriter struct {
	w   io.Writer
	err error
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil {
		t.err = err
	}
	return n, err
}

func classifyHTTPError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "network"
	}
}
