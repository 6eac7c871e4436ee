package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"github.com/sirupsen/logrus"

	"webcam-uploader/internal/artifact"
)

const (
	// JPEGQuality is the fixed re-encode quality for video frames.
	JPEGQuality = 85
	// BufferDepth keeps at most one decoded frame queued so a read never
	// returns a stale buffered frame.
	BufferDepth = 1
)

// Frame is one decoded video frame in packed RGB (3 bytes per pixel).
type Frame struct {
	Width  int
	Height int
	Data   []byte
}

// Opener connects to a video-stream source.
type Opener interface {
	// Open may return a non-nil Stream together with an error; the caller
	// releases any non-nil Stream.
	Open(ctx context.Context, url string, bufferDepth int) (Stream, error)
}

// Stream is a video-stream handle scoped to a single capture attempt.
type Stream interface {
	IsOpened() bool
	// Read returns the next frame. It must give up after timeout and
	// report ErrFrameTimeout.
	Read(ctx context.Context, timeout time.Duration) (Frame, error)
	Release() error
}

// VideoFrameCapturer grabs a single frame from a video stream and stores
// it as JPEG.
type VideoFrameCapturer struct {
	Opener  Opener
	URL     string
	Timeout time.Duration
	Quality int // defaults to JPEGQuality
	Store   *artifact.Store
	Logger  logrus.FieldLogger
}

func (c *VideoFrameCapturer) Name() string { return "rtsp" }

func (c *VideoFrameCapturer) Capture(ctx context.Context) (res Result) {
	log := c.Logger.WithFields(logrus.Fields{"backend": "rtsp", "url": c.URL})

	defer func() {
		if r := recover(); r != nil {
			res = fail(KindInternal, fmt.Errorf("panic: %v", r))
		}
		if !res.OK() {
			c.Store.Remove()
			log.WithField("kind", res.Kind).Errorf("failed to capture video frame: %v", res.Err)
		}
	}()

	if err := c.Store.Remove(); err != nil {
		return fail(KindWrite, err)
	}

	stream, err := c.Opener.Open(ctx, c.URL, BufferDepth)
	if stream != nil {
		defer c.release(stream, log)
	}
	if err != nil {
		return fail(KindStreamOpen, err)
	}
	if stream == nil || !stream.IsOpened() {
		return fail(KindStreamOpen, fmt.Errorf("failed to open video stream %s", c.URL))
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	frame, err := stream.Read(rctx, timeout)
	if err != nil {
		if errors.Is(err, ErrFrameTimeout) || (errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil) {
			return fail(KindFrameTimeout, fmt.Errorf("no frame within %s: %w", timeout, err))
		}
		return fail(KindFrameRead, err)
	}

	quality := c.Quality
	if quality <= 0 {
		quality = JPEGQuality
	}
	data, err := EncodeJPEG(frame, quality)
	if err != nil {
		return fail(KindEncode, err)
	}
	if len(data) == 0 {
		return fail(KindEmpty, errors.New("encoded frame is empty"))
	}
	if err := c.Store.Write(data); err != nil {
		return fail(KindWrite, err)
	}

	log.WithFields(logrus.Fields{"bytes": len(data), "width": frame.Width, "height": frame.Height}).
		Debug("video frame captured")
	return Result{Size: int64(len(data))}
}

func (c *VideoFrameCapturer) release(stream Stream, log logrus.FieldLogger) {
	defer func() {
		if r := recover(); r != nil {
			log.Warnf("panic while releasing video stream: %v", r)
		}
	}()
	if err := stream.Release(); err != nil {
		log.Warnf("release video stream: %v", err)
	}
}

// EncodeJPEG converts a packed RGB frame to JPEG at the given quality.
func EncodeJPEG(frame Frame, quality int) ([]byte, error) {
	img, err := rgbToRGBA(frame)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}

func rgbToRGBA(frame Frame) (*image.RGBA, error) {
	if frame.Width <= 0 || frame.Height <= 0 {
		return nil, fmt.Errorf("invalid frame dimensions %dx%d", frame.Width, frame.Height)
	}
	expected := frame.Width * frame.Height * 3
	if len(frame.Data) != expected {
		return nil, fmt.Errorf("invalid RGB data size: got %d, expected %d", len(frame.Data), expected)
	}

	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for i := 0; i < frame.Width*frame.Height; i++ {
		img.Pix[i*4+0] = frame.Data[i*3+0]
		img.Pix[i*4+1] = frame.Data[i*3+1]
		img.Pix[i*4+2] = frame.Data[i*3+2]
		img.Pix[i*4+3] = 255
	}
	return img, nil
}
