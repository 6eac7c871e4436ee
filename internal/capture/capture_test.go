package capture

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"webcam-uploader/internal/artifact"
	"webcam-uploader/internal/config"
	"webcam-uploader/internal/logging"
)

func quietLogger() logrus.FieldLogger {
	return logging.Discard()
}

func newStore(t *testing.T) *artifact.Store {
	t.Helper()
	return artifact.New(filepath.Join(t.TempDir(), "prusa_output.jpg"))
}

func newStreamer(t *testing.T, url string, store *artifact.Store) *StreamSnapshotCapturer {
	t.Helper()
	return &StreamSnapshotCapturer{
		Client: &http.Client{Timeout: 2 * time.Second},
		URL:    url,
		Store:  store,
		Logger: quietLogger(),
	}
}

func TestStreamerCapturesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fake_image_data"))
	}))
	defer srv.Close()

	store := newStore(t)
	res := newStreamer(t, srv.URL, store).Capture(context.Background())
	if !res.OK() {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if res.Size != 15 {
		t.Fatalf("expected 15 bytes, got %d", res.Size)
	}
	got, err := store.Read()
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(got) != "fake_image_data" {
		t.Fatalf("unexpected artifact content %q", got)
	}
}

func TestStreamerEmptyPayloadFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newStore(t)
	res := newStreamer(t, srv.URL, store).Capture(context.Background())
	if res.OK() {
		t.Fatal("expected failure for empty payload")
	}
	if res.Kind != KindEmpty || !errors.Is(res.Err, ErrEmptyPayload) {
		t.Fatalf("expected empty payload failure, got %s / %v", res.Kind, res.Err)
	}
	if store.Exists() {
		t.Fatal("artifact must be absent after failure")
	}
}

func TestStreamerBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no camera", http.StatusNotFound)
	}))
	defer srv.Close()

	store := newStore(t)
	if err := store.Write([]byte("stale")); err != nil {
		t.Fatalf("seed artifact: %v", err)
	}

	res := newStreamer(t, srv.URL, store).Capture(context.Background())
	if res.Kind != KindStatus || !errors.Is(res.Err, ErrStatus) {
		t.Fatalf("expected status failure, got %s / %v", res.Kind, res.Err)
	}
	if store.Exists() {
		t.Fatal("previous artifact must be removed before the attempt")
	}
}

func TestStreamerTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	res := newStreamer(t, url, newStore(t)).Capture(context.Background())
	if res.Kind != KindTransport || !errors.Is(res.Err, ErrTransport) {
		t.Fatalf("expected transport failure, got %s / %v", res.Kind, res.Err)
	}
}

func TestStreamerWriteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("jpeg"))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "out.jpg")
	if err := os.MkdirAll(filepath.Join(path, "blocker"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	res := newStreamer(t, srv.URL, artifact.New(path)).Capture(context.Background())
	if res.Kind != KindWrite || !errors.Is(res.Err, ErrWrite) {
		t.Fatalf("expected write failure, got %s / %v", res.Kind, res.Err)
	}
}

type fakeStream struct {
	opened   bool
	frame    Frame
	readErr  error
	panicMsg string
	block    bool
	releases int
	reads    int
}

func (s *fakeStream) IsOpened() bool { return s.opened }

func (s *fakeStream) Read(ctx context.Context, timeout time.Duration) (Frame, error) {
	s.reads++
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.block {
		<-ctx.Done()
		return Frame{}, ErrFrameTimeout
	}
	return s.frame, s.readErr
}

func (s *fakeStream) Release() error {
	s.releases++
	return nil
}

type fakeOpener struct {
	stream *fakeStream
	err    error
	depth  int
}

func (o *fakeOpener) Open(ctx context.Context, url string, bufferDepth int) (Stream, error) {
	o.depth = bufferDepth
	if o.stream == nil {
		return nil, o.err
	}
	return o.stream, o.err
}

func solidFrame(w, h int) Frame {
	data := make([]byte, w*h*3)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return Frame{Width: w, Height: h, Data: data}
}

func newVideo(t *testing.T, opener Opener, store *artifact.Store) *VideoFrameCapturer {
	t.Helper()
	return &VideoFrameCapturer{
		Opener:  opener,
		URL:     "rtsp://camera/stream",
		Timeout: time.Second,
		Store:   store,
		Logger:  quietLogger(),
	}
}

func TestVideoNotOpenedReleasesOnce(t *testing.T) {
	stream := &fakeStream{opened: false}
	store := newStore(t)

	res := newVideo(t, &fakeOpener{stream: stream}, store).Capture(context.Background())
	if res.Kind != KindStreamOpen || !errors.Is(res.Err, ErrStreamOpen) {
		t.Fatalf("expected stream open failure, got %s / %v", res.Kind, res.Err)
	}
	if store.Exists() {
		t.Fatal("no artifact should be written")
	}
	if stream.releases != 1 {
		t.Fatalf("expected exactly one release, got %d", stream.releases)
	}
	if stream.reads != 0 {
		t.Fatalf("expected no frame read, got %d", stream.reads)
	}
}

func TestVideoCapturesJPEG(t *testing.T) {
	stream := &fakeStream{opened: true, frame: solidFrame(8, 6)}
	opener := &fakeOpener{stream: stream}
	store := newStore(t)

	res := newVideo(t, opener, store).Capture(context.Background())
	if !res.OK() {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if opener.depth != BufferDepth {
		t.Fatalf("expected buffer depth %d, got %d", BufferDepth, opener.depth)
	}
	if stream.releases != 1 {
		t.Fatalf("expected exactly one release, got %d", stream.releases)
	}

	data, err := store.Read()
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if int64(len(data)) != res.Size {
		t.Fatalf("size mismatch: result %d, file %d", res.Size, len(data))
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("artifact is not a jpeg: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 8 || b.Dy() != 6 {
		t.Fatalf("unexpected dimensions %v", b)
	}
}

func TestVideoFrameTimeout(t *testing.T) {
	stream := &fakeStream{opened: true, block: true}
	c := newVideo(t, &fakeOpener{stream: stream}, newStore(t))
	c.Timeout = 20 * time.Millisecond

	start := time.Now()
	res := c.Capture(context.Background())
	if res.Kind != KindFrameTimeout || !errors.Is(res.Err, ErrFrameTimeout) {
		t.Fatalf("expected frame timeout, got %s / %v", res.Kind, res.Err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("frame read was not interrupted by the timeout")
	}
	if stream.releases != 1 {
		t.Fatalf("expected exactly one release, got %d", stream.releases)
	}
}

func TestVideoReadError(t *testing.T) {
	stream := &fakeStream{opened: true, readErr: errors.New("eos")}
	res := newVideo(t, &fakeOpener{stream: stream}, newStore(t)).Capture(context.Background())
	if res.Kind != KindFrameRead {
		t.Fatalf("expected frame read failure, got %s / %v", res.Kind, res.Err)
	}
	if stream.releases != 1 {
		t.Fatalf("expected exactly one release, got %d", stream.releases)
	}
}

func TestVideoPanicIsContained(t *testing.T) {
	stream := &fakeStream{opened: true, panicMsg: "decoder exploded"}
	store := newStore(t)

	res := newVideo(t, &fakeOpener{stream: stream}, store).Capture(context.Background())
	if res.Kind != KindInternal || !errors.Is(res.Err, ErrInternal) {
		t.Fatalf("expected internal failure, got %s / %v", res.Kind, res.Err)
	}
	if stream.releases != 1 {
		t.Fatalf("expected exactly one release after panic, got %d", stream.releases)
	}
	if store.Exists() {
		t.Fatal("artifact must be absent after failure")
	}
}

func TestVideoOpenErrorReleasesHandle(t *testing.T) {
	stream := &fakeStream{}
	opener := &fakeOpener{stream: stream, err: errors.New("401 unauthorized")}

	res := newVideo(t, opener, newStore(t)).Capture(context.Background())
	if res.Kind != KindStreamOpen {
		t.Fatalf("expected stream open failure, got %s", res.Kind)
	}
	if stream.releases != 1 {
		t.Fatalf("expected exactly one release, got %d", stream.releases)
	}
}

func TestVideoMalformedFrameFailsEncode(t *testing.T) {
	stream := &fakeStream{opened: true, frame: Frame{Width: 4, Height: 4, Data: make([]byte, 10)}}
	res := newVideo(t, &fakeOpener{stream: stream}, newStore(t)).Capture(context.Background())
	if res.Kind != KindEncode || !errors.Is(res.Err, ErrEncode) {
		t.Fatalf("expected encode failure, got %s / %v", res.Kind, res.Err)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	store := newStore(t)
	deps := Deps{Client: http.DefaultClient, Store: store, Opener: &fakeOpener{}, Logger: quietLogger()}

	b, err := New(config.Config{CaptureMethod: config.CaptureHTTP, SnapshotURL: "http://localhost:8080/"}, deps)
	if err != nil {
		t.Fatalf("New(http): %v", err)
	}
	if _, ok := b.(*StreamSnapshotCapturer); !ok || b.Name() != "http" {
		t.Fatalf("expected streamer backend, got %T", b)
	}

	b, err = New(config.Config{CaptureMethod: config.CaptureRTSP, RTSPURL: "rtsp://cam/"}, deps)
	if err != nil {
		t.Fatalf("New(rtsp): %v", err)
	}
	if _, ok := b.(*VideoFrameCapturer); !ok || b.Name() != "rtsp" {
		t.Fatalf("expected video backend, got %T", b)
	}

	if _, err := New(config.Config{CaptureMethod: config.CaptureRTSP}, Deps{Store: store}); err == nil {
		t.Fatal("expected error without opener")
	}
}

func TestFailureMatchesOnlyItsSentinel(t *testing.T) {
	err := error(&Failure{Kind: KindStatus, Err: errors.New("bad status: 503")})
	if !errors.Is(err, ErrStatus) || errors.Is(err, ErrTransport) {
		t.Fatalf("unexpected sentinel matching for %v", err)
	}
}
