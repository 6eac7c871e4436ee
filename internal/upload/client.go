// Package upload delivers the artifact to the remote ingestion endpoint.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"

	"github.com/sirupsen/logrus"

	"webcam-uploader/internal/artifact"
)

// maxLoggedBody caps how much of an error response body is logged.
const maxLoggedBody = 4 << 10

type Kind string

const (
	KindMissingArtifact Kind = "missing_artifact"
	KindRead            Kind = "read"
	KindTransport       Kind = "transport"
	KindStatus          Kind = "status"
)

var (
	ErrMissingArtifact = errors.New("upload: no snapshot file to upload")
	ErrRead            = errors.New("upload: read snapshot")
	ErrTransport       = errors.New("upload: transport error")
	ErrStatus          = errors.New("upload: unexpected status")
)

// Result is the final outcome of one upload, after transport retries.
type Result struct {
	StatusCode int
	Bytes      int64
	Kind       Kind
	Err        error
}

func (r Result) OK() bool { return r.Err == nil }

type Credentials struct {
	Fingerprint string
	Token       string
}

// Client PUTs the artifact to URL. Retries of transient failures happen in
// the http.Client's transport.
type Client struct {
	HTTP   *http.Client
	URL    string
	Creds  Credentials
	Logger logrus.FieldLogger
}

func New(httpClient *http.Client, url string, creds Credentials, logger logrus.FieldLogger) *Client {
	return &Client{HTTP: httpClient, URL: url, Creds: creds, Logger: logger}
}

func (c *Client) Upload(ctx context.Context, store *artifact.Store) (res Result) {
	log := c.Logger.WithField("url", c.URL)
	defer func() {
		if r := recover(); r != nil {
			res = Result{Kind: KindTransport, Err: fmt.Errorf("%w: panic: %v", ErrTransport, r)}
		}
		if !res.OK() {
			log.WithFields(logrus.Fields{"kind": res.Kind, "status": res.StatusCode}).
				Errorf("failed to upload snapshot: %v", res.Err)
		}
	}()

	if !store.Exists() {
		return Result{Kind: KindMissingArtifact, Err: ErrMissingArtifact}
	}

	// Read fully so the retry transport can replay the body.
	data, err := store.Read()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Result{Kind: KindMissingArtifact, Err: ErrMissingArtifact}
		}
		return Result{Kind: KindRead, Err: fmt.Errorf("%w: %v", ErrRead, err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.URL, bytes.NewReader(data))
	if err != nil {
		return Result{Kind: KindTransport, Err: fmt.Errorf("%w: build request: %v", ErrTransport, err)}
	}
	req.Header.Set("accept", "*/*")
	req.Header.Set("content-type", "image/jpg")
	req.Header.Set("fingerprint", c.Creds.Fingerprint)
	req.Header.Set("token", c.Creds.Token)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Result{Kind: KindTransport, Bytes: int64(len(data)), Err: fmt.Errorf("%w: %w", ErrTransport, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody))
		log.WithField("status", resp.StatusCode).Errorf("Response content: %s", body)
		return Result{
			StatusCode: resp.StatusCode,
			Bytes:      int64(len(data)),
			Kind:       KindStatus,
			Err:        fmt.Errorf("%w: %s", ErrStatus, resp.Status),
		}
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxLoggedBody))

	log.WithFields(logrus.Fields{"status": resp.StatusCode, "bytes": len(data)}).
		Infof("Snapshot uploaded successfully (Status: %d)", resp.StatusCode)
	return Result{StatusCode: resp.StatusCode, Bytes: int64(len(data))}
}
