// Package connectivity decides whether the camera host is reachable.
package connectivity

import (
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"
)

// ProbeTimeout bounds a single reachability probe.
const ProbeTimeout = 10 * time.Second

// Checker reports whether host currently answers. It never returns an error:
// any probe problem is simply "not reachable".
type Checker interface {
	Reachable(ctx context.Context, host string) bool
}

// PingChecker sends one ICMP echo through the system ping binary.
type PingChecker struct {
	Binary  string        // defaults to "ping"
	Timeout time.Duration // defaults to ProbeTimeout
	Logger  logrus.FieldLogger
}

func NewPingChecker(logger logrus.FieldLogger) *PingChecker {
	return &PingChecker{Binary: "ping", Timeout: ProbeTimeout, Logger: logger}
}

func (p *PingChecker) Reachable(ctx context.Context, host string) bool {
	bin := p.Binary
	if bin == "" {
		bin = "ping"
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = ProbeTimeout
	}

	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(pctx, bin, "-c", "1", host)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return true
	}

	if p.Logger != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(pctx.Err(), context.DeadlineExceeded):
			p.Logger.WithField("host", host).Warnf("ping check timed out after %s", timeout)
		case errors.As(err, &exitErr):
			p.Logger.WithFields(logrus.Fields{"host": host, "exit_code": exitErr.ExitCode()}).
				Debugf("ping failed: %s", trim(out))
		default:
			p.Logger.WithField("host", host).Warnf("ping check failed: %v", err)
		}
	}
	return false
}

func trim(b []byte) string {
	const max = 256
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}
