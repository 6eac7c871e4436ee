// Package notify sends Telegram messages when pacing degrades or recovers.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"webcam-uploader/internal/cycle"
)

// Sender is the subset of *bot.Bot used here.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// Event is a delay-state transition worth telling a human about.
type Event struct {
	Recovered  bool
	Camera     string
	Stage      cycle.Stage
	Reason     string
	StatusCode int
	NextDelay  time.Duration
	At         time.Time
}

const defaultQueueSize = 16

// Notifier turns outcomes into events and delivers them from its own
// goroutine so the cycle never waits on Telegram.
type Notifier struct {
	sender Sender
	chatID int64
	camera string
	events chan Event
	logger logrus.FieldLogger
}

func New(sender Sender, chatID int64, camera string, logger logrus.FieldLogger) *Notifier {
	return &Notifier{
		sender: sender,
		chatID: chatID,
		camera: camera,
		events: make(chan Event, defaultQueueSize),
		logger: logger,
	}
}

// NewBot connects to the Telegram Bot API.
func NewBot(token string) (*bot.Bot, error) {
	return bot.New(token)
}

// Observe queues an event when the delay state changed.
func (n *Notifier) Observe(ctx context.Context, out cycle.Outcome) {
	if !out.Transitioned() {
		return
	}
	ev := Event{
		Recovered:  out.NextState == cycle.StateShort,
		Camera:     n.camera,
		Stage:      out.Stage,
		StatusCode: out.StatusCode,
		NextDelay:  out.NextDelay,
		At:         out.StartedAt.Add(out.Duration),
	}
	if out.Err != nil {
		ev.Reason = out.Err.Error()
	}

	// Non-blocking send: drop if the queue is full.
	select {
	case n.events <- ev:
	default:
		n.logger.Warnf("notification queue full; dropping event for camera=%s", n.camera)
	case <-ctx.Done():
	}
}

// Run delivers queued events until ctx is done.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-n.events:
			msg := formatDegradedMessage(ev)
			if ev.Recovered {
				msg = formatRecoveredMessage(ev)
			}
			if _, err := n.sender.SendMessage(ctx, &bot.SendMessageParams{
				ChatID: n.chatID,
				Text:   msg,
			}); err != nil {
				n.logger.Warnf("telegram send failed for %s: %v", ev.Camera, err)
			}
		}
	}
}

func formatDegradedMessage(ev Event) string {
	statusLine := "Status: "
	switch {
	case ev.Stage == cycle.StageConnectivity:
		statusLine += "UNREACHABLE"
	case ev.StatusCode >= 500:
		statusLine += fmt.Sprintf("HTTP %d (server error)", ev.StatusCode)
	case ev.StatusCode != 0:
		statusLine += fmt.Sprintf("HTTP %d", ev.StatusCode)
	default:
		statusLine += "FAILED"
	}
	if ev.Reason != "" {
		statusLine += fmt.Sprintf(" (%s)", ev.Reason)
	}

	return fmt.Sprintf("🚨 DEGRADED: %s\nStage: %s\n%s\nNext attempt in: %s\nAt: %s",
		ev.Camera,
		ev.Stage,
		statusLine,
		ev.NextDelay,
		ev.At.UTC().Format("2006-01-02 15:04 MST"),
	)
}

func formatRecoveredMessage(ev Event) string {
	statusLine := "Status: UPLOADING"
	if ev.StatusCode != 0 {
		statusLine = fmt.Sprintf("Status: HTTP %d", ev.StatusCode)
	}

	return fmt.Sprintf("✅ RECOVERED: %s\n%s\nNext attempt in: %s\nAt: %s",
		ev.Camera,
		statusLine,
		ev.NextDelay,
		ev.At.UTC().Format("2006-01-02 15:04 MST"),
	)
}
