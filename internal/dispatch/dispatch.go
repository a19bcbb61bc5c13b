// Package dispatch delivers the final email of a READY lead. Only a simulated
// sender is provided; no mail actually leaves the process.
package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultDelay is the simulated per-message delivery time.
const DefaultDelay = 600 * time.Millisecond

// ErrNoContent means the message has no subject or body to send.
var ErrNoContent = errors.New("dispatch: message has no subject or body")

// Message is one outbound email.
type Message struct {
	LeadID  string
	To      string
	Subject string
	Body    string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Simulated waits Delay and records the message.
type Simulated struct {
	Delay  time.Duration
	Logger *zap.Logger

	mu   sync.Mutex
	sent []Message
}

// NewSimulated returns a simulated sender. A negative delay means DefaultDelay.
func NewSimulated(delay time.Duration, logger *zap.Logger) *Simulated {
	if delay < 0 {
		delay = DefaultDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulated{Delay: delay, Logger: logger.Named("dispatch")}
}

func (s *Simulated) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.Subject) == "" && strings.TrimSpace(msg.Body) == "" {
		return ErrNoContent
	}
	if s.Delay > 0 {
		t := time.NewTimer(s.Delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.sent = append(s.sent, msg)
	s.mu.Unlock()

	if s.Logger != nil {
		s.Logger.Info("email sent (simulated)",
			zap.String("lead_id", msg.LeadID),
			zap.String("to", msg.To),
			zap.String("subject", msg.Subject),
		)
	}
	return nil
}

// Sent returns a snapshot of the delivered messages.
func (s *Simulated) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.sent))
	copy(out, s.sent)
	return out
}
