// Package lifecycle drives single leads through the outreach state machine:
// NEW -> DRAFTING -> REVIEW -> READY -> SENT, with DRAFTING -> NEW when drafting fails.
//
// Every status check and mutation runs inside one Repository.Update call, so a
// trigger either applies completely or leaves the lead untouched.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shpitdev/autoprospect/internal/dispatch"
	"github.com/shpitdev/autoprospect/internal/gateway"
	"github.com/shpitdev/autoprospect/internal/lead"
	"github.com/shpitdev/autoprospect/internal/metrics"
	"go.uber.org/zap"
)

var (
	// ErrInFlight is returned when the lead is being dispatched.
	ErrInFlight = errors.New("lifecycle: dispatch already in progress")
	// ErrIncompleteEdit is returned when the editor submits an empty subject or body.
	ErrIncompleteEdit = errors.New("lifecycle: subject and body are required")
)

// Edit is the editor state submitted by the user.
type Edit struct {
	Variant lead.Variant `json:"variant"`
	Subject string       `json:"subject"`
	Body    string       `json:"body"`
}

// Controller applies per-lead transitions.
type Controller struct {
	repo    lead.Repository
	drafter gateway.Drafter
	sender  dispatch.Sender
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	sending map[string]struct{}
}

// New builds a controller. A nil logger disables logging.
func New(repo lead.Repository, drafter gateway.Drafter, sender dispatch.Sender, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		repo:    repo,
		drafter: drafter,
		sender:  sender,
		logger:  logger.Named("lifecycle"),
		now:     time.Now,
		sending: make(map[string]struct{}),
	}
}

// Repository returns the repository the controller mutates.
func (c *Controller) Repository() lead.Repository { return c.repo }

// Preflight reports a drafting configuration problem without touching any lead.
func (c *Controller) Preflight() error { return gateway.Preflight(c.drafter) }

// GenerateDraft drafts both variants for a NEW lead and moves it to REVIEW.
// On any drafting failure the lead returns to NEW with its content untouched.
func (c *Controller) GenerateDraft(ctx context.Context, id string) (lead.Lead, error) {
	if err := c.Preflight(); err != nil {
		return lead.Lead{}, err
	}

	var snapshot lead.Lead
	if err := c.transition(id, lead.StatusDrafting, func(l *lead.Lead) error {
		snapshot = l.Clone()
		return nil
	}, lead.StatusNew); err != nil {
		return lead.Lead{}, err
	}

	drafts, err := c.drafter.DraftEmails(ctx, snapshot, "")
	if err == nil {
		err = drafts.Validate()
	}
	if err != nil {
		if rerr := c.transition(id, lead.StatusNew, nil, lead.StatusDrafting); rerr != nil && !errors.Is(rerr, lead.ErrNotFound) {
			c.logger.Error("revert after failed draft", zap.String("lead_id", id), zap.Error(rerr))
		}
		return lead.Lead{}, fmt.Errorf("draft lead %s: %w", id, err)
	}

	if err := c.transition(id, lead.StatusReview, func(l *lead.Lead) error {
		l.Variants = &lead.Variants{A: drafts.VariantA, B: drafts.VariantB}
		l.Final = drafts.VariantA
		l.SelectedVariant = lead.VariantA
		return nil
	}, lead.StatusDrafting); err != nil {
		return lead.Lead{}, err
	}
	return c.get(id)
}

// Approve accepts the currently selected draft: REVIEW -> READY.
func (c *Controller) Approve(id string) (lead.Lead, error) {
	if err := c.transition(id, lead.StatusReady, nil, lead.StatusReview); err != nil {
		return lead.Lead{}, err
	}
	return c.get(id)
}

// SaveEdit stores the editor content as the final email and marks the lead READY.
// It is rejected while the lead is being dispatched.
func (c *Controller) SaveEdit(id string, e Edit) (lead.Lead, error) {
	which := e.Variant
	if which == "" {
		which = lead.VariantA
	}
	if _, err := lead.ParseVariant(string(which)); err != nil {
		return lead.Lead{}, err
	}
	final := lead.Draft{Subject: e.Subject, Body: e.Body}
	if !final.Complete() {
		return lead.Lead{}, ErrIncompleteEdit
	}

	if err := c.transition(id, lead.StatusReady, func(l *lead.Lead) error {
		// Checked under the repository lock: Dispatch marks the lead before reading it.
		if c.inFlight(id) {
			return ErrInFlight
		}
		l.Final = final
		l.SelectedVariant = which
		return nil
	}, lead.StatusReview, lead.StatusReady); err != nil {
		return lead.Lead{}, err
	}
	return c.get(id)
}

// Regenerate replaces variants A and B with a fresh draft guided by instructions.
// Status, the final email and the selected variant are left alone.
func (c *Controller) Regenerate(ctx context.Context, id, instructions string) (lead.Lead, error) {
	if err := c.Preflight(); err != nil {
		return lead.Lead{}, err
	}
	cur, ok := c.repo.Get(id)
	if !ok {
		return lead.Lead{}, fmt.Errorf("%w: %s", lead.ErrNotFound, id)
	}
	if err := requireEditable(cur); err != nil {
		return lead.Lead{}, err
	}

	drafts, err := c.drafter.DraftEmails(ctx, cur, instructions)
	if err == nil {
		err = drafts.Validate()
	}
	if err != nil {
		return lead.Lead{}, fmt.Errorf("regenerate lead %s: %w", id, err)
	}

	found, err := c.repo.Update(id, func(l *lead.Lead) error {
		if err := requireEditable(*l); err != nil {
			return err
		}
		l.Variants = &lead.Variants{A: drafts.VariantA, B: drafts.VariantB}
		return nil
	})
	if !found {
		return lead.Lead{}, fmt.Errorf("%w: %s", lead.ErrNotFound, id)
	}
	if err != nil {
		return lead.Lead{}, err
	}
	return c.get(id)
}

// Dispatch sends the final email of a READY lead and marks it SENT.
// A failed send leaves the lead READY.
func (c *Controller) Dispatch(ctx context.Context, id string) (lead.Lead, error) {
	c.mu.Lock()
	if _, busy := c.sending[id]; busy {
		c.mu.Unlock()
		return lead.Lead{}, ErrInFlight
	}
	c.sending[id] = struct{}{}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.sending, id)
		c.mu.Unlock()
	}()

	cur, ok := c.repo.Get(id)
	if !ok {
		return lead.Lead{}, fmt.Errorf("%w: %s", lead.ErrNotFound, id)
	}
	if cur.Status != lead.StatusReady {
		return lead.Lead{}, &lead.TransitionError{ID: id, From: cur.Status, To: lead.StatusSent}
	}

	msg := dispatch.Message{
		LeadID:  cur.ID,
		To:      cur.Recipient(),
		Subject: cur.Final.Subject,
		Body:    cur.Final.Body,
	}
	if err := c.sender.Send(ctx, msg); err != nil {
		return lead.Lead{}, fmt.Errorf("send lead %s: %w", id, err)
	}

	if err := c.transition(id, lead.StatusSent, func(l *lead.Lead) error {
		if l.Final.Subject != msg.Subject || l.Final.Body != msg.Body {
			return fmt.Errorf("lead %s: final email changed during dispatch", id)
		}
		at := c.now()
		l.SentAt = &at
		return nil
	}, lead.StatusReady); err != nil {
		return lead.Lead{}, err
	}
	return c.get(id)
}

// Delete removes the lead whatever its status.
func (c *Controller) Delete(id string) error {
	if !c.repo.Delete(id) {
		return fmt.Errorf("%w: %s", lead.ErrNotFound, id)
	}
	c.logger.Info("lead deleted", zap.String("lead_id", id))
	return nil
}

// transition moves the lead to `to` if it is currently in one of `from`, applying
// mutate in the same atomic update.
func (c *Controller) transition(id string, to lead.Status, mutate func(*lead.Lead) error, from ...lead.Status) error {
	var prev lead.Status
	found, err := c.repo.Update(id, func(l *lead.Lead) error {
		prev = l.Status
		if err := l.Transition(to, from...); err != nil {
			return err
		}
		if mutate != nil {
			return mutate(l)
		}
		return nil
	})
	if !found {
		return fmt.Errorf("%w: %s", lead.ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	metrics.RecordTransition(string(prev), string(to))
	c.logger.Debug("lead transition",
		zap.String("lead_id", id),
		zap.String("from", string(prev)),
		zap.String("to", string(to)),
	)
	return nil
}

func (c *Controller) inFlight(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sending[id]
	return ok
}

func (c *Controller) get(id string) (lead.Lead, error) {
	l, ok := c.repo.Get(id)
	if !ok {
		return lead.Lead{}, fmt.Errorf("%w: %s", lead.ErrNotFound, id)
	}
	return l, nil
}

func requireEditable(l lead.Lead) error {
	if l.Status != lead.StatusReview && l.Status != lead.StatusReady {
		return fmt.Errorf("%w: lead %s is %s, drafts can only be regenerated in %s or %s",
			lead.ErrInvalidTransition, l.ID, l.Status, lead.StatusReview, lead.StatusReady)
	}
	return nil
}
