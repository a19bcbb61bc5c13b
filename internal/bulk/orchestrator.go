// Package bulk applies one lifecycle transition to every eligible lead in turn,
// tracking progress and a short rolling log for the dashboard.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/shpitdev/autoprospect/internal/lead"
	"github.com/shpitdev/autoprospect/internal/lifecycle"
	"github.com/shpitdev/autoprospect/internal/metrics"
	"go.uber.org/zap"
)

// Action is a bulk operation. The value doubles as the active-action indicator.
type Action string

const (
	ActionGenerate Action = "GENERATING"
	ActionApprove  Action = "VALIDATING"
	ActionSend     Action = "SENDING"
)

var (
	// ErrBusy is returned when a bulk action is already active (running or cooling down).
	ErrBusy = errors.New("bulk: another bulk action is in progress")
	// ErrClosed is returned once the orchestrator has been closed.
	ErrClosed = errors.New("bulk: orchestrator is closed")
)

// ParseAction accepts the indicator value or the verbs generate, approve and send.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "generate", "generate-all", "generating":
		return ActionGenerate, nil
	case "approve", "approve-all", "validate", "validating":
		return ActionApprove, nil
	case "send", "send-all", "sending":
		return ActionSend, nil
	}
	return "", fmt.Errorf("unknown bulk action %q", s)
}

// From is the status a lead must be in to be picked up by the action.
func (a Action) From() lead.Status {
	switch a {
	case ActionGenerate:
		return lead.StatusNew
	case ActionApprove:
		return lead.StatusReview
	case ActionSend:
		return lead.StatusReady
	}
	return ""
}

type script struct {
	preamble [2]string
	item     func(l lead.Lead) string
	done     string
}

var scripts = map[Action]script{
	ActionGenerate: {
		preamble: [2]string{"Starting semantic analysis...", "Connecting to the AI gateway..."},
		item:     func(l lead.Lead) string { return "AI drafting for " + l.CompanyName + "..." },
		done:     "All drafts are ready for review.",
	},
	ActionApprove: {
		preamble: [2]string{"Checking GDPR compliance...", "Validating email syntax..."},
		item:     func(l lead.Lead) string { return "Validation OK: " + l.CompanyName },
		done:     "All emails are validated.",
	},
	ActionSend: {
		preamble: [2]string{"Opening SMTP sockets...", "TLS encryption enabled."},
		item:     func(l lead.Lead) string { return "Transmitting to " + l.Recipient() + "..." },
		done:     "Campaign sent successfully.",
	},
}

const donePrefix = "✓ "

// Options tunes an Orchestrator. Zero durations are used as-is.
type Options struct {
	// LogWindow is how many item lines stay visible (default 4).
	LogWindow int
	// Cooldown is how long the finished action stays displayed before the
	// indicator clears.
	Cooldown time.Duration
	// ApproveDelay is waited before each approval.
	ApproveDelay time.Duration
}

// DefaultOptions mirrors the dashboard pacing.
func DefaultOptions() Options {
	return Options{
		LogWindow:    4,
		Cooldown:     2 * time.Second,
		ApproveDelay: 100 * time.Millisecond,
	}
}

// State is what the dashboard renders. Action is empty when idle.
type State struct {
	Action   Action   `json:"action,omitempty"`
	Running  bool     `json:"running"`
	Progress int      `json:"progress"`
	Total    int      `json:"total"`
	Logs     []string `json:"logs"`
	Done     string   `json:"done,omitempty"`
}

// Report summarises a finished run.
type Report struct {
	Action    Action        `json:"action"`
	Eligible  int           `json:"eligible"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	Cancelled bool          `json:"cancelled"`
	Duration  time.Duration `json:"duration"`
}

// Orchestrator runs at most one bulk action at a time.
type Orchestrator struct {
	ctrl   *lifecycle.Controller
	repo   lead.Repository
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	state    State
	seq      uint64
	cancel   context.CancelFunc
	cooldown *time.Timer
	closed   bool
	wg       sync.WaitGroup
}

// New builds an orchestrator over ctrl's repository.
func New(ctrl *lifecycle.Controller, opts Options, logger *zap.Logger) *Orchestrator {
	if opts.LogWindow <= 0 {
		opts.LogWindow = 4
	}
	if opts.Cooldown < 0 {
		opts.Cooldown = 0
	}
	if opts.ApproveDelay < 0 {
		opts.ApproveDelay = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		ctrl:   ctrl,
		repo:   ctrl.Repository(),
		opts:   opts,
		logger: logger.Named("bulk"),
		state:  State{Logs: []string{}},
	}
}

// Status returns a copy of the current state.
func (o *Orchestrator) Status() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.state
	out.Logs = append([]string{}, o.state.Logs...)
	return out
}

// Run executes action synchronously. An empty eligible set is a no-op that
// returns a zero report without ever becoming active.
func (o *Orchestrator) Run(ctx context.Context, action Action) (Report, error) {
	run, targets, err := o.begin(ctx, action)
	if err != nil || len(targets) == 0 {
		return Report{Action: action}, err
	}
	defer o.wg.Done()
	return o.execute(run, action, targets), nil
}

// Start launches action in the background and returns the number of eligible leads.
// The run outlives ctx's cancellation; use Cancel to stop it.
func (o *Orchestrator) Start(ctx context.Context, action Action) (int, error) {
	run, targets, err := o.begin(context.WithoutCancel(ctx), action)
	if err != nil || len(targets) == 0 {
		return 0, err
	}
	go func() {
		defer o.wg.Done()
		o.execute(run, action, targets)
	}()
	return len(targets), nil
}

// Cancel stops the running action, if any, and reports whether one was running.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel == nil {
		return false
	}
	o.cancel()
	return true
}

// Close rejects new runs, cancels the active one, waits for it and drops a
// pending cooldown.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	if o.cancel != nil {
		o.cancel()
	}
	o.mu.Unlock()

	o.wg.Wait()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cooldown != nil {
		o.cooldown.Stop()
		o.cooldown = nil
	}
	o.state.Action = ""
}

type runContext struct {
	ctx   context.Context
	seq   uint64
	start time.Time
}

func (o *Orchestrator) begin(ctx context.Context, action Action) (runContext, []lead.Lead, error) {
	sc, ok := scripts[action]
	if !ok {
		return runContext{}, nil, fmt.Errorf("unknown bulk action %q", action)
	}
	if action == ActionGenerate {
		if err := o.ctrl.Preflight(); err != nil {
			return runContext{}, nil, err
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return runContext{}, nil, ErrClosed
	}
	if o.state.Action != "" {
		return runContext{}, nil, ErrBusy
	}
	targets := o.repo.ListByStatus(action.From())
	if len(targets) == 0 {
		return runContext{}, nil, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	// Added under the lock so Close never waits on a group that can still grow.
	o.wg.Add(1)
	o.seq++
	o.cancel = cancel
	o.state = State{
		Action:  action,
		Running: true,
		Total:   len(targets),
		Logs:    []string{sc.preamble[0], sc.preamble[1]},
	}
	o.logger.Info("bulk run started", zap.String("action", string(action)), zap.Int("eligible", len(targets)))
	return runContext{ctx: runCtx, seq: o.seq, start: time.Now()}, targets, nil
}

func (o *Orchestrator) execute(run runContext, action Action, targets []lead.Lead) Report {
	sc := scripts[action]
	rep := Report{Action: action, Eligible: len(targets)}

	for i, l := range targets {
		if run.ctx.Err() != nil {
			rep.Cancelled = true
			break
		}

		if action != ActionApprove {
			o.appendLog(sc.item(l))
		}
		err := o.process(run.ctx, action, l)
		if action == ActionApprove {
			if err == nil {
				o.appendLog(sc.item(l))
			} else {
				o.appendLog("Skipped: " + l.CompanyName)
			}
		}
		if err != nil {
			if errors.Is(err, context.Canceled) && run.ctx.Err() != nil {
				rep.Cancelled = true
				break
			}
			rep.Failed++
			o.logger.Warn("bulk item failed",
				zap.String("action", string(action)),
				zap.String("lead_id", l.ID),
				zap.Error(err),
			)
		}
		rep.Completed++
		o.setProgress(i+1, len(targets))
	}

	rep.Duration = time.Since(run.start)
	o.finish(run, sc, rep)
	return rep
}

func (o *Orchestrator) process(ctx context.Context, action Action, l lead.Lead) error {
	switch action {
	case ActionGenerate:
		_, err := o.ctrl.GenerateDraft(ctx, l.ID)
		return err
	case ActionApprove:
		if o.opts.ApproveDelay > 0 {
			t := time.NewTimer(o.opts.ApproveDelay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		}
		_, err := o.ctrl.Approve(l.ID)
		return err
	case ActionSend:
		_, err := o.ctrl.Dispatch(ctx, l.ID)
		return err
	}
	return fmt.Errorf("unknown bulk action %q", action)
}

func (o *Orchestrator) appendLog(line string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state.Logs = append(o.state.Logs, line)
	if n := len(o.state.Logs); n > o.opts.LogWindow {
		o.state.Logs = append([]string{}, o.state.Logs[n-o.opts.LogWindow:]...)
	}
}

func (o *Orchestrator) setProgress(completed, total int) {
	p := int(math.Round(100 * float64(completed) / float64(total)))
	o.mu.Lock()
	defer o.mu.Unlock()
	if p > o.state.Progress {
		o.state.Progress = p
	}
}

func (o *Orchestrator) finish(run runContext, sc script, rep Report) {
	outcome := "completed"
	done := donePrefix + sc.done
	switch {
	case rep.Cancelled:
		outcome = "cancelled"
		done = fmt.Sprintf("%sCancelled after %d of %d.", donePrefix, rep.Completed, rep.Eligible)
	case rep.Failed > 0:
		outcome = "partial"
		done = fmt.Sprintf("%sFinished: %d succeeded, %d failed.", donePrefix, rep.Completed-rep.Failed, rep.Failed)
	}
	metrics.RecordBulkRun(string(rep.Action), outcome)
	o.logger.Info("bulk run finished",
		zap.String("action", string(rep.Action)),
		zap.String("outcome", outcome),
		zap.Int("eligible", rep.Eligible),
		zap.Int("completed", rep.Completed),
		zap.Int("failed", rep.Failed),
		zap.Duration("duration", rep.Duration.Round(time.Millisecond)),
	)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.state.Running = false
	o.state.Done = done
	if !rep.Cancelled {
		o.state.Progress = 100
	}

	if rep.Cancelled || o.opts.Cooldown <= 0 {
		o.clearLocked(run.seq)
		return
	}
	seq := run.seq
	o.cooldown = time.AfterFunc(o.opts.Cooldown, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.clearLocked(seq)
	})
}

// clearLocked drops the active indicator of run seq. Send-all also wipes its log.
func (o *Orchestrator) clearLocked(seq uint64) {
	if seq != o.seq || o.state.Action == "" {
		return
	}
	if o.state.Action == ActionSend {
		o.state.Logs = []string{}
		o.state.Done = ""
	}
	o.state.Action = ""
	o.cooldown = nil
}
