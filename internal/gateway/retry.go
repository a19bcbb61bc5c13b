package gateway

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"time"

	"github.com/shpitdev/autoprospect/internal/lead"
	"golang.org/x/time/rate"
)

// RetryOptions tunes the retrying decorator.
type RetryOptions struct {
	MaxRetries     int
	RequestTimeout time.Duration

	// RateLimitRPS is a global limit across all calls. Set to <=0 to disable.
	RateLimitRPS float64

	// BackoffInitial is the initial sleep before retrying a transient failure.
	BackoffInitial time.Duration
	// BackoffMax caps exponential backoff.
	BackoffMax time.Duration
	// BackoffJitterFrac applies +/- jitter to backoff sleeps (0.2 = +/-20%).
	BackoffJitterFrac float64
}

func (o RetryOptions) withDefaults() RetryOptions {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 60 * time.Second
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 200 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 2 * time.Second
	}
	if o.BackoffJitterFrac < 0 {
		o.BackoffJitterFrac = 0
	}
	return o
}

// Retrying wraps a Gateway with a shared rate limiter, a per-attempt timeout and
// exponential backoff on transient failures.
type Retrying struct {
	next    Gateway
	opts    RetryOptions
	limiter *rate.Limiter
}

// NewRetrying decorates next.
func NewRetrying(next Gateway, opts RetryOptions) *Retrying {
	opts = opts.withDefaults()
	var limiter *rate.Limiter
	if opts.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), 1)
	}
	return &Retrying{next: next, opts: opts, limiter: limiter}
}

func (r *Retrying) Preflight() error { return Preflight(r.next) }

func (r *Retrying) SearchLeads(ctx context.Context, req SearchRequest) ([]Candidate, error) {
	return withRetry(ctx, r, func(ctx context.Context) ([]Candidate, error) {
		return r.next.SearchLeads(ctx, req)
	})
}

func (r *Retrying) DraftEmails(ctx context.Context, l lead.Lead, instructions string) (Drafts, error) {
	return withRetry(ctx, r, func(ctx context.Context) (Drafts, error) {
		return r.next.DraftEmails(ctx, l, instructions)
	})
}

func withRetry[Out any](ctx context.Context, r *Retrying, call func(context.Context) (Out, error)) (Out, error) {
	var lastOut Out
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return lastOut, err
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return lastOut, err
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, r.opts.RequestTimeout)
		out, err := call(reqCtx)
		cancel()
		lastOut = out
		if err == nil {
			return out, nil
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return lastOut, ctx.Err()
		}
		if !IsTransient(err) || attempt >= r.opts.MaxRetries {
			return lastOut, err
		}

		sleep := backoffSleep(r.opts.BackoffInitial, r.opts.BackoffMax, r.opts.BackoffJitterFrac, attempt)
		t := time.NewTimer(sleep)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return lastOut, ctx.Err()
		}
	}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

func backoffSleep(initial, max time.Duration, jitterFrac float64, attempt int) time.Duration {
	sleep := initial
	for i := 0; i < attempt && sleep < max; i++ {
		sleep *= 2
		if sleep > max {
			sleep = max
			break
		}
	}
	if jitterFrac <= 0 {
		return sleep
	}
	// Apply +/- jitterFrac.
	j := 1 + (rand.Float64()*2-1)*jitterFrac
	return time.Duration(float64(sleep) * j)
}
