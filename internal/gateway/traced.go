package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shpitdev/autoprospect/internal/lead"
	"github.com/shpitdev/autoprospect/internal/metrics"
	"github.com/shpitdev/autoprospect/internal/util"
	"go.uber.org/zap"
)

// Traced logs every gateway call with its outcome and latency and records metrics.
type Traced struct {
	next   Gateway
	logger *zap.Logger
}

// NewTraced decorates next. A nil logger disables logging but keeps metrics.
func NewTraced(next Gateway, logger *zap.Logger) *Traced {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Traced{next: next, logger: logger.Named("gateway")}
}

func (t *Traced) Preflight() error { return Preflight(t.next) }

func (t *Traced) SearchLeads(ctx context.Context, req SearchRequest) ([]Candidate, error) {
	sources := make([]string, 0, len(req.Sources))
	for _, s := range req.Sources {
		sources = append(sources, string(s))
	}
	t.logger.Debug("search request",
		zap.String("query", req.Query),
		zap.Strings("sources", sources),
		zap.Bool("pitch", strings.TrimSpace(req.Pitch) != ""),
		zap.Bool("located", req.Location != nil),
		zap.String("deadline_in", deadlineIn(ctx)),
	)

	start := time.Now()
	out, err := t.next.SearchLeads(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		metrics.RecordGatewayCall("search", outcome(err), elapsed)
		t.logger.Warn("search failed",
			zap.String("query", req.Query),
			zap.Duration("duration", elapsed.Round(time.Millisecond)),
			zap.Bool("retryable", IsTransient(err)),
			zap.String("error", util.RedactSecrets(err.Error())),
		)
		return out, err
	}
	metrics.RecordGatewayCall("search", "ok", elapsed)
	t.logger.Info("search response",
		zap.String("query", req.Query),
		zap.Int("candidates", len(out)),
		zap.Duration("duration", elapsed.Round(time.Millisecond)),
	)
	return out, nil
}

func (t *Traced) DraftEmails(ctx context.Context, l lead.Lead, instructions string) (Drafts, error) {
	t.logger.Debug("draft request",
		zap.String("lead_id", l.ID),
		zap.String("company", l.CompanyName),
		zap.Bool("instructions", strings.TrimSpace(instructions) != ""),
		zap.String("deadline_in", deadlineIn(ctx)),
	)

	start := time.Now()
	out, err := t.next.DraftEmails(ctx, l, instructions)
	elapsed := time.Since(start)

	if err != nil {
		metrics.RecordGatewayCall("draft", outcome(err), elapsed)
		t.logger.Warn("draft failed",
			zap.String("lead_id", l.ID),
			zap.String("company", l.CompanyName),
			zap.Duration("duration", elapsed.Round(time.Millisecond)),
			zap.Bool("retryable", IsTransient(err)),
			zap.String("error", util.RedactSecrets(err.Error())),
		)
		return out, err
	}

	metrics.RecordGatewayCall("draft", "ok", elapsed)
	if ce := t.logger.Check(zap.DebugLevel, "draft response"); ce != nil {
		respJSON, _ := json.Marshal(out)
		ce.Write(
			zap.String("lead_id", l.ID),
			zap.Duration("duration", elapsed.Round(time.Millisecond)),
			zap.ByteString("response", respJSON),
		)
	}
	return out, nil
}

func deadlineIn(ctx context.Context) string {
	if d, ok := ctx.Deadline(); ok {
		return time.Until(d).Round(time.Millisecond).String()
	}
	return "none"
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrMissingCredentials):
		return "missing_credentials"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrAccessDenied):
		return "access_denied"
	case IsFormatError(err):
		return "format_error"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "unavailable"
	}
}
