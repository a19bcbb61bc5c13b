// Package app wires the pipeline services from configuration and runs
// end-to-end campaigns for the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/shpitdev/autoprospect/internal/bulk"
	"github.com/shpitdev/autoprospect/internal/config"
	"github.com/shpitdev/autoprospect/internal/dispatch"
	"github.com/shpitdev/autoprospect/internal/export"
	"github.com/shpitdev/autoprospect/internal/gateway"
	"github.com/shpitdev/autoprospect/internal/gateway/gemini"
	"github.com/shpitdev/autoprospect/internal/geo"
	"github.com/shpitdev/autoprospect/internal/lead"
	"github.com/shpitdev/autoprospect/internal/lifecycle"
	"github.com/shpitdev/autoprospect/internal/search"
	"go.uber.org/zap"
)

// Services is the wired pipeline shared by the CLI and the HTTP API.
type Services struct {
	Repo    *lead.Memory
	Gateway gateway.Gateway
	Leads   *lifecycle.Controller
	Bulk    *bulk.Orchestrator
	Search  *search.Service
	Sender  *dispatch.Simulated
}

// Close stops background bulk work.
func (s *Services) Close() {
	s.Bulk.Close()
}

// BuildGateway returns the Gemini gateway wrapped with retries and tracing.
// Without an API key it returns a gateway that reports ErrMissingCredentials per
// action, so the service can still start.
func BuildGateway(ctx context.Context, cfg config.Config, logger *zap.Logger) (gateway.Gateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	mode, err := gemini.ParseSearchMode(cfg.Gemini.SearchMode)
	if err != nil {
		return nil, err
	}

	var base gateway.Gateway
	g, err := gemini.New(ctx, gemini.Config{
		APIKey:       cfg.Gemini.APIKey,
		Model:        cfg.Gemini.Model,
		BaseURL:      cfg.Gemini.BaseURL,
		SearchMode:   mode,
		CaptureAudit: cfg.Gemini.CaptureAudit,
		Logger:       logger,
	})
	switch {
	case errors.Is(err, gateway.ErrMissingCredentials):
		logger.Warn("GEMINI_API_KEY is not set; search and drafting will fail until it is configured")
		base = gateway.Unconfigured{}
	case err != nil:
		return nil, err
	default:
		logger.Info("gemini gateway ready", zap.String("model", g.Model()), zap.String("search_mode", string(mode)))
		base = g
	}

	retrying := gateway.NewRetrying(base, gateway.RetryOptions{
		MaxRetries:        cfg.Retry.MaxRetries,
		RequestTimeout:    cfg.Retry.RequestTimeout,
		RateLimitRPS:      cfg.Retry.RateLimitRPS,
		BackoffJitterFrac: 0.2,
	})
	return gateway.NewTraced(retrying, logger), nil
}

// BuildLocator picks fixed coordinates when configured, then an IP lookup URL,
// and otherwise no location at all.
func BuildLocator(cfg config.Geo) geo.Locator {
	switch {
	case cfg.Latitude != nil && cfg.Longitude != nil:
		return geo.Static{Latitude: *cfg.Latitude, Longitude: *cfg.Longitude}
	case strings.TrimSpace(cfg.LookupURL) != "":
		return geo.IPLookup{URL: cfg.LookupURL, Client: &http.Client{Timeout: cfg.Timeout}}
	}
	return geo.None{}
}

// BulkOptions converts the bulk settings.
func BulkOptions(cfg config.Bulk) bulk.Options {
	return bulk.Options{
		LogWindow:    cfg.LogWindow,
		Cooldown:     cfg.Cooldown,
		ApproveDelay: cfg.ApproveDelay,
	}
}

// NewServices wires the repository, lifecycle controller, bulk orchestrator and
// search service around gw.
func NewServices(cfg config.Config, gw gateway.Gateway, opts bulk.Options, logger *zap.Logger) *Services {
	if logger == nil {
		logger = zap.NewNop()
	}
	repo := lead.NewMemory()
	sender := dispatch.NewSimulated(cfg.Bulk.SendDelay, logger)
	ctrl := lifecycle.New(repo, gw, sender, logger)
	return &Services{
		Repo:    repo,
		Gateway: gw,
		Leads:   ctrl,
		Bulk:    bulk.New(ctrl, opts, logger),
		Search:  search.New(gw, repo, BuildLocator(cfg.Geo), cfg.Geo.Timeout, logger),
		Sender:  sender,
	}
}

// Campaign describes one CLI run.
type Campaign struct {
	Query   string
	Pitch   string
	Sources []lead.Source
	// OutputPath receives the CSV export. Empty skips the export.
	OutputPath string
	// StopAfter ends the run after the named stage: search, generate, approve
	// or send. Empty runs every stage.
	StopAfter string
}

// CampaignReport summarises a campaign.
type CampaignReport struct {
	Found    int           `json:"found"`
	Stages   []bulk.Report `json:"stages"`
	Counts   lead.Counts   `json:"counts"`
	Exported int           `json:"exported"`
	Duration time.Duration `json:"duration"`
}

var stages = []struct {
	name   string
	action bulk.Action
}{
	{name: "generate", action: bulk.ActionGenerate},
	{name: "approve", action: bulk.ActionApprove},
	{name: "send", action: bulk.ActionSend},
}

// RunCampaign searches for leads, then drafts, approves and sends them in bulk,
// and finally exports every lead to CSV. svc.Bulk must be built without a
// cooldown, otherwise the next stage is rejected as busy.
func RunCampaign(ctx context.Context, svc *Services, c Campaign, logger *zap.Logger) (CampaignReport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	runID := fmt.Sprintf("run-%d", time.Now().UnixNano())
	logger = logger.With(zap.String("run_id", runID))
	runStart := time.Now()

	stopAfter := strings.ToLower(strings.TrimSpace(c.StopAfter))
	if stopAfter != "" && stopAfter != "search" && !knownStage(stopAfter) {
		return CampaignReport{}, fmt.Errorf("unknown stage %q", c.StopAfter)
	}

	var rep CampaignReport
	logger.Info("campaign start",
		zap.String("query", c.Query),
		zap.Bool("pitch", strings.TrimSpace(c.Pitch) != ""),
		zap.Int("sources", len(c.Sources)),
	)

	searchStart := time.Now()
	found, err := svc.Search.Search(ctx, search.Request{Query: c.Query, Pitch: c.Pitch, Sources: c.Sources})
	if err != nil {
		return rep, err
	}
	rep.Found = len(found)
	logger.Info("search complete", zap.Int("found", len(found)), zap.Duration("duration", time.Since(searchStart).Round(time.Millisecond)))

	if stopAfter != "search" {
		for _, st := range stages {
			r, err := svc.Bulk.Run(ctx, st.action)
			if err != nil {
				return rep, fmt.Errorf("%s stage: %w", st.name, err)
			}
			rep.Stages = append(rep.Stages, r)
			logger.Info("stage complete",
				zap.String("stage", st.name),
				zap.Int("eligible", r.Eligible),
				zap.Int("failed", r.Failed),
				zap.Duration("duration", r.Duration.Round(time.Millisecond)),
			)
			if r.Cancelled {
				return rep, ctx.Err()
			}
			if st.name == stopAfter {
				break
			}
		}
	}

	rep.Counts = svc.Repo.Counts()
	if c.OutputPath != "" {
		leads := svc.Repo.List()
		if err := writeExport(c.OutputPath, leads); err != nil {
			return rep, err
		}
		rep.Exported = len(leads)
		logger.Info("export written", zap.String("path", c.OutputPath), zap.Int("rows", len(leads)))
	}

	rep.Duration = time.Since(runStart)
	logger.Info("campaign complete",
		zap.Int("sent", rep.Counts.Sent),
		zap.Int("total", rep.Counts.Total),
		zap.Duration("duration", rep.Duration.Round(time.Millisecond)),
	)
	return rep, nil
}

func knownStage(name string) bool {
	for _, st := range stages {
		if st.name == name {
			return true
		}
	}
	return false
}

func writeExport(path string, leads []lead.Lead) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	if err := export.WriteCSV(f, leads); err != nil {
		return err
	}
	return f.Close()
}
