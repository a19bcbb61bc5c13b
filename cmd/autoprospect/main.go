package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shpitdev/autoprospect/internal/app"
	"github.com/shpitdev/autoprospect/internal/config"
	"github.com/shpitdev/autoprospect/internal/lead"
	"github.com/shpitdev/autoprospect/internal/logging"
	"github.com/shpitdev/autoprospect/internal/server"
	"github.com/shpitdev/autoprospect/internal/util"
	"github.com/shpitdev/autoprospect/internal/version"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	case "version":
		_, _ = fmt.Fprintln(os.Stdout, version.Current)
		return
	case "run":
		code := runCampaign(ctx, os.Args[2:])
		stop()
		os.Exit(code)
	case "serve":
		code := runServe(ctx, os.Args[2:])
		stop()
		os.Exit(code)
	default:
		_, _ = fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}
}

// gatewayFlags are shared by run and serve and override the loaded config.
type gatewayFlags struct {
	model          string
	baseURL        string
	searchMode     string
	captureAudit   bool
	maxRetries     int
	requestTimeout time.Duration
	rateLimitRPS   float64
	logLevel       string
}

func (g *gatewayFlags) register(fs *flag.FlagSet, cfg config.Config) {
	fs.StringVar(&g.model, "gemini-model", cfg.Gemini.Model, "Gemini model name (env: GEMINI_MODEL)")
	fs.StringVar(&g.baseURL, "gemini-base-url", cfg.Gemini.BaseURL, "Gemini API base URL override (env: GEMINI_BASE_URL)")
	fs.StringVar(&g.searchMode, "search-mode", cfg.Gemini.SearchMode, "Grounding tools: search or search+maps (env: GEMINI_SEARCH_MODE)")
	fs.BoolVar(&g.captureAudit, "capture-audit", cfg.Gemini.CaptureAudit, "Log grounding sources/queries at info level (env: GEMINI_CAPTURE_AUDIT)")
	fs.IntVar(&g.maxRetries, "max-retries", cfg.Retry.MaxRetries, "Max retries per gateway call for transient failures (env: MAX_RETRIES)")
	fs.DurationVar(&g.requestTimeout, "request-timeout", cfg.Retry.RequestTimeout, "Per-attempt gateway timeout (env: REQUEST_TIMEOUT)")
	fs.Float64Var(&g.rateLimitRPS, "rate-limit-rps", cfg.Retry.RateLimitRPS, "Global gateway rate limit (RPS), 0 disables (env: RATE_LIMIT_RPS)")
	fs.StringVar(&g.logLevel, "log-level", cfg.Log.Level, "debug, info, warn or error (env: LOG_LEVEL)")
}

func (g *gatewayFlags) apply(cfg *config.Config) {
	cfg.Gemini.Model = g.model
	cfg.Gemini.BaseURL = g.baseURL
	cfg.Gemini.SearchMode = g.searchMode
	cfg.Gemini.CaptureAudit = g.captureAudit
	cfg.Retry.MaxRetries = g.maxRetries
	cfg.Retry.RequestTimeout = g.requestTimeout
	cfg.Retry.RateLimitRPS = g.rateLimitRPS
	cfg.Log.Level = g.logLevel
}

// loadConfig reads -config before the remaining flags so file values become flag defaults.
func loadConfig(args []string) (config.Config, error) {
	pre := flag.NewFlagSet("config", flag.ContinueOnError)
	pre.SetOutput(nopWriter{})
	path := pre.String("config", os.Getenv("AUTOPROSPECT_CONFIG"), "")
	_ = pre.Parse(filterConfigFlag(args))
	return config.Load(*path)
}

func runCampaign(ctx context.Context, args []string) int {
	cfg, err := loadConfig(args)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", util.RedactSecrets(err.Error()))
		return 2
	}

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var configPath string
	var query string
	var pitch string
	var sources string
	var outputPath string
	var stopAfter string
	var gf gatewayFlags

	fs.StringVar(&configPath, "config", "", "Optional YAML config file (env: AUTOPROSPECT_CONFIG)")
	fs.StringVar(&query, "query", "", "Prospect search query, e.g. \"Law firms in Lyon\"")
	fs.StringVar(&pitch, "pitch", "", "What you sell; qualifies leads and feeds the drafts")
	fs.StringVar(&sources, "sources", string(lead.SourceGoogle), "Comma-separated channels: google, linkedin, directories, social")
	fs.StringVar(&outputPath, "output", "", "CSV export path (skipped when empty)")
	fs.StringVar(&stopAfter, "stop-after", "", "Stop after a stage: search, generate, approve or send")
	gf.register(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(query) == "" {
		_, _ = fmt.Fprintln(os.Stderr, "run requires --query")
		return 2
	}
	gf.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", util.RedactSecrets(err.Error()))
		return 2
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 2
	}
	defer func() {
		_ = logger.Sync()
	}()

	gw, err := app.BuildGateway(ctx, cfg, logger)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "gemini config error: %s\n", util.RedactSecrets(err.Error()))
		return 2
	}

	// Stages run back to back, so the dashboard cooldown does not apply.
	opts := app.BulkOptions(cfg.Bulk)
	opts.Cooldown = 0
	svc := app.NewServices(cfg, gw, opts, logger)
	defer svc.Close()

	rep, err := app.RunCampaign(ctx, svc, app.Campaign{
		Query:      query,
		Pitch:      pitch,
		Sources:    parseSources(sources),
		OutputPath: outputPath,
		StopAfter:  stopAfter,
	}, logger)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "run failed: %s\n", util.RedactSecrets(err.Error()))
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(rep)
	return 0
}

func runServe(ctx context.Context, args []string) int {
	cfg, err := loadConfig(args)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", util.RedactSecrets(err.Error()))
		return 2
	}

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var configPath string
	var addr string
	var gf gatewayFlags
	fs.StringVar(&configPath, "config", "", "Optional YAML config file (env: AUTOPROSPECT_CONFIG)")
	fs.StringVar(&addr, "addr", cfg.HTTP.Addr, "Listen address (env: HTTP_ADDR)")
	gf.register(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	gf.apply(&cfg)
	cfg.HTTP.Addr = addr
	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", util.RedactSecrets(err.Error()))
		return 2
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 2
	}
	defer func() {
		_ = logger.Sync()
	}()

	gw, err := app.BuildGateway(ctx, cfg, logger)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "gemini config error: %s\n", util.RedactSecrets(err.Error()))
		return 2
	}
	svc := app.NewServices(cfg, gw, app.BulkOptions(cfg.Bulk), logger)
	defer svc.Close()

	api := server.New(server.Deps{
		Repo:        svc.Repo,
		Leads:       svc.Leads,
		Bulk:        svc.Bulk,
		Search:      svc.Search,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Logger:      logger,
	})
	logger.Info("autoprospect starting", zap.String("version", version.Current), zap.String("addr", cfg.HTTP.Addr))
	if err := api.ListenAndServe(ctx, cfg.HTTP.Addr); err != nil {
		logger.Error("server stopped", zap.Error(err))
		return 1
	}
	logger.Info("autoprospect stopped")
	return 0
}

func parseSources(s string) []lead.Source {
	var out []lead.Source
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, lead.Source(p))
		}
	}
	return out
}

// filterConfigFlag keeps only -config/--config so the pre-pass ignores every other flag.
func filterConfigFlag(args []string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		name := strings.TrimLeft(a, "-")
		switch {
		case a == name:
			continue
		case name == "config" && i+1 < len(args):
			out = append(out, a, args[i+1])
			i++
		case strings.HasPrefix(name, "config="):
			out = append(out, a)
		}
	}
	return out
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func usage(w *os.File) {
	_, _ = fmt.Fprintf(w, `autoprospect: AI-assisted lead search and outreach pipeline

Usage:
  autoprospect <command> [flags]

Commands:
  run      Search, draft, approve and send in one pass, then export CSV
  serve    Serve the JSON HTTP API for the dashboard
  version  Print the version

Examples:
  autoprospect run --query "Law firms in Lyon" --pitch "Document automation" --sources google,linkedin --output leads.csv
  autoprospect serve --addr :8080

Environment:
  GEMINI_API_KEY        Gemini API key (fallback: API_KEY)
  GEMINI_MODEL          Gemini model name (default: %s)
  GEMINI_BASE_URL       Optional base URL override (proxies/testing, see mock-gemini)
  GEMINI_SEARCH_MODE    search or search+maps
  GEMINI_CAPTURE_AUDIT  If set to true/1, log grounding sources/queries at info level
  AUTOPROSPECT_CONFIG   Optional YAML config file
  HTTP_ADDR             Listen address for serve
  LOG_LEVEL             debug, info, warn or error

`, config.Default().Gemini.Model)
}
