// Package gemini implements the AI gateway on top of the Gemini API with Google
// Search (and optionally Google Maps) grounding.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/shpitdev/autoprospect/internal/gateway"
	"github.com/shpitdev/autoprospect/internal/lead"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/genai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-3-flash-preview"

// SearchMode selects which grounding tools a search uses.
type SearchMode string

const (
	// SearchModeWeb grounds searches with Google Search only.
	SearchModeWeb SearchMode = "search"
	// SearchModeWebMaps adds Google Maps grounding and forwards the location hint.
	SearchModeWebMaps SearchMode = "search+maps"
)

// ParseSearchMode accepts "search" or "search+maps"; empty means SearchModeWeb.
func ParseSearchMode(s string) (SearchMode, error) {
	switch SearchMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", SearchModeWeb:
		return SearchModeWeb, nil
	case SearchModeWebMaps, "maps":
		return SearchModeWebMaps, nil
	}
	return "", fmt.Errorf("unknown search mode %q (want %q or %q)", s, SearchModeWeb, SearchModeWebMaps)
}

type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string

	SearchMode SearchMode

	// CaptureAudit logs grounding sources and web search queries at info
	// level instead of debug.
	CaptureAudit bool

	// Logger is optional.
	Logger *zap.Logger
}

// Gateway talks to Gemini.
type Gateway struct {
	client *genai.Client
	model  string
	mode   SearchMode
	audit  zapcore.Level
	logger *zap.Logger
}

// New builds a Gemini gateway. A missing API key yields gateway.ErrMissingCredentials.
func New(ctx context.Context, cfg Config) (*Gateway, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, gateway.ErrMissingCredentials
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	mode := cfg.SearchMode
	if mode == "" {
		mode = SearchModeWeb
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	audit := zapcore.DebugLevel
	if cfg.CaptureAudit {
		audit = zapcore.InfoLevel
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Gateway{
		client: client,
		model:  model,
		mode:   mode,
		audit:  audit,
		logger: logger.Named("gemini"),
	}, nil
}

// Model returns the configured model name.
func (g *Gateway) Model() string { return g.model }

func (g *Gateway) Preflight() error { return nil }

var draftSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"variantA": variantSchema(),
		"variantB": variantSchema(),
	},
	Required: []string{"variantA", "variantB"},
}

func variantSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"subject": {Type: genai.TypeString},
			"body":    {Type: genai.TypeString},
		},
		Required: []string{"subject", "body"},
	}
}

func (g *Gateway) SearchLeads(ctx context.Context, req gateway.SearchRequest) ([]gateway.Candidate, error) {
	tools := []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	var toolConfig *genai.ToolConfig
	if g.mode == SearchModeWebMaps {
		tools = append(tools, &genai.Tool{GoogleMaps: &genai.GoogleMaps{}})
		if req.Location != nil {
			lat, lng := req.Location.Latitude, req.Location.Longitude
			toolConfig = &genai.ToolConfig{
				RetrievalConfig: &genai.RetrievalConfig{
					LatLng: &genai.LatLng{Latitude: &lat, Longitude: &lng},
				},
			}
		}
	}

	resp, err := g.client.Models.GenerateContent(
		ctx,
		g.model,
		genai.Text(buildSearchPrompt(req)),
		&genai.GenerateContentConfig{
			Tools:            tools,
			ToolConfig:       toolConfig,
			CandidateCount:   1,
			ResponseMIMEType: "application/json",
		},
	)
	if err != nil {
		return nil, classifyErr(err)
	}

	if ce := g.logger.Check(g.audit, "search grounding"); ce != nil {
		ce.Write(
			zap.String("query", req.Query),
			zap.Strings("sources", extractSources(resp)),
			zap.Strings("web_search_queries", extractWebSearchQueries(resp)),
		)
	}

	return gateway.ParseCandidates(resp.Text())
}

func (g *Gateway) DraftEmails(ctx context.Context, l lead.Lead, instructions string) (gateway.Drafts, error) {
	resp, err := g.client.Models.GenerateContent(
		ctx,
		g.model,
		genai.Text(buildDraftPrompt(l, instructions)),
		&genai.GenerateContentConfig{
			CandidateCount:   1,
			ResponseMIMEType: "application/json",
			ResponseSchema:   draftSchema,
		},
	)
	if err != nil {
		return gateway.Drafts{}, classifyErr(err)
	}
	return gateway.ParseDrafts(resp.Text())
}

// classifyErr maps transport failures onto the gateway taxonomy. Rate limits, 5xx and
// network timeouts are wrapped as transient so the retry decorator backs off.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return &gateway.TransientError{Err: fmt.Errorf("%w: %w", gateway.ErrRateLimited, err)}
		case apiErr.Code == 401 || apiErr.Code == 403:
			return fmt.Errorf("%w: %w", gateway.ErrAccessDenied, err)
		case apiErr.Code/100 == 5:
			return &gateway.TransientError{Err: fmt.Errorf("%w: %w", gateway.ErrUnavailable, err)}
		}
		return fmt.Errorf("%w: %w", gateway.ErrUnavailable, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &gateway.TransientError{Err: fmt.Errorf("%w: %w", gateway.ErrUnavailable, err)}
	}
	return fmt.Errorf("%w: %w", gateway.ErrUnavailable, err)
}

func extractSources(resp *genai.GenerateContentResponse) []string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil
	}
	c := resp.Candidates[0]
	if c.GroundingMetadata == nil {
		return nil
	}

	var out []string
	for _, chunk := range c.GroundingMetadata.GroundingChunks {
		if chunk == nil {
			continue
		}
		if chunk.Web != nil && strings.TrimSpace(chunk.Web.URI) != "" {
			out = append(out, strings.TrimSpace(chunk.Web.URI))
		}
		if chunk.Maps != nil && strings.TrimSpace(chunk.Maps.URI) != "" {
			out = append(out, strings.TrimSpace(chunk.Maps.URI))
		}
	}
	return dedupePreserveOrder(out)
}

func extractWebSearchQueries(resp *genai.GenerateContentResponse) []string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil
	}
	c := resp.Candidates[0]
	if c.GroundingMetadata == nil {
		return nil
	}
	return dedupePreserveOrder(c.GroundingMetadata.WebSearchQueries)
}

func dedupePreserveOrder(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
