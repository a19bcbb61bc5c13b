package app_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/shpitdev/autoprospect/internal/app"
	"github.com/shpitdev/autoprospect/internal/bulk"
	"github.com/shpitdev/autoprospect/internal/config"
	"github.com/shpitdev/autoprospect/internal/export"
	"github.com/shpitdev/autoprospect/internal/gateway"
	"github.com/shpitdev/autoprospect/internal/geo"
	"github.com/shpitdev/autoprospect/internal/lead"
	"github.com/shpitdev/autoprospect/internal/mockgemini"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Bulk.SendDelay = 0
	cfg.Bulk.ApproveDelay = 0
	cfg.Bulk.Cooldown = 0
	return cfg
}

func newServices(t *testing.T, cfg config.Config, gw gateway.Gateway) *app.Services {
	t.Helper()
	svc := app.NewServices(cfg, gw, app.BulkOptions(cfg.Bulk), nil)
	t.Cleanup(svc.Close)
	return svc
}

func TestRunCampaign_Stub(t *testing.T) {
	cfg := testConfig()
	svc := newServices(t, cfg, gateway.Stub{Results: 3})
	out := filepath.Join(t.TempDir(), "export.csv")

	rep, err := app.RunCampaign(context.Background(), svc, app.Campaign{
		Query:      "Bakeries Paris",
		Pitch:      "Inventory software",
		Sources:    []lead.Source{lead.SourceGoogle},
		OutputPath: out,
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Found != 3 || rep.Exported != 3 {
		t.Fatalf("unexpected report: %#v", rep)
	}
	if rep.Counts != (lead.Counts{Total: 3, Sent: 3}) {
		t.Fatalf("unexpected counts: %#v", rep.Counts)
	}
	if len(rep.Stages) != 3 {
		t.Fatalf("expected 3 stages, got %#v", rep.Stages)
	}
	for _, st := range rep.Stages {
		if st.Eligible != 3 || st.Failed != 0 {
			t.Fatalf("unexpected stage report: %#v", st)
		}
	}
	if n := len(svc.Sender.Sent()); n != 3 {
		t.Fatalf("expected 3 dispatched messages, got %d", n)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer f.Close()
	rows, err := export.ReadCSV(f)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	for _, r := range rows {
		if r.Status != string(lead.StatusSent) || r.Source != "Google Search" {
			t.Fatalf("unexpected row: %#v", r)
		}
	}
}

func TestRunCampaign_StopAfterGenerate(t *testing.T) {
	svc := newServices(t, testConfig(), gateway.Stub{Results: 2})

	rep, err := app.RunCampaign(context.Background(), svc, app.Campaign{
		Query:     "Dentists Lyon",
		Sources:   []lead.Source{lead.SourceDirectories},
		StopAfter: "generate",
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rep.Stages) != 1 || rep.Stages[0].Action != bulk.ActionGenerate {
		t.Fatalf("unexpected stages: %#v", rep.Stages)
	}
	if rep.Counts != (lead.Counts{Total: 2, Review: 2}) {
		t.Fatalf("unexpected counts: %#v", rep.Counts)
	}
	if rep.Exported != 0 {
		t.Fatalf("no output path should mean no export, got %d", rep.Exported)
	}
}

func TestRunCampaign_Errors(t *testing.T) {
	tests := []struct {
		name     string
		gw       gateway.Gateway
		campaign app.Campaign
		wantIs   error
	}{
		{
			name:     "invalid_stage",
			gw:       gateway.Stub{},
			campaign: app.Campaign{Query: "x", Sources: []lead.Source{lead.SourceGoogle}, StopAfter: "publish"},
		},
		{
			name:     "empty_query",
			gw:       gateway.Stub{},
			campaign: app.Campaign{Sources: []lead.Source{lead.SourceGoogle}},
		},
		{
			name:     "missing_credentials",
			gw:       gateway.Unconfigured{},
			campaign: app.Campaign{Query: "x", Sources: []lead.Source{lead.SourceGoogle}},
			wantIs:   gateway.ErrMissingCredentials,
		},
		{
			name:     "gateway_unavailable",
			gw:       gateway.Stub{},
			campaign: app.Campaign{Query: "error", Sources: []lead.Source{lead.SourceGoogle}},
			wantIs:   gateway.ErrUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newServices(t, testConfig(), tt.gw)
			_, err := app.RunCampaign(context.Background(), svc, tt.campaign, nil)
			if err == nil {
				t.Fatalf("expected error")
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Fatalf("expected %v, got %v", tt.wantIs, err)
			}
			if n := svc.Repo.Counts().Total; n != 0 {
				t.Fatalf("failed campaign must not insert leads, got %d", n)
			}
		})
	}
}

func TestBuildGateway_MissingKey(t *testing.T) {
	cfg := testConfig()
	cfg.Gemini.APIKey = ""

	gw, err := app.BuildGateway(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := gateway.Preflight(gw); !errors.Is(err, gateway.ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials from preflight, got %v", err)
	}
}

func TestBuildGateway_InvalidSearchMode(t *testing.T) {
	cfg := testConfig()
	cfg.Gemini.SearchMode = "bing"
	if _, err := app.BuildGateway(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected error for unknown search mode")
	}
}

func TestRunCampaign_MockGemini(t *testing.T) {
	mock := mockgemini.New()
	mock.RequireAPIKey("test-key")
	srv := httptest.NewServer(mock.Handler())
	defer srv.Close()

	cfg := testConfig()
	cfg.Gemini.APIKey = "test-key"
	cfg.Gemini.BaseURL = srv.URL
	cfg.Retry.MaxRetries = 0

	gw, err := app.BuildGateway(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("build gateway: %v", err)
	}
	svc := newServices(t, cfg, gw)

	rep, err := app.RunCampaign(context.Background(), svc, app.Campaign{
		Query:   "Law firms Lyon",
		Sources: []lead.Source{lead.SourceGoogle, lead.SourceLinkedIn},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Counts != (lead.Counts{Total: 2, Sent: 2}) {
		t.Fatalf("unexpected counts: %#v", rep.Counts)
	}
	// one search plus one draft per lead
	if n := len(mock.Calls()); n != 3 {
		t.Fatalf("expected 3 gateway calls, got %d", n)
	}
}

func TestBuildLocator(t *testing.T) {
	lat, lon := 45.76, 4.83
	tests := []struct {
		name string
		cfg  config.Geo
		want any
	}{
		{name: "none", cfg: config.Geo{}, want: geo.None{}},
		{name: "static", cfg: config.Geo{Latitude: &lat, Longitude: &lon}, want: geo.Static{Latitude: lat, Longitude: lon}},
		{name: "lookup", cfg: config.Geo{LookupURL: "http://127.0.0.1/json"}, want: geo.IPLookup{}},
		{name: "static_wins", cfg: config.Geo{Latitude: &lat, Longitude: &lon, LookupURL: "http://127.0.0.1/json"}, want: geo.Static{Latitude: lat, Longitude: lon}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := app.BuildLocator(tt.cfg)
			switch want := tt.want.(type) {
			case geo.IPLookup:
				l, ok := got.(geo.IPLookup)
				if !ok || l.URL != tt.cfg.LookupURL {
					t.Fatalf("unexpected locator: %#v", got)
				}
			default:
				if got != want {
					t.Fatalf("got %#v want %#v", got, want)
				}
			}
		})
	}
}
