// Package search turns a user's prospect query into NEW leads.
package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shpitdev/autoprospect/internal/gateway"
	"github.com/shpitdev/autoprospect/internal/geo"
	"github.com/shpitdev/autoprospect/internal/lead"
	"go.uber.org/zap"
)

// ErrInvalidRequest is returned for user input rejected before any remote call.
var ErrInvalidRequest = errors.New("invalid search request")

// UnknownCompany replaces a missing company name.
const UnknownCompany = "Unknown"

// Request is the user's search intent.
type Request struct {
	Query   string        `json:"query"`
	Pitch   string        `json:"pitch"`
	Sources []lead.Source `json:"sources"`
}

// Validate normalises the request and rejects empty queries and source sets.
func (r *Request) Validate() error {
	r.Query = strings.TrimSpace(r.Query)
	r.Pitch = strings.TrimSpace(r.Pitch)
	if r.Query == "" {
		return fmt.Errorf("%w: query is empty", ErrInvalidRequest)
	}
	if len(r.Sources) == 0 {
		return fmt.Errorf("%w: select at least one source", ErrInvalidRequest)
	}
	seen := make(map[lead.Source]struct{}, len(r.Sources))
	out := r.Sources[:0:0]
	for _, s := range r.Sources {
		s = lead.Source(strings.ToLower(strings.TrimSpace(string(s))))
		if !s.Valid() {
			return fmt.Errorf("%w: unknown source %q", ErrInvalidRequest, s)
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	r.Sources = out
	return nil
}

// Service runs searches against the gateway and stores the results.
type Service struct {
	searcher   gateway.Searcher
	repo       lead.Repository
	locator    geo.Locator
	geoTimeout time.Duration
	logger     *zap.Logger

	newID func() string
	now   func() time.Time
}

// New builds a Service. locator may be nil to search without a location hint.
func New(searcher gateway.Searcher, repo lead.Repository, locator geo.Locator, geoTimeout time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		searcher:   searcher,
		repo:       repo,
		locator:    locator,
		geoTimeout: geoTimeout,
		logger:     logger.Named("search"),
		newID:      uuid.NewString,
		now:        time.Now,
	}
}

// Search validates req, queries the gateway and inserts the candidates as NEW leads,
// most recent first. The inserted leads are returned in insertion order.
func (s *Service) Search(ctx context.Context, req Request) ([]lead.Lead, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := gateway.Preflight(s.searcher); err != nil {
		return nil, err
	}

	greq := gateway.SearchRequest{
		Query:    req.Query,
		Pitch:    req.Pitch,
		Sources:  req.Sources,
		Location: geo.BestEffort(ctx, s.locator, s.geoTimeout, s.logger),
	}
	candidates, err := s.searcher.SearchLeads(ctx, greq)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", req.Query, err)
	}

	labels := make([]string, 0, len(req.Sources))
	for _, src := range req.Sources {
		labels = append(labels, src.Label())
	}
	defaultSource := strings.Join(labels, ", ")

	now := s.now()
	leads := make([]lead.Lead, 0, len(candidates))
	for _, c := range candidates {
		leads = append(leads, s.toLead(c, req.Pitch, defaultSource, now))
	}
	s.repo.InsertMany(leads)

	s.logger.Info("search completed",
		zap.String("query", req.Query),
		zap.Int("leads", len(leads)),
		zap.Bool("located", greq.Location != nil),
	)
	return leads, nil
}

func (s *Service) toLead(c gateway.Candidate, pitch, defaultSource string, now time.Time) lead.Lead {
	name := strings.TrimSpace(c.CompanyName)
	if name == "" {
		name = UnknownCompany
	}
	source := strings.TrimSpace(c.Source)
	if source == "" {
		source = defaultSource
	}
	var score *int
	if c.QualificationScore != nil {
		v := int(math.Round(*c.QualificationScore))
		score = &v
	}
	return lead.Lead{
		ID:                  s.newID(),
		CompanyName:         name,
		ContactName:         c.ContactName,
		Email:               c.Email,
		Website:             c.Website,
		Location:            c.Location,
		Description:         c.Description,
		QualificationScore:  score,
		QualificationReason: c.QualificationReason,
		Source:              source,
		Status:              lead.StatusNew,
		SelectedVariant:     lead.VariantA,
		OfferingDetails:     pitch,
		CreatedAt:           now,
	}
}
