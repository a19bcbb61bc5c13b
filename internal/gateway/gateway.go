// Package gateway defines the narrow contract to the generative search/drafting
// service and the decorators shared by every implementation.
package gateway

import (
	"context"

	"github.com/shpitdev/autoprospect/internal/lead"
)

// Location is an optional geolocation hint passed along with a search.
type Location struct {
	Latitude  float64
	Longitude float64
}

// SearchRequest is the input of a prospect search.
type SearchRequest struct {
	Query string
	// Pitch is the user's value proposition. Empty means the search is not
	// qualified against an offer.
	Pitch    string
	Sources  []lead.Source
	Location *Location
}

// Candidate is one prospect returned by a search. CompanyName is required.
type Candidate struct {
	CompanyName         string   `json:"companyName"`
	ContactName         string   `json:"contactName,omitempty"`
	Email               string   `json:"email,omitempty"`
	Website             string   `json:"website,omitempty"`
	Location            string   `json:"location,omitempty"`
	Description         string   `json:"description,omitempty"`
	Source              string   `json:"source,omitempty"`
	QualificationScore  *float64 `json:"qualificationScore,omitempty"`
	QualificationReason string   `json:"qualificationReason,omitempty"`
}

// Drafts is the drafting response: exactly two complete variants.
type Drafts struct {
	VariantA lead.Draft `json:"variantA"`
	VariantB lead.Draft `json:"variantB"`
}

// Validate enforces that both variants carry a subject and a body.
func (d Drafts) Validate() error {
	if !d.VariantA.Complete() {
		return &FormatError{Op: "draft", Reason: "variantA is missing subject or body"}
	}
	if !d.VariantB.Complete() {
		return &FormatError{Op: "draft", Reason: "variantB is missing subject or body"}
	}
	return nil
}

// Searcher finds prospect candidates.
type Searcher interface {
	SearchLeads(ctx context.Context, req SearchRequest) ([]Candidate, error)
}

// Drafter drafts A/B outreach emails for a lead. Instructions may be empty.
type Drafter interface {
	DraftEmails(ctx context.Context, l lead.Lead, instructions string) (Drafts, error)
}

// Gateway is the full remote collaborator.
type Gateway interface {
	Searcher
	Drafter
}

// Preflighter is implemented by gateways that can report a configuration problem
// (such as a missing credential) without making a remote call.
type Preflighter interface {
	Preflight() error
}

// Preflight returns the gateway's configuration error, if it can report one.
func Preflight(v any) error {
	if p, ok := v.(Preflighter); ok {
		return p.Preflight()
	}
	return nil
}

// Unconfigured is a Gateway that fails every call with ErrMissingCredentials.
// It lets the service start without credentials and surface the problem per action.
type Unconfigured struct{}

func (Unconfigured) Preflight() error { return ErrMissingCredentials }

func (Unconfigured) SearchLeads(context.Context, SearchRequest) ([]Candidate, error) {
	return nil, ErrMissingCredentials
}

func (Unconfigured) DraftEmails(context.Context, lead.Lead, string) (Drafts, error) {
	return Drafts{}, ErrMissingCredentials
}
