package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/shpitdev/autoprospect/internal/lead"
)

// Stub is a deterministic offline Gateway. Queries or company names containing
// "error" fail with a transient ErrUnavailable so failure paths can be exercised.
type Stub struct {
	// Results is the number of candidates returned per search (default 3).
	Results int
}

func (s Stub) SearchLeads(ctx context.Context, req SearchRequest) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := strings.TrimSpace(req.Query)
	if strings.Contains(strings.ToLower(q), "error") {
		return nil, &TransientError{Err: fmt.Errorf("%w: forced error for %q", ErrUnavailable, q)}
	}
	n := s.Results
	if n <= 0 {
		n = 3
	}
	out := make([]Candidate, 0, n)
	for i := 1; i <= n; i++ {
		score := float64(100 - i*10)
		slug := slugify(q)
		out = append(out, Candidate{
			CompanyName:         fmt.Sprintf("%s Prospect %d", q, i),
			ContactName:         fmt.Sprintf("Contact %d", i),
			Email:               fmt.Sprintf("contact%d@%s.example", i, slug),
			Website:             fmt.Sprintf("https://%s-%d.example", slug, i),
			Description:         "Stub prospect for " + q,
			QualificationScore:  &score,
			QualificationReason: "matches query",
		})
	}
	return out, nil
}

func (s Stub) DraftEmails(ctx context.Context, l lead.Lead, instructions string) (Drafts, error) {
	if err := ctx.Err(); err != nil {
		return Drafts{}, err
	}
	if strings.Contains(strings.ToLower(l.CompanyName), "error") {
		return Drafts{}, &TransientError{Err: fmt.Errorf("%w: forced error for %q", ErrUnavailable, l.CompanyName)}
	}
	who := l.ContactName
	if who == "" {
		who = "there"
	}
	note := ""
	if strings.TrimSpace(instructions) != "" {
		note = "\n\n(" + strings.TrimSpace(instructions) + ")"
	}
	return Drafts{
		VariantA: lead.Draft{
			Subject: "Quick question for " + l.CompanyName,
			Body:    fmt.Sprintf("Hello %s,\n\nI would like to show %s how we can help.%s", who, l.CompanyName, note),
		},
		VariantB: lead.Draft{
			Subject: "An idea for " + l.CompanyName,
			Body:    fmt.Sprintf("Hi %s,\n\nHere is a different take on what we could do for %s.%s", who, l.CompanyName, note),
		},
	}, nil
}

func slugify(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-':
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "prospect"
	}
	return b.String()
}
