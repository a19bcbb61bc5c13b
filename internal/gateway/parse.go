package gateway

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/shpitdev/autoprospect/internal/lead"
)

// arrayRe grabs the outermost [...] block when the model wraps JSON in prose or fences.
var arrayRe = regexp.MustCompile(`\[[\s\S]*\]`)

// ParseCandidates decodes a search answer. It tries the whole text first, then the
// first-to-last bracket span. Anything else is a *FormatError; nothing is dropped silently.
func ParseCandidates(text string) ([]Candidate, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &FormatError{Op: "search", Reason: "empty response"}
	}

	var raw []*Candidate
	err := json.Unmarshal([]byte(text), &raw)
	if err != nil {
		m := arrayRe.FindString(text)
		if m == "" {
			return nil, &FormatError{Op: "search", Reason: "no JSON array found", Err: err}
		}
		if err := json.Unmarshal([]byte(m), &raw); err != nil {
			return nil, &FormatError{Op: "search", Reason: "extracted block is not a JSON array of objects", Err: err}
		}
	}
	if raw == nil {
		return nil, &FormatError{Op: "search", Reason: "null instead of an array"}
	}

	out := make([]Candidate, 0, len(raw))
	for i, c := range raw {
		if c == nil {
			return nil, &FormatError{Op: "search", Reason: fmt.Sprintf("candidate %d is null", i)}
		}
		out = append(out, normalizeCandidate(*c))
	}
	return out, nil
}

// ParseDrafts decodes and validates a drafting answer.
func ParseDrafts(text string) (Drafts, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Drafts{}, &FormatError{Op: "draft", Reason: "empty response"}
	}
	var d Drafts
	if err := json.Unmarshal([]byte(text), &d); err != nil {
		return Drafts{}, &FormatError{Op: "draft", Reason: "not a JSON object", Err: err}
	}
	d.VariantA = trimDraft(d.VariantA)
	d.VariantB = trimDraft(d.VariantB)
	if err := d.Validate(); err != nil {
		return Drafts{}, err
	}
	return d, nil
}

func normalizeCandidate(c Candidate) Candidate {
	c.CompanyName = strings.TrimSpace(c.CompanyName)
	c.ContactName = strings.TrimSpace(c.ContactName)
	c.Email = strings.TrimSpace(c.Email)
	c.Website = strings.TrimSpace(c.Website)
	c.Location = strings.TrimSpace(c.Location)
	c.Description = strings.TrimSpace(c.Description)
	c.Source = strings.TrimSpace(c.Source)
	c.QualificationReason = strings.TrimSpace(c.QualificationReason)
	if c.QualificationScore != nil {
		s := *c.QualificationScore
		if s < 0 {
			s = 0
		}
		if s > 100 {
			s = 100
		}
		c.QualificationScore = &s
	}
	return c
}

func trimDraft(d lead.Draft) lead.Draft {
	d.Subject = strings.TrimSpace(d.Subject)
	d.Body = strings.TrimSpace(d.Body)
	return d
}
