package lead

import (
	"fmt"
	"strings"
	"time"
)

// Variant identifies one of the two drafted email slots.
type Variant string

const (
	VariantA Variant = "A"
	VariantB Variant = "B"
)

// ParseVariant accepts "A"/"B" in any case.
func ParseVariant(s string) (Variant, error) {
	switch Variant(strings.ToUpper(strings.TrimSpace(s))) {
	case VariantA:
		return VariantA, nil
	case VariantB:
		return VariantB, nil
	}
	return "", fmt.Errorf("unknown variant %q", s)
}

// Draft is one email candidate.
type Draft struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Complete reports whether both subject and body are non-empty.
func (d Draft) Complete() bool {
	return strings.TrimSpace(d.Subject) != "" && strings.TrimSpace(d.Body) != ""
}

// Variants holds both drafted candidates. A lead carries either both or none.
type Variants struct {
	A Draft `json:"a"`
	B Draft `json:"b"`
}

// Get returns the draft stored in slot v.
func (v Variants) Get(which Variant) Draft {
	if which == VariantB {
		return v.B
	}
	return v.A
}

// Source is a search channel a lead can be found through.
type Source string

const (
	SourceGoogle      Source = "google"
	SourceLinkedIn    Source = "linkedin"
	SourceDirectories Source = "directories"
	SourceSocial      Source = "social"
)

var sourceLabels = map[Source]string{
	SourceGoogle:      "Google Search",
	SourceLinkedIn:    "LinkedIn",
	SourceDirectories: "Directories",
	SourceSocial:      "Social Networks",
}

// Valid reports whether s is one of the known channels.
func (s Source) Valid() bool {
	_, ok := sourceLabels[s]
	return ok
}

// Label is the human-readable channel name.
func (s Source) Label() string {
	if l, ok := sourceLabels[s]; ok {
		return l
	}
	return string(s)
}

// Lead is one prospect tracked through the outreach pipeline.
type Lead struct {
	ID string `json:"id"`

	CompanyName         string `json:"companyName"`
	ContactName         string `json:"contactName,omitempty"`
	Email               string `json:"email,omitempty"`
	Website             string `json:"website,omitempty"`
	Location            string `json:"location,omitempty"`
	Description         string `json:"description,omitempty"`
	QualificationScore  *int   `json:"qualificationScore,omitempty"`
	QualificationReason string `json:"qualificationReason,omitempty"`

	Source string `json:"source"`
	Status Status `json:"status"`

	Variants        *Variants `json:"variants,omitempty"`
	Final           Draft     `json:"final"`
	SelectedVariant Variant   `json:"selectedVariant"`

	OfferingDetails string `json:"offeringDetails,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	SentAt    *time.Time `json:"sentAt,omitempty"`
}

// Clone returns a deep copy so callers never share pointers with the repository.
func (l Lead) Clone() Lead {
	out := l
	if l.Variants != nil {
		v := *l.Variants
		out.Variants = &v
	}
	if l.QualificationScore != nil {
		s := *l.QualificationScore
		out.QualificationScore = &s
	}
	if l.SentAt != nil {
		t := *l.SentAt
		out.SentAt = &t
	}
	return out
}

// Recipient is the address shown in dispatch logs, falling back to the company name.
func (l Lead) Recipient() string {
	if e := strings.TrimSpace(l.Email); e != "" {
		return e
	}
	return l.CompanyName
}
