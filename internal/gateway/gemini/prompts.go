package gemini

import (
	"strings"

	"github.com/shpitdev/autoprospect/internal/gateway"
	"github.com/shpitdev/autoprospect/internal/lead"
)

func buildSearchPrompt(req gateway.SearchRequest) string {
	labels := make([]string, 0, len(req.Sources))
	for _, s := range req.Sources {
		labels = append(labels, s.Label())
	}

	var b strings.Builder
	b.WriteString("Task: find and qualify real B2B prospects.\n\n")
	b.WriteString("Search query: \"" + strings.TrimSpace(req.Query) + "\"\n")
	pitch := strings.TrimSpace(req.Pitch)
	if pitch != "" {
		b.WriteString("Our offer: \"" + pitch + "\"\n")
	}
	b.WriteString("Channels to search: " + strings.Join(labels, ", ") + "\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("1. Only return companies that exist and match the query.\n")
	if pitch != "" {
		b.WriteString("2. Rate how relevant each company is for our offer with a qualificationScore from 0 to 100.\n")
		b.WriteString("3. Explain the score in qualificationReason.\n")
	} else {
		b.WriteString("2. Rate how well each company matches the query with a qualificationScore from 0 to 100.\n")
		b.WriteString("3. Explain the score in qualificationReason.\n")
	}
	b.WriteString("4. Leave a field as an empty string when it cannot be found. Never invent email addresses.\n\n")
	b.WriteString("Return ONLY a JSON array, no prose. Each element:\n")
	b.WriteString(`{"companyName": "...", "contactName": "...", "email": "...", "website": "...", "location": "...", "description": "...", "source": "...", "qualificationScore": 0, "qualificationReason": "..."}`)
	b.WriteString("\n")
	return b.String()
}

func buildDraftPrompt(l lead.Lead, instructions string) string {
	offer := strings.TrimSpace(l.OfferingDetails)
	if offer == "" {
		offer = "Business solutions"
	}

	var b strings.Builder
	b.WriteString("Role: expert B2B sales development representative.\n")
	b.WriteString("Target: " + l.CompanyName)
	if d := strings.TrimSpace(l.Description); d != "" {
		b.WriteString(" (" + d + ")")
	}
	b.WriteString("\n")
	if c := strings.TrimSpace(l.ContactName); c != "" {
		b.WriteString("Contact: " + c + "\n")
	}
	if r := strings.TrimSpace(l.QualificationReason); r != "" {
		b.WriteString("Qualification: " + r + "\n")
	}
	b.WriteString("Offer: " + offer + "\n")
	if inst := strings.TrimSpace(instructions); inst != "" {
		b.WriteString("Instructions: " + inst + "\n")
	}
	b.WriteString("\nWrite two cold email variants: variantA direct and professional, variantB creative.\n")
	b.WriteString("Each variant needs a subject and a body.\n")
	return b.String()
}
