// Package export renders the lead list as a spreadsheet-friendly CSV.
package export

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/shpitdev/autoprospect/internal/lead"
)

// BOM is written first so spreadsheet tools detect UTF-8.
const BOM = "\ufeff"

// Row is the stable export schema contract.
type Row struct {
	ID      string
	Company string
	Contact string
	Email   string
	Website string
	Source  string
	Status  string
}

// Header returns the stable CSV header for Row.
func Header() []string {
	return []string{
		"id",
		"company",
		"contact",
		"email",
		"website",
		"source",
		"status",
	}
}

// Rows projects leads onto the export schema, keeping their order.
func Rows(leads []lead.Lead) []Row {
	out := make([]Row, 0, len(leads))
	for _, l := range leads {
		out = append(out, Row{
			ID:      l.ID,
			Company: l.CompanyName,
			Contact: l.ContactName,
			Email:   l.Email,
			Website: l.Website,
			Source:  l.Source,
			Status:  string(l.Status),
		})
	}
	return out
}

// WriteCSV writes a BOM, the Header() line and one line per lead, "\n" terminated.
func WriteCSV(w io.Writer, leads []lead.Lead) error {
	if _, err := io.WriteString(w, BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(Header()); err != nil {
		return err
	}
	for _, r := range Rows(leads) {
		if err := cw.Write([]string{
			r.ID,
			r.Company,
			r.Contact,
			r.Email,
			r.Website,
			r.Source,
			r.Status,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV reads rows written by WriteCSV. A leading BOM is skipped and extra
// columns are ignored. Required columns from Header() must exist.
func ReadCSV(r io.Reader) ([]Row, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(BOM)); err == nil && bytes.Equal(head, []byte(BOM)) {
		_, _ = br.Discard(len(BOM))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, err
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}
	for _, name := range Header() {
		if _, ok := index[name]; !ok {
			return nil, fmt.Errorf("missing required column %q", name)
		}
	}

	var rows []Row
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}

		get := func(col string) string {
			i := index[col]
			if i < 0 || i >= len(rec) {
				return ""
			}
			return rec[i]
		}

		rows = append(rows, Row{
			ID:      get("id"),
			Company: get("company"),
			Contact: get("contact"),
			Email:   get("email"),
			Website: get("website"),
			Source:  get("source"),
			Status:  get("status"),
		})
	}
}
