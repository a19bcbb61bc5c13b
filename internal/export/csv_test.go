package export_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/shpitdev/autoprospect/internal/export"
	"github.com/shpitdev/autoprospect/internal/lead"
)

func TestWriteCSV_Bytes(t *testing.T) {
	var buf bytes.Buffer
	err := export.WriteCSV(&buf, []lead.Lead{{
		ID:          "1",
		CompanyName: "Acme, Inc.",
		ContactName: `Jane "JD" Doe`,
		Email:       "jane@acme.test",
		Source:      "Google Search",
		Status:      lead.StatusReady,
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "\ufeffid,company,contact,email,website,source,status\n" +
		`1,"Acme, Inc.","Jane ""JD"" Doe",jane@acme.test,,Google Search,READY` + "\n"
	if got := buf.String(); got != want {
		t.Fatalf("unexpected csv:\n got: %q\nwant: %q", got, want)
	}
}

func TestWriteCSV_EmptyHasHeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := buf.String(); got != export.BOM+strings.Join(export.Header(), ",")+"\n" {
		t.Fatalf("unexpected csv: %q", got)
	}
}

func TestRoundTrip(t *testing.T) {
	leads := []lead.Lead{
		{ID: "a1", CompanyName: "Acme Corp", ContactName: "Jane", Email: "jane@acme.test", Website: "https://acme.test", Source: "LinkedIn", Status: lead.StatusNew},
		{ID: "b2", CompanyName: "Globex, Inc", Source: "Google Search, Directories", Status: lead.StatusSent},
		{ID: "c3", CompanyName: "Café Ünïcode", Description: "ignored", Source: "Social Networks", Status: lead.StatusReview},
	}

	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, leads); err != nil {
		t.Fatalf("write: %v", err)
	}
	rows, err := export.ReadCSV(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	want := export.Rows(leads)
	if len(rows) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(rows))
	}
	for i := range want {
		if rows[i] != want[i] {
			t.Fatalf("row[%d]: got %#v want %#v", i, rows[i], want[i])
		}
	}
}

func TestReadCSV_MissingColumn(t *testing.T) {
	_, err := export.ReadCSV(strings.NewReader("id,company\n1,Acme\n"))
	if err == nil || !strings.Contains(err.Error(), "missing required column") {
		t.Fatalf("expected missing column error, got %v", err)
	}
}
