package posting

import (
	"testing"

	"ledgerpost/internal/domain"
)

func TestNormalizeRejectsEmptyLines(t *testing.T) {
	_, errs := Normalize(domain.EntryInput{Date: "2026-01-01", Description: "x"})
	found := false
	for _, e := range errs {
		if e.Kind == domain.EmptyLines {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected EMPTY_LINES for an entry with no lines, got %v", errs)
	}
}

func TestNormalizeConvertsDecimalLinesToCents(t *testing.T) {
	in := domain.EntryInput{
		Date:        "2026-01-01",
		Description: "x",
		Lines: []domain.LineInput{
			{AccountCode: "1000", Dare: "12.34"},
			{AccountCode: "4000", Avere: "12.34"},
		},
	}
	out, errs := Normalize(in)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if out.Lines[0].DareCents != 1234 || out.Lines[1].AvereCents != 1234 {
		t.Fatalf("unexpected normalized cents: %+v", out.Lines)
	}
}

func TestNormalizeRejectsMalformedAmount(t *testing.T) {
	in := domain.EntryInput{
		Date:        "2026-01-01",
		Description: "x",
		Lines: []domain.LineInput{
			{AccountCode: "1000", Dare: "not-a-number"},
		},
	}
	_, errs := Normalize(in)
	found := false
	for _, e := range errs {
		if e.Kind == domain.InvalidInput {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected INVALID_INPUT for a malformed amount, got %v", errs)
	}
}

func TestNormalizePreservesVATRateVerbatim(t *testing.T) {
	in := domain.EntryInput{
		Date:        "2026-01-01",
		Description: "x",
		VATRate:     strPtr("0.22"),
		Lines: []domain.LineInput{
			{AccountCode: "1000", Dare: "1.00"},
			{AccountCode: "4000", Avere: "1.00"},
		},
	}
	out, errs := Normalize(in)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if out.VATRate == nil || *out.VATRate != "0.22" {
		t.Fatalf("expected VAT rate preserved verbatim, got %v", out.VATRate)
	}
}

func strPtr(s string) *string { return &s }
