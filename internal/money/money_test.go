package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestToCents(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"0", 0},
		{"1", 100},
		{"1.00", 100},
		{"1.005", 101}, // half-up, not banker's rounding
		{"1.004", 100},
		{"-1.50", -150},
		{"100.00", 10000},
		{"0.01", 1},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ToCents(tc.in)
			if err != nil {
				t.Fatalf("ToCents(%q): %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("ToCents(%q) = %d, want %d", tc.in, got, tc.want)
			}
		})
	}
}

func TestToCentsInvalid(t *testing.T) {
	if _, err := ToCents("not-a-number"); err == nil {
		t.Fatal("expected an error for a malformed decimal literal")
	}
}

func TestToCentsPtrDistinguishesAbsentFromZero(t *testing.T) {
	got, err := ToCentsPtr(nil)
	if err != nil || got != nil {
		t.Fatalf("nil input should yield nil, nil; got %v, %v", got, err)
	}
	empty := ""
	got, err = ToCentsPtr(&empty)
	if err != nil || got != nil {
		t.Fatalf("empty input should yield nil, nil; got %v, %v", got, err)
	}
	zero := "0"
	got, err = ToCentsPtr(&zero)
	if err != nil || got == nil || *got != 0 {
		t.Fatalf("explicit zero should yield a non-nil 0; got %v, %v", got, err)
	}
}

func TestFormatCentsRoundTrip(t *testing.T) {
	cases := map[int64]string{
		0:     "0.00",
		1:     "0.01",
		100:   "1.00",
		-150:  "-1.50",
		10000: "100.00",
	}
	for cents, want := range cases {
		if got := FormatCents(cents); got != want {
			t.Fatalf("FormatCents(%d) = %s, want %s", cents, got, want)
		}
	}
}

func TestQ2(t *testing.T) {
	d := decimal.RequireFromString("1.005")
	got := Q2(d)
	if got.String() != "1.01" {
		t.Fatalf("Q2(1.005) = %s, want 1.01", got.String())
	}
}
