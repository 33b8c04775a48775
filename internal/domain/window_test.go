package domain

import (
	"errors"
	"testing"
	"time"
)

func TestParseDateRange(t *testing.T) {
	r, err := ParseDateRange("2024-01-01", "2024-01-03")
	if err != nil {
		t.Fatalf("ParseDateRange: %v", err)
	}
	if r.Days() != 3 {
		t.Errorf("expected 3 days, got %d", r.Days())
	}
	if r.String() != "[2024-01-01, 2024-01-03]" {
		t.Errorf("unexpected string form %s", r.String())
	}
}

func TestParseDateRange_Inverted(t *testing.T) {
	_, err := ParseDateRange("2024-01-05", "2024-01-03")
	if !errors.Is(err, ErrInvertedRange) {
		t.Fatalf("expected ErrInvertedRange, got %v", err)
	}
}

func TestParseDateRange_BadFormat(t *testing.T) {
	if _, err := ParseDateRange("01/02/2024", "2024-01-03"); err == nil {
		t.Fatal("expected error for non ISO date")
	}
}

func TestDateRange_Contains(t *testing.T) {
	r, err := ParseDateRange("2024-01-01", "2024-01-03")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		date string
		want bool
	}{
		{"2023-12-31", false},
		{"2024-01-01", true},
		{"2024-01-02", true},
		{"2024-01-03", true},
		{"2024-01-05", false},
	}
	for _, tt := range tests {
		d, _ := ParseDate(tt.date)
		if got := r.Contains(d); got != tt.want {
			t.Errorf("Contains(%s) = %v, want %v", tt.date, got, tt.want)
		}
	}

	// Intra-day times still fall on their calendar date.
	late := time.Date(2024, 1, 3, 23, 59, 0, 0, time.UTC)
	if !r.Contains(late) {
		t.Error("expected end date with time component to be contained")
	}
}

func TestDateRange_ContainsUnnormalizedBounds(t *testing.T) {
	r := DateRange{
		Start: time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC),
	}
	if !r.Contains(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Error("expected start date to be contained when Start has a time of day")
	}
	if !r.Contains(time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)) {
		t.Error("expected end date to be contained past End's time of day")
	}
	if r.Contains(time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)) {
		t.Error("expected the day after End to be excluded")
	}
	if r.Days() != 2 {
		t.Errorf("expected 2 days, got %d", r.Days())
	}
}

func TestPriceRecord_Key(t *testing.T) {
	a := PriceRecord{Symbol: "AAPL", TradeDate: time.Date(2024, 1, 2, 16, 0, 0, 0, time.UTC)}
	b := PriceRecord{Symbol: "AAPL", TradeDate: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}
	if a.Key() != b.Key() {
		t.Errorf("expected equal keys, got %s and %s", a.Key(), b.Key())
	}
	if a.DateString() != "2024-01-02" {
		t.Errorf("unexpected date string %s", a.DateString())
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []string{
		"2024-01-02T21:30:00Z",
		"2024-01-02T21:30:00.123456Z",
		"2024-01-02T16:30:00-05:00",
		"2024-01-02T21:30:00",
	}
	for _, s := range tests {
		ts, err := ParseTimestamp(s)
		if err != nil {
			t.Errorf("ParseTimestamp(%s): %v", s, err)
			continue
		}
		if got := ts.UTC().Format("20060102150405"); got != "20240102213000" {
			t.Errorf("ParseTimestamp(%s) = %s", s, got)
		}
	}

	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Error("expected error for unparseable timestamp")
	}
}
