package extract_test

import (
	"testing"

	"github.com/relaydesk/relaydesk/internal/extract"
)

func TestExtractAddress_FullAddressOneShot(t *testing.T) {
	t.Parallel()

	r := extract.ExtractAddress("12155 Metro Parkway Fort Myers Florida 33966")
	if r == nil {
		t.Fatal("ExtractAddress returned nil for a complete address")
	}
	if r.Street != "12155 Metro Parkway" {
		t.Errorf("Street = %q, want %q", r.Street, "12155 Metro Parkway")
	}
	if r.Zip != "33966" {
		t.Errorf("Zip = %q, want 33966 (ZIP must not be confused with street number)", r.Zip)
	}
	if r.State != "FL" {
		t.Errorf("State = %q, want FL", r.State)
	}
	if !r.HasFull() {
		t.Error("HasFull() = false, want true")
	}
}

func TestExtractAddress_StreetOnly(t *testing.T) {
	t.Parallel()

	r := extract.ExtractAddress("yeah my address is 42 Oak Street")
	if r == nil {
		t.Fatal("ExtractAddress returned nil")
	}
	if r.Street != "42 Oak Street" {
		t.Errorf("Street = %q, want %q", r.Street, "42 Oak Street")
	}
	if r.HasFull() {
		t.Errorf("HasFull() = true for street-only input (Full=%q)", r.Full)
	}
}

func TestExtractAddress_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
	}{
		{"time phrase weeks ago", "it broke 2 weeks ago"},
		{"yesterday", "it started yesterday"},
		{"last week", "the tech came last week"},
		{"no street type", "I live at 12155 in town"},
		{"no street number", "Metro Parkway"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if r := extract.ExtractAddress(tt.text); r != nil {
				t.Errorf("ExtractAddress(%q) = %+v, want nil", tt.text, r)
			}
		})
	}
}

func TestExtractAddress_StateAbbreviation(t *testing.T) {
	t.Parallel()

	r := extract.ExtractAddress("100 Main St Austin TX 78701")
	if r == nil || r.State != "TX" || r.Zip != "78701" {
		t.Fatalf("got %+v, want TX / 78701", r)
	}
	if r.City != "Austin" {
		t.Errorf("City = %q, want Austin", r.City)
	}
}

func TestDetectUnit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		unit string
		ok   bool
	}{
		{"12155 Metro Pkwy apt 4B", "4B", true},
		{"unit 12", "12", true},
		{"suite 300", "300", true},
		{"100 Main St # 7", "7", true},
		{"100 Main St", "", false},
	}
	for _, tt := range tests {
		unit, ok := extract.DetectUnit(tt.text)
		if ok != tt.ok || unit != tt.unit {
			t.Errorf("DetectUnit(%q) = (%q, %t), want (%q, %t)", tt.text, unit, ok, tt.unit, tt.ok)
		}
	}
}

func TestSaysNoUnit(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"no unit", "none", "nope", "single family home"} {
		if !extract.SaysNoUnit(text) {
			t.Errorf("SaysNoUnit(%q) = false, want true", text)
		}
	}
	if extract.SaysNoUnit("unit 4B") {
		t.Error("SaysNoUnit(\"unit 4B\") = true, want false")
	}
}

func TestParseCityAnswer(t *testing.T) {
	t.Parallel()

	city, zip, ok := extract.ParseCityAnswer("Fort Myers 33966")
	if !ok || city != "Fort Myers" || zip != "33966" {
		t.Errorf("got (%q, %q, %t), want (Fort Myers, 33966, true)", city, zip, ok)
	}

	city, zip, ok = extract.ParseCityAnswer("Austin")
	if !ok || city != "Austin" || zip != "" {
		t.Errorf("got (%q, %q, %t), want (Austin, , true)", city, zip, ok)
	}

	if _, _, ok := extract.ParseCityAnswer(""); ok {
		t.Error("empty input parsed as city")
	}
}
