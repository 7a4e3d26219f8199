package extract_test

import (
	"testing"

	"github.com/relaydesk/relaydesk/internal/extract"
)

func TestExtractTimePreference(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want *extract.TimeResult
	}{
		{
			"day and window",
			"tomorrow morning works",
			&extract.TimeResult{Raw: "tomorrow morning", Day: "tomorrow", Window: "morning"},
		},
		{
			"weekday",
			"how about Thursday afternoon",
			&extract.TimeResult{Raw: "thursday afternoon", Day: "thursday", Window: "afternoon"},
		},
		{
			"specific time with am pm",
			"2 PM would be great",
			&extract.TimeResult{Raw: "at 2 PM", SpecificTime: "2 PM"},
		},
		{
			"at prefix without ampm",
			"come by tomorrow at 10",
			&extract.TimeResult{Raw: "tomorrow at 10", Day: "tomorrow", SpecificTime: "10"},
		},
		{
			"asap",
			"as soon as possible please",
			&extract.TimeResult{Raw: "as soon as possible", IsAsap: true},
		},
		{
			"tonight normalizes to today",
			"tonight if you can",
			&extract.TimeResult{Raw: "today", Day: "today"},
		},
		{
			"noon is afternoon",
			"around noon tomorrow",
			&extract.TimeResult{Raw: "tomorrow afternoon", Day: "tomorrow", Window: "afternoon"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := extract.ExtractTimePreference(tt.text)
			if got == nil {
				t.Fatalf("ExtractTimePreference(%q) = nil", tt.text)
			}
			if got.Raw != tt.want.Raw || got.Day != tt.want.Day ||
				got.Window != tt.want.Window || got.SpecificTime != tt.want.SpecificTime ||
				got.IsAsap != tt.want.IsAsap {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestExtractTimePreference_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
	}{
		{"salutation", "good morning"},
		{"salutation with more", "good afternoon, how are you"},
		{"phone number present", "call me at 555-123-4567"},
		{"asap question", "what is ASAP?"},
		{"bare street number", "12155 Metro Parkway"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := extract.ExtractTimePreference(tt.text); got != nil {
				t.Errorf("ExtractTimePreference(%q) = %+v, want nil", tt.text, got)
			}
		})
	}
}

func TestExtractTimePreference_WindowAfterSalutation(t *testing.T) {
	t.Parallel()

	// The window word inside the salutation must not count, but a real
	// preference later in the utterance still does.
	got := extract.ExtractTimePreference("good morning, can you come tomorrow afternoon")
	if got == nil {
		t.Fatal("ExtractTimePreference returned nil")
	}
	if got.Day != "tomorrow" || got.Window != "afternoon" {
		t.Errorf("got %+v, want tomorrow/afternoon", got)
	}
}
