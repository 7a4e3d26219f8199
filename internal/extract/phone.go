package extract

import (
	"regexp"
	"strings"
)

// phoneCandidateRe matches runs of digits with common phone punctuation.
var phoneCandidateRe = regexp.MustCompile(`[\d][\d\s().\-]{5,}[\d]`)

// streetTypeAfterNumberRe flags a number that is actually a street address
// ("12155 Metro Parkway"): digits immediately followed by words ending in a
// street-type token.
var streetTypeAfterNumberRe = regexp.MustCompile(`(?i)\b\d+\s+(?:[A-Za-z]+\s+){0,3}(?:` + streetTypeAlternation + `)\b`)

// ExtractPhone finds a US phone number in text and returns its digits
// (7, 10, or 11 with leading 1), or "" when no safe candidate exists.
//
// Numbers embedded in obvious street-address context are rejected: a
// street-type word following the digit run means the caller was giving an
// address, not a phone number.
func ExtractPhone(text string) string {
	if streetTypeAfterNumberRe.MatchString(text) {
		return ""
	}

	for _, candidate := range phoneCandidateRe.FindAllString(text, -1) {
		digits := digitsOnly(candidate)
		switch len(digits) {
		case 7, 10:
			return digits
		case 11:
			if digits[0] == '1' {
				return digits
			}
		}
	}

	// Spoken digit runs without separators ("5551234567").
	digits := digitsOnly(text)
	if allDigitsAndSpaces(text) {
		switch len(digits) {
		case 7, 10:
			return digits
		case 11:
			if digits[0] == '1' {
				return digits
			}
		}
	}
	return ""
}

// NormalizePhone strips a leading country code so stored values are
// 10-digit (or 7-digit local) strings.
func NormalizePhone(digits string) string {
	if len(digits) == 11 && digits[0] == '1' {
		return digits[1:]
	}
	return digits
}

// IsAreaCode reports whether text is exactly a 3-digit area code answer.
func IsAreaCode(text string) (string, bool) {
	digits := digitsOnly(text)
	if len(digits) == 3 && allDigitsAndSpaces(strings.Trim(text, ".,!?")) {
		return digits, true
	}
	return "", false
}

// RestOfNumber reports whether text is a 7-digit local-number answer.
func RestOfNumber(text string) (string, bool) {
	digits := digitsOnly(text)
	if len(digits) == 7 {
		return digits, true
	}
	return "", false
}

// textMeRe matches "text me (at this number)" variants that reuse caller ID.
var textMeRe = regexp.MustCompile(`(?i)\b(?:just\s+)?text\s+me\b|\buse\s+(?:this|the)\s+number\b|\bnumber\s+i'?m\s+calling\s+(?:from|on)\b`)

// WantsCallerID reports whether the caller asked to reuse the number they
// are calling from.
func WantsCallerID(text string) bool {
	return textMeRe.MatchString(text)
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func allDigitsAndSpaces(s string) bool {
	seen := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			seen = true
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return false
		}
	}
	return seen
}
