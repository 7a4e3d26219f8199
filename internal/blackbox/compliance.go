package blackbox

import (
	"regexp"
	"strings"

	"github.com/relaydesk/relaydesk/internal/render"
	"github.com/relaydesk/relaydesk/internal/session"
)

// Violation labels emitted by the compliance check.
const (
	ViolationPlaceholderLeak = "placeholder_leak"
	ViolationBannedPhrase    = "banned_phrase"
	ViolationVerbosity       = "verbosity_exceeded"
	ViolationBookingMomentum = "booking_momentum_without_consent"
)

// defaultMaxWords caps spoken-reply length when the tenant sets none.
const defaultMaxWords = 90

// Compliance is the result of the deterministic post-response check.
type Compliance struct {
	Passed         bool     `json:"passed"`
	HardFail       bool     `json:"hardFail"`
	HardFailReason string   `json:"hardFailReason,omitempty"`
	Score          int      `json:"score"`
	Violations     []string `json:"violations,omitempty"`
}

// CheckInput is one reply plus the context needed to judge it.
type CheckInput struct {
	Reply        string
	Mode         session.Mode
	ConsentGiven bool

	// BannedPhrases come from tenant config; matched case-insensitively.
	BannedPhrases []string

	// MaxWords overrides the verbosity cap; zero means the default.
	MaxWords int
}

// bookingMomentumRe spots slot questions leaking into discovery replies
// before the caller has agreed to book.
var bookingMomentumRe = regexp.MustCompile(`(?i)\b(?:morning\s+or\s+afternoon|best\s+(?:phone\s+)?number|service\s+address|(?:can|may)\s+i\s+(?:get|have)\s+your\s+name)\b`)

// Check runs the deterministic post-response audit. A leaked placeholder or
// a banned phrase is a hard fail; verbosity and premature booking momentum
// are scored violations. Score starts at 100 and a hard fail zeroes it.
func Check(in CheckInput) Compliance {
	c := Compliance{Passed: true, Score: 100}

	fail := func(reason string) {
		c.Passed = false
		c.HardFail = true
		if c.HardFailReason == "" {
			c.HardFailReason = reason
		}
		c.Score = 0
	}
	violate := func(label string, penalty int) {
		c.Violations = append(c.Violations, label)
		if c.HardFail {
			return
		}
		c.Score -= penalty
		if c.Score < 0 {
			c.Score = 0
		}
	}

	if render.HasUnrendered(in.Reply) {
		violate(ViolationPlaceholderLeak, 0)
		fail(ViolationPlaceholderLeak)
	}

	lower := strings.ToLower(in.Reply)
	for _, phrase := range in.BannedPhrases {
		if phrase == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(phrase)) {
			violate(ViolationBannedPhrase, 0)
			fail(ViolationBannedPhrase)
			break
		}
	}

	maxWords := in.MaxWords
	if maxWords <= 0 {
		maxWords = defaultMaxWords
	}
	if len(strings.Fields(in.Reply)) > maxWords {
		violate(ViolationVerbosity, 25)
		c.Passed = c.Passed && c.Score >= 50
	}

	if in.Mode == session.ModeDiscovery && !in.ConsentGiven && bookingMomentumRe.MatchString(in.Reply) {
		violate(ViolationBookingMomentum, 40)
		c.Passed = c.Passed && c.Score >= 50
	}

	return c
}
