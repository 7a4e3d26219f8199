package booking

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/relaydesk/relaydesk/internal/extract"
	"github.com/relaydesk/relaydesk/internal/render"
	"github.com/relaydesk/relaydesk/internal/session"
	"github.com/relaydesk/relaydesk/internal/tenant"
)

// Name-flow prompt types recorded on the name trace.
const (
	promptName            = "name_prompt"
	promptMissingFirst    = "missing_first"
	promptMissingLast     = "missing_last"
	promptDuplicateCheck  = "duplicate_confirm"
	promptSpellingVariant = "spelling_variant_ask"
)

const maxMissingPartMisses = 2

// nameStep drives the name sub-flow:
// NONE → PARTIAL → CONFIRM_PENDING → SPELLING_VARIANT_PENDING →
// LAST_NAME_PENDING → COMPLETE, with the duplicate-confirm detour.
func (c *Controller) nameStep(in TurnInput, slot tenant.BookingSlot, meta *session.SlotMeta) stepOutcome {
	sess := in.Sess
	if meta.Name == nil {
		meta.Name = &session.NameMeta{}
	}
	nm := meta.Name
	active := sess.Booking.ActiveSlot == slot.ID

	// Explicit self-identification beats any pending sub-state.
	explicit := extract.ExtractName(in.Text, c.nameOptions(nm, false))

	if nm.DuplicateConfirmPend {
		return c.resolveDuplicateConfirm(in, slot, nm, explicit)
	}
	if nm.AskedSpellingVariant && nm.SpellingVariantAnswer == "" {
		return c.resolveSpellingVariant(in, slot, meta, nm)
	}
	if lastPrompt(sess) == promptMissingLast || lastPrompt(sess) == promptMissingFirst {
		return c.resolveMissingPart(in, slot, meta, nm)
	}
	if meta.PendingConfirm {
		return c.resolveNameConfirm(in, slot, meta, nm, explicit)
	}

	result := explicit
	if result == nil && active {
		result = extract.ExtractName(in.Text, c.nameOptions(nm, true))
	}
	if result == nil {
		if active {
			meta.ExtractionMisses++
		}
		return c.askName(in, slot, meta)
	}

	return c.acceptName(in, slot, meta, nm, result)
}

// acceptName folds a fresh extraction into the name meta and decides the
// next prompt.
func (c *Controller) acceptName(in TurnInput, slot tenant.BookingSlot, meta *session.SlotMeta, nm *session.NameMeta, r *extract.NameResult) stepOutcome {
	sess := in.Sess
	parts := strings.Fields(r.Name)

	if len(parts) >= 2 {
		nm.First, nm.Last = parts[0], parts[1]
		sess.SetSlot(slot.ID, nm.First+" "+nm.Last)

		if out, pending := c.duplicateGuard(in, slot, nm); pending {
			return out
		}
		if slot.ConfirmBack {
			return c.nameConfirmPrompt(in, slot, meta, nm)
		}
		return stepOutcome{consumedValue: true}
	}

	// Single token: file it under the part the assumption names.
	token := parts[0]
	if r.MatchedPattern == "last_name_is" || r.AssumedSingleTokenAs == "last" {
		nm.Last = token
	} else {
		nm.First = token
	}
	nm.AssumedSingleTokenAs = r.AssumedSingleTokenAs
	sess.SetSlot(slot.ID, strings.TrimSpace(nm.First+" "+nm.Last))

	if nm.First != "" && nm.Last != "" {
		if out, pending := c.duplicateGuard(in, slot, nm); pending {
			return out
		}
		return stepOutcome{consumedValue: true}
	}

	if out, asked := c.spellingVariantAsk(in, slot, nm); asked {
		return out
	}
	if slot.ConfirmBack {
		return c.nameConfirmPrompt(in, slot, meta, nm)
	}
	if slot.AskFullName {
		return c.askMissingPart(in, slot, nm)
	}
	return stepOutcome{consumedValue: true}
}

// resolveNameConfirm handles the caller's answer to "I have X — right?".
func (c *Controller) resolveNameConfirm(in TurnInput, slot tenant.BookingSlot, meta *session.SlotMeta, nm *session.NameMeta, explicit *extract.NameResult) stepOutcome {
	sess := in.Sess
	text := in.Text

	switch {
	case explicit != nil:
		// "No, my name is Dave" — replace and re-confirm.
		meta.PendingConfirm = false
		nm.First, nm.Last = "", ""
		return c.acceptName(in, slot, meta, nm, explicit)

	case extract.StartsAffirmative(text) && !extract.ContainsNegation(text):
		meta.PendingConfirm = false
		nm.LastConfirmed = true
		if slot.AskFullName && (nm.First == "" || nm.Last == "") {
			return c.askMissingPart(in, slot, nm)
		}
		return stepOutcome{}

	case extract.StartsNegative(text):
		meta.PendingConfirm = false
		nm.First, nm.Last = "", ""
		sess.SetSlot(slot.ID, "")
		return c.askName(in, slot, meta)

	default:
		meta.PendingConfirm = false
		return c.nameStep(in, slot, meta)
	}
}

// resolveMissingPart handles the answer to "and your last name?".
//
// The collected part is never replaced: the new token joins it. A token
// equal to the existing part is caller confusion and re-asks; two misses
// offer escalation.
func (c *Controller) resolveMissingPart(in TurnInput, slot tenant.BookingSlot, meta *session.SlotMeta, nm *session.NameMeta) stepOutcome {
	sess := in.Sess
	askingLast := lastPrompt(sess) == promptMissingLast

	r := extract.ExtractName(in.Text, c.nameOptions(nm, true))
	if r == nil {
		// The extractor also rejects a token equal to the part we already
		// have, which is the classic "Mark ... Mark" confusion.
		nm.MissingPartMisses++
		if nm.MissingPartMisses >= maxMissingPartMisses {
			return c.missingPartGiveUp(in, slot, nm)
		}
		var prompt string
		if askingLast {
			prompt = fmt.Sprintf("I have %s as the first name — what's the last name?", nm.First)
		} else {
			prompt = "Sorry, I didn't catch that — what was the first name?"
		}
		return c.namePrompt(in, slot, lastPrompt(sess), prompt)
	}

	parts := strings.Fields(r.Name)
	if len(parts) >= 2 {
		// A full name answer replaces both parts outright.
		nm.First, nm.Last = parts[0], parts[1]
		nm.AskedMissingPartOnce = true
		sess.SetSlot(slot.ID, nm.First+" "+nm.Last)
		clearTrace(sess)
		return stepOutcome{consumedValue: true}
	}

	token := parts[0]
	if askingLast {
		nm.Last = token
	} else {
		nm.First = token
	}
	nm.AskedMissingPartOnce = true
	sess.SetSlot(slot.ID, strings.TrimSpace(nm.First+" "+nm.Last))

	if out, pending := c.duplicateGuard(in, slot, nm); pending {
		return out
	}
	clearTrace(sess)
	return stepOutcome{consumedValue: true}
}

// missingPartGiveUp runs after two failed attempts at the missing part:
// keep what we have and move on, or escalate when nothing usable exists.
func (c *Controller) missingPartGiveUp(in TurnInput, slot tenant.BookingSlot, nm *session.NameMeta) stepOutcome {
	sess := in.Sess
	nm.AskedMissingPartOnce = true
	clearTrace(sess)
	if nm.First == "" && nm.Last == "" {
		msg := c.behavior.Escalation.OfferMessage
		if msg == "" {
			msg = "I'm having trouble with the name — would you like me to connect you with the office?"
		}
		return stepOutcome{reply: c.render(msg), matchSource: SourceLoopEscalate, requiresTransfer: true}
	}
	sess.SetSlot(slot.ID, strings.TrimSpace(nm.First+" "+nm.Last))
	return stepOutcome{}
}

// duplicateGuard catches "X X" where X is a common first name and asks a
// one-turn double-check instead of silently accepting it.
func (c *Controller) duplicateGuard(in TurnInput, slot tenant.BookingSlot, nm *session.NameMeta) (stepOutcome, bool) {
	if nm.First == "" || !strings.EqualFold(nm.First, nm.Last) {
		return stepOutcome{}, false
	}
	if !containsFold(c.behavior.CommonFirstNames, nm.First) {
		return stepOutcome{}, false
	}
	nm.DuplicateConfirmPend = true
	out := c.namePrompt(in, slot, promptDuplicateCheck,
		fmt.Sprintf("Just to double-check — is your last name also %s?", nm.Last))
	out.consumedValue = true
	return out, true
}

// resolveDuplicateConfirm handles the double-check answer.
func (c *Controller) resolveDuplicateConfirm(in TurnInput, slot tenant.BookingSlot, nm *session.NameMeta, explicit *extract.NameResult) stepOutcome {
	sess := in.Sess
	nm.DuplicateConfirmPend = false

	switch {
	case explicit != nil && !strings.EqualFold(explicit.Name, nm.First):
		nm.Last = strings.Fields(explicit.Name)[0]
		sess.SetSlot(slot.ID, nm.First+" "+nm.Last)
		clearTrace(sess)
		return stepOutcome{consumedValue: true}

	case extract.StartsAffirmative(in.Text) && !extract.ContainsNegation(in.Text):
		clearTrace(sess)
		return stepOutcome{}

	default:
		nm.Last = ""
		sess.SetSlot(slot.ID, nm.First)
		return c.askMissingPart(in, slot, nm)
	}
}

// spellingVariantAsk checks the precomputed variant map and, at most once
// per call, asks which spelling the caller uses. The map lookup is O(1);
// variants are precomputed admin-side, never scanned at runtime.
func (c *Controller) spellingVariantAsk(in TurnInput, slot tenant.BookingSlot, nm *session.NameMeta) (stepOutcome, bool) {
	nv := c.behavior.NameVariants
	if !nv.Enabled || !slot.ConfirmSpelling || nm.AskedSpellingVariant || nm.First == "" {
		return stepOutcome{}, false
	}
	variants := c.variantMap[strings.ToLower(nm.First)]
	if len(variants) == 0 {
		return stepOutcome{}, false
	}

	opts := append([]string{nm.First}, variants...)
	nm.AskedSpellingVariant = true
	nm.SpellingVariantOpts = opts

	script := nv.Script
	if script == "" {
		script = "Is that {option1} spelled {spelling1}, or {option2} spelled {spelling2}?"
	}
	values := c.values()
	values["name"] = nm.First
	values["option1"] = opts[0]
	values["spelling1"] = spellOut(opts[0])
	if len(opts) > 1 {
		values["option2"] = opts[1]
		values["spelling2"] = spellOut(opts[1])
	}
	out := c.namePrompt(in, slot, promptSpellingVariant, render.Render(script, values))
	out.consumedValue = true
	return out, true
}

var (
	withLetterRe = regexp.MustCompile(`(?i)\bwith\s+an?\s+"?([a-z])"?\b`)
	optionNumRe  = regexp.MustCompile(`(?i)\b(?:option\s+|number\s+)?(?:(1|one|first)|(2|two|second))\b`)
)

// resolveSpellingVariant parses the caller's choice. Ambiguity re-asks —
// the flow never guesses a spelling.
func (c *Controller) resolveSpellingVariant(in TurnInput, slot tenant.BookingSlot, meta *session.SlotMeta, nm *session.NameMeta) stepOutcome {
	sess := in.Sess
	choice := parseVariantChoice(in.Text, nm.SpellingVariantOpts)
	if choice == "" {
		return c.namePrompt(in, slot, promptSpellingVariant,
			"Sorry — which spelling was that? "+strings.Join(nm.SpellingVariantOpts, " or ")+"?")
	}

	nm.SpellingVariantAnswer = choice
	nm.First = choice
	sess.SetSlot(slot.ID, strings.TrimSpace(nm.First+" "+nm.Last))
	clearTrace(sess)

	if slot.AskFullName && nm.Last == "" {
		return c.askMissingPart(in, slot, nm)
	}
	if slot.ConfirmBack && !nm.LastConfirmed {
		return c.nameConfirmPrompt(in, slot, meta, nm)
	}
	return stepOutcome{consumedValue: true}
}

// parseVariantChoice maps the caller's words onto one of the offered
// spellings: "with a K", "the first", "option 2", or the spelling itself.
func parseVariantChoice(text string, opts []string) string {
	if len(opts) == 0 {
		return ""
	}
	lower := strings.ToLower(text)

	// The spelling spoken outright ("Marc").
	var byName []string
	for _, opt := range opts {
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(strings.ToLower(opt)) + `\b`)
		if re.MatchString(lower) {
			byName = append(byName, opt)
		}
	}
	if len(byName) == 1 {
		return byName[0]
	}

	if m := optionNumRe.FindStringSubmatch(text); m != nil && withLetterRe.FindStringIndex(text) == nil {
		if m[1] != "" {
			return opts[0]
		}
		if len(opts) > 1 {
			return opts[1]
		}
	}

	if m := withLetterRe.FindStringSubmatch(text); m != nil {
		letter := strings.ToLower(m[1])
		var hits []string
		for _, opt := range opts {
			if distinguishingLetters(opt, opts)[letter] {
				hits = append(hits, opt)
			}
		}
		if len(hits) == 1 {
			return hits[0]
		}
	}
	return ""
}

// distinguishingLetters returns the letters of opt that none of the other
// options contain.
func distinguishingLetters(opt string, all []string) map[string]bool {
	others := map[rune]bool{}
	for _, o := range all {
		if strings.EqualFold(o, opt) {
			continue
		}
		for _, r := range strings.ToLower(o) {
			others[r] = true
		}
	}
	unique := map[string]bool{}
	for _, r := range strings.ToLower(opt) {
		if !others[r] {
			unique[string(r)] = true
		}
	}
	return unique
}

// askName emits the initial name question.
func (c *Controller) askName(in TurnInput, slot tenant.BookingSlot, meta *session.SlotMeta) stepOutcome {
	out := c.askQuestion(slot, meta, slot.Question)
	if out.matchSource == SourceSlotQuestion {
		recordTrace(in.Sess, in.TurnNumber, promptName, out.reply)
	}
	return out
}

// askMissingPart asks for whichever name part is absent.
func (c *Controller) askMissingPart(in TurnInput, slot tenant.BookingSlot, nm *session.NameMeta) stepOutcome {
	if nm.Last == "" {
		q := slot.LastNameQuestion
		if q == "" {
			q = fmt.Sprintf("Thanks, %s — and your last name?", nm.First)
		}
		out := c.namePrompt(in, slot, promptMissingLast, c.render(q))
		out.consumedValue = true
		return out
	}
	q := slot.FirstNameQuestion
	if q == "" {
		q = fmt.Sprintf("And your first name? I have %s as the last name.", nm.Last)
	}
	out := c.namePrompt(in, slot, promptMissingFirst, c.render(q))
	out.consumedValue = true
	return out
}

// nameConfirmPrompt emits the confirm-back prompt for the current value.
func (c *Controller) nameConfirmPrompt(in TurnInput, slot tenant.BookingSlot, meta *session.SlotMeta, nm *session.NameMeta) stepOutcome {
	meta.PendingConfirm = true
	value := strings.TrimSpace(nm.First + " " + nm.Last)
	prompt := slot.ConfirmPrompt
	if prompt == "" {
		prompt = "I have {value} — did I get that right?"
	}
	out := c.namePrompt(in, slot, promptName, render.Render(prompt, c.valuesWith("value", value)))
	out.matchSource = SourceConfirmPrompt
	out.consumedValue = true
	return out
}

// namePrompt wraps a prompt with name-trace bookkeeping.
func (c *Controller) namePrompt(in TurnInput, slot tenant.BookingSlot, promptType, text string) stepOutcome {
	recordTrace(in.Sess, in.TurnNumber, promptType, text)
	return stepOutcome{reply: text, matchSource: SourceSlotQuestion}
}

func recordTrace(sess *session.Session, turn int, promptType, text string) {
	sess.Booking.NameTrace = &session.NameTrace{
		LastPromptTurn: turn,
		LastPromptType: promptType,
		LastPromptText: text,
	}
}

func clearTrace(sess *session.Session) {
	if sess.Booking.NameTrace != nil {
		sess.Booking.NameTrace.Outcome = "resolved"
		sess.Booking.NameTrace.LastPromptType = ""
	}
}

func lastPrompt(sess *session.Session) string {
	if sess.Booking.NameTrace == nil {
		return ""
	}
	return sess.Booking.NameTrace.LastPromptType
}

func (c *Controller) nameOptions(nm *session.NameMeta, expecting bool) extract.NameOptions {
	return extract.NameOptions{
		ExpectingName:    expecting,
		StopWords:        c.behavior.NameStopWords,
		CommonFirstNames: c.behavior.CommonFirstNames,
		CollectedFirst:   nm.First,
		CollectedLast:    nm.Last,
	}
}

// spellOut renders "Marc" as "M-A-R-C" for the spelling-variant script.
func spellOut(name string) string {
	letters := strings.Split(strings.ToUpper(name), "")
	return strings.Join(letters, "-")
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
