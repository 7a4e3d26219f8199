package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/relaydesk/relaydesk/internal/clients/calendar"
	"github.com/relaydesk/relaydesk/internal/clients/sms"
	"github.com/relaydesk/relaydesk/internal/render"
	"github.com/relaydesk/relaydesk/internal/session"
	"github.com/relaydesk/relaydesk/internal/tenant"
)

// Status of a booking request. The status carries the hand-off outcome:
// what the caller was told happens next.
type Status string

const (
	// StatusFakeConfirmed: the agent spoke a confirmed time, pending office
	// ratification.
	StatusFakeConfirmed Status = "FAKE_CONFIRMED"
	// StatusPendingDispatch: details captured, dispatcher assigns the tech.
	StatusPendingDispatch Status = "PENDING_DISPATCH"
	// StatusCallbackQueued: a scheduler calls the customer back.
	StatusCallbackQueued Status = "CALLBACK_QUEUED"
	// StatusTransferred: the call was handed to a live scheduler.
	StatusTransferred Status = "TRANSFERRED"
	// StatusAfterHours: held for the next business morning.
	StatusAfterHours Status = "AFTER_HOURS"
	// StatusCancelled: the request was withdrawn; it no longer blocks the
	// session's active-request uniqueness.
	StatusCancelled Status = "CANCELLED"
)

// StatusForOutcome maps the tenant's configured outcome mode onto the
// persisted request status.
func StatusForOutcome(m tenant.OutcomeMode) Status {
	switch m {
	case tenant.OutcomeConfirmedOnCall:
		return StatusFakeConfirmed
	case tenant.OutcomeCallbackRequired:
		return StatusCallbackQueued
	case tenant.OutcomeTransferToScheduler:
		return StatusTransferred
	case tenant.OutcomeAfterHoursHold:
		return StatusAfterHours
	default:
		return StatusPendingDispatch
	}
}

// Request is a finalized booking. One active (non-cancelled) request may
// exist per session; the store's partial unique index enforces it.
type Request struct {
	ID         string
	CaseID     string
	SessionID  string
	CompanyID  string
	CustomerID string
	Status     Status

	OutcomeMode tenant.OutcomeMode
	Channel     string
	CallSID     string
	CallerPhone string

	Name           string
	Phone          string
	Address        string
	TimePreference string
	IsAsap         bool

	Issue   string
	Urgency session.Urgency
	Access  session.AccessInfo

	CalendarEventID    string
	CalendarEventStart time.Time
	CalendarEventEnd   time.Time
	SMSSent            bool

	FinalScriptUsed string

	CreatedAt   time.Time
	CompletedAt time.Time
	UpdatedAt   time.Time
}

// Store errors surfaced to the finalizer.
var (
	// ErrNotFound: no active request exists for the session.
	ErrNotFound = errors.New("booking: request not found")

	// ErrDuplicate: an active request already exists (unique violation).
	ErrDuplicate = errors.New("booking: duplicate active request")
)

// RequestStore persists booking requests.
type RequestStore interface {
	// FindActiveBySession returns the non-cancelled request for a session,
	// or [ErrNotFound].
	FindActiveBySession(ctx context.Context, sessionID string) (*Request, error)

	// Insert stores a new request, returning [ErrDuplicate] when an active
	// request for the session already exists.
	Insert(ctx context.Context, r *Request) error

	// Update rewrites mutable fields (status, calendar linkage, SMS flag).
	Update(ctx context.Context, r *Request) error
}

// Finalizer turns a slot-complete session into a durable booking request
// and kicks off the non-blocking side effects.
type Finalizer struct {
	store    RequestStore
	calendar calendar.Client
	sms      sms.Sender
	log      *slog.Logger

	// sideEffectTimeout bounds the detached calendar/SMS work.
	sideEffectTimeout time.Duration

	// now is a clock hook for tests.
	now func() time.Time
}

// NewFinalizer builds a Finalizer. calendar and sms may be nil when the
// tenant has no such integration.
func NewFinalizer(store RequestStore, cal calendar.Client, sender sms.Sender, log *slog.Logger) *Finalizer {
	if log == nil {
		log = slog.Default()
	}
	return &Finalizer{
		store:             store,
		calendar:          cal,
		sms:               sender,
		log:               log,
		sideEffectTimeout: 15 * time.Second,
		now:               time.Now,
	}
}

// Finalize creates (or returns the already-existing) booking request for
// the session and returns the tenant's outcome script.
//
// Idempotency: an active request for the session short-circuits; a lost
// insert race fetches and returns the winner. Calendar and SMS effects run
// detached and never block or fail the turn.
func (f *Finalizer) Finalize(ctx context.Context, sess *session.Session, company *tenant.Company) (*Request, string, error) {
	if existing, err := f.store.FindActiveBySession(ctx, sess.ID); err == nil {
		f.log.Info("duplicate booking blocked",
			"sessionId", sess.ID, "bookingRequestId", existing.ID)
		f.completeSession(sess, existing, company)
		return existing, f.finalScript(existing, company), nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, "", fmt.Errorf("booking: finalize lookup: %w", err)
	}

	req := f.buildRequest(sess, company)
	req.FinalScriptUsed = f.outcomeScript(req, company)
	if err := f.store.Insert(ctx, req); err != nil {
		if errors.Is(err, ErrDuplicate) {
			winner, ferr := f.store.FindActiveBySession(ctx, sess.ID)
			if ferr != nil {
				return nil, "", fmt.Errorf("booking: finalize race fetch: %w", ferr)
			}
			f.log.Info("lost finalize race, returning winner",
				"sessionId", sess.ID, "bookingRequestId", winner.ID)
			f.completeSession(sess, winner, company)
			return winner, f.finalScript(winner, company), nil
		}
		return nil, "", fmt.Errorf("booking: finalize insert: %w", err)
	}

	f.completeSession(sess, req, company)
	f.runSideEffects(req, company)
	return req, req.FinalScriptUsed, nil
}

func (f *Finalizer) buildRequest(sess *session.Session, company *tenant.Company) *Request {
	now := f.now().UTC()
	outcome := company.FrontDesk.BookingOutcome.Mode
	req := &Request{
		ID:          uuid.NewString(),
		CaseID:      caseID(),
		SessionID:   sess.ID,
		CompanyID:   company.ID,
		CustomerID:  sess.CustomerID,
		Status:      StatusForOutcome(outcome),
		OutcomeMode: outcome,
		Channel:     string(sess.Channel),
		CallSID:     sess.CallSID,
		CallerPhone: sess.CallerPhone,
		Issue:       sess.Discovery.Issue,
		Urgency:     sess.Discovery.Urgency,
		Access:      sess.Booking.Access,
		CreatedAt:   now,
		CompletedAt: now,
		UpdatedAt:   now,
	}
	for _, slot := range company.FrontDesk.BookingSlots {
		value := sess.SlotValue(slot.ID)
		if value == "" {
			continue
		}
		switch slot.Type {
		case tenant.SlotName:
			req.Name = value
		case tenant.SlotPhone:
			req.Phone = value
		case tenant.SlotAddress:
			req.Address = value
		case tenant.SlotTime:
			req.TimePreference = value
			req.IsAsap = sess.Booking.MetaFor(slot.ID).IsAsap
		}
	}
	if company.Calendar.Enabled {
		req.CalendarEventStart, req.CalendarEventEnd = appointmentWindow(f.now(), req, company.Calendar)
	}
	return req
}

// appointmentWindow derives a provisional event window from the caller's
// stated preference. The office adjusts the real slot later; the window
// feeds the calendar hold and the reminder-SMS schedule.
func appointmentWindow(now time.Time, req *Request, cfg tenant.CalendarConfig) (start, end time.Time) {
	loc := time.Local
	if cfg.TimeZone != "" {
		if l, err := time.LoadLocation(cfg.TimeZone); err == nil {
			loc = l
		}
	}
	now = now.In(loc)

	switch {
	case req.IsAsap:
		start = now.Add(2 * time.Hour)
	case strings.Contains(strings.ToLower(req.TimePreference), "afternoon"):
		start = nextHour(now, 13)
	case strings.Contains(strings.ToLower(req.TimePreference), "evening"):
		start = nextHour(now, 17)
	default:
		start = nextHour(now, 9)
	}

	dur := time.Duration(cfg.DefaultDur) * time.Minute
	if dur <= 0 {
		dur = time.Hour
	}
	return start, start.Add(dur)
}

// nextHour returns the next occurrence of hour o'clock, at least an hour out.
func nextHour(now time.Time, hour int) time.Time {
	t := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !t.After(now.Add(time.Hour)) {
		t = t.Add(24 * time.Hour)
	}
	return t
}

func (f *Finalizer) completeSession(sess *session.Session, req *Request, company *tenant.Company) {
	sess.Booking.BookingRequestID = req.ID
	sess.Booking.CompletedAt = f.now().UTC()
	sess.Booking.OutcomeMode = company.FrontDesk.BookingOutcome.Mode
	sess.Locks.BookingLocked = true
	sess.TransitionMode(session.ModeComplete)
}

// runSideEffects creates the calendar event and sends the confirmation SMS
// on a detached context so a slow provider never delays the caller.
func (f *Finalizer) runSideEffects(req *Request, company *tenant.Company) {
	ctx, cancel := context.WithTimeout(context.Background(), f.sideEffectTimeout)
	g, ctx := errgroup.WithContext(ctx)

	if f.calendar != nil && company.Calendar.Enabled {
		g.Go(func() error {
			eventID, err := f.calendar.CreateEvent(ctx, calendar.Event{
				CompanyID:      company.ID,
				CaseID:         req.CaseID,
				Summary:        fmt.Sprintf("%s — %s", company.Name, req.Name),
				Description:    req.Issue,
				CustomerName:   req.Name,
				CustomerPhone:  req.Phone,
				Address:        req.Address,
				TimePreference: req.TimePreference,
				IsAsap:         req.IsAsap,
				Start:          req.CalendarEventStart,
				End:            req.CalendarEventEnd,
			})
			if err != nil {
				f.log.Error("calendar event failed",
					"bookingRequestId", req.ID, "error", err)
				return nil // side effects never fail the booking
			}
			req.CalendarEventID = eventID
			if err := f.store.Update(ctx, req); err != nil {
				f.log.Error("calendar linkage save failed",
					"bookingRequestId", req.ID, "error", err)
			}
			return nil
		})
	}

	if f.sms != nil && company.SMS.Enabled && req.Phone != "" {
		g.Go(func() error {
			body := company.SMS.ConfirmationScript
			if body == "" {
				body = "{companyName}: your request {caseId} is in. We'll see you {timePreference}."
			}
			msg := sms.Message{
				CompanyID: company.ID,
				To:        req.Phone,
				Body: render.Render(body, map[string]string{
					"companyName":    company.Name,
					"name":           req.Name,
					"caseId":         req.CaseID,
					"timePreference": req.TimePreference,
				}),
				SendAt: quietHoursDeferral(f.now(), company.SMS),
			}
			if err := f.sms.Send(ctx, msg); err != nil {
				f.log.Error("confirmation sms failed",
					"bookingRequestId", req.ID, "error", err)
				return nil
			}
			req.SMSSent = true
			if err := f.store.Update(ctx, req); err != nil {
				f.log.Error("sms flag save failed",
					"bookingRequestId", req.ID, "error", err)
			}
			return nil
		})

		g.Go(func() error {
			msg, ok := f.reminderMessage(req, company)
			if !ok {
				return nil
			}
			if err := f.sms.Send(ctx, msg); err != nil {
				f.log.Error("reminder sms failed",
					"bookingRequestId", req.ID, "error", err)
			}
			return nil
		})
	}

	go func() {
		defer cancel()
		_ = g.Wait()
	}()
}

// reminderMessage builds the scheduled appointment reminder. It needs a
// reminder lead, an event window, and enough lead time left for the send to
// land before the visit.
func (f *Finalizer) reminderMessage(req *Request, company *tenant.Company) (sms.Message, bool) {
	lead := company.SMS.ReminderLeadMin
	if lead <= 0 || req.CalendarEventStart.IsZero() {
		return sms.Message{}, false
	}
	sendAt := req.CalendarEventStart.Add(-time.Duration(lead) * time.Minute)
	if !sendAt.After(f.now()) {
		return sms.Message{}, false
	}

	body := company.SMS.ReminderScript
	if body == "" {
		body = "Reminder from {companyName}: a technician is scheduled for {timePreference}. Case {caseId}."
	}
	return sms.Message{
		CompanyID: company.ID,
		To:        req.Phone,
		Body: render.Render(body, map[string]string{
			"companyName":    company.Name,
			"name":           req.Name,
			"caseId":         req.CaseID,
			"timePreference": req.TimePreference,
		}),
		SendAt: sendAt,
	}, true
}

// quietHoursDeferral returns a scheduled send time when now falls inside
// the tenant's quiet hours, or zero for immediate delivery.
func quietHoursDeferral(now time.Time, cfg tenant.SMSConfig) time.Time {
	if cfg.QuietHoursStart == 0 && cfg.QuietHoursEnd == 0 {
		return time.Time{}
	}
	h := now.Hour()
	inQuiet := false
	if cfg.QuietHoursStart > cfg.QuietHoursEnd { // spans midnight
		inQuiet = h >= cfg.QuietHoursStart || h < cfg.QuietHoursEnd
	} else {
		inQuiet = h >= cfg.QuietHoursStart && h < cfg.QuietHoursEnd
	}
	if !inQuiet {
		return time.Time{}
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), cfg.QuietHoursEnd, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}

// outcomeScript picks and renders the tenant's final response script.
func (f *Finalizer) outcomeScript(req *Request, company *tenant.Company) string {
	outcome := company.FrontDesk.BookingOutcome

	script := ""
	if req.IsAsap && outcome.UseAsapVariant && outcome.AsapVariantScript != "" {
		script = outcome.AsapVariantScript
	} else if outcome.CustomFinalScript != "" {
		script = outcome.CustomFinalScript
	} else if s, ok := outcome.FinalScripts[outcome.Mode]; ok {
		script = s
	}
	if script == "" {
		script = "You're all set, {name} — we have you down for {timePreference}. Your case number is {caseId}."
	}

	return render.Render(script, map[string]string{
		"name":           req.Name,
		"timePreference": req.TimePreference,
		"caseId":         req.CaseID,
		"companyName":    company.Name,
	})
}

// finalScript prefers the script stored at creation so repeated
// finalization turns read back the exact same words.
func (f *Finalizer) finalScript(req *Request, company *tenant.Company) string {
	if req.FinalScriptUsed != "" {
		return req.FinalScriptUsed
	}
	return f.outcomeScript(req, company)
}

// caseID generates the short human-readable case number spoken to the
// caller and printed on the SMS.
func caseID() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "RD-" + raw[:8]
}
