// Package health serves the orchestrator's liveness and readiness endpoints.
//
//   - /healthz — liveness; a process that can answer HTTP is alive.
//   - /readyz  — readiness; 200 only when every required dependency
//     (Postgres, the tenant cache, the LLM provider) answers its check.
//
// Checks marked optional degrade the response body but never flip the
// status code: the turn pipeline can run without Redis or the calendar
// endpoint, so losing one must not pull the pod out of rotation.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds each dependency check. Readiness is polled by the
// load balancer; a hung dependency must not hang the endpoint.
const checkTimeout = 5 * time.Second

// Checker verifies one dependency of the turn pipeline.
type Checker struct {
	// Name keys the check's entry in the response body ("database",
	// "tenant-cache", "llm").
	Name string

	// Check returns nil when the dependency can serve a turn. It must
	// respect context cancellation.
	Check func(ctx context.Context) error

	// Optional dependencies report as "degraded" instead of failing
	// readiness. The SMS and calendar clients are optional: bookings
	// still persist without them.
	Optional bool
}

// checkResult is one dependency's entry in the response body.
type checkResult struct {
	Status    string `json:"status"` // "ok" | "fail" | "degraded"
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latencyMs"`
}

// response is the JSON body for both endpoints.
type response struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. Safe for concurrent use; the
// checker list is fixed at construction.
type Handler struct {
	checkers []Checker
	now      func() time.Time
}

// New builds a Handler over the given checkers. Checks run concurrently
// on each /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c, now: time.Now}
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: "ok"})
}

// Readyz checks every dependency concurrently and answers 503 when any
// required check fails. Optional failures downgrade the body to
// "degraded" but keep the 200.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	type outcome struct {
		name     string
		optional bool
		res      checkResult
	}

	results := make([]outcome, len(h.checkers))
	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Add(1)
		go func(i int, c Checker) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()

			start := h.now()
			err := c.Check(ctx)
			res := checkResult{Status: "ok", LatencyMs: h.now().Sub(start).Milliseconds()}
			if err != nil {
				res.Error = err.Error()
				res.Status = "fail"
				if c.Optional {
					res.Status = "degraded"
				}
			}
			results[i] = outcome{name: c.Name, optional: c.Optional, res: res}
		}(i, c)
	}
	wg.Wait()

	body := response{Status: "ok", Checks: make(map[string]checkResult, len(results))}
	status := http.StatusOK
	for _, o := range results {
		body.Checks[o.name] = o.res
		switch o.res.Status {
		case "fail":
			body.Status = "fail"
			status = http.StatusServiceUnavailable
		case "degraded":
			if body.Status == "ok" {
				body.Status = "degraded"
			}
		}
	}

	writeJSON(w, status, body)
}

// Register adds both routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
