// Package health serves the liveness and readiness probes of the control
// API.
//
//   - /healthz always answers 200 while the process can serve HTTP.
//   - /readyz answers 200 only when every registered [Checker] passes.
//
// Both return a JSON object with a "status" field ("ok" or "fail"); /readyz
// adds a "checks" map with one entry per checker.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 2 * time.Second

const (
	statusOK   = "ok"
	statusFail = "fail"
)

// Checker is a named readiness check. Check returns nil when the dependency
// is healthy and must respect ctx cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz.
type Handler struct {
	checkers []Checker
}

// New returns a Handler whose readiness probe runs checkers.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	respond(w, result{Status: statusOK})
}

// Readyz is the readiness probe. Checkers run in parallel, each bounded by
// its own timeout derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	errs := h.run(r.Context())

	res := result{Status: statusOK, Checks: make(map[string]string, len(errs))}
	for i, err := range errs {
		name := h.checkers[i].Name
		if err == nil {
			res.Checks[name] = statusOK
			continue
		}
		res.Status = statusFail
		res.Checks[name] = statusFail + ": " + err.Error()
	}
	respond(w, res)
}

// run returns the outcome of every checker, indexed like h.checkers.
func (h *Handler) run(ctx context.Context) []error {
	errs := make([]error, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			errs[i] = c.Check(cctx)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func respond(w http.ResponseWriter, res result) {
	code := http.StatusOK
	if res.Status != statusOK {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(res)
}
