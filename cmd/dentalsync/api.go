package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/onescan/dentalsync/connector"
	"github.com/onescan/dentalsync/ingest"
	"github.com/onescan/dentalsync/order"
	"github.com/onescan/dentalsync/session"
	"github.com/onescan/dentalsync/store"
)

type api struct {
	store  *store.Store
	orch   *ingest.Orchestrator
	logger *slog.Logger
}

func newRouter(st *store.Store, orch *ingest.Orchestrator, logger *slog.Logger) http.Handler {
	a := &api{store: st, orch: orch, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Route("/platforms/{platform}", func(r chi.Router) {
			r.Post("/login", a.handleLogin)
			r.Post("/fetch", a.handleFetch)
			r.Post("/logout", a.handleLogout)
			r.Get("/status", a.handleStatus)
		})
		r.Post("/ingest", a.handleIngestAll)
		r.Get("/orders", a.handleListOrders)
		r.Post("/orders/{id}/seen", a.handleMarkSeen)
		r.Get("/runs", a.handleListRuns)
	})
	return r
}

func (a *api) manager(w http.ResponseWriter, r *http.Request) (*session.Manager, order.Platform, bool) {
	p, err := order.ParsePlatform(chi.URLParam(r, "platform"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return nil, "", false
	}
	m := a.orch.Manager(p)
	if m == nil {
		http.Error(w, "platform not enabled", http.StatusNotFound)
		return nil, "", false
	}
	return m, p, true
}

func (a *api) handleLogin(w http.ResponseWriter, r *http.Request) {
	m, p, ok := a.manager(w, r)
	if !ok {
		return
	}
	outcome, err := m.EnsureAuthenticated(r.Context())
	if err != nil {
		status := http.StatusBadGateway
		var authErr *connector.AuthError
		if errors.As(err, &authErr) {
			status = http.StatusUnauthorized
		}
		a.fail(w, status, p, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"platform": p,
		"outcome":  outcome,
	})
}

func (a *api) handleFetch(w http.ResponseWriter, r *http.Request) {
	_, p, ok := a.manager(w, r)
	if !ok {
		return
	}
	res, err := a.orch.Run(r.Context(), p)
	if err != nil {
		a.fail(w, http.StatusInternalServerError, p, err)
		return
	}
	payload := resultPayload(res)
	// The admitted records themselves, so a caller can distinguish "no
	// new cases" from "not logged in" without a second request.
	orders := make([]map[string]any, len(res.Records))
	for i, rec := range res.Records {
		orders[i] = orderPayload(rec)
	}
	payload["orders"] = orders
	writeJSON(w, http.StatusOK, payload)
}

func (a *api) handleLogout(w http.ResponseWriter, r *http.Request) {
	m, p, ok := a.manager(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"platform":   p,
		"logged_out": m.Logout(r.Context()),
	})
}

func (a *api) handleStatus(w http.ResponseWriter, r *http.Request) {
	m, p, ok := a.manager(w, r)
	if !ok {
		return
	}
	payload := map[string]any{
		"platform":      p,
		"authenticated": m.Status(),
		"phase":         m.Phase().String(),
	}
	if err := m.LastError(); err != nil {
		payload["last_error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, payload)
}

func (a *api) handleIngestAll(w http.ResponseWriter, r *http.Request) {
	report := a.orch.RunAll(r.Context())
	results := make([]map[string]any, len(report.Results))
	for i, res := range report.Results {
		results[i] = resultPayload(res)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"duration_ms": report.Duration.Milliseconds(),
		"results":     results,
	})
}

func (a *api) handleListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ListFilter{
		UnseenOnly: q.Get("unseen") == "true",
		Limit:      atoiOr(q.Get("limit"), 0),
		Offset:     atoiOr(q.Get("offset"), 0),
	}
	if raw := q.Get("platform"); raw != "" {
		p, err := order.ParsePlatform(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		filter.Platform = p
	}

	records, err := a.store.List(r.Context(), filter)
	if err != nil {
		a.fail(w, http.StatusInternalServerError, filter.Platform, err)
		return
	}
	payload := make([]map[string]any, len(records))
	for i, rec := range records {
		payload[i] = orderPayload(rec)
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": payload})
}

func (a *api) handleMarkSeen(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}
	ok, err := a.store.MarkSeen(r.Context(), id)
	if err != nil {
		a.fail(w, http.StatusInternalServerError, "", err)
		return
	}
	if !ok {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "seen": true})
}

func (a *api) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var platform order.Platform
	if raw := q.Get("platform"); raw != "" {
		p, err := order.ParsePlatform(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		platform = p
	}
	runs, err := a.store.ListRuns(r.Context(), platform, atoiOr(q.Get("limit"), 0))
	if err != nil {
		a.fail(w, http.StatusInternalServerError, platform, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (a *api) fail(w http.ResponseWriter, status int, platform order.Platform, err error) {
	a.logger.Error("api request failed", "platform", platform, "err", err)
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func resultPayload(res ingest.Result) map[string]any {
	p := map[string]any{
		"run_id":      res.RunID,
		"platform":    res.Platform,
		"fetched":     res.Fetched,
		"inserted":    res.Inserted,
		"updated":     res.Updated,
		"unchanged":   res.Unchanged,
		"rejected":    res.Rejected,
		"duration_ms": res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		p["error"] = res.Err.Error()
	}
	return p
}

func orderPayload(rec *order.Record) map[string]any {
	p := map[string]any{
		"external_id": rec.ExternalID,
		"platform":    rec.Platform,
		"patient_ref": rec.PatientRef,
		"practice":    rec.Practice,
		"comment":     rec.Comment,
		"seen":        rec.Seen,
	}
	// Store-managed fields are set on records read back from the store;
	// records fresh out of a run don't carry them.
	if rec.ID != 0 {
		p["id"] = rec.ID
		p["created_at"] = rec.CreatedAt
		p["updated_at"] = rec.UpdatedAt
	}
	if rec.ReceptionDate != nil {
		p["reception_date"] = rec.ReceptionDate.Format(time.RFC3339)
	}
	if rec.DueDate != nil {
		p["due_date"] = rec.DueDate.Format(time.RFC3339)
	}
	return p
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
