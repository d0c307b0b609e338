// Package httpapi exposes the dispatcher's operational control surface.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/swap_dispatcher/internal/app/domain/account"
	"github.com/R3E-Network/swap_dispatcher/internal/app/domain/amount"
	"github.com/R3E-Network/swap_dispatcher/internal/app/domain/order"
	"github.com/R3E-Network/swap_dispatcher/internal/app/metrics"
	"github.com/R3E-Network/swap_dispatcher/internal/app/services/amounts"
	"github.com/R3E-Network/swap_dispatcher/internal/app/services/batch"
	"github.com/R3E-Network/swap_dispatcher/internal/app/services/dispatch"
	"github.com/R3E-Network/swap_dispatcher/internal/app/services/orders"
	"github.com/R3E-Network/swap_dispatcher/internal/app/services/scheduler"
	"github.com/R3E-Network/swap_dispatcher/internal/app/storage"
	"github.com/R3E-Network/swap_dispatcher/internal/httputil"
	"github.com/R3E-Network/swap_dispatcher/pkg/logger"
)

const maxBodyBytes = 4 << 20

// Scheduler is the lifecycle and manual-trigger surface of the scheduler.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	ListJobs() []scheduler.Job
	State() scheduler.State
	RunOrderCreation(ctx context.Context) (order.ExecutionOrder, error)
	RunDispatch(ctx context.Context) (*dispatch.Run, error)
}

// Orders imports accounts and lists recent orders.
type Orders interface {
	ImportAccounts(ctx context.Context, accts []account.Account) (int, error)
	Recent(ctx context.Context, limit int) ([]order.ExecutionOrder, error)
}

// Amounts manages the amount table.
type Amounts interface {
	Replace(ctx context.Context, entries []amount.Entry) error
	List(ctx context.Context) ([]amount.Entry, error)
}

// Services groups the collaborators the handler drives.
type Services struct {
	Scheduler Scheduler
	Orders    Orders
	Amounts   Amounts
	// Audit records control actions; a fresh in-memory log is used when nil.
	Audit *AuditLog
}

type handler struct {
	svc   Services
	audit *AuditLog
	log   *logger.Logger
}

type jobView struct {
	Name    string `json:"name"`
	Next    string `json:"next"`
	Running bool   `json:"running"`
}

// NewHandler returns a router exposing the control surface.
func NewHandler(svc Services, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	audit := svc.Audit
	if audit == nil {
		audit = NewAuditLog(defaultAuditCapacity, nil)
	}
	h := &handler{svc: svc, audit: audit, log: log}

	r := mux.NewRouter()
	r.Use(h.auditMutations)
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	cron := r.PathPrefix("/cron").Subrouter()
	cron.HandleFunc("/start", h.cronStart).Methods(http.MethodPost)
	cron.HandleFunc("/restart", h.cronRestart).Methods(http.MethodPost)
	cron.HandleFunc("/stop", h.cronStop).Methods(http.MethodPost)
	cron.HandleFunc("/list", h.cronList).Methods(http.MethodGet)

	r.HandleFunc("/accounts/import", h.importAccounts).Methods(http.MethodPost)
	r.HandleFunc("/swap-amounts", h.replaceAmounts).Methods(http.MethodPost, http.MethodPut)
	r.HandleFunc("/swap-amounts", h.listAmounts).Methods(http.MethodGet)
	r.HandleFunc("/orders", h.listOrders).Methods(http.MethodGet)
	r.HandleFunc("/orders/create", h.createOrder).Methods(http.MethodPost)
	r.HandleFunc("/dispatch/run", h.runDispatch).Methods(http.MethodPost)
	r.HandleFunc("/audit", h.listAudit).Methods(http.MethodGet)

	return metrics.InstrumentHandler(r)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"scheduler": string(h.svc.Scheduler.State()),
	})
}

func (h *handler) cronStart(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Scheduler.Start(r.Context()); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, fmt.Errorf("could not start cronjob: %w", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"message": "cronjob started"})
}

func (h *handler) cronRestart(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Scheduler.Restart(r.Context()); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, fmt.Errorf("could not restart cronjob: %w", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"message": "cronjob restarted"})
}

func (h *handler) cronStop(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Scheduler.Stop(r.Context()); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, fmt.Errorf("could not stop cronjob: %w", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"message": "cronjob stopped"})
}

func (h *handler) cronList(w http.ResponseWriter, r *http.Request) {
	jobs := h.svc.Scheduler.ListJobs()
	views := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, jobView{Name: j.Name, Next: j.NextString(), Running: j.Running})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("%d cronjobs registered, scheduler %s", len(views), h.svc.Scheduler.State()),
		"jobs":    views,
	})
}

func (h *handler) importAccounts(w http.ResponseWriter, r *http.Request) {
	var payload []account.Account
	if err := httputil.DecodeJSON(r.Body, maxBodyBytes, &payload); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}
	n, err := h.svc.Orders.ImportAccounts(r.Context(), payload)
	if err != nil {
		httputil.WriteError(w, statusFor(err), err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]int{"imported": n})
}

func (h *handler) replaceAmounts(w http.ResponseWriter, r *http.Request) {
	var payload []amount.Entry
	if err := httputil.DecodeJSON(r.Body, maxBodyBytes, &payload); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.svc.Amounts.Replace(r.Context(), payload); err != nil {
		httputil.WriteError(w, statusFor(err), err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"entries": len(payload)})
}

func (h *handler) listAmounts(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Amounts.List(r.Context())
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}

func (h *handler) listOrders(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	list, err := h.svc.Orders.Recent(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ord, err := h.svc.Scheduler.RunOrderCreation(r.Context())
	if err != nil {
		httputil.WriteError(w, statusFor(err), err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, ord.Redacted())
}

func (h *handler) runDispatch(w http.ResponseWriter, r *http.Request) {
	run, err := h.svc.Scheduler.RunDispatch(r.Context())
	if err != nil {
		h.log.WithError(err).Warn("manual dispatch failed")
		httputil.WriteError(w, statusFor(err), err)
		return
	}
	if run == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	run.Order = run.Order.Redacted()
	httputil.WriteJSON(w, http.StatusOK, run)
}

func (h *handler) listAudit(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.audit.Recent(limit))
}

func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 50, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > 500 {
		httputil.WriteError(w, http.StatusBadRequest, errors.New("limit must be between 1 and 500"))
		return 0, false
	}
	return n, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orders.ErrInvalidAccount),
		errors.Is(err, amounts.ErrInvalidTable):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, batch.ErrRangeUnavailable),
		errors.Is(err, orders.ErrAccountNotFound),
		errors.Is(err, amounts.ErrAmountNotFound):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
