// Package handler provides HTTP request handlers for the kilometrage API.
package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strings"
	"time"

	apierrors "github.com/froz-husain/kmstore/internal/errors"
	"github.com/froz-husain/kmstore/internal/model"
	"github.com/froz-husain/kmstore/internal/validation"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// IdempotencyHeader carries the optional client key that makes a
// resubmitted save or absence a no-op.
const IdempotencyHeader = "Idempotency-Key"

// RecordStore is the part of the record service the handlers use.
type RecordStore interface {
	AppendReading(ctx context.Context, in *model.ReadingInput) (*model.AppendResult, error)
	AppendAbsence(ctx context.Context, in *model.AbsenceInput) (*model.AppendResult, error)
	ReadMonth(ctx context.Context, site, yearMonth string) ([]model.MileageRecord, error)
	ReadYear(ctx context.Context, site, year string) ([]model.MileageRecord, error)
	ReadDay(ctx context.Context, site, date string, filter model.DayFilter) ([]model.MileageRecord, error)
	ReadRegistry(ctx context.Context, site string) ([]model.RouteAssignment, error)
	AssignNewRouteID(ctx context.Context, site, routeCode string) (string, error)
	AssignDriver(ctx context.Context, routeID, driverName, driverCode string) (*model.RouteAssignment, error)
	ListSites(ctx context.Context) ([]string, error)
	ListPeriods(ctx context.Context, site string) ([]string, error)
	Ping(ctx context.Context) error
	BaseDir() string
	PendingWrites() int
}

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	store        RecordStore
	errorHandler *apierrors.Handler
	logger       *zap.Logger
	timeout      time.Duration
}

// NewHandlers creates a new Handlers instance. timeout bounds each call
// into the store; zero leaves the request context as is.
func NewHandlers(store RecordStore, errorHandler *apierrors.Handler, logger *zap.Logger, timeout time.Duration) *Handlers {
	return &Handlers{
		store:        store,
		errorHandler: errorHandler,
		logger:       logger,
		timeout:      timeout,
	}
}

type successResponse struct {
	Success   bool   `json:"success"`
	Duplicate bool   `json:"duplicate,omitempty"`
	ID        string `json:"id,omitempty"`
}

type saveRequest struct {
	Agence        model.LooseString `json:"agence"`
	CodeAgence    model.LooseString `json:"codeAgence"`
	Tournee       model.LooseString `json:"tournee"`
	CodeTournee   model.LooseString `json:"codeTournee"`
	Chauffeur     model.LooseString `json:"chauffeur"`
	CodeChauffeur model.LooseString `json:"codeChauffeur"`
	Date          model.LooseString `json:"date"`
	Km            json.RawMessage   `json:"km"`
	Commentaire   model.LooseString `json:"commentaire"`
	ID            model.LooseString `json:"id"`
	Horaire       model.LooseString `json:"horaire"`
}

type absenceRequest struct {
	Agence        model.LooseString `json:"agence"`
	CodeAgence    model.LooseString `json:"codeAgence"`
	Tournee       model.LooseString `json:"tournee"`
	CodeTournee   model.LooseString `json:"codeTournee"`
	Chauffeur     model.LooseString `json:"chauffeur"`
	CodeChauffeur model.LooseString `json:"codeChauffeur"`
	Date          model.LooseString `json:"date"`
	Note          model.LooseString `json:"note"`
}

type newIDRequest struct {
	Agence      model.LooseString `json:"agence"`
	CodeTournee model.LooseString `json:"codeTournee"`
}

type driverRequest struct {
	Transporteur     model.LooseString `json:"transporteur"`
	CodeTransporteur model.LooseString `json:"codeTransporteur"`
}

// SaveReading handles POST /api/kilometrage/save requests.
func (h *Handlers) SaveReading(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := decodeBody(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	km, err := validation.ParseOdometer(req.Km)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	result, err := h.store.AppendReading(ctx, &model.ReadingInput{
		RouteID:        string(req.ID),
		Site:           string(req.Agence),
		SiteCode:       string(req.CodeAgence),
		RouteName:      string(req.Tournee),
		RouteCode:      string(req.CodeTournee),
		DriverName:     string(req.Chauffeur),
		DriverCode:     string(req.CodeChauffeur),
		Date:           string(req.Date),
		Km:             km,
		TimeSlot:       string(req.Horaire),
		Comment:        string(req.Commentaire),
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
	})
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, successResponse{Success: true, Duplicate: result.Duplicate})
}

// SaveAbsence handles POST /api/kilometrage/absent requests.
func (h *Handlers) SaveAbsence(w http.ResponseWriter, r *http.Request) {
	var req absenceRequest
	if err := decodeBody(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	result, err := h.store.AppendAbsence(ctx, &model.AbsenceInput{
		Site:           string(req.Agence),
		SiteCode:       string(req.CodeAgence),
		RouteName:      string(req.Tournee),
		RouteCode:      string(req.CodeTournee),
		DriverName:     string(req.Chauffeur),
		DriverCode:     string(req.CodeChauffeur),
		Date:           string(req.Date),
		Note:           string(req.Note),
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
	})
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, successResponse{Success: true, Duplicate: result.Duplicate})
}

// GetParams handles GET /api/kilometrage/params requests.
// The response is the bare array of assignments.
func (h *Handlers) GetParams(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	rows, err := h.store.ReadRegistry(ctx, strings.TrimSpace(r.URL.Query().Get("agence")))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if rows == nil {
		rows = []model.RouteAssignment{}
	}
	h.writeJSONResponse(w, http.StatusOK, rows)
}

// NewRouteID handles POST /api/kilometrage/newid requests.
func (h *Handlers) NewRouteID(w http.ResponseWriter, r *http.Request) {
	var req newIDRequest
	if err := decodeBody(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	id, err := h.store.AssignNewRouteID(ctx, string(req.Agence), string(req.CodeTournee))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, successResponse{Success: true, ID: id})
}

// AssignDriver handles PUT /api/kilometrage/params/{id}/driver requests.
func (h *Handlers) AssignDriver(w http.ResponseWriter, r *http.Request) {
	var req driverRequest
	if err := decodeBody(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	row, err := h.store.AssignDriver(ctx, mux.Vars(r)["id"], string(req.Transporteur), string(req.CodeTransporteur))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"row":     row,
	})
}

// GetData handles GET /api/kilometrage/data requests. A month parameter
// narrows the result to one partition; otherwise the whole year is read.
func (h *Handlers) GetData(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	site := strings.TrimSpace(q.Get("agence"))

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	var (
		records []model.MileageRecord
		err     error
	)
	if month := strings.TrimSpace(q.Get("month")); month != "" {
		records, err = h.store.ReadMonth(ctx, site, month)
	} else {
		records, err = h.store.ReadYear(ctx, site, strings.TrimSpace(q.Get("year")))
	}
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if records == nil {
		records = []model.MileageRecord{}
	}
	h.writeJSONResponse(w, http.StatusOK, records)
}

// GetResume handles GET /api/kilometrage/resume requests.
func (h *Handlers) GetResume(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	rows, err := h.store.ReadDay(ctx,
		strings.TrimSpace(q.Get("agence")),
		strings.TrimSpace(q.Get("date")),
		model.DayFilter{
			RouteID:    q.Get("id"),
			RouteCode:  q.Get("codeTournee"),
			DriverCode: q.Get("codeChauffeur"),
		})
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"rows":    rows,
	})
}

// ListSites handles GET /api/kilometrage/sites requests.
func (h *Handlers) ListSites(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	sites, err := h.store.ListSites(ctx)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"sites":   sites,
	})
}

// ListPeriods handles GET /api/kilometrage/sites/{site}/periods requests.
func (h *Handlers) ListPeriods(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	periods, err := h.store.ListPeriods(ctx, mux.Vars(r)["site"])
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"periods": periods,
	})
}

// Healthz handles GET /api/kilometrage/healthz requests. It pings the
// backend on every call, unlike the cached /ready check.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("Backend health check failed", zap.Error(err))
		h.errorHandler.WriteErrorResponse(w, http.StatusInternalServerError,
			apierrors.GetCode(err), err.Error(), r.Header.Get("X-Request-ID"))
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"dir":           h.store.BaseDir(),
		"pendingWrites": h.store.PendingWrites(),
	})
}

func (h *Handlers) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.timeout)
}

// writeJSONResponse writes a JSON response to the HTTP response writer.
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

// decodeBody reads a JSON object into v. An empty body decodes as an
// empty object so that missing fields are reported by validation.
func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || stderrors.Is(err, io.EOF) {
		return nil
	}
	var maxErr *http.MaxBytesError
	if stderrors.As(err, &maxErr) {
		return apierrors.BodyTooLarge(maxErr.Limit)
	}
	return apierrors.InvalidArgument("request body is not valid JSON", err)
}
