/*
handlers.go - HTTP API handlers for the team closing engine

PURPOSE:
  Exposes the closing engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the closing Controller and Ledger.

ENDPOINTS:
  Employees (collaborator mirror):
    GET    /api/employees                             List employees
    POST   /api/employees                             Create or update employee

  Collaborator inputs:
    PUT    /api/sales-periods/{month}                 Upsert sales aggregate
    GET    /api/sales-periods/{month}                 Read sales aggregate
    POST   /api/service-sales                         Upsert service sale
    POST   /api/individual-goals                      Upsert individual goal

  Closings:
    GET    /api/closings                              List closings, newest first
    GET    /api/closings/{month}                      Closing + lines + totals
    PUT    /api/closings/{month}/config               Configure
    POST   /api/closings/{month}/recompute            Recompute one month
    POST   /api/closings/recompute                    Recompute many months
    GET    /api/closings/{month}/statements/{employeeID}  Statement (?format=text)

  Adjustments:
    GET    /api/closings/{month}/adjustments          List, most recent first
    POST   /api/closings/{month}/adjustments          Add credit/debit
    DELETE /api/adjustments/{id}                      Remove

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (controller, ledger)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Domain errors map to HTTP status in statusFor:
  - 400: ValidationError, malformed JSON, bad month
  - 404: NotFoundError
  - 409: ClosedPeriodError, InProgressError
  - 422: MissingPrerequisiteError
  - 500: StorageConsistencyError and anything else

SECURITY NOTE:
  No authentication or authorization. Role checks belong to the gateway.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/warp/team-closing/closing"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is everything the handlers read or write directly. Both
// sqlite.Store and store.Memory satisfy it.
type Store interface {
	closing.Repository

	ListEmployees(ctx context.Context) ([]closing.Employee, error)
	SaveEmployee(ctx context.Context, e closing.Employee) error
	SaveSalesPeriod(ctx context.Context, p closing.SalesPeriod) error
	SaveServiceSale(ctx context.Context, s closing.ServiceSale) error
	SaveIndividualGoal(ctx context.Context, g closing.IndividualGoal) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      Store
	Controller *closing.Controller
	Ledger     *closing.Ledger
	Logger     *zap.Logger
}

// NewHandler wires a controller and ledger on top of the given store.
func NewHandler(store Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Store:      store,
		Controller: closing.NewController(store, logger),
		Ledger:     closing.NewLedger(store, store, store, logger),
		Logger:     logger.Named("api"),
	}
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employees.
// GET /api/employees
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateEmployee creates or updates an employee.
// POST /api/employees
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if req.ServicesCommissionPct != nil && req.ServicesCommissionPct.IsNegative() {
		h.writeDomainError(w, r, &closing.ValidationError{Field: "services_commission_pct", Message: "must be >= 0"})
		return
	}

	emp := req.toEmployee()
	if err := h.Store.SaveEmployee(r.Context(), emp); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

// =============================================================================
// COLLABORATOR INPUT HANDLERS
// =============================================================================

// PutSalesPeriod upserts the sales aggregate of a month.
// PUT /api/sales-periods/{month}
func (h *Handler) PutSalesPeriod(w http.ResponseWriter, r *http.Request) {
	month, ok := monthParam(w, r)
	if !ok {
		return
	}
	var req SalesPeriodRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	p := closing.SalesPeriod{
		ReferenceMonth:      month,
		TotalMrr:            req.TotalMrr,
		QualifyingMrr:       req.QualifyingMrr,
		TotalRecurringSales: req.TotalRecurringSales,
		Status:              closing.SalesPeriodStatus(req.Status),
	}
	if p.Status == "" {
		p.Status = closing.SalesPeriodOpen
	}
	if err := h.Store.SaveSalesPeriod(r.Context(), p); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSalesPeriodDTO(p))
}

// GetSalesPeriod returns the sales aggregate of a month.
// GET /api/sales-periods/{month}
func (h *Handler) GetSalesPeriod(w http.ResponseWriter, r *http.Request) {
	month, ok := monthParam(w, r)
	if !ok {
		return
	}
	p, err := h.Store.SalesPeriod(r.Context(), month)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if p == nil {
		h.writeDomainError(w, r, &closing.NotFoundError{Kind: "sales period", ID: month.String()})
		return
	}
	writeJSON(w, http.StatusOK, toSalesPeriodDTO(*p))
}

// CreateServiceSale upserts a one-off service sale.
// POST /api/service-sales
func (h *Handler) CreateServiceSale(w http.ResponseWriter, r *http.Request) {
	var req ServiceSaleRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	month, err := closing.ParseMonth(req.PeriodMonth)
	if err != nil {
		h.writeDomainError(w, r, &closing.ValidationError{Field: "period_month", Message: err.Error()})
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	sale := closing.ServiceSale{
		ID:          req.ID,
		EmployeeID:  closing.EmployeeID(req.EmployeeID),
		PeriodMonth: month,
		Amount:      req.Amount,
		Status:      closing.ServiceSaleStatus(req.Status),
	}
	if err := h.Store.SaveServiceSale(r.Context(), sale); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": sale.ID})
}

// CreateIndividualGoal upserts an individual goal result.
// POST /api/individual-goals
func (h *Handler) CreateIndividualGoal(w http.ResponseWriter, r *http.Request) {
	var req IndividualGoalRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	month, err := closing.ParseMonth(req.PeriodMonth)
	if err != nil {
		h.writeDomainError(w, r, &closing.ValidationError{Field: "period_month", Message: err.Error()})
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	goal := closing.IndividualGoal{
		ID:          req.ID,
		EmployeeID:  closing.EmployeeID(req.EmployeeID),
		PeriodMonth: month,
		Description: req.Description,
		BonusValue:  req.BonusValue,
		BonusKind:   closing.BonusKind(req.BonusKind),
		Achieved:    req.Achieved,
	}
	if err := h.Store.SaveIndividualGoal(r.Context(), goal); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": goal.ID})
}

// =============================================================================
// CLOSING HANDLERS
// =============================================================================

// ListClosings returns all closings, newest month first.
// GET /api/closings
func (h *Handler) ListClosings(w http.ResponseWriter, r *http.Request) {
	closings, err := h.Store.ListClosings(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]ClosingDTO, len(closings))
	for i, tc := range closings {
		dtos[i] = toClosingDTO(tc)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetClosing returns a closing with its lines, adjustments and totals.
// GET /api/closings/{month}
func (h *Handler) GetClosing(w http.ResponseWriter, r *http.Request) {
	month, ok := monthParam(w, r)
	if !ok {
		return
	}
	view, err := h.Controller.Closing(r.Context(), month)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toClosingDetail(view))
}

// ConfigureClosing stores the month's configuration.
// PUT /api/closings/{month}/config
func (h *Handler) ConfigureClosing(w http.ResponseWriter, r *http.Request) {
	month, ok := monthParam(w, r)
	if !ok {
		return
	}
	var in closing.ConfigInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	tc, err := h.Controller.Configure(r.Context(), month, in)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toClosingDTO(tc))
}

// RecomputeClosing recalculates one month.
// POST /api/closings/{month}/recompute
func (h *Handler) RecomputeClosing(w http.ResponseWriter, r *http.Request) {
	month, ok := monthParam(w, r)
	if !ok {
		return
	}
	if _, err := h.Controller.Recompute(r.Context(), month); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	view, err := h.Controller.Closing(r.Context(), month)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toClosingDetail(view))
}

// RecomputeMany recalculates several months in parallel. The response is
// 200 with one outcome per distinct month, failures included.
// POST /api/closings/recompute
func (h *Handler) RecomputeMany(w http.ResponseWriter, r *http.Request) {
	var req RecomputeManyRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	months := make([]closing.Month, len(req.Months))
	for i, s := range req.Months {
		m, err := closing.ParseMonth(s)
		if err != nil {
			h.writeDomainError(w, r, &closing.ValidationError{Field: "months", Message: err.Error()})
			return
		}
		months[i] = m
	}

	outcomes := h.Controller.RecomputeMany(r.Context(), months)
	dtos := make([]RecomputeOutcomeDTO, len(outcomes))
	for i, o := range outcomes {
		dtos[i] = RecomputeOutcomeDTO{Month: o.Month.String(), OK: o.Err == nil}
		if o.Err != nil {
			dtos[i].Error = o.Err.Error()
		}
		if o.Closing != nil {
			c := toClosingDTO(*o.Closing)
			dtos[i].Closing = &c
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetStatement returns one employee's breakdown, as JSON or plain text.
// GET /api/closings/{month}/statements/{employeeID}
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	month, ok := monthParam(w, r)
	if !ok {
		return
	}
	employeeID := closing.EmployeeID(chi.URLParam(r, "employeeID"))

	st, err := h.Controller.Statement(r.Context(), month, employeeID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(st.Render()))
		return
	}
	writeJSON(w, http.StatusOK, toStatementDTO(st))
}

// =============================================================================
// ADJUSTMENT HANDLERS
// =============================================================================

// ListAdjustments returns a month's adjustments, most recent first.
// GET /api/closings/{month}/adjustments
func (h *Handler) ListAdjustments(w http.ResponseWriter, r *http.Request) {
	month, ok := monthParam(w, r)
	if !ok {
		return
	}
	adjs, err := h.Ledger.List(r.Context(), month)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAdjustmentDTOs(adjs))
}

// CreateAdjustment adds a credit or debit to a month's closing.
// POST /api/closings/{month}/adjustments
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	month, ok := monthParam(w, r)
	if !ok {
		return
	}
	var in closing.AdjustmentInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	in.Month = month

	adj, err := h.Ledger.Add(r.Context(), in)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAdjustmentDTO(adj))
}

// DeleteAdjustment removes an adjustment.
// DELETE /api/adjustments/{id}
func (h *Handler) DeleteAdjustment(w http.ResponseWriter, r *http.Request) {
	id := closing.AdjustmentID(chi.URLParam(r, "id"))
	if err := h.Ledger.Remove(r.Context(), id); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// HELPERS
// =============================================================================

func monthParam(w http.ResponseWriter, r *http.Request) (closing.Month, bool) {
	raw := chi.URLParam(r, "month")
	m, err := closing.ParseMonth(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid month %q", raw), err)
		return closing.Month{}, false
	}
	return m, true
}

// decodeAndValidate decodes a JSON body into dst and runs its validate tags.
// It writes the 400 response itself and reports whether to continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := closing.ValidateStruct(dst); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, closing.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, closing.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, closing.ErrClosedPeriod), errors.Is(err, closing.ErrInProgress):
		return http.StatusConflict
	case errors.Is(err, closing.ErrMissingPrerequisite):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusBadRequest {
		writeValidationError(w, err)
		return
	}
	if status >= http.StatusInternalServerError {
		h.Logger.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, status, "Internal error", err)
		return
	}
	writeError(w, status, http.StatusText(status), err)
}

func writeValidationError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: "Validation failed", Details: err.Error()}
	var verr *closing.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}
	writeJSON(w, http.StatusBadRequest, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
