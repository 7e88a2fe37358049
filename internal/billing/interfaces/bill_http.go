package interfaces

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"energy-billing/internal/audit"
	"energy-billing/internal/auth"
	billingapp "energy-billing/internal/billing/application"
	billing "energy-billing/internal/billing/domain"
	"energy-billing/internal/eventing"
	"energy-billing/internal/observability/metrics"
)

const requestIDHeader = "X-Request-ID"

// BillHandler handles bill APIs under /api/v1/bills.
type BillHandler struct {
	service     *billingapp.BillService
	batch       *billingapp.BatchGenerator
	auditLogger audit.Logger
	logger      *zap.Logger
}

// NewBillHandler constructs a handler. batch may be nil, which disables
// generate-all.
func NewBillHandler(service *billingapp.BillService, batch *billingapp.BatchGenerator, auditLogger audit.Logger, logger *zap.Logger) (*BillHandler, error) {
	if service == nil {
		return nil, errors.New("bill handler: nil service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BillHandler{service: service, batch: batch, auditLogger: auditLogger, logger: logger}, nil
}

// ServeHTTP routes bill requests.
func (h *BillHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == "/api/v1/bills/generate" && r.Method == http.MethodPost:
		h.handleGenerate(w, r)
		return
	case path == "/api/v1/bills/generate-all" && r.Method == http.MethodPost:
		h.handleGenerateAll(w, r)
		return
	case path == "/api/v1/bills" && r.Method == http.MethodGet:
		h.handleList(w, r)
		return
	case strings.HasPrefix(path, "/api/v1/bills/"):
		h.handleByID(w, r, strings.TrimPrefix(path, "/api/v1/bills/"))
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

type periodRequest struct {
	CustomerID  string `json:"customer_id"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
}

func (h *BillHandler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req periodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	period, err := billing.ParsePeriod(req.PeriodStart, req.PeriodEnd)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	ctx := r.Context()
	if id := r.Header.Get(requestIDHeader); id != "" {
		ctx = eventing.WithCorrelationID(ctx, id)
	}
	bill, err := h.service.GenerateBill(ctx, req.CustomerID, period)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bill)
	h.logAudit(r, bill.CustomerID, bill.ID, "bill.generate", map[string]any{
		"period":             period.String(),
		"total_amount_pence": bill.TotalAmountPence.StringFixed(2),
	})
}

func (h *BillHandler) handleGenerateAll(w http.ResponseWriter, r *http.Request) {
	if h.batch == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	var req periodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	period, err := billing.ParsePeriod(req.PeriodStart, req.PeriodEnd)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	report, err := h.batch.GenerateForPeriod(r.Context(), period)
	if err != nil {
		h.logger.Error("batch generation failed", zap.String("period", period.String()), zap.Error(err))
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
	h.logAudit(r, "", "", "bill.generate_all", map[string]any{
		"period":    report.Period,
		"generated": report.Generated,
		"skipped":   report.Skipped,
		"failed":    report.Failed,
	})
}

func (h *BillHandler) handleList(w http.ResponseWriter, r *http.Request) {
	bills, err := h.service.ListBills(r.Context(), r.URL.Query().Get("customer_id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bills)
}

func (h *BillHandler) handleByID(w http.ResponseWriter, r *http.Request, rest string) {
	if rest == "" || r.Method != http.MethodGet {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	switch {
	case len(parts) == 1:
		h.handleGet(w, r, id)
		return
	case len(parts) == 2 && parts[1] == "export.xlsx":
		h.handleExportXLSX(w, r, id)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (h *BillHandler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	bill, err := h.service.GetBill(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bill)
}

func (h *BillHandler) handleExportXLSX(w http.ResponseWriter, r *http.Request, id string) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveBillExport("xlsx", result, time.Since(start))
	}()

	bill, err := h.service.GetBill(r.Context(), id)
	if err != nil {
		result = metrics.ResultError
		respondServiceError(w, err)
		return
	}
	data, err := BuildBillXLSX(bill, h.service.Location())
	if err != nil {
		result = metrics.ResultError
		h.logger.Error("bill export failed", zap.String("bill_id", id), zap.Error(err))
		http.Error(w, "export xlsx error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="bill-`+bill.ID+`.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	h.logAudit(r, bill.CustomerID, bill.ID, "bill.export", map[string]any{"format": "xlsx"})
}

func (h *BillHandler) logAudit(r *http.Request, customerID, billID, action string, meta map[string]any) {
	if h.auditLogger == nil {
		return
	}
	payload, _ := json.Marshal(meta)
	err := h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "bill",
		ResourceID:   billID,
		CustomerID:   customerID,
		Metadata:     payload,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
	if err != nil {
		h.logger.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondServiceError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, auth.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, billing.ErrBillNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, billing.ErrDuplicateBill):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, billing.ErrNoApplicableTariff),
		errors.Is(err, billing.ErrMissingRateBands),
		errors.Is(err, billing.ErrTariffNotFound):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, billing.ErrEmptyCustomerID),
		errors.Is(err, billing.ErrInvalidPeriod):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
