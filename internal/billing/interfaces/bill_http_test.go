package interfaces

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"energy-billing/internal/audit"
	"energy-billing/internal/auth"
	billingapp "energy-billing/internal/billing/application"
	billing "energy-billing/internal/billing/domain"
	"energy-billing/internal/billing/infrastructure/memory"
	"energy-billing/internal/eventing"
	eventmemory "energy-billing/internal/eventing/infrastructure/memory"
)

type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *recordingAudit) Log(ctx context.Context, entry audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

type fixture struct {
	handler *BillHandler
	audit   *recordingAudit
	outbox  *eventmemory.OutboxStore
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.NewStore()
	store.PutTariff(billing.Tariff{
		ID: "t-var", Name: "Standard Variable", Code: "SVT", Kind: billing.TariffVariable,
		StandingChargePence: decimal.RequireFromString("50"),
	}, []billing.RateBand{{ID: "std", Label: "Standard", RatePencePerKWh: decimal.RequireFromString("25")}})
	store.AddAssignment(billing.Assignment{ID: "a1", CustomerID: "c1", TariffID: "t-var", EffectiveFrom: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)})
	store.AddAssignment(billing.Assignment{ID: "a2", CustomerID: "c2", TariffID: "t-var", EffectiveFrom: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)})
	store.AddProperty("c1", "p1", "EC1A 1BB")
	require.NoError(t, store.AddMeter(billing.Meter{ID: "m1", PropertyID: "p1", MPAN: "1"}))
	store.AddReadings(billing.Reading{MeterID: "m1", Timestamp: time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC), ValueKWh: decimal.RequireFromString("4")})

	outbox := eventmemory.NewOutboxStore()
	resolver, err := billingapp.NewTariffResolver(store, store)
	require.NoError(t, err)
	service, err := billingapp.NewBillService(resolver, store,
		billingapp.WithPublisher(NewOutboxPublisher(eventing.NewPublisher(outbox))))
	require.NoError(t, err)
	batch, err := billingapp.NewBatchGenerator(store, service, 2, 0, nil)
	require.NoError(t, err)

	recorder := &recordingAudit{}
	handler, err := NewBillHandler(service, batch, recorder, nil)
	require.NoError(t, err)
	return fixture{handler: handler, audit: recorder, outbox: outbox}
}

func (f fixture) do(t *testing.T, ctx context.Context, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body)).WithContext(ctx)
	resp := httptest.NewRecorder()
	f.handler.ServeHTTP(resp, req)
	return resp
}

func operator() context.Context {
	return auth.WithIdentity(context.Background(), "", auth.RoleOperator, "ops-1")
}

func generate(t *testing.T, f fixture, customerID string) billing.Bill {
	t.Helper()
	resp := f.do(t, operator(), http.MethodPost, "/api/v1/bills/generate",
		`{"customer_id":"`+customerID+`","period_start":"2024-01-01","period_end":"2024-01-31"}`)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var bill billing.Bill
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&bill))
	return bill
}

func TestNewBillHandler_NilService(t *testing.T) {
	_, err := NewBillHandler(nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestGenerate_CreatesBillAndAudits(t *testing.T) {
	f := newFixture(t)
	bill := generate(t, f, "c1")

	assert.Equal(t, "c1", bill.CustomerID)
	assert.Equal(t, "1600.00", bill.TotalAmountPence.StringFixed(2))
	require.Len(t, bill.LineItems, 2)
	assert.Equal(t, "m1", bill.LineItems[0].MeterID)

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, "bill.generate", f.audit.entries[0].Action)
	assert.Equal(t, "ops-1", f.audit.entries[0].Actor)
	assert.Equal(t, bill.ID, f.audit.entries[0].ResourceID)
	assert.Equal(t, 1, f.outbox.Pending())
}

func TestGenerate_ErrorMapping(t *testing.T) {
	f := newFixture(t)
	generate(t, f, "c1")

	cases := []struct {
		name string
		body string
		want int
	}{
		{name: "duplicate", body: `{"customer_id":"c1","period_start":"2024-01-01","period_end":"2024-01-31"}`, want: http.StatusConflict},
		{name: "no tariff", body: `{"customer_id":"nobody","period_start":"2024-01-01","period_end":"2024-01-31"}`, want: http.StatusUnprocessableEntity},
		{name: "missing customer", body: `{"period_start":"2024-01-01","period_end":"2024-01-31"}`, want: http.StatusBadRequest},
		{name: "end before start", body: `{"customer_id":"c1","period_start":"2024-02-01","period_end":"2024-01-31"}`, want: http.StatusBadRequest},
		{name: "invalid json", body: `{`, want: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := f.do(t, operator(), http.MethodPost, "/api/v1/bills/generate", tc.body)
			assert.Equal(t, tc.want, resp.Code, resp.Body.String())
		})
	}
}

func TestGetAndList(t *testing.T) {
	f := newFixture(t)
	bill := generate(t, f, "c1")

	resp := f.do(t, operator(), http.MethodGet, "/api/v1/bills/"+bill.ID, "")
	require.Equal(t, http.StatusOK, resp.Code)
	var got billing.Bill
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, bill.ID, got.ID)
	assert.True(t, got.Reconciles())

	own := auth.WithIdentity(context.Background(), "c1", auth.RoleCustomer, "u1")
	other := auth.WithIdentity(context.Background(), "c2", auth.RoleCustomer, "u2")
	assert.Equal(t, http.StatusOK, f.do(t, own, http.MethodGet, "/api/v1/bills/"+bill.ID, "").Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, other, http.MethodGet, "/api/v1/bills/"+bill.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, operator(), http.MethodGet, "/api/v1/bills/missing", "").Code)

	resp = f.do(t, own, http.MethodGet, "/api/v1/bills", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var list []billing.Bill
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Len(t, list, 1)

	assert.Equal(t, http.StatusBadRequest, f.do(t, operator(), http.MethodGet, "/api/v1/bills", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, operator(), http.MethodDelete, "/api/v1/bills/"+bill.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, operator(), http.MethodGet, "/api/v1/bills/"+bill.ID+"/export.pdf", "").Code)
}

func TestExportXLSX(t *testing.T) {
	f := newFixture(t)
	bill := generate(t, f, "c1")

	resp := f.do(t, operator(), http.MethodGet, "/api/v1/bills/"+bill.ID+"/export.xlsx", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", resp.Header().Get("Content-Type"))

	book, err := excelize.OpenReader(bytes.NewReader(resp.Body.Bytes()))
	require.NoError(t, err)
	defer book.Close()
	id, err := book.GetCellValue("summary", "B3")
	require.NoError(t, err)
	assert.Equal(t, bill.ID, id)
	kind, err := book.GetCellValue("line_items", "A3")
	require.NoError(t, err)
	assert.Equal(t, "standing_charge", kind)

	last := f.audit.entries[len(f.audit.entries)-1]
	assert.Equal(t, "bill.export", last.Action)
}

func TestGenerateAll(t *testing.T) {
	f := newFixture(t)
	generate(t, f, "c1")

	resp := f.do(t, auth.WithIdentity(context.Background(), "", auth.RoleAdmin, "admin"),
		http.MethodPost, "/api/v1/bills/generate-all", `{"period_start":"2024-01-01","period_end":"2024-01-31"}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var report billingapp.BatchReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, 1, report.Generated)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Failed)
}

func TestBuildBillXLSX_NilBill(t *testing.T) {
	_, err := BuildBillXLSX(nil, nil)
	assert.ErrorIs(t, err, billing.ErrNilBill)
}

func TestLoggingPublisher(t *testing.T) {
	assert.NoError(t, NewLoggingPublisher(nil).PublishBillGenerated(context.Background(), billingapp.BillGenerated{BillID: "b1"}))
	var p *LoggingPublisher
	assert.Error(t, p.PublishBillGenerated(context.Background(), billingapp.BillGenerated{}))
}
