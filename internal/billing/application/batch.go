package application

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	billing "energy-billing/internal/billing/domain"
	"energy-billing/internal/observability/metrics"
)

// BatchOutcome is the per-customer result of a batch run.
type BatchOutcome string

const (
	BatchGenerated BatchOutcome = "generated"
	BatchSkipped   BatchOutcome = "skipped"
	BatchFailed    BatchOutcome = "failed"
)

// BatchResult reports one customer in a batch run.
type BatchResult struct {
	CustomerID string       `json:"customer_id"`
	Outcome    BatchOutcome `json:"outcome"`
	BillID     string       `json:"bill_id,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// BatchReport summarises a batch run.
type BatchReport struct {
	Period    string        `json:"period"`
	Generated int           `json:"generated"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Results   []BatchResult `json:"results"`
}

// BatchGenerator generates bills for every billable customer in a period.
type BatchGenerator struct {
	customers   CustomerLister
	bills       *BillService
	concurrency int
	limiter     *rate.Limiter
	logger      *zap.Logger
}

// NewBatchGenerator constructs a generator. perSecond <= 0 disables throttling.
func NewBatchGenerator(customers CustomerLister, bills *BillService, concurrency int, perSecond float64, logger *zap.Logger) (*BatchGenerator, error) {
	if customers == nil {
		return nil, errors.New("batch generator: nil customer lister")
	}
	if bills == nil {
		return nil, errors.New("batch generator: nil bill service")
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	limit := rate.Inf
	burst := concurrency
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchGenerator{
		customers:   customers,
		bills:       bills,
		concurrency: concurrency,
		limiter:     rate.NewLimiter(limit, burst),
		logger:      logger,
	}, nil
}

// GenerateForPeriod bills each customer once. Customers already billed for the
// period are skipped; other failures are recorded and do not stop the run.
func (g *BatchGenerator) GenerateForPeriod(ctx context.Context, period billing.Period) (*BatchReport, error) {
	start := time.Now()
	defer func() {
		metrics.ObserveBatch(time.Since(start))
	}()

	customerIDs, err := g.customers.ListBillableCustomers(ctx, period.End)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		results = make([]BatchResult, 0, len(customerIDs))
	)
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(g.concurrency)
	for _, customerID := range customerIDs {
		customerID := customerID
		group.Go(func() error {
			if err := g.limiter.Wait(gctx); err != nil {
				return err
			}
			res := g.generateOne(gctx, customerID, period)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].CustomerID < results[j].CustomerID })
	report := &BatchReport{Period: period.String(), Results: results}
	for _, res := range results {
		switch res.Outcome {
		case BatchGenerated:
			report.Generated++
		case BatchSkipped:
			report.Skipped++
		default:
			report.Failed++
		}
	}
	g.logger.Info("batch generation finished",
		zap.String("period", report.Period),
		zap.Int("generated", report.Generated),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Duration("elapsed", time.Since(start)))
	return report, nil
}

func (g *BatchGenerator) generateOne(ctx context.Context, customerID string, period billing.Period) BatchResult {
	bill, err := g.bills.GenerateBill(ctx, customerID, period)
	switch {
	case err == nil:
		metrics.IncBatchCustomer(string(BatchGenerated))
		return BatchResult{CustomerID: customerID, Outcome: BatchGenerated, BillID: bill.ID}
	case errors.Is(err, billing.ErrDuplicateBill):
		metrics.IncBatchCustomer(string(BatchSkipped))
		return BatchResult{CustomerID: customerID, Outcome: BatchSkipped, Error: err.Error()}
	default:
		metrics.IncBatchCustomer(string(BatchFailed))
		return BatchResult{CustomerID: customerID, Outcome: BatchFailed, Error: err.Error()}
	}
}
