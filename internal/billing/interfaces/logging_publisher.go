package interfaces

import (
	"context"
	"errors"

	"go.uber.org/zap"

	billingapp "energy-billing/internal/billing/application"
)

// LoggingPublisher logs bill generated events.
type LoggingPublisher struct {
	logger *zap.Logger
}

// NewLoggingPublisher constructs a logging publisher.
func NewLoggingPublisher(logger *zap.Logger) *LoggingPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingPublisher{logger: logger}
}

// PublishBillGenerated logs the event.
func (p *LoggingPublisher) PublishBillGenerated(ctx context.Context, event billingapp.BillGenerated) error {
	_ = ctx
	if p == nil {
		return errors.New("bill publisher: nil publisher")
	}
	p.logger.Info("bill generated event",
		zap.String("bill_id", event.BillID),
		zap.String("customer_id", event.CustomerID),
		zap.String("period_start", event.PeriodStart.Format("2006-01-02")),
		zap.String("period_end", event.PeriodEnd.Format("2006-01-02")),
		zap.String("total_amount_pence", event.TotalAmountPence))
	return nil
}
