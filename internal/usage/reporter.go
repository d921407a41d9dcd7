package usage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/webuildtrades/postcode-lookup/internal/logging"
	"github.com/webuildtrades/postcode-lookup/internal/metrics"
)

// Reporter writes usage for the lookup proxy. A failed write is reported on
// the audit log, the application log and a counter, and is never returned:
// accounting outages must not change what the client sees.
type Reporter struct {
	sink    Sink
	logger  *zap.Logger
	audit   *logging.AuditLogger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewReporter creates a Reporter over sink.
func NewReporter(sink Sink, logger *zap.Logger, audit *logging.AuditLogger, m *metrics.Metrics) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		sink:    sink,
		logger:  logger,
		audit:   audit,
		metrics: m,
		now:     time.Now,
	}
}

// Report appends exactly one record for userID and returns it. The returned
// record is what was attempted, whether or not the write succeeded.
func (r *Reporter) Report(ctx context.Context, userID, endpoint string, status Status) Record {
	rec := NewRecord(userID, endpoint, status, r.now())
	if err := r.sink.Record(ctx, rec); err != nil {
		logging.FromContext(ctx, r.logger).Error("Failed to record API usage",
			zap.String("usage_id", rec.ID),
			zap.String(logging.FieldUserID, userID),
			zap.String("endpoint", endpoint),
			zap.String("status", string(status)),
			zap.Error(err))
		r.audit.LogUsageWriteFailure(ctx, userID, endpoint, string(status), err)
		r.metrics.RecordUsageWriteFailure(endpoint)
	}
	return rec
}
