// Package oplog provides booking.OperationLogger sinks.
package oplog

import (
	"context"

	"github.com/movewan/merryhere-sub000/pkg/booking"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const metricsNamespace = "merryhere"

// ZapLogger writes one structured line per operation.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger returns a ZapLogger; a nil logger falls back to zap.NewNop.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger}
}

func (zapLogger *ZapLogger) LogOperation(ctx context.Context, entry booking.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if value := entry.AccountID.String(); value != "" {
		fields = append(fields, zap.String("account_id", value))
	}
	if value := entry.RoomID.String(); value != "" {
		fields = append(fields, zap.String("room_id", value))
	}
	if value := entry.BookingID.String(); value != "" {
		fields = append(fields, zap.String("booking_id", value))
	}
	if !entry.Day.IsZero() {
		fields = append(fields, zap.String("day", entry.Day.String()), zap.String("slot", entry.Slot.String()))
	}
	if value := entry.Axis.String(); value != "" {
		fields = append(fields, zap.String("axis", value))
	}
	if entry.Points != 0 {
		fields = append(fields, zap.Int64("points", entry.Points.Int64()))
	}
	if entry.Error != nil {
		fields = append(fields,
			zap.String("error_kind", string(booking.Classify(entry.Error))),
			zap.Error(entry.Error),
		)
		zapLogger.logger.Warn("booking operation failed", fields...)
		return
	}
	zapLogger.logger.Info("booking operation", fields...)
}

// MetricsLogger counts operations by outcome and tracks charged points.
type MetricsLogger struct {
	operations *prometheus.CounterVec
	points     *prometheus.HistogramVec
}

// NewMetricsLogger registers the operation metrics on registerer. A nil registerer uses
// the default prometheus registry.
func NewMetricsLogger(registerer prometheus.Registerer) *MetricsLogger {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)
	return &MetricsLogger{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "booking",
			Name:      "operations_total",
			Help:      "Booking and ledger operations by outcome and error kind.",
		}, []string{"operation", "status", "kind"}),
		points: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "booking",
			Name:      "points",
			Help:      "Points moved by successful operations.",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		}, []string{"operation", "axis"}),
	}
}

func (metricsLogger *MetricsLogger) LogOperation(ctx context.Context, entry booking.OperationLog) {
	kind := string(booking.Classify(entry.Error))
	if kind == "" {
		kind = "none"
	}
	metricsLogger.operations.WithLabelValues(entry.Operation, entry.Status, kind).Inc()
	if entry.Error == nil && entry.Points != 0 {
		metricsLogger.points.WithLabelValues(entry.Operation, entry.Axis.String()).Observe(float64(entry.Points.Int64()))
	}
}

// Chain fans one entry out to several loggers in order. Nil loggers are skipped.
type Chain []booking.OperationLogger

func (chain Chain) LogOperation(ctx context.Context, entry booking.OperationLog) {
	for _, logger := range chain {
		if logger == nil {
			continue
		}
		logger.LogOperation(ctx, entry)
	}
}

var (
	_ booking.OperationLogger = (*ZapLogger)(nil)
	_ booking.OperationLogger = (*MetricsLogger)(nil)
	_ booking.OperationLogger = Chain(nil)
)
