package logsink

import (
	"context"

	"github.com/oriys/cloudcode/internal/logging"
	"github.com/oriys/cloudcode/internal/store"
)

// RequestLogSink writes invocation logs to the human-readable request log.
type RequestLogSink struct {
	logger *logging.Logger
}

// NewRequestLogSink creates a sink writing to l.
func NewRequestLogSink(l *logging.Logger) *RequestLogSink {
	return &RequestLogSink{logger: l}
}

func (s *RequestLogSink) Save(_ context.Context, log *store.InvocationLog) error {
	s.logger.Log(&logging.RequestLog{
		Timestamp:      log.CreatedAt,
		RequestID:      log.ID,
		TraceID:        log.TraceID,
		Function:       log.FunctionName,
		Method:         log.UpstreamMethod,
		URL:            log.UpstreamURL,
		UpstreamStatus: log.UpstreamStatus,
		DurationMs:     log.DurationMs,
		Success:        log.Success,
		Error:          log.ErrorMessage,
		InputSize:      log.InputSize,
		OutputSize:     log.OutputSize,
	})
	return nil
}

func (s *RequestLogSink) SaveBatch(ctx context.Context, logs []*store.InvocationLog) error {
	for _, log := range logs {
		_ = s.Save(ctx, log)
	}
	return nil
}

func (s *RequestLogSink) Close() error { return nil }
