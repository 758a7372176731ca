package process

import "context"

// NullTraceLogger is a no-op implementation of TraceLogger.
type NullTraceLogger struct{}

func NewNullTraceLogger() *NullTraceLogger {
	return &NullTraceLogger{}
}

func (l *NullTraceLogger) LogStep(ctx context.Context, entry *StepTraceEntry) error {
	return nil
}

func (l *NullTraceLogger) GetTrace(ctx context.Context, executionID string) ([]*StepTraceEntry, error) {
	return nil, nil
}
