package logging

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"marketintel/internal/types"
)

// CycleLogger writes one structured entry per Think/Act/Observe cycle.
// It satisfies reasoning.CycleSink.
type CycleLogger struct {
	logger *zap.Logger
}

// NewCycleLogger creates a cycle sink on top of logger.
func NewCycleLogger(logger *zap.Logger) *CycleLogger {
	return &CycleLogger{logger: Named(logger, CategoryCycle)}
}

// Emit logs the cycle. Failed steps log at warn level.
func (l *CycleLogger) Emit(_ context.Context, c types.Cycle) error {
	level := zapcore.InfoLevel
	if !c.Success {
		level = zapcore.WarnLevel
	}
	if ce := l.logger.Check(level, "cycle"); ce != nil {
		ce.Write(CycleFields(c)...)
	}
	return nil
}

// CycleFields returns the structured fields of a cycle.
func CycleFields(c types.Cycle) []zap.Field {
	fields := []zap.Field{
		zap.String("run_id", c.RunID),
		zap.Int("seq", c.Seq),
		zap.String("category", string(c.Category)),
		zap.String("tool", c.Tool),
		zap.Int("attempt", c.Attempt),
		zap.String("thought", c.Thought),
		zap.Bool("success", c.Success),
		zap.Int("records", c.Records),
		zap.Float64("confidence", c.Confidence),
		zap.Float64("coverage", c.Coverage),
		zap.String("state", c.State),
		zap.Duration("elapsed", c.Elapsed),
	}
	if c.Failure != types.FailureNone {
		fields = append(fields, zap.String("failure", string(c.Failure)))
	}
	if c.Error != "" {
		fields = append(fields, zap.String("error", c.Error))
	}
	return fields
}
