package scheduling

import (
	"go.uber.org/zap"
)

// ElementLogger is a hook that logs element starts and ends.
type ElementLogger struct {
	logger *zap.Logger
}

// NewElementLogger returns an ElementLogger that writes into logger.
func NewElementLogger(logger *zap.Logger) *ElementLogger {
	return &ElementLogger{logger: logger}
}

// Func writes the element information into the logger.
func (h *ElementLogger) Func(ctx HookCtx) {
	step, ok := ctx.Item.(ElementStep)
	if !ok {
		return
	}

	tl, ok := ctx.Domain.(*Timeline)
	if !ok {
		return
	}

	fields := []zap.Field{
		zap.String("timeline", tl.Name()),
		zap.Int64("now", int64(tl.Now())),
		zap.String("handle", step.Handle.ID()),
		zap.String("element", ElementName(step.Element)),
		zap.Uint64("node", uint64(step.NodeID)),
	}

	switch ctx.Pos {
	case HookPosElementStart:
		h.logger.Debug("element started", fields...)
	case HookPosElementEnd:
		fields = append(fields, zap.Stringer("state", step.State))
		if step.Err != nil {
			fields = append(fields, zap.Error(step.Err))
		}

		h.logger.Debug("element ended", fields...)
	}
}
