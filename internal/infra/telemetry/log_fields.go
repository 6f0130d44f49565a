package telemetry

import (
	"time"

	"go.uber.org/zap"
)

const (
	FieldEvent      = "event"
	FieldMode       = "mode"
	FieldSessionID  = "session_id"
	FieldTool       = "tool"
	FieldMethod     = "method"
	FieldReason     = "reason"
	FieldDurationMs = "duration_ms"
	FieldRequestID  = "request_id"
	FieldTraceID    = "trace_id"
	FieldSpanID     = "span_id"
)

const (
	EventSessionCreated  = "session_created"
	EventSessionEvicted  = "session_evicted"
	EventSessionSeeded   = "session_seeded"
	EventSessionRejected = "session_rejected"
	EventDispatchError   = "dispatch_error"
	EventDispatchPanic   = "dispatch_panic"
	EventConfigReloaded  = "config_reloaded"
	EventRestartRequired = "restart_required"
)

func EventField(event string) zap.Field {
	return zap.String(FieldEvent, event)
}

func ModeField(mode string) zap.Field {
	return zap.String(FieldMode, mode)
}

func SessionIDField(id string) zap.Field {
	return zap.String(FieldSessionID, id)
}

func ToolField(name string) zap.Field {
	return zap.String(FieldTool, name)
}

func MethodField(method string) zap.Field {
	return zap.String(FieldMethod, method)
}

func ReasonField(reason string) zap.Field {
	return zap.String(FieldReason, reason)
}

func DurationField(duration time.Duration) zap.Field {
	return zap.Int64(FieldDurationMs, duration.Milliseconds())
}

func RequestIDField(value string) zap.Field {
	return zap.String(FieldRequestID, value)
}

func TraceIDField(value string) zap.Field {
	return zap.String(FieldTraceID, value)
}

func SpanIDField(value string) zap.Field {
	return zap.String(FieldSpanID, value)
}
