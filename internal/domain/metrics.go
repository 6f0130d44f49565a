package domain

import "time"

// DispatchStatus labels the outcome of a dispatched HTTP request.
type DispatchStatus string

const (
	// DispatchStatusSuccess indicates the request reached a transport.
	DispatchStatusSuccess DispatchStatus = "success"
	// DispatchStatusError indicates the dispatcher answered with an error.
	DispatchStatusError DispatchStatus = "error"
)

// EvictionReason explains why a session left the store.
type EvictionReason string

const (
	EvictionIdle     EvictionReason = "idle"
	EvictionCapacity EvictionReason = "capacity"
	EvictionClient   EvictionReason = "client"
	EvictionClosed   EvictionReason = "closed"
	EvictionRejected EvictionReason = "rejected"
	EvictionShutdown EvictionReason = "shutdown"
)

// DispatchMetric captures one dispatched request.
type DispatchMetric struct {
	Mode     DispatchMode
	Method   string
	Status   DispatchStatus
	Code     ErrorCode
	Duration time.Duration
}

// ToolCallMetric captures one registry invocation.
type ToolCallMetric struct {
	Tool     string
	Code     ErrorCode
	Duration time.Duration
}

// Metrics records operational metrics for dispatch, sessions and tools.
type Metrics interface {
	ObserveDispatch(metric DispatchMetric)
	ObserveToolCall(metric ToolCallMetric)
	ObserveSessionCreated()
	ObserveSessionEvicted(reason EvictionReason)
	SetActiveSessions(count int)
}

// NoopMetrics discards all observations.
type NoopMetrics struct{}

func (NoopMetrics) ObserveDispatch(DispatchMetric) {}
func (NoopMetrics) ObserveToolCall(ToolCallMetric) {}
func (NoopMetrics) ObserveSessionCreated() {}
func (NoopMetrics) ObserveSessionEvicted(EvictionReason) {}
func (NoopMetrics) SetActiveSessions(int) {}

var _ Metrics = NoopMetrics{}
