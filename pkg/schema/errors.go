package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeExecution           = "EXECUTION_ERROR"
	ErrCodeTimeout             = "TIMEOUT_ERROR"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeConflict            = "CONFLICT"
	ErrCodeInvalidTransition   = "INVALID_TRANSITION"
	ErrCodeCycleDetected       = "CYCLE_DETECTED"
	ErrCodeStore               = "STORE_ERROR"
	ErrCodeInternal            = "INTERNAL_ERROR"
	ErrCodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	ErrCodeSandboxNotFound     = "SANDBOX_NOT_FOUND"
	ErrCodeSessionNotFound     = "SESSION_NOT_FOUND"
	ErrCodeCircuitOpen         = "CIRCUIT_OPEN"
	ErrCodeWorkflowExecution   = "WORKFLOW_EXECUTION_ERROR"
	ErrCodeToolNotFound        = "TOOL_NOT_FOUND"
	ErrCodeToolDisabled        = "TOOL_DISABLED"
	ErrCodeQueueFull           = "QUEUE_FULL"
	ErrCodeUpstream            = "UPSTREAM_ERROR"
	ErrCodeUpstreamRateLimited = "UPSTREAM_RATE_LIMITED"
)

// DrivelineError is the structured error type for all driveline operations.
type DrivelineError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StepID  string         `json:"step_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *DrivelineError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *DrivelineError) Unwrap() error {
	return e.Cause
}

// NewError creates a new DrivelineError.
func NewError(code, message string) *DrivelineError {
	return &DrivelineError{Code: code, Message: message}
}

// NewErrorf creates a new DrivelineError with a formatted message.
func NewErrorf(code, format string, args ...any) *DrivelineError {
	return &DrivelineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step ID to the error.
func (e *DrivelineError) WithStep(stepID string) *DrivelineError {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *DrivelineError) WithCause(err error) *DrivelineError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *DrivelineError) WithDetails(details map[string]any) *DrivelineError {
	e.Details = details
	return e
}

// NewSandboxNotFound reports an absent or deactivated sandbox.
func NewSandboxNotFound(sandboxID string) *DrivelineError {
	return NewErrorf(ErrCodeSandboxNotFound, "sandbox %q not found or inactive", sandboxID).
		WithDetails(map[string]any{"sandbox_id": sandboxID})
}

// NewSessionNotFound reports an absent or closed session.
func NewSessionNotFound(sessionID string) *DrivelineError {
	return NewErrorf(ErrCodeSessionNotFound, "session %q not found or closed", sessionID).
		WithDetails(map[string]any{"session_id": sessionID})
}

// NewRateLimitExceeded reports a budget denial for one window. The window is
// "hourly", "daily", or "daily_cost"; limit and usage are in the window's unit
// (tokens, or micro-USD for daily_cost).
func NewRateLimitExceeded(window string, limit, usage int64) *DrivelineError {
	return NewErrorf(ErrCodeRateLimitExceeded,
		"%s budget exceeded: usage %d of limit %d", window, usage, limit).
		WithDetails(map[string]any{
			"window": window,
			"limit":  limit,
			"usage":  usage,
		})
}

// NewCircuitOpen reports a fail-fast rejection for an open circuit.
func NewCircuitOpen(service string) *DrivelineError {
	return NewErrorf(ErrCodeCircuitOpen, "circuit breaker open for service %q", service).
		WithDetails(map[string]any{"service": service})
}

// NewWorkflowExecutionError wraps a step failure at the workflow level.
func NewWorkflowExecutionError(stepID string, cause error) *DrivelineError {
	msg := "step execution failed"
	if cause != nil {
		msg = cause.Error()
	}
	return NewError(ErrCodeWorkflowExecution, msg).WithStep(stepID).WithCause(cause)
}

// RateLimitDetails extracts the window, limit, and usage from a rate-limit
// error's details. ok is false when e does not carry them.
func RateLimitDetails(e *DrivelineError) (window string, limit, usage int64, ok bool) {
	if e == nil || e.Code != ErrCodeRateLimitExceeded || e.Details == nil {
		return "", 0, 0, false
	}
	window, _ = e.Details["window"].(string)
	limit, lok := toInt64(e.Details["limit"])
	usage, uok := toInt64(e.Details["usage"])
	return window, limit, usage, window != "" && lok && uok
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
