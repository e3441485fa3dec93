package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrNotImplemented  ErrorCode = "not_implemented"
	ErrUnavailable     ErrorCode = "service_unavailable"
	ErrAlreadyRunning  ErrorCode = "already_running"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrMissingConfig   ErrorCode = "missing_configuration"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"

	// Throttling errors
	ErrCancelled            ErrorCode = "operation_cancelled"
	ErrCircuitOpen          ErrorCode = "circuit_open"
	ErrSemaphoreDeactivated ErrorCode = "semaphore_deactivated"

	// Health monitoring errors
	ErrProbeRead      ErrorCode = "probe_read_failed"
	ErrMonitorStopped ErrorCode = "monitor_stopped"

	// Network errors
	ErrRequestFailed   ErrorCode = "request_failed"
	ErrInvalidResponse ErrorCode = "invalid_response"
	ErrTimeout         ErrorCode = "operation_timeout"
	ErrNoConnection    ErrorCode = "no_connection"
	ErrServerError     ErrorCode = "server_error"
	ErrClientError     ErrorCode = "client_error"
	ErrUnknown         ErrorCode = "unknown_error"

	// Operation errors
	ErrOperationFailed  ErrorCode = "operation_failed"
	ErrInvalidOperation ErrorCode = "invalid_operation"

	// Telemetry errors
	ErrInitTelemetry   ErrorCode = "init_telemetry_failed"
	ErrRecordTelemetry ErrorCode = "record_telemetry_failed"
	ErrCloseTelemetry  ErrorCode = "close_telemetry_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:             "Internal error occurred",
	ErrInvalidArgument:      "Invalid argument provided",
	ErrNotImplemented:       "Operation not implemented",
	ErrUnavailable:          "Service unavailable",
	ErrAlreadyRunning:       "Another instance is already running",
	ErrInvalidConfig:        "Invalid configuration",
	ErrMissingConfig:        "Missing configuration",
	ErrBindFlags:            "Failed to bind flags",
	ErrReadConfig:           "Failed to read configuration",
	ErrInvalidInterval:      "Invalid interval value",
	ErrInvalidLogLevel:      "Invalid log level",
	ErrInitFailed:           "Initialization failed",
	ErrShutdownFailed:       "Shutdown failed",
	ErrCancelled:            "Operation cancelled",
	ErrCircuitOpen:          "Circuit breaker is open",
	ErrSemaphoreDeactivated: "Semaphore is deactivated",
	ErrProbeRead:            "Failed to read device health",
	ErrMonitorStopped:       "Health monitor is stopped",
	ErrRequestFailed:        "Request failed",
	ErrInvalidResponse:      "Invalid response received",
	ErrTimeout:              "Operation timed out",
	ErrNoConnection:         "No network connection",
	ErrServerError:          "Server returned an error",
	ErrClientError:          "Client request was rejected",
	ErrUnknown:              "Unknown error occurred",
	ErrOperationFailed:      "Operation failed",
	ErrInvalidOperation:     "Invalid operation",
	ErrInitTelemetry:        "Failed to initialize telemetry",
	ErrRecordTelemetry:      "Failed to record telemetry data",
	ErrCloseTelemetry:       "Failed to close telemetry store",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
