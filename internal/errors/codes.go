package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrUnavailable     ErrorCode = "service_unavailable"
	ErrAlreadyRunning  ErrorCode = "already_running"

	// Configuration errors
	ErrInvalidConfig    ErrorCode = "invalid_configuration"
	ErrBindFlags        ErrorCode = "bind_flags_failed"
	ErrReadConfig       ErrorCode = "read_config_failed"
	ErrInvalidInterval  ErrorCode = "invalid_interval"
	ErrInvalidThreshold ErrorCode = "invalid_threshold"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"

	// Application errors
	ErrInitApp     ErrorCode = "init_app_failed"
	ErrMainLoop    ErrorCode = "main_loop_failed"
	ErrStartServer ErrorCode = "start_server_failed"

	// Sensor errors
	ErrProviderUnavailable ErrorCode = "provider_unavailable"
	ErrDeviceReadFailed    ErrorCode = "device_read_failed"
	ErrAdapterReadFailed   ErrorCode = "adapter_read_failed"

	// Operation errors
	ErrOperationFailed  ErrorCode = "operation_failed"
	ErrTimeout          ErrorCode = "operation_timeout"
	ErrInvalidOperation ErrorCode = "invalid_operation"

	// Telemetry errors
	ErrInitTelemetry   ErrorCode = "init_telemetry_failed"
	ErrRecordTelemetry ErrorCode = "record_telemetry_failed"
	ErrCloseTelemetry  ErrorCode = "close_telemetry_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:            "Internal error occurred",
	ErrInvalidArgument:     "Invalid argument provided",
	ErrUnavailable:         "Service unavailable",
	ErrAlreadyRunning:      "Another instance is already running",
	ErrInvalidConfig:       "Invalid configuration",
	ErrBindFlags:           "Failed to bind flags",
	ErrReadConfig:          "Failed to read configuration",
	ErrInvalidInterval:     "Invalid interval value",
	ErrInvalidThreshold:    "Invalid threshold value",
	ErrInvalidLogLevel:     "Invalid log level",
	ErrInitFailed:          "Initialization failed",
	ErrShutdownFailed:      "Shutdown failed",
	ErrInitApp:             "Failed to initialize application",
	ErrMainLoop:            "Error in main loop",
	ErrStartServer:         "Failed to start API server",
	ErrProviderUnavailable: "Sensor provider unavailable",
	ErrDeviceReadFailed:    "Failed to read device sensors",
	ErrAdapterReadFailed:   "Failed to read network adapters",
	ErrOperationFailed:     "Operation failed",
	ErrTimeout:             "Operation timed out",
	ErrInvalidOperation:    "Invalid operation",
	ErrInitTelemetry:       "Failed to initialize telemetry",
	ErrRecordTelemetry:     "Failed to record telemetry",
	ErrCloseTelemetry:      "Failed to close telemetry store",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
