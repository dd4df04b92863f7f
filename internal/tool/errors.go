package tool

import "fmt"

// ErrorCode classifies driver failures.
type ErrorCode string

const (
	// ErrCodeUnknownDriver indicates no driver is registered under a name.
	ErrCodeUnknownDriver ErrorCode = "UNKNOWN_DRIVER"
	// ErrCodeNotFound indicates the tool binary could not be executed.
	ErrCodeNotFound ErrorCode = "TOOL_NOT_FOUND"
	// ErrCodeVersion indicates the tool's version could not be determined.
	ErrCodeVersion ErrorCode = "TOOL_VERSION"
	// ErrCodeDie indicates the tool process failed.
	ErrCodeDie ErrorCode = "TOOL_DIED"
	// ErrCodeBenchmark indicates the benchmark output could not be parsed.
	ErrCodeBenchmark ErrorCode = "BENCHMARK_ERROR"
)

// DriverError is returned by drivers and the registry.
type DriverError struct {
	Code    ErrorCode
	Driver  string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *DriverError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Code, e.Driver, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Driver, e.Message)
}

// Unwrap returns the underlying error.
func (e *DriverError) Unwrap() error {
	return e.Cause
}

func newError(code ErrorCode, driver, message string, cause error) *DriverError {
	return &DriverError{Code: code, Driver: driver, Message: message, Cause: cause}
}
