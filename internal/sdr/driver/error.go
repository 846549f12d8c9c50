package driver

// ConfigError is a custom error type for configuration errors
type ConfigError struct {
	msg string
}

func NewConfigError(msg string) *ConfigError {
	return &ConfigError{msg}
}

func (e *ConfigError) Error() string {
	return e.msg
}

// RuntimeError is a custom error type for runtime errors, e.g. a capture
// tool that cannot be located or started.
type RuntimeError struct {
	msg string
	err error
}

func NewRuntimeError(msg string, err error) *RuntimeError {
	return &RuntimeError{msg, err}
}

func (e *RuntimeError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + ": " + e.err.Error()
}

func (e *RuntimeError) Unwrap() error {
	return e.err
}
