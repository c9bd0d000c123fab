package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrServiceRequired           = sterrors.New("streambridge: service is required")
	ErrConfigRequired            = sterrors.New("streambridge: configuration is required")
	ErrLoggerRequired            = sterrors.New("streambridge: logger is required")
	ErrBinderRequired            = sterrors.New("streambridge: binder is required")
	ErrPublisherRequired         = sterrors.New("streambridge: publisher is required")
	ErrFunctionRequired          = sterrors.New("streambridge: function is required")
	ErrFunctionNameRequired      = sterrors.New("streambridge: function name is required")
	ErrFunctionAlreadyRegistered = sterrors.New("streambridge: function already registered")
	ErrBindingNameRequired       = sterrors.New("streambridge: binding name is required")
	ErrBindingNotFound           = sterrors.New("streambridge: binding not found")
	ErrContextRequired           = sterrors.New("streambridge: registrar context is required")
	ErrRegistrarNotConfigured    = sterrors.New("streambridge: registrar is not configured")
	ErrSupplierNotRunning        = sterrors.New("streambridge: supplier is not running")
	ErrEndpointRequired          = sterrors.New("streambridge: invokable endpoint is required")
)

// ConfigurationError reports a missing or invalid setting. It is always fatal
// at startup.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("streambridge: invalid configuration: %v", e.Err)
	}
	return fmt.Sprintf("streambridge: invalid configuration %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// NewConfigurationError wraps err for field. A nil err yields nil.
func NewConfigurationError(field string, err error) error {
	if err == nil {
		return nil
	}
	return &ConfigurationError{Field: field, Err: err}
}

// IsConfigurationError reports whether err carries a ConfigurationError.
func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return sterrors.As(err, &target)
}

// DeliveryError is returned when a consumed message could not be handed to the
// downstream endpoint or its response could not be published.
type DeliveryError struct {
	Op         string
	Target     string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("streambridge: %s %s failed with status %d: %v", e.Op, e.Target, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("streambridge: %s %s failed: %v", e.Op, e.Target, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
