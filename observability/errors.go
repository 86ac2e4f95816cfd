package observability

import "errors"

// ErrInvalidConfig is wrapped by every validation failure below, so callers
// can reject a bad section without matching each cause.
var ErrInvalidConfig = errors.New("observability: invalid config")

var (
	ErrNilConfig             = invalid("config is nil")
	ErrMissingServiceName    = invalid("service name is required when enabled")
	ErrInvalidSampleRate     = invalid("sample rate must be within [0, 1]")
	ErrInvalidProtocol       = invalid("protocol must be http or grpc")
	ErrInvalidEndpointFormat = invalid("grpc endpoints take host:port without a scheme")
)

type validationError string

func (e validationError) Error() string { return "observability: " + string(e) }

func (e validationError) Unwrap() error { return ErrInvalidConfig }

func invalid(msg string) error { return validationError(msg) }
