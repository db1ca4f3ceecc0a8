package circle

import (
	"errors"
	"fmt"
	"strings"
)

// TransportError is a failure to reach the provider at all: dial, TLS,
// timeout, or a torn response. Retryable by the caller's own policy.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("provider transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// APIError is an upstream rejection: the provider answered with a non-2xx
// status and a structured body.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider API error (status %d, code %d): %s", e.StatusCode, e.Code, e.Message)
}

// Provider error codes reported when the signing wallet cannot pay for gas
// on the execution chain.
var gasErrorCodes = map[int]bool{
	155704: true, // insufficient native token balance
	155705: true, // estimated fee exceeds native token balance
}

// GasRelated reports whether the rejection is the distinguished
// insufficient-native-gas case.
func (e *APIError) GasRelated() bool {
	if gasErrorCodes[e.Code] {
		return true
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "insufficient") && strings.Contains(msg, "native")
}

// IsTransport reports whether err is (or wraps) a provider transport
// failure, as opposed to an upstream rejection.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
