package circle

import (
	"errors"
	"fmt"
	"testing"
)

func TestAPIErrorGasRelated(t *testing.T) {
	cases := []struct {
		name string
		err  APIError
		want bool
	}{
		{"known code insufficient balance", APIError{Code: 155704}, true},
		{"known code fee exceeds balance", APIError{Code: 155705}, true},
		{"message heuristic", APIError{Code: 0, Message: "Insufficient native token balance for gas"}, true},
		{"unrelated rejection", APIError{Code: 2, Message: "malformed request"}, false},
		{"insufficient but not native", APIError{Message: "insufficient token allowance"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.err.GasRelated(); got != tc.want {
				t.Errorf("GasRelated() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIsTransport(t *testing.T) {
	transport := &TransportError{Op: "POST /x", Err: errors.New("connection reset")}
	if !IsTransport(transport) {
		t.Error("bare TransportError not recognized")
	}
	if !IsTransport(fmt.Errorf("request failed: %w", transport)) {
		t.Error("wrapped TransportError not recognized")
	}
	if IsTransport(&APIError{StatusCode: 500}) {
		t.Error("APIError misclassified as transport")
	}
	if IsTransport(errors.New("plain")) {
		t.Error("plain error misclassified as transport")
	}
}
