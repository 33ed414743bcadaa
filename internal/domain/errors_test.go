package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient", Transient(errors.New("timeout")), true},
		{"plain", errors.New("boom"), true},
		{"data format", DataFormatf("bad field %q", "x"), false},
		{"validation", fmt.Errorf("%w: empty", ErrValidation), false},
		{"configuration", fmt.Errorf("%w: missing", ErrConfiguration), false},
		{"cancelled", Cancelled(context.Canceled), false},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), false},
		{"transient timeout", Transient(fmt.Errorf("client timeout: %w", context.DeadlineExceeded)), true},
		{"cancelled transient", Cancelled(Transient(context.Canceled)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestAllSourcesFailedErrorKind(t *testing.T) {
	err := &AllSourcesFailedError{
		Protocol: ProtocolAave,
		Network:  NetworkEthereum,
		Failures: []SourceFailure{
			{Source: SourceOnChain, Err: Transient(errors.New("timeout"))},
			{Source: SourceSubgraph, Err: fmt.Errorf("%w: no adapter", ErrConfiguration)},
		},
	}

	if !errors.Is(err, ErrAllSourcesFailed) {
		t.Fatal("aggregate should match ErrAllSourcesFailed")
	}
	if errors.Is(err, ErrTransientSource) || errors.Is(err, ErrConfiguration) {
		t.Error("aggregate should not expose its causes through errors.Is")
	}
	if got := ErrorKind(err); got != "AllSourcesFailedError" {
		t.Errorf("ErrorKind = %q", got)
	}
	msg := err.Error()
	if strings.Index(msg, "ON_CHAIN") > strings.Index(msg, "SUBGRAPH") {
		t.Errorf("causes out of order in %q", msg)
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: x", ErrValidation), "ValidationError"},
		{fmt.Errorf("%w: x", ErrConfiguration), "ConfigurationError"},
		{Transient(errors.New("x")), "TransientSourceError"},
		{DataFormatf("x"), "DataFormatError"},
		{Cancelled(context.DeadlineExceeded), "CancelledError"},
		{Transient(fmt.Errorf("client timeout: %w", context.DeadlineExceeded)), "TransientSourceError"},
		{fmt.Errorf("call: %w", context.DeadlineExceeded), "CancelledError"},
		{ErrNotFound, "NotFound"},
		{errors.New("x"), "InternalError"},
	}
	for _, tt := range tests {
		if got := ErrorKind(tt.err); got != tt.want {
			t.Errorf("ErrorKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestTransientAndCancelledAreIdempotent(t *testing.T) {
	base := errors.New("dial tcp: i/o timeout")
	once := Transient(base)
	if Transient(once) != once {
		t.Error("Transient should not re-wrap")
	}
	c := Cancelled(context.Canceled)
	if Cancelled(c) != c {
		t.Error("Cancelled should not re-wrap")
	}
	if !errors.Is(once, base) {
		t.Error("Transient should keep the cause")
	}
}
