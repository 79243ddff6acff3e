package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := New(ErrStaleVersion, "waitForUpdates", "7")
	if !errors.Is(err, ErrStaleVersion) {
		t.Error("expected errors.Is(err, ErrStaleVersion)")
	}
	if errors.Is(err, ErrCanceled) {
		t.Error("did not expect ErrCanceled")
	}
	want := `waitForUpdates: stale collector version "7"`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(ErrTransportFault, "call", cause)
	if !errors.Is(err, ErrTransportFault) {
		t.Error("expected ErrTransportFault")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause in chain")
	}
	if Wrap(ErrTransportFault, "call", nil) != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestTransport_Classification(t *testing.T) {
	if err := Transport("call", context.Canceled); !errors.Is(err, ErrCanceled) {
		t.Errorf("context.Canceled should map to ErrCanceled, got %v", err)
	}

	stale := New(ErrStaleVersion, "wait", "1")
	if err := Transport("call", stale); !errors.Is(err, ErrStaleVersion) {
		t.Errorf("classified error should pass through, got %v", err)
	}

	if err := Transport("call", errors.New("boom")); !errors.Is(err, ErrTransportFault) {
		t.Errorf("expected ErrTransportFault, got %v", err)
	}
}

func TestIsTemporary(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain transport", Transport("call", errors.New("boom")), false},
		{"marked temporary", Temporary("call", errors.New("reset")), true},
		{"net op error", Transport("call", &net.OpError{Op: "dial", Err: errors.New("refused")}), true},
		{"stale version", New(ErrStaleVersion, "wait", "1"), false},
		{"wrapped temporary", fmt.Errorf("outer: %w", Temporary("call", errors.New("x"))), true},
		{"canceled", Transport("call", context.Canceled), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTemporary(tt.err); got != tt.want {
				t.Errorf("IsTemporary() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCode_RoundTrip(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{New(ErrStaleVersion, "wait", "7"), "stale_version"},
		{New(ErrCanceled, "wait", ""), "canceled"},
		{Transport("call", errors.New("boom")), "transport"},
		{Temporary("call", errors.New("reset")), "transport_temporary"},
		{fmt.Errorf("x: %w", New(ErrNotFound, "get", "Task:t")), "not_found"},
		{errors.New("plain"), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := Code(tt.err); got != tt.code {
				t.Fatalf("Code() = %q, want %q", got, tt.code)
			}
			back := FromCode(tt.code, "replay", tt.err.Error())
			if got := Code(back); got != tt.code {
				t.Errorf("Code(FromCode()) = %q, want %q", got, tt.code)
			}
		})
	}
}
