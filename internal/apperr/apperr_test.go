package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "plain", err: errors.New("boom"), want: KindInternal},
		{name: "direct", err: ErrCapacityExceeded, want: KindCapacityExceeded},
		{name: "wrapped", err: fmt.Errorf("register: %w", ErrEventPast), want: KindEventPast},
		{name: "with cause", err: Wrap(errors.New("55P03"), KindBusy, "busy", "lock"), want: KindBusy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Fatalf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsMatchesOnCode(t *testing.T) {
	err := Wrap(errors.New("unique violation"), KindConflict, "already_registered", "dup")

	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected errors.Is to match already_registered")
	}
	if errors.Is(err, ErrNotRegistered) {
		t.Fatalf("did not expect not_registered to match")
	}
}

func TestRetryableOnlyForBusy(t *testing.T) {
	if !Retryable(ErrBusy) {
		t.Fatalf("busy must be retryable")
	}

	for _, err := range []error{ErrCapacityExceeded, ErrNotRegistered, ErrEventPast, errors.New("x")} {
		if Retryable(err) {
			t.Fatalf("%v must not be retryable", err)
		}
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := map[Kind]int{
		KindValidation:       http.StatusBadRequest,
		KindUnauthenticated:  http.StatusUnauthorized,
		KindUnauthorized:     http.StatusForbidden,
		KindNotFound:         http.StatusNotFound,
		KindConflict:         http.StatusConflict,
		KindCapacityExceeded: http.StatusConflict,
		KindEventPast:        http.StatusUnprocessableEntity,
		KindBusy:             http.StatusTooManyRequests,
		KindInternal:         http.StatusInternalServerError,
	}

	for kind, want := range tests {
		if got := HTTPStatus(kind); got != want {
			t.Fatalf("HTTPStatus(%s) = %d, want %d", kind, got, want)
		}
	}
}
