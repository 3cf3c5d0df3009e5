package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorIncludesInternal(t *testing.T) {
	internal := stdErrors.New("boom")
	err := Wrap(internal, "failed")

	if err.Error() != "failed: boom" {
		t.Fatalf("unexpected error string: %s", err.Error())
	}
}

func TestWithInternalCopies(t *testing.T) {
	base := New("TEST", "test", 400)
	with := base.WithInternal(stdErrors.New("oops"))

	if with == base {
		t.Fatal("expected WithInternal to return a copy")
	}

	if base.Internal != nil {
		t.Fatal("expected original error to remain unchanged")
	}

	if with.Internal == nil {
		t.Fatal("expected internal error to be set")
	}
}

func TestFromError(t *testing.T) {
	appErr := ErrNotFound
	if out := FromError(appErr); out != appErr {
		t.Fatal("expected FromError to return the same AppError instance")
	}

	raw := stdErrors.New("raw")
	out := FromError(raw)
	if out.Code != ErrInternalServer.Code {
		t.Fatalf("expected internal server code, got %s", out.Code)
	}
	if out.Internal == nil {
		t.Fatal("expected internal error to be attached")
	}
}

func TestNewBadRequest(t *testing.T) {
	err := NewBadRequest("invalid payload")
	if err.Code != ErrBadRequest.Code {
		t.Fatalf("expected %s, got %s", ErrBadRequest.Code, err.Code)
	}
	if err.Message != "invalid payload" {
		t.Fatalf("unexpected message: %s", err.Message)
	}
	if err.StatusCode != ErrBadRequest.StatusCode {
		t.Fatalf("unexpected status: %d", err.StatusCode)
	}
}

func TestTaxonomyMatchesSentinels(t *testing.T) {
	cases := []struct {
		err    error
		target *AppError
		status int
	}{
		{NewValidation("interval out of range"), ErrValidation, http.StatusBadRequest},
		{NewNotFound("job missing"), ErrNotFound, http.StatusNotFound},
		{NewSource("youtube failed", stdErrors.New("503")), ErrSource, http.StatusBadGateway},
		{NewStore("db down", stdErrors.New("closed")), ErrStore, http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		wrapped := fmt.Errorf("layer: %w", tc.err)
		if !stdErrors.Is(wrapped, tc.target) {
			t.Fatalf("expected %v to match %s", tc.err, tc.target.Code)
		}
		if got := FromError(wrapped).StatusCode; got != tc.status {
			t.Fatalf("status for %s = %d, want %d", tc.target.Code, got, tc.status)
		}
	}

	if stdErrors.Is(NewSource("x", nil), ErrStore) {
		t.Fatal("source error must not match store sentinel")
	}
}

func TestSourceKeepsCause(t *testing.T) {
	cause := stdErrors.New("timeout")
	err := NewSource("instagram failed", cause)
	if !stdErrors.Is(err, cause) {
		t.Fatal("expected cause to be reachable")
	}
}
