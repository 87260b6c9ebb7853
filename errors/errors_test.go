package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestAppError_New_Retryable(t *testing.T) {
	err := New(ErrCodeTimeout, "timed out", http.StatusGatewayTimeout)
	if !err.Retryable {
		t.Error("TIMEOUT should be retryable")
	}
	if err.HTTPStatus != http.StatusGatewayTimeout {
		t.Errorf("expected status %d, got %d", http.StatusGatewayTimeout, err.HTTPStatus)
	}
}

func TestAppError_New_NotRetryable(t *testing.T) {
	err := New(ErrCodeInvalidIdentifier, "bad id", http.StatusBadRequest)
	if err.Retryable {
		t.Error("INVALID_IDENTIFIER should not be retryable")
	}
}

func TestAppError_InvalidIdentifier(t *testing.T) {
	err := InvalidIdentifier("1abc")
	if err.Code != ErrCodeInvalidIdentifier {
		t.Errorf("expected INVALID_IDENTIFIER, got %s", err.Code)
	}
	if err.Details["value"] != "1abc" {
		t.Errorf("expected value=1abc, got %v", err.Details["value"])
	}
	if !strings.Contains(err.Error(), "must start with a letter") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestAppError_MissingPort(t *testing.T) {
	err := MissingPort("orders-1")
	if err.Code != ErrCodeMissingPort {
		t.Errorf("expected MISSING_PORT, got %s", err.Code)
	}
	if err.Details["instance_id"] != "orders-1" {
		t.Errorf("expected instance_id=orders-1, got %v", err.Details["instance_id"])
	}
}

func TestAppError_UnsupportedStatus(t *testing.T) {
	err := UnsupportedStatus("DOWN")
	if err.Code != ErrCodeUnsupportedStatus {
		t.Errorf("expected UNSUPPORTED_STATUS, got %s", err.Code)
	}
	if !strings.Contains(err.Message, "DOWN") {
		t.Errorf("expected message to mention status, got %q", err.Message)
	}
}

func TestAppError_Catalog(t *testing.T) {
	cause := fmt.Errorf("Unexpected response code: 500")
	err := Catalog("check pass", 500, cause)
	if err.Code != ErrCodeCatalog {
		t.Errorf("expected CATALOG_ERROR, got %s", err.Code)
	}
	if !err.Retryable {
		t.Error("catalog errors should be retryable")
	}
	if err.Cause != cause {
		t.Error("expected cause to be set")
	}
	if err.Details["operation"] != "check pass" {
		t.Errorf("expected operation detail, got %v", err.Details["operation"])
	}
}

func TestIsCatalogOperationError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"reported by catalog", Catalog("register", 404, nil), true},
		{"wrapped", fmt.Errorf("tick: %w", Catalog("register", 500, nil)), true},
		{"transport failure", Catalog("register", 0, fmt.Errorf("connection refused")), false},
		{"other app error", MissingPort("x"), false},
		{"plain error", fmt.Errorf("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCatalogOperationError(tt.err); got != tt.want {
				t.Errorf("IsCatalogOperationError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsCode(t *testing.T) {
	err := fmt.Errorf("build: %w", InvalidIdentifier("-x"))
	if !IsCode(err, ErrCodeInvalidIdentifier) {
		t.Error("expected IsCode to see through wrapping")
	}
	if IsCode(err, ErrCodeMissingPort) {
		t.Error("expected IsCode to reject a different code")
	}
	if IsCode(fmt.Errorf("plain"), ErrCodeInternal) {
		t.Error("expected IsCode false for non-AppError")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(Catalog("register", 503, nil)) {
		t.Error("catalog error should be retryable")
	}
	if IsRetryable(UnsupportedStatus("x")) {
		t.Error("unsupported status should not be retryable")
	}
	if IsRetryable(fmt.Errorf("plain")) {
		t.Error("plain errors are not retryable")
	}
}

func TestAppError_WithCause_Chain(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := ConnectionFailed("consul").WithCause(cause)
	if !stderrors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
	if !strings.Contains(err.Error(), "root cause") {
		t.Errorf("Error() should contain cause, got %q", err.Error())
	}
}

func TestAppError_WithDetails_Merge(t *testing.T) {
	err := MissingField("service_name").WithDetails(map[string]any{"extra": "info"})
	if err.Details["extra"] != "info" {
		t.Errorf("expected extra=info in details")
	}
	if err.Details["field"] != "service_name" {
		t.Error("expected original details to be preserved")
	}
}

func TestAppError_WithDetail_NilMap(t *testing.T) {
	err := &AppError{}
	err.WithDetail("key", "value")
	if err.Details["key"] != "value" {
		t.Errorf("expected key=value, got %v", err.Details["key"])
	}
}

func TestAsAppError(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", Timeout("probe"))
	appErr, ok := AsAppError(wrapped)
	if !ok {
		t.Fatal("expected AsAppError to unwrap")
	}
	if appErr.Code != ErrCodeTimeout {
		t.Errorf("expected TIMEOUT, got %s", appErr.Code)
	}
	if _, ok := AsAppError(fmt.Errorf("plain")); ok {
		t.Error("expected plain error to not convert")
	}
	if IsAppError(nil) {
		t.Error("nil is not an AppError")
	}
}
