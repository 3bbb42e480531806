package model

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestIsCheckError はCheckErrorの種別判定を検証する。
func TestIsCheckError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind CheckErrorKind
		wantOK   bool
	}{
		{"transport種別", NewTransportError(errors.New("connection refused")), CheckErrorTransport, true},
		{"parse種別", NewParseError(errors.New("unexpected json")), CheckErrorParse, true},
		{"ラップされたCheckError", fmt.Errorf("確認に失敗: %w", NewTransportError(errors.New("timeout"))), CheckErrorTransport, true},
		{"CheckError以外", errors.New("other"), "", false},
		{"nil", nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ok := IsCheckError(tt.err)
			if ok != tt.wantOK {
				t.Fatalf("IsCheckError() ok = %v, want %v", ok, tt.wantOK)
			}
			if kind != tt.wantKind {
				t.Errorf("IsCheckError() kind = %q, want %q", kind, tt.wantKind)
			}
		})
	}
}

// TestCheckError_Unwrap は原因エラーがerrors.Isで辿れることを検証する。
func TestCheckError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: i/o timeout")
	err := NewTransportError(cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
}

// TestStorageError_IncludesOp はエラーメッセージに操作名が含まれることを検証する。
func TestStorageError_IncludesOp(t *testing.T) {
	cause := errors.New("pq: connection reset")
	err := NewStorageError("record observation", cause)

	if !strings.Contains(err.Error(), "record observation") {
		t.Errorf("Error() = %q, expected to contain op name", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
}

// TestDeliveryError_AuthMessage は認証失敗時のメッセージに設定確認の案内が含まれることを検証する。
func TestDeliveryError_AuthMessage(t *testing.T) {
	authErr := &DeliveryError{Auth: true, Err: errors.New("535 authentication failed")}
	if !strings.Contains(authErr.Error(), "EMAIL_FROM/EMAIL_PASSWORD") {
		t.Errorf("Error() = %q, expected auth guidance", authErr.Error())
	}

	transientErr := &DeliveryError{Auth: false, Err: errors.New("connection refused")}
	if strings.Contains(transientErr.Error(), "EMAIL_FROM/EMAIL_PASSWORD") {
		t.Errorf("Error() = %q, should not include auth guidance for transient failure", transientErr.Error())
	}
}

// TestAPIError_Format はAPIErrorのエラー文字列フォーマットを検証する。
func TestAPIError_Format(t *testing.T) {
	err := NewProductNotFoundError("product-id-1")

	if err.Code != ErrCodeProductNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrCodeProductNotFound)
	}
	if !strings.Contains(err.Error(), ErrCodeProductNotFound) {
		t.Errorf("Error() = %q, expected to contain code", err.Error())
	}
	if !strings.Contains(err.Error(), "product-id-1") {
		t.Errorf("Error() = %q, expected to contain product ID", err.Error())
	}
}
