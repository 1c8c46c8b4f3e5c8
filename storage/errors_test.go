package storage

import (
	"errors"
	"fmt"
	"testing"
)

func TestStorageError(t *testing.T) {
	err := NewStorageError(
		ErrCodePageNotResident,
		"FetchPage",
		"page not resident",
		nil,
	)

	if err.Code != ErrCodePageNotResident {
		t.Errorf("Expected error code %d, got %d", ErrCodePageNotResident, err.Code)
	}

	if err.Op != "FetchPage" {
		t.Errorf("Expected op 'FetchPage', got '%s'", err.Op)
	}

	expected := "FetchPage: page not resident"
	if err.Error() != expected {
		t.Errorf("Expected error message '%s', got '%s'", expected, err.Error())
	}
}

func TestStorageErrorWithUnderlying(t *testing.T) {
	underlying := fmt.Errorf("disk read failed")
	err := NewStorageError(
		ErrCodeIO,
		"ReadPage",
		"failed to read page",
		underlying,
	)

	if err.Err != underlying {
		t.Error("Underlying error not set correctly")
	}

	unwrapped := errors.Unwrap(err)
	if unwrapped != underlying {
		t.Error("Unwrap did not return underlying error")
	}

	expected := "ReadPage: failed to read page: disk read failed"
	if err.Error() != expected {
		t.Errorf("Expected error message '%s', got '%s'", expected, err.Error())
	}
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name     string
		err      *StorageError
		code     ErrorCode
		contains string
	}{
		{
			name:     "PoolExhausted",
			err:      ErrPoolExhausted("NewPage"),
			code:     ErrCodePoolExhausted,
			contains: "no free or evictable frame",
		},
		{
			name:     "PageNotResident",
			err:      ErrPageNotResident("FlushPage", PageID(456)),
			code:     ErrCodePageNotResident,
			contains: "page 456 is not resident",
		},
		{
			name:     "PagePinned",
			err:      ErrPagePinned("DeletePage", PageID(789), 3),
			code:     ErrCodePagePinned,
			contains: "page 789 is pinned (pin count: 3)",
		},
		{
			name:     "InvalidFrame",
			err:      ErrInvalidFrame("RecordAccess", FrameID(99)),
			code:     ErrCodeInvalidFrame,
			contains: "frame 99 is out of range",
		},
		{
			name:     "UnknownFrame",
			err:      ErrUnknownFrame("SetEvictable", FrameID(7)),
			code:     ErrCodeUnknownFrame,
			contains: "frame 7 is not tracked",
		},
		{
			name:     "NonEvictable",
			err:      ErrNonEvictable("Remove", FrameID(2)),
			code:     ErrCodeNonEvictable,
			contains: "frame 2 is marked non-evictable",
		},
		{
			name:     "DoubleUnpin",
			err:      ErrDoubleUnpin("UnpinPage", PageID(42)),
			code:     ErrCodeDoubleUnpin,
			contains: "pin count was already zero",
		},
		{
			name:     "KeyNotFound",
			err:      ErrKeyNotFound("GetValue"),
			code:     ErrCodeKeyNotFound,
			contains: "key not found",
		},
		{
			name:     "DuplicateKey",
			err:      ErrDuplicateKey("Insert"),
			code:     ErrCodeDuplicateKey,
			contains: "already present",
		},
		{
			name:     "DepthExceeded",
			err:      ErrDepthExceeded("Insert"),
			code:     ErrCodeDepthExceeded,
			contains: "maximum depth",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Expected error code %d, got %d", tt.code, tt.err.Code)
			}

			errMsg := tt.err.Error()
			if errMsg == "" {
				t.Error("Error message should not be empty")
			}

			found := false
			for i := 0; i <= len(errMsg)-len(tt.contains); i++ {
				if errMsg[i:i+len(tt.contains)] == tt.contains {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("Error message '%s' does not contain '%s'", errMsg, tt.contains)
			}
		})
	}
}

func TestIsErrorCode(t *testing.T) {
	err := ErrPageNotResident("test", 123)

	if !IsErrorCode(err, ErrCodePageNotResident) {
		t.Error("IsErrorCode should return true for matching code")
	}

	if IsErrorCode(err, ErrCodePoolExhausted) {
		t.Error("IsErrorCode should return false for non-matching code")
	}

	genericErr := fmt.Errorf("generic error")
	if IsErrorCode(genericErr, ErrCodePageNotResident) {
		t.Error("IsErrorCode should return false for non-StorageError")
	}
}

func TestGetErrorCode(t *testing.T) {
	err := ErrKeyNotFound("test")

	code := GetErrorCode(err)
	if code != ErrCodeKeyNotFound {
		t.Errorf("Expected error code %d, got %d", ErrCodeKeyNotFound, code)
	}

	genericErr := fmt.Errorf("generic error")
	code = GetErrorCode(genericErr)
	if code != ErrCodeUnknown {
		t.Errorf("Expected error code %d for generic error, got %d", ErrCodeUnknown, code)
	}
}

func TestErrorIs(t *testing.T) {
	err1 := ErrPageNotResident("test", 123)
	err2 := ErrPageNotResident("test", 456)

	if !errors.Is(err1, err2) {
		t.Error("errors.Is should return true for same error code")
	}

	err3 := ErrPoolExhausted("test")
	if errors.Is(err1, err3) {
		t.Error("errors.Is should return false for different error codes")
	}
}

func TestErrorWrapping(t *testing.T) {
	baseErr := fmt.Errorf("underlying IO error")
	wrappedErr := ErrIO("WritePage", baseErr)

	unwrapped := errors.Unwrap(wrappedErr)
	if unwrapped != baseErr {
		t.Error("Unwrap should return the underlying error")
	}

	if !errors.Is(wrappedErr, baseErr) {
		t.Error("errors.Is should find underlying error")
	}
}

func TestErrorCodeConstants(t *testing.T) {
	codes := map[ErrorCode]bool{
		ErrCodeUnknown:         true,
		ErrCodeInternal:        true,
		ErrCodePoolExhausted:   true,
		ErrCodePageNotResident: true,
		ErrCodePagePinned:      true,
		ErrCodeInvalidFrame:    true,
		ErrCodeUnknownFrame:    true,
		ErrCodeNonEvictable:    true,
		ErrCodeDoubleUnpin:     true,
		ErrCodeKeyNotFound:     true,
		ErrCodeDuplicateKey:    true,
		ErrCodeDepthExceeded:   true,
		ErrCodeIO:              true,
		ErrCodeCompression:     true,
	}

	if len(codes) != 14 {
		t.Errorf("Expected 14 unique error codes, got %d", len(codes))
	}
}
