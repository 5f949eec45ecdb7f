package errors

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
	"testing"
)

func TestScanErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorType
	}{
		{"missing", &fs.PathError{Op: "lstat", Path: "/x", Err: syscall.ENOENT}, ErrorTypeNotFound},
		{"denied", &fs.PathError{Op: "open", Path: "/x", Err: syscall.EACCES}, ErrorTypePermission},
		{"other", errors.New("boom"), ErrorTypeScan},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewScanError("lstat", "/x", tt.err)
			if err.Type != tt.expected {
				t.Errorf("Expected type %s, got %s", tt.expected, err.Type)
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("Expected error to unwrap to underlying error")
			}
		})
	}
}

func TestScanErrorMessage(t *testing.T) {
	err := NewScanError("readdir", "/root/sub", errors.New("io failure"))
	expected := "scan readdir failed for /root/sub: io failure"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestPersistErrors(t *testing.T) {
	corrupt := NewCorruptError("/tmp/index.fsix", "checksum mismatch: %x", 0xdead)
	if !errors.Is(corrupt, ErrCorruptArtifact) {
		t.Errorf("Expected corrupt error to match ErrCorruptArtifact")
	}
	if !IsCorrupt(corrupt) {
		t.Errorf("Expected IsCorrupt to be true")
	}

	version := NewVersionError("/tmp/index.fsix", 7, 1)
	if !errors.Is(version, ErrUnsupportedVersion) {
		t.Errorf("Expected version error to match ErrUnsupportedVersion")
	}
	if version.Type != ErrorTypeUnsupportedVersion {
		t.Errorf("Expected type %s, got %s", ErrorTypeUnsupportedVersion, version.Type)
	}

	io := NewPersistError("save", "", os.ErrClosed)
	if IsCorrupt(io) {
		t.Errorf("I/O error must not be reported as corrupt")
	}
	if io.Error() != "index save failed: file already closed" {
		t.Errorf("Unexpected message %q", io.Error())
	}
}

func TestSearchError(t *testing.T) {
	underlying := errors.New("missing closing )")
	err := NewSearchError("a(b", underlying)

	if err.Type != ErrorTypeSearch {
		t.Errorf("Expected Type to be ErrorTypeSearch, got %v", err.Type)
	}
	if !errors.Is(err, underlying) {
		t.Errorf("Expected error to unwrap to underlying error")
	}
	expected := `search failed for pattern "a(b": missing closing )`
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestConfigError(t *testing.T) {
	underlying := errors.New("must be positive")
	err := NewConfigError("max_results", "-1", underlying)

	expected := "config error for field max_results (value -1): must be positive"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
	if !errors.Is(err, underlying) {
		t.Errorf("Expected error to unwrap to underlying error")
	}
}

func TestMultiError(t *testing.T) {
	err1 := errors.New("error 1")
	err2 := errors.New("error 2")

	multi := NewMultiError([]error{err1, nil, err2, nil})
	if len(multi.Errors) != 2 {
		t.Errorf("Expected 2 errors after filtering nils, got %d", len(multi.Errors))
	}
	if !errors.Is(multi, err2) {
		t.Errorf("Expected multi error to match a member")
	}

	single := NewMultiError([]error{err1})
	if single.Error() != "error 1" {
		t.Errorf("Expected single error message, got %q", single.Error())
	}

	empty := NewMultiError(nil)
	if empty.ErrorOrNil() != nil {
		t.Errorf("Expected nil from empty multi error")
	}
}

func TestIsInterrupted(t *testing.T) {
	wrapped := fmt.Errorf("statx: %w", syscall.EINTR)
	if !IsInterrupted(wrapped) {
		t.Errorf("Expected EINTR to be detected through wrapping")
	}
	if IsInterrupted(syscall.ENOENT) {
		t.Errorf("ENOENT is not an interruption")
	}
}
