// SPDX-License-Identifier: MPL-2.0

package types

import (
	"errors"
	"testing"
)

func TestExitCode_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code    ExitCode
		wantErr bool
	}{
		{ExitCodeSignaled, false},
		{0, false},
		{ExitCodeDependencyFailure, false},
		{255, false},
		{-2, true},
		{256, true},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			t.Parallel()
			err := tt.code.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidExitCode) {
				t.Errorf("error does not wrap ErrInvalidExitCode: %v", err)
			}
		})
	}
}

func TestExitCode_Predicates(t *testing.T) {
	t.Parallel()

	if !ExitCode(0).IsSuccess() || ExitCode(1).IsSuccess() {
		t.Error("IsSuccess mismatch")
	}
	if !ExitCodeSignaled.IsSignaled() || ExitCodeSignaled.String() != "signal" {
		t.Error("signaled exit code should report as signal")
	}
}

func TestListenPort(t *testing.T) {
	t.Parallel()

	if err := ListenPort(0).Validate(); err != nil {
		t.Errorf("Validate(0) = %v, want nil", err)
	}
	if err := ListenPort(0).ValidateFixed(); !errors.Is(err, ErrInvalidListenPort) {
		t.Errorf("ValidateFixed(0) = %v, want ErrInvalidListenPort", err)
	}
	if err := ListenPort(70000).Validate(); err == nil {
		t.Error("Validate(70000) should fail")
	}
	if got := ListenPort(5000).Addr("localhost"); got != "localhost:5000" {
		t.Errorf("Addr() = %q", got)
	}
	if got := ListenPort(8080).Addr("::1"); got != "[::1]:8080" {
		t.Errorf("Addr() = %q", got)
	}
}
