package firestore

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWrapErrorClassification(t *testing.T) {
	cases := []struct {
		name          string
		code          codes.Code
		notFound      bool
		conflict      bool
		unavailable   bool
		alreadyExists bool
	}{
		{name: "not found", code: codes.NotFound, notFound: true},
		{name: "already exists", code: codes.AlreadyExists, conflict: true, alreadyExists: true},
		{name: "aborted", code: codes.Aborted, conflict: true},
		{name: "failed precondition", code: codes.FailedPrecondition, conflict: true},
		{name: "unavailable", code: codes.Unavailable, unavailable: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := WrapError("commissions.record", status.Error(tc.code, tc.name))
			var ferr *Error
			if !errors.As(err, &ferr) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if ferr.IsNotFound() != tc.notFound || ferr.IsConflict() != tc.conflict || ferr.IsUnavailable() != tc.unavailable {
				t.Fatalf("unexpected classification for %s: %+v", tc.code, ferr)
			}
			if got := IsAlreadyExistsStatus(err); got != tc.alreadyExists {
				t.Fatalf("IsAlreadyExistsStatus(%s) = %v", tc.code, got)
			}
		})
	}
}

func TestIsAlreadyExistsStatusRawAndPlain(t *testing.T) {
	if !IsAlreadyExistsStatus(status.Error(codes.AlreadyExists, "exists")) {
		t.Fatalf("expected raw AlreadyExists status to match")
	}
	if IsAlreadyExistsStatus(errors.New("plain")) {
		t.Fatalf("expected plain error not to match")
	}
	if IsAlreadyExistsStatus(nil) {
		t.Fatalf("expected nil not to match")
	}
}

func TestWrapErrorPassesCancellationThrough(t *testing.T) {
	if err := WrapError("get", context.Canceled); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := WrapError("get", status.Error(codes.DeadlineExceeded, "slow")); err != context.DeadlineExceeded {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}
