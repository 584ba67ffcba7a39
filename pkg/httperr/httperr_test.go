package httperr

import "testing"

func TestIsBadRequest(t *testing.T) {
	if IsBadRequest(nil) {
		t.Fatalf("expected false for nil")
	}
	if IsBadRequest(NewBadRequest("bad")) != true {
		t.Fatalf("expected true for BadRequestError")
	}
	if IsBadRequest(assertErr("other")) {
		t.Fatalf("expected false for non-BadRequestError")
	}
	if IsBadRequest(NewConflict("conflict")) {
		t.Fatalf("expected false for ConflictError")
	}
}

func TestIsNotFound(t *testing.T) {
	if IsNotFound(nil) {
		t.Fatalf("expected false for nil")
	}
	if !IsNotFound(NewNotFound("missing")) {
		t.Fatalf("expected true for NotFoundError")
	}
	if IsNotFound(NewBadRequest("bad")) {
		t.Fatalf("expected false for BadRequestError")
	}
}

func TestIsForbidden(t *testing.T) {
	if IsForbidden(nil) {
		t.Fatalf("expected false for nil")
	}
	if !IsForbidden(NewForbidden("nope")) {
		t.Fatalf("expected true for ForbiddenError")
	}
	if IsForbidden(assertErr("other")) {
		t.Fatalf("expected false for non-ForbiddenError")
	}
}

func TestIsConflict(t *testing.T) {
	if IsConflict(nil) {
		t.Fatalf("expected false for nil")
	}
	if !IsConflict(NewConflict("done")) {
		t.Fatalf("expected true for ConflictError")
	}
	if IsConflict(NewNotFound("missing")) {
		t.Fatalf("expected false for NotFoundError")
	}
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
