package store

import "testing"

func TestPlaceholderEmailIsUniquePerUser(t *testing.T) {
	// Two gateway users named "Alex Smith" must not map to the same
	// address, or the second upsert trips the email unique constraint.
	a := placeholderEmail("usr_1a2b3c")
	b := placeholderEmail("usr_4D5E6F")
	if a == b {
		t.Fatalf("expected distinct placeholder emails, both were %q", a)
	}
	if a != "usr_1a2b3c@local.taskboard.dev" {
		t.Fatalf("unexpected placeholder email %q", a)
	}
	if b != "usr_4d5e6f@local.taskboard.dev" {
		t.Fatalf("expected lowercase placeholder email, got %q", b)
	}
}
