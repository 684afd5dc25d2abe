package domain

import (
	"testing"
	"time"
)

func TestParseTaskStatus(t *testing.T) {
	cases := map[string]TaskStatus{
		"":            StatusNotStarted,
		"completed":   StatusCompleted,
		" ON_HOLD ":   StatusOnHold,
		"PENDING":     StatusPending,
		"in_progress": StatusInProgress,
	}
	for in, want := range cases {
		got, err := ParseTaskStatus(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if got != want {
			t.Fatalf("parse %q: got %s want %s", in, got, want)
		}
	}
	if _, err := ParseTaskStatus("DONE"); err == nil {
		t.Fatalf("expected error for unknown status")
	}
	if StatusPending.Normalize() != StatusNotStarted {
		t.Fatalf("pending should normalize to not started")
	}
}

func TestCompletionPredicates(t *testing.T) {
	if !(Goal{Progress: 100}).Complete() {
		t.Fatalf("goal at 100 should be complete")
	}
	if !(Goal{Progress: 140}).Complete() {
		t.Fatalf("goal above 100 clamps to complete")
	}
	if (Goal{Progress: 99}).Complete() {
		t.Fatalf("goal at 99 is not complete")
	}
	if (Task{Status: StatusInProgress, Progress: 100}).Complete() {
		t.Fatalf("task progress must not drive completion")
	}
	if !(Task{Status: StatusCompleted}).Complete() {
		t.Fatalf("completed task should be complete")
	}
	if (Task{Status: StatusPending}).Complete() {
		t.Fatalf("pending task is never complete")
	}
}

func TestDates(t *testing.T) {
	if _, err := ParseDate("2024-13-01"); err == nil {
		t.Fatalf("expected invalid month error")
	}
	d, err := ParseDate("2024-03-01")
	if err != nil {
		t.Fatalf("parse date: %v", err)
	}
	asOf := time.Date(2024, 3, 1, 18, 30, 0, 0, time.UTC)
	if d.Before(asOf) {
		t.Fatalf("same day is not before")
	}
	if !d.Before(asOf.AddDate(0, 0, 1)) {
		t.Fatalf("expected date before next day")
	}
	if Date("").Before(asOf) {
		t.Fatalf("zero date is never before")
	}
	if !Date("2024-03-02").After(d) {
		t.Fatalf("expected after")
	}
	if Date("").After(d) {
		t.Fatalf("zero date is never after")
	}
}

func TestParseRole(t *testing.T) {
	if r, err := ParseRole("admin"); err != nil || r != RoleAdmin {
		t.Fatalf("parse admin: %v %v", r, err)
	}
	if _, err := ParseRole("owner"); err == nil {
		t.Fatalf("expected error")
	}
}
