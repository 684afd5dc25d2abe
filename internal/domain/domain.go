package domain

import (
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleEmployee Role = "EMPLOYEE"
)

// ParseRole accepts any letter case.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleEmployee:
		return RoleEmployee, nil
	}
	return "", fmt.Errorf("invalid role %q", s)
}

type TaskStatus string

const (
	StatusNotStarted TaskStatus = "NOT_STARTED"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusCompleted  TaskStatus = "COMPLETED"
	StatusOnHold     TaskStatus = "ON_HOLD"
	StatusCancelled  TaskStatus = "CANCELLED"
	// StatusPending is a legacy form default. It is accepted on input and never
	// counts as complete.
	StatusPending TaskStatus = "PENDING"
)

// TaskStatuses lists the persisted statuses in display order.
var TaskStatuses = []TaskStatus{StatusNotStarted, StatusInProgress, StatusCompleted, StatusOnHold, StatusCancelled}

// ParseTaskStatus accepts the persisted statuses plus legacy PENDING. Empty input
// yields NOT_STARTED.
func ParseTaskStatus(s string) (TaskStatus, error) {
	v := TaskStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch v {
	case "":
		return StatusNotStarted, nil
	case StatusNotStarted, StatusInProgress, StatusCompleted, StatusOnHold, StatusCancelled, StatusPending:
		return v, nil
	}
	return "", fmt.Errorf("invalid task status %q", s)
}

// Normalize folds legacy PENDING into NOT_STARTED.
func (s TaskStatus) Normalize() TaskStatus {
	if s == StatusPending || s == "" {
		return StatusNotStarted
	}
	return s
}

type Division struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Blocks      []string `json:"blocks"`
	CreatedAt   string   `json:"createdAt,omitempty" format:"date-time"`
	UpdatedAt   string   `json:"updatedAt,omitempty" format:"date-time"`
}

// HasBlock reports whether name is one of the division's blocks.
func (d Division) HasBlock(name string) bool {
	for _, b := range d.Blocks {
		if b == name {
			return true
		}
	}
	return false
}

type Goal struct {
	ID           int64    `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	TargetValue  *float64 `json:"targetValue,omitempty"`
	CurrentValue *float64 `json:"currentValue,omitempty"`
	Deadline     Date     `json:"deadline"`
	Progress     int      `json:"progress"`
	DivisionID   int64    `json:"divisionId"`
	DivisionName string   `json:"divisionName,omitempty"`
	CreatedAt    string   `json:"createdAt,omitempty" format:"date-time"`
	UpdatedAt    string   `json:"updatedAt,omitempty" format:"date-time"`
}

// Complete reports whether the clamped progress reached 100.
func (g Goal) Complete() bool {
	return ClampProgress(g.Progress) == 100
}

type Task struct {
	ID             int64      `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	ExpectedResult string     `json:"expectedResult,omitempty"`
	ActualResult   string     `json:"actualResult,omitempty"`
	Progress       int        `json:"progress"`
	Impact         string     `json:"impact,omitempty"`
	Status         TaskStatus `json:"status" enum:"NOT_STARTED,IN_PROGRESS,COMPLETED,ON_HOLD,CANCELLED,PENDING"`
	StartDate      Date       `json:"startDate,omitempty"`
	EndDate        Date       `json:"endDate,omitempty"`
	GoalID         int64      `json:"goalId"`
	GoalTitle      string     `json:"goalTitle,omitempty"`
	UserID         *int64     `json:"userId,omitempty"`
	UserName       string     `json:"userName,omitempty"`
	CreatedAt      string     `json:"createdAt,omitempty" format:"date-time"`
	UpdatedAt      string     `json:"updatedAt,omitempty" format:"date-time"`
}

// Complete reports whether the task status is COMPLETED. Progress is informational.
func (t Task) Complete() bool {
	return t.Status == StatusCompleted
}

type User struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Role         Role   `json:"role" enum:"ADMIN,EMPLOYEE"`
	DivisionID   *int64 `json:"divisionId,omitempty"`
	DivisionName string `json:"divisionName,omitempty"`
	Block        string `json:"block,omitempty"`
	CreatedAt    string `json:"createdAt,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   int64  `json:"entity_id,omitempty"`
	ActorID    int64  `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// ClampProgress bounds a percentage to [0,100].
func ClampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// Int64Ptr is a convenience for optional ids.
func Int64Ptr(v int64) *int64 { return &v }

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// Date is a calendar date in YYYY-MM-DD form. The zero value means "not set".
type Date string

// DateOf formats t as a Date.
func DateOf(t time.Time) Date {
	return Date(t.Format(DateLayout))
}

// ParseDate validates s. Empty input is allowed and yields the zero Date.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	if _, err := time.Parse(DateLayout, s); err != nil {
		return "", fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return Date(s), nil
}

func (d Date) IsZero() bool { return d == "" }

func (d Date) String() string { return string(d) }

// Time parses the date; ok is false for zero or malformed values.
func (d Date) Time() (time.Time, bool) {
	if d == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(DateLayout, string(d))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Before reports whether d is a strictly earlier day than asOf. Zero or malformed
// dates are never before anything.
func (d Date) Before(asOf time.Time) bool {
	t, ok := d.Time()
	if !ok {
		return false
	}
	y, m, day := asOf.Date()
	return t.Before(time.Date(y, m, day, 0, 0, 0, 0, time.UTC))
}

// After reports whether d is strictly later than other. Zero dates compare false.
func (d Date) After(other Date) bool {
	a, ok1 := d.Time()
	b, ok2 := other.Time()
	return ok1 && ok2 && a.After(b)
}
