package server

import (
	"github.com/law1om/analytics-platform/internal/domain"
	"github.com/law1om/analytics-platform/internal/engine"
)

// Request payloads

type LoginRequest struct {
	Email    string `json:"email" example:"admin@bank.com"`
	Password string `json:"password"`
}

type DivisionRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Blocks      []string `json:"blocks,omitempty"`
}

type GoalRequest struct {
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	TargetValue  *float64 `json:"targetValue,omitempty"`
	CurrentValue *float64 `json:"currentValue,omitempty"`
	Deadline     string   `json:"deadline" example:"2025-12-31"`
	Progress     int      `json:"progress,omitempty"`
	DivisionID   int64    `json:"divisionId"`
}

type TaskRequest struct {
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	ExpectedResult string `json:"expectedResult,omitempty"`
	ActualResult   string `json:"actualResult,omitempty"`
	Progress       int    `json:"progress,omitempty"`
	Impact         string `json:"impact,omitempty"`
	Status         string `json:"status,omitempty" enum:"NOT_STARTED,IN_PROGRESS,COMPLETED,ON_HOLD,CANCELLED,PENDING"`
	StartDate      string `json:"startDate,omitempty"`
	EndDate        string `json:"endDate,omitempty"`
	GoalID         int64  `json:"goalId"`
	UserID         *int64 `json:"userId,omitempty"`
}

type UserRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	Role       string `json:"role" enum:"ADMIN,EMPLOYEE"`
	DivisionID *int64 `json:"divisionId,omitempty"`
	Block      string `json:"block,omitempty"`
}

// Response payloads

type LoginResponse struct {
	Token      string      `json:"token"`
	Email      string      `json:"email"`
	FullName   string      `json:"fullName"`
	Role       domain.Role `json:"role"`
	DivisionID *int64      `json:"divisionId,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}

func (r DivisionRequest) input() engine.DivisionInput {
	return engine.DivisionInput{Name: r.Name, Description: r.Description, Blocks: r.Blocks}
}

func (r GoalRequest) input() engine.GoalInput {
	return engine.GoalInput{
		Title:        r.Title,
		Description:  r.Description,
		TargetValue:  r.TargetValue,
		CurrentValue: r.CurrentValue,
		Deadline:     r.Deadline,
		Progress:     r.Progress,
		DivisionID:   r.DivisionID,
	}
}

func (r TaskRequest) input() engine.TaskInput {
	return engine.TaskInput{
		Title:          r.Title,
		Description:    r.Description,
		ExpectedResult: r.ExpectedResult,
		ActualResult:   r.ActualResult,
		Progress:       r.Progress,
		Impact:         r.Impact,
		Status:         r.Status,
		StartDate:      r.StartDate,
		EndDate:        r.EndDate,
		GoalID:         r.GoalID,
		UserID:         r.UserID,
	}
}

func (r UserRequest) input() engine.UserInput {
	return engine.UserInput{
		Name:       r.Name,
		Email:      r.Email,
		Password:   r.Password,
		Role:       r.Role,
		DivisionID: r.DivisionID,
		Block:      r.Block,
	}
}
