package model

import (
	"time"

	"github.com/google/uuid"
)

// ScheduleStatus enumerates the lifecycle states of an exam schedule.
type ScheduleStatus string

const (
	ScheduleStatusScheduled ScheduleStatus = "scheduled"
	ScheduleStatusActive    ScheduleStatus = "active"
	ScheduleStatusExpired   ScheduleStatus = "expired"
	ScheduleStatusCancelled ScheduleStatus = "cancelled"
)

// CIE is the internal assessment tier of a schedule.
type CIE string

const (
	CIE1 CIE = "cie1"
	CIE2 CIE = "cie2"
	CIE3 CIE = "cie3"
)

// ExamSchedule is a planned exam window for a cohort.
type ExamSchedule struct {
	ID              uuid.UUID           `json:"id"`
	Batch           string              `json:"batch"`
	Department      *string             `json:"department,omitempty"`
	RegisterNos     []string            `json:"register_nos,omitempty"`
	CIE             CIE                 `json:"cie"`
	Subjects        []string            `json:"subjects"`
	Topics          map[string][]string `json:"topics"`
	ExamDate        string              `json:"exam_date"`
	StartTime       string              `json:"start_time"`
	EndTime         string              `json:"end_time"`
	DurationMinutes int                 `json:"duration_minutes"`
	ViolationLimit  int                 `json:"violation_limit"`
	ExamCode        *string             `json:"exam_code,omitempty"`
	ValidFrom       time.Time           `json:"valid_from"`
	ValidTill       time.Time           `json:"valid_till"`
	Status          ScheduleStatus      `json:"status"`
	CreatedBy       *int                `json:"created_by,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	ActivatedAt     *time.Time          `json:"activated_at,omitempty"`
	ExpiredAt       *time.Time          `json:"expired_at,omitempty"`
	CancelledAt     *time.Time          `json:"cancelled_at,omitempty"`
}

// Duration returns the per-student attempt length.
func (s *ExamSchedule) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// InWindow reports whether t falls inside [ValidFrom, ValidTill].
func (s *ExamSchedule) InWindow(t time.Time) bool {
	return !t.Before(s.ValidFrom) && !t.After(s.ValidTill)
}

// CreateScheduleRequest is the payload for creating a new exam schedule.
type CreateScheduleRequest struct {
	Batch          string              `json:"batch" binding:"required,max=20"`
	Department     string              `json:"department" binding:"required_without=RegisterNos,max=100"`
	RegisterNos    []string            `json:"register_nos" binding:"required_without=Department,dive,required,max=30"`
	CIE            CIE                 `json:"cie" binding:"required,oneof=cie1 cie2 cie3"`
	Subjects       []string            `json:"subjects" binding:"required,min=1,max=2,unique,dive,required"`
	Topics         map[string][]string `json:"topics" binding:"required"`
	ExamDate       string              `json:"exam_date" binding:"required,datetime=2006-01-02"`
	StartTime      string              `json:"start_time" binding:"required,clock"`
	EndTime        string              `json:"end_time" binding:"required,clock"`
	ViolationLimit int                 `json:"violation_limit" binding:"omitempty,min=1,max=100"`
}

// ScheduleFilter narrows schedule listings.
type ScheduleFilter struct {
	Status  ScheduleStatus `form:"status" binding:"omitempty,oneof=scheduled active expired cancelled"`
	Page    int            `form:"page" binding:"omitempty,min=1"`
	PerPage int            `form:"per_page" binding:"omitempty,min=1,max=100"`
}

// ScheduleListResponse wraps a page of schedules.
type ScheduleListResponse struct {
	Schedules []ExamSchedule `json:"schedules"`
	Total     int            `json:"total"`
	Page      int            `json:"page"`
	PerPage   int            `json:"per_page"`
}
