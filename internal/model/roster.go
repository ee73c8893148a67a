package model

import (
	"time"

	"github.com/google/uuid"
)

// RosterEntry is one student's frozen slot in a schedule's roster, including
// the personalized question sequence written at activation.
type RosterEntry struct {
	ID          uuid.UUID          `json:"id"`
	ScheduleID  uuid.UUID          `json:"schedule_id"`
	StudentID   int                `json:"student_id"`
	RegisterNo  string             `json:"register_no"`
	Name        string             `json:"name"`
	Department  string             `json:"department"`
	Batch       string             `json:"batch"`
	Questions   []AssignedQuestion `json:"questions"`
	Violations  int                `json:"violations"`
	IsComplete  bool               `json:"is_complete"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	Score       *int               `json:"score,omitempty"`
}

// AssignedQuestion is a question as placed into a student's sequence.
type AssignedQuestion struct {
	QuestionNumber  int       `json:"question_number"`
	QuestionID      uuid.UUID `json:"question_id"`
	Subject         string    `json:"subject"`
	Topic           string    `json:"topic"`
	DifficultyLevel int       `json:"difficulty_level"`
	QuestionText    string    `json:"question_text"`
	Options         []string  `json:"options"`
	CorrectOption   string    `json:"correct_option"`
	ChosenOption    *string   `json:"chosen_option,omitempty"`
	IsCorrect       *bool     `json:"is_correct,omitempty"`
}

// Answered reports whether a choice has been recorded.
func (q *AssignedQuestion) Answered() bool {
	return q.ChosenOption != nil
}

// QuestionForStudent is an assigned question without the correct answer.
type QuestionForStudent struct {
	QuestionNumber int      `json:"question_number"`
	Subject        string   `json:"subject"`
	QuestionText   string   `json:"question_text"`
	Options        []string `json:"options"`
	ChosenOption   *string  `json:"chosen_option,omitempty"`
}

// ForStudent strips correctness data from q.
func (q *AssignedQuestion) ForStudent() QuestionForStudent {
	return QuestionForStudent{
		QuestionNumber: q.QuestionNumber,
		Subject:        q.Subject,
		QuestionText:   q.QuestionText,
		Options:        q.Options,
		ChosenOption:   q.ChosenOption,
	}
}
