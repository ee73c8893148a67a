package model

import "github.com/google/uuid"

// Difficulty levels of a bank question.
const (
	LevelEasy   = 1
	LevelMedium = 2
	LevelHard   = 3
)

// BankQuestion is a read-only question bank entry.
type BankQuestion struct {
	ID              uuid.UUID `json:"id"`
	Subject         string    `json:"subject"`
	Topic           string    `json:"topic"`
	DifficultyLevel int       `json:"difficulty_level"`
	QuestionText    string    `json:"question_text"`
	Options         []string  `json:"options"`
	CorrectOption   string    `json:"correct_option"`
}
