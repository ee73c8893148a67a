package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/stemsi/exam-orchestrator/internal/config"
	"github.com/stemsi/exam-orchestrator/internal/database"
	"github.com/stemsi/exam-orchestrator/internal/logger"
	"github.com/stemsi/exam-orchestrator/internal/model"
	"github.com/stemsi/exam-orchestrator/internal/repository"
)

// Per-topic bank size by level; enough for a single-subject CIE3 exam drawn
// from one topic.
var levelCounts = map[int]int{
	model.LevelEasy:   25,
	model.LevelMedium: 25,
	model.LevelHard:   15,
}

var bankTopics = map[string][]string{
	"Aptitude":  {"Percentages", "Ratios", "Time and Work"},
	"Reasoning": {"Series", "Coding-Decoding", "Blood Relations"},
}

func main() {
	var (
		batch       string
		departments string
		count       int
		password    string
		withBank    bool
	)
	flag.StringVar(&batch, "batch", "2025", "Batch (admission year) of the seeded students")
	flag.StringVar(&departments, "departments", "CSE,ECE", "Comma-separated department codes")
	flag.IntVar(&count, "count", 30, "Students per department")
	flag.StringVar(&password, "password", "exam1234", "Password shared by every seeded student")
	flag.BoolVar(&withBank, "bank", true, "Also seed a sample question bank")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup("seed-students", cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	studentRepo := repository.NewStudentRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), cfg.BcryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}

	// ─── Students ──────────────────────────────────────────────────────
	created, skipped := 0, 0
	for _, dept := range strings.Split(departments, ",") {
		dept = strings.ToUpper(strings.TrimSpace(dept))
		if dept == "" {
			continue
		}
		fmt.Printf("=== Seeding %d %s students (batch %s) ===\n", count, dept, batch)
		for i := 1; i <= count; i++ {
			student := &model.Student{
				RegisterNo:   fmt.Sprintf("%s%s%03d", batch, dept, i),
				Name:         fmt.Sprintf("%s Student %d", dept, i),
				Department:   dept,
				Batch:        batch,
				Section:      string(rune('A' + (i-1)%3)),
				PasswordHash: string(hash),
			}
			if err := studentRepo.Create(ctx, student); err != nil {
				if errors.Is(err, repository.ErrDuplicate) {
					skipped++
					continue
				}
				log.Fatal().Err(err).Str("register_no", student.RegisterNo).Msg("Failed to create student")
			}
			created++
		}
	}
	fmt.Printf("Students: %d created, %d already present\n", created, skipped)

	if !withBank {
		return
	}

	// ─── Question Bank ─────────────────────────────────────────────────
	var bank []model.BankQuestion
	for subject, topics := range bankTopics {
		for _, topic := range topics {
			for level, n := range levelCounts {
				for i := 1; i <= n; i++ {
					bank = append(bank, model.BankQuestion{
						Subject:         subject,
						Topic:           topic,
						DifficultyLevel: level,
						QuestionText:    fmt.Sprintf("[%s/%s L%d] Sample question %d", subject, topic, level, i),
						Options:         []string{"A", "B", "C", "D"},
						CorrectOption:   []string{"A", "B", "C", "D"}[i%4],
					})
				}
			}
		}
	}

	n, err := questionRepo.BulkInsert(ctx, bank)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to seed question bank")
	}
	fmt.Printf("Question bank: %d questions inserted\n", n)
}
