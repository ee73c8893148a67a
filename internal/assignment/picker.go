package assignment

import (
	"fmt"
	"math/rand/v2"

	"github.com/stemsi/exam-orchestrator/internal/model"
)

// borrowOrder lists which levels fill a shortfall at each target level.
var borrowOrder = map[int][]int{
	model.LevelEasy:   {model.LevelMedium, model.LevelHard},
	model.LevelMedium: {model.LevelEasy, model.LevelHard},
	model.LevelHard:   {model.LevelMedium, model.LevelEasy},
}

// ExhaustionError reports a topic whose pools cannot satisfy its targets even
// after borrowing.
type ExhaustionError struct {
	Subject string
	Topic   string
	Level   int
	Missing int
}

func (e *ExhaustionError) Error() string {
	return fmt.Sprintf("assignment: %s/%s level %d short by %d unique questions", e.Subject, e.Topic, e.Level, e.Missing)
}

// picker draws one student's questions. The uniqueness set spans every topic
// and subject the student receives.
type picker struct {
	rng  *rand.Rand
	used map[string]struct{}
}

func newPicker(rng *rand.Rand) *picker {
	return &picker{rng: rng, used: make(map[string]struct{})}
}

// pickTopic fills tp's targets from per-student shuffled clones of its pools.
func (p *picker) pickTopic(subject string, tp TopicPlan) ([]model.BankQuestion, error) {
	var pools [3][]model.BankQuestion
	for i := range tp.Pools {
		pools[i] = append([]model.BankQuestion(nil), tp.Pools[i]...)
		p.rng.Shuffle(len(pools[i]), func(a, b int) {
			pools[i][a], pools[i][b] = pools[i][b], pools[i][a]
		})
	}

	out := make([]model.BankQuestion, 0, tp.Total)
	for _, level := range Levels {
		need := tp.Targets[level-1]
		need -= p.draw(&pools[level-1], need, &out)
		for _, from := range borrowOrder[level] {
			if need == 0 {
				break
			}
			need -= p.draw(&pools[from-1], need, &out)
		}
		if need > 0 {
			return nil, &ExhaustionError{Subject: subject, Topic: tp.Topic, Level: level, Missing: need}
		}
	}
	return out, nil
}

// draw consumes pool until n unused questions are taken or it runs dry.
func (p *picker) draw(pool *[]model.BankQuestion, n int, out *[]model.BankQuestion) int {
	taken := 0
	for taken < n && len(*pool) > 0 {
		q := (*pool)[0]
		*pool = (*pool)[1:]
		k := Key(q)
		if _, dup := p.used[k]; dup {
			continue
		}
		p.used[k] = struct{}{}
		*out = append(*out, q)
		taken++
	}
	return taken
}
