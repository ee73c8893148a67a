package assignment

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"

	"github.com/stemsi/exam-orchestrator/internal/model"
)

// Engine assigns question sequences to every student of a schedule.
type Engine struct {
	concurrency int
	seed        func() (uint64, uint64, error)
}

// NewEngine creates an Engine running at most concurrency students at once.
func NewEngine(concurrency int) *Engine {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Engine{concurrency: concurrency, seed: cryptoSeed}
}

func cryptoSeed() (uint64, uint64, error) {
	var b [16]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, 0, err
	}
	return binary.LittleEndian.Uint64(b[:8]), binary.LittleEndian.Uint64(b[8:]), nil
}

// AssignStudent builds one student's numbered sequence using rng for every
// shuffle.
func (e *Engine) AssignStudent(plan Plan, rng *rand.Rand) ([]model.AssignedQuestion, error) {
	p := newPicker(rng)

	blocks := make([][]model.BankQuestion, len(plan.Subjects))
	for i, sp := range plan.Subjects {
		block := make([]model.BankQuestion, 0, sp.Total)
		for _, tp := range sp.Topics {
			qs, err := p.pickTopic(sp.Subject, tp)
			if err != nil {
				return nil, err
			}
			block = append(block, qs...)
		}
		rng.Shuffle(len(block), func(a, b int) { block[a], block[b] = block[b], block[a] })
		blocks[i] = block
	}

	out := make([]model.AssignedQuestion, 0, plan.Total())
	for _, i := range StorageOrder(plan.Subjects) {
		for _, q := range blocks[i] {
			opts := append([]string(nil), q.Options...)
			rng.Shuffle(len(opts), func(a, b int) { opts[a], opts[b] = opts[b], opts[a] })
			out = append(out, model.AssignedQuestion{
				QuestionNumber:  len(out) + 1,
				QuestionID:      q.ID,
				Subject:         q.Subject,
				Topic:           q.Topic,
				DifficultyLevel: q.DifficultyLevel,
				QuestionText:    q.QuestionText,
				Options:         opts,
				CorrectOption:   q.CorrectOption,
			})
		}
	}
	return out, nil
}

// AssignAll fills Questions on a copy of every roster entry. Each student gets
// an independently seeded generator. Any failure discards the whole result.
func (e *Engine) AssignAll(ctx context.Context, plan Plan, entries []model.RosterEntry) ([]model.RosterEntry, error) {
	out := make([]model.RosterEntry, len(entries))
	copy(out, entries)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i := range out {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s1, s2, err := e.seed()
			if err != nil {
				return fmt.Errorf("seed generator: %w", err)
			}
			qs, err := e.AssignStudent(plan, rand.New(rand.NewPCG(s1, s2)))
			if err != nil {
				return fmt.Errorf("student %s: %w", out[i].RegisterNo, err)
			}
			out[i].Questions = qs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
