// Package assignment builds per-student question sequences from a shared
// question bank. It performs no I/O; callers load the bank and persist the
// result.
package assignment

import (
	"fmt"
	"math"
	"sort"

	"github.com/stemsi/exam-orchestrator/internal/model"
)

// Levels is the fixed order in which difficulty targets are filled.
var Levels = [3]int{model.LevelEasy, model.LevelMedium, model.LevelHard}

// Plan is the per-schedule allocation every student is assigned against.
type Plan struct {
	Subjects []SubjectPlan
}

// SubjectPlan is one subject's block of the exam.
type SubjectPlan struct {
	Subject string
	Total   int
	Topics  []TopicPlan
}

// TopicPlan carries the per-level targets and pools of one topic.
// Pools are shared by every student and must never be mutated.
type TopicPlan struct {
	Topic   string
	Total   int
	Targets [3]int
	Pools   [3][]model.BankQuestion
}

// EmptyTopics lists, as "subject/topic", every selected topic that has no
// questions in the bank at any level. Such topics still receive their share
// of the subject total and cannot be satisfied.
func (p Plan) EmptyTopics() []string {
	var out []string
	for _, sp := range p.Subjects {
		for _, tp := range sp.Topics {
			if len(tp.Pools[0])+len(tp.Pools[1])+len(tp.Pools[2]) == 0 {
				out = append(out, sp.Subject+"/"+tp.Topic)
			}
		}
	}
	return out
}

// Total returns the number of questions each student receives.
func (p Plan) Total() int {
	n := 0
	for _, s := range p.Subjects {
		n += s.Total
	}
	return n
}

// SubjectTotals returns the per-subject question counts for a tier, in
// selection order.
func SubjectTotals(cie model.CIE, subjectCount int) []int {
	switch {
	case subjectCount == 1 && cie == model.CIE3:
		return []int{60}
	case subjectCount == 1:
		return []int{30}
	case subjectCount == 2 && cie == model.CIE3:
		return []int{60, 40}
	case subjectCount == 2:
		return []int{30, 20}
	default:
		return nil
	}
}

// SplitTopics divides total evenly across n topics, giving the remainder to
// the first topics.
func SplitTopics(total, n int) []int {
	if n <= 0 {
		return nil
	}
	out := make([]int, n)
	base, rem := total/n, total%n
	for i := range out {
		out[i] = base
		if i < rem {
			out[i]++
		}
	}
	return out
}

// Distribution returns the level 1/2/3 targets for a topic total. The 40/40/20
// split is rounded, then corrected one unit at a time (L1, L2, L3 when short;
// L3, L2, L1 when over) so the targets always sum to total.
func Distribution(total int) [3]int {
	if total <= 0 {
		return [3]int{}
	}
	t := float64(total)
	d := [3]int{
		int(math.Round(t * 0.4)),
		int(math.Round(t * 0.4)),
		int(math.Round(t * 0.2)),
	}

	diff := total - (d[0] + d[1] + d[2])
	for i := 0; diff > 0; i = (i + 1) % 3 {
		d[i]++
		diff--
	}
	for i := 2; diff < 0; i = (i + 2) % 3 {
		if d[i] > 0 {
			d[i]--
			diff++
		}
	}
	return d
}

// StorageOrder returns subject indexes with the smaller block first; ties
// keep selection order.
func StorageOrder(subjects []SubjectPlan) []int {
	idx := make([]int, len(subjects))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return subjects[idx[a]].Total < subjects[idx[b]].Total
	})
	return idx
}

// NewPlan assembles a Plan for the given tier and topic selections out of the
// bank questions belonging to those subjects.
func NewPlan(cie model.CIE, subjects []string, topics map[string][]string, bank []model.BankQuestion) (Plan, error) {
	totals := SubjectTotals(cie, len(subjects))
	if totals == nil {
		return Plan{}, fmt.Errorf("assignment: need 1 or 2 subjects, got %d", len(subjects))
	}

	type poolKey struct{ subject, topic string }
	pools := make(map[poolKey]*[3][]model.BankQuestion)
	for _, q := range bank {
		if q.DifficultyLevel < model.LevelEasy || q.DifficultyLevel > model.LevelHard {
			continue
		}
		k := poolKey{q.Subject, q.Topic}
		p, ok := pools[k]
		if !ok {
			p = new([3][]model.BankQuestion)
			pools[k] = p
		}
		p[q.DifficultyLevel-1] = append(p[q.DifficultyLevel-1], q)
	}

	plan := Plan{Subjects: make([]SubjectPlan, len(subjects))}
	for i, subject := range subjects {
		selected := topics[subject]
		if len(selected) == 0 {
			return Plan{}, fmt.Errorf("assignment: subject %q has no topics", subject)
		}
		sp := SubjectPlan{Subject: subject, Total: totals[i]}
		for j, n := range SplitTopics(totals[i], len(selected)) {
			tp := TopicPlan{Topic: selected[j], Total: n, Targets: Distribution(n)}
			if p, ok := pools[poolKey{subject, selected[j]}]; ok {
				tp.Pools = *p
			}
			sp.Topics = append(sp.Topics, tp)
		}
		plan.Subjects[i] = sp
	}
	return plan, nil
}
