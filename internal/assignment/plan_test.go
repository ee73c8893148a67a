package assignment

import (
	"testing"

	"github.com/stemsi/exam-orchestrator/internal/model"
)

func TestDistribution(t *testing.T) {
	tests := map[int][3]int{
		1:  {1, 0, 0},
		2:  {1, 1, 0},
		4:  {2, 2, 0},
		5:  {2, 2, 1},
		9:  {4, 4, 1},
		10: {4, 4, 2},
		15: {6, 6, 3},
		20: {8, 8, 4},
	}
	for total, want := range tests {
		if got := Distribution(total); got != want {
			t.Errorf("Distribution(%d) = %v, want %v", total, got, want)
		}
	}
}

func TestDistributionAlwaysSumsToTotal(t *testing.T) {
	for total := 0; total <= 200; total++ {
		d := Distribution(total)
		if d[0]+d[1]+d[2] != total {
			t.Fatalf("Distribution(%d) = %v does not sum to total", total, d)
		}
		for _, n := range d {
			if n < 0 {
				t.Fatalf("Distribution(%d) = %v has negative target", total, d)
			}
		}
	}
}

func TestSplitTopics(t *testing.T) {
	got := SplitTopics(30, 4)
	want := []int{8, 8, 7, 7}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("SplitTopics(30, 4) = %v, want %v", got, want)
		}
	}
	if SplitTopics(10, 0) != nil {
		t.Error("SplitTopics with no topics should be nil")
	}
}

func TestSubjectTotals(t *testing.T) {
	tests := []struct {
		cie  model.CIE
		n    int
		want []int
	}{
		{model.CIE1, 1, []int{30}},
		{model.CIE3, 1, []int{60}},
		{model.CIE2, 2, []int{30, 20}},
		{model.CIE3, 2, []int{60, 40}},
		{model.CIE1, 3, nil},
	}
	for _, tt := range tests {
		got := SubjectTotals(tt.cie, tt.n)
		if len(got) != len(tt.want) {
			t.Errorf("SubjectTotals(%s, %d) = %v, want %v", tt.cie, tt.n, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("SubjectTotals(%s, %d) = %v, want %v", tt.cie, tt.n, got, tt.want)
			}
		}
	}
}

func TestStorageOrder(t *testing.T) {
	subjects := []SubjectPlan{{Subject: "aptitude", Total: 30}, {Subject: "verbal", Total: 20}}
	if got := StorageOrder(subjects); got[0] != 1 || got[1] != 0 {
		t.Errorf("StorageOrder = %v, want [1 0]", got)
	}
	tied := []SubjectPlan{{Subject: "a", Total: 10}, {Subject: "b", Total: 10}}
	if got := StorageOrder(tied); got[0] != 0 || got[1] != 1 {
		t.Errorf("StorageOrder tie = %v, want [0 1]", got)
	}
}

func TestNewPlan(t *testing.T) {
	bank := append(pool("aptitude", "percentages", 1, 20), pool("aptitude", "ratios", 2, 20)...)
	bank = append(bank, pool("aptitude", "percentages", 4, 3)...)

	plan, err := NewPlan(model.CIE1, []string{"aptitude"},
		map[string][]string{"aptitude": {"percentages", "ratios"}}, bank)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	if plan.Total() != 30 {
		t.Fatalf("plan total = %d, want 30", plan.Total())
	}
	tp := plan.Subjects[0].Topics[0]
	if tp.Total != 15 || tp.Targets != [3]int{6, 6, 3} {
		t.Errorf("percentages plan = %d %v", tp.Total, tp.Targets)
	}
	if len(tp.Pools[0]) != 20 || len(tp.Pools[1]) != 0 {
		t.Errorf("percentages pools = %d/%d/%d", len(tp.Pools[0]), len(tp.Pools[1]), len(tp.Pools[2]))
	}

	if _, err := NewPlan(model.CIE1, []string{"aptitude"}, map[string][]string{}, bank); err == nil {
		t.Error("expected error for subject without topics")
	}
	if empty := plan.EmptyTopics(); len(empty) != 0 {
		t.Errorf("EmptyTopics = %v, want none", empty)
	}
}

func TestPlanEmptyTopics(t *testing.T) {
	bank := pool("aptitude", "percentages", 1, 20)
	plan, err := NewPlan(model.CIE1, []string{"aptitude"},
		map[string][]string{"aptitude": {"percentages", "geometry"}}, bank)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	empty := plan.EmptyTopics()
	if len(empty) != 1 || empty[0] != "aptitude/geometry" {
		t.Errorf("EmptyTopics = %v, want [aptitude/geometry]", empty)
	}
	if plan.Subjects[0].Topics[1].Total != 15 {
		t.Errorf("empty topic share = %d, want 15", plan.Subjects[0].Topics[1].Total)
	}
}
