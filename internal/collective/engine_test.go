package collective

import (
	"errors"
	"testing"

	"github.com/talgya/crossroads-economy/internal/entropy"
	"github.com/talgya/crossroads-economy/internal/ledger"
	"github.com/talgya/crossroads-economy/internal/registry"
)

// fixedSource always rolls the same value, forcing an outcome.
type fixedSource struct{ v float64 }

func (f fixedSource) Float() float64 { return f.v }
func (f fixedSource) IntN(n int) int { return 0 }

const collectiveID = "collective-00"

func newEngine(t *testing.T, rng entropy.Source) (*Engine, *ledger.Ledger, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	reg.BindRole(collectiveID, "agent-b", "coordinator")
	reg.BindRole(collectiveID, "agent-a", "coordinator")
	reg.BindRole(collectiveID, "agent-c", "analyst")
	reg.SetSkill("agent-a", "coordinator", 0.9)
	reg.SetSkill("agent-b", "coordinator", 0.5)
	reg.SetSkill("agent-c", "analyst", 0.7)

	l := ledger.New()
	return NewEngine(collectiveID, l, reg, reg, rng), l, reg
}

func TestCreateTaskValidation(t *testing.T) {
	e, _, _ := newEngine(t, fixedSource{})

	if _, err := e.CreateTask("x", 0.5, 0, []string{"analyst"}); !errors.Is(err, ErrInvalidReward) {
		t.Fatalf("reward 0 err = %v, want ErrInvalidReward", err)
	}
	if _, err := e.CreateTask("x", 0.5, -3, []string{"analyst"}); !errors.Is(err, ErrInvalidReward) {
		t.Fatalf("reward -3 err = %v, want ErrInvalidReward", err)
	}
	if _, err := e.CreateTask("x", 1.2, 10, []string{"analyst"}); !errors.Is(err, ErrInvalidDifficulty) {
		t.Fatalf("difficulty 1.2 err = %v, want ErrInvalidDifficulty", err)
	}
	if _, err := e.CreateTask("x", 0.5, 10, nil); !errors.Is(err, ErrInvalidRoles) {
		t.Fatalf("empty roles err = %v, want ErrInvalidRoles", err)
	}
	if _, err := e.CreateTask("x", 0.5, 10, []string{"necromancer"}); !errors.Is(err, ErrInvalidRoles) {
		t.Fatalf("unknown role err = %v, want ErrInvalidRoles", err)
	}

	task, err := e.CreateTask("survey the vale", 0.4, 10, []string{"coordinator", "analyst", "coordinator"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Status != StatusCreated {
		t.Fatalf("status = %q, want created", task.Status)
	}
	// Duplicates collapse, roles sorted.
	if len(task.RequiredRoles) != 2 || task.RequiredRoles[0] != "analyst" || task.RequiredRoles[1] != "coordinator" {
		t.Fatalf("required roles = %v", task.RequiredRoles)
	}
}

func TestAssignRolesDeterministicTieBreak(t *testing.T) {
	e, _, _ := newEngine(t, fixedSource{})

	task, _ := e.CreateTask("x", 0.5, 10, []string{"coordinator", "analyst"})
	if err := e.AssignRoles(task.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}

	got, _ := e.Task(task.ID)
	if got.Status != StatusAssigned {
		t.Fatalf("status = %q, want assigned", got.Status)
	}
	// Both agent-a and agent-b hold coordinator; lowest id wins.
	if got.AssignedRoles["coordinator"] != "agent-a" {
		t.Fatalf("coordinator = %q, want agent-a (lowest id)", got.AssignedRoles["coordinator"])
	}
	if got.AssignedRoles["analyst"] != "agent-c" {
		t.Fatalf("analyst = %q, want agent-c", got.AssignedRoles["analyst"])
	}

	if err := e.AssignRoles(task.ID); !errors.Is(err, ErrAlreadyAssigned) {
		t.Fatalf("re-assign err = %v, want ErrAlreadyAssigned", err)
	}
}

func TestAssignRolesUnfillable(t *testing.T) {
	e, _, reg := newEngine(t, fixedSource{})
	reg.RegisterRole(collectiveID, "scout") // known but nobody holds it

	task, _ := e.CreateTask("x", 0.5, 10, []string{"analyst", "scout"})
	err := e.AssignRoles(task.ID)
	if !errors.Is(err, ErrUnfillableRole) {
		t.Fatalf("err = %v, want ErrUnfillableRole", err)
	}

	// No partial assignment persists; the task stays created.
	got, _ := e.Task(task.ID)
	if got.Status != StatusCreated || got.AssignedRoles != nil {
		t.Fatalf("task after unfillable assign = %+v", got)
	}
}

// overlapRoles is a RoleLookup where one agent may hold several roles, to
// exercise the distinct-assignee rule.
type overlapRoles struct{ holders map[string][]string }

func (o overlapRoles) AgentsWithRole(_, role string) []string { return o.holders[role] }
func (o overlapRoles) Roles(string) []string {
	out := make([]string, 0, len(o.holders))
	for r := range o.holders {
		out = append(out, r)
	}
	return out
}

func TestDistinctAgentsPerTask(t *testing.T) {
	// Agent x holds both roles; the task must still be staffed by two
	// distinct agents.
	roles := overlapRoles{holders: map[string][]string{
		"analyst":     {"x"},
		"coordinator": {"x", "y"},
	}}
	reg := registry.New()
	e := NewEngine(collectiveID, ledger.New(), reg, roles, fixedSource{})

	task, _ := e.CreateTask("x", 0.2, 10, []string{"coordinator", "analyst"})
	if err := e.AssignRoles(task.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	got, _ := e.Task(task.ID)
	if got.AssignedRoles["analyst"] != "x" || got.AssignedRoles["coordinator"] != "y" {
		t.Fatalf("assignment = %+v, want analyst=x coordinator=y", got.AssignedRoles)
	}

	// When the overlap leaves a later role with no free holder, the
	// assignment fails whole.
	solo := overlapRoles{holders: map[string][]string{
		"analyst":     {"x"},
		"coordinator": {"x"},
	}}
	e2 := NewEngine(collectiveID, ledger.New(), reg, solo, fixedSource{})
	task2, _ := e2.CreateTask("x", 0.2, 10, []string{"coordinator", "analyst"})
	if err := e2.AssignRoles(task2.ID); !errors.Is(err, ErrUnfillableRole) {
		t.Fatalf("err = %v, want ErrUnfillableRole", err)
	}
}

func TestExecuteTaskSuccessPaysOnce(t *testing.T) {
	e, l, _ := newEngine(t, fixedSource{v: 0}) // roll 0 always succeeds

	task, _ := e.CreateTask("x", 0.3, 11, []string{"coordinator", "analyst"})

	if _, err := e.ExecuteTask(task.ID); !errors.Is(err, ErrNotAssigned) {
		t.Fatalf("execute unassigned err = %v, want ErrNotAssigned", err)
	}

	if err := e.AssignRoles(task.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	res, err := e.ExecuteTask(task.ID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("forced roll 0 should succeed (p=%v)", res.Probability)
	}
	if res.RewardPaid != 11 {
		t.Fatalf("reward paid = %d, want 11", res.RewardPaid)
	}

	// Equal split with the remainder to the earliest role in sorted
	// order: analyst (agent-c) gets 6, coordinator (agent-a) gets 5.
	if got := l.Balance("agent-c"); got != 6 {
		t.Fatalf("analyst share = %d, want 6", got)
	}
	if got := l.Balance("agent-a"); got != 5 {
		t.Fatalf("coordinator share = %d, want 5", got)
	}

	// Idempotent in effect: re-execution errors and never re-pays.
	if _, err := e.ExecuteTask(task.ID); !errors.Is(err, ErrAlreadyExecuted) {
		t.Fatalf("re-execute err = %v, want ErrAlreadyExecuted", err)
	}
	if got := l.TotalSupply(); got != 11 {
		t.Fatalf("supply = %d, want 11 (reward paid exactly once)", got)
	}

	got, _ := e.Task(task.ID)
	if got.Status != StatusExecuted || !got.Succeeded {
		t.Fatalf("task after execution = %+v", got)
	}
}

func TestExecuteTaskFailureIsNotAnError(t *testing.T) {
	e, l, _ := newEngine(t, fixedSource{v: 0.9999}) // roll ~1 always fails

	task, _ := e.CreateTask("x", 0.9, 50, []string{"analyst"})
	if err := e.AssignRoles(task.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}

	res, err := e.ExecuteTask(task.ID)
	if err != nil {
		t.Fatalf("a failed task is a result, not an error: %v", err)
	}
	if res.Success {
		t.Fatalf("forced roll ~1 should fail (p=%v)", res.Probability)
	}
	if res.RewardPaid != 0 {
		t.Fatalf("reward paid on failure = %d, want 0", res.RewardPaid)
	}
	if got := l.TotalSupply(); got != 0 {
		t.Fatalf("supply = %d, want 0 (no reward on failure)", got)
	}

	// Failure is terminal too.
	got, _ := e.Task(task.ID)
	if got.Status != StatusExecuted || got.Succeeded {
		t.Fatalf("task after failed execution = %+v", got)
	}
	if _, err := e.ExecuteTask(task.ID); !errors.Is(err, ErrAlreadyExecuted) {
		t.Fatalf("re-execute err = %v, want ErrAlreadyExecuted", err)
	}
}

func TestSuccessProbabilityMonotonic(t *testing.T) {
	// More skill never hurts, more difficulty never helps.
	skills := []float64{0, 0.2, 0.4, 0.6, 0.8, 1.0}
	for i := 1; i < len(skills); i++ {
		lo := SuccessProbability(skills[i-1], 0.5)
		hi := SuccessProbability(skills[i], 0.5)
		if hi <= lo {
			t.Fatalf("p(skill=%v) = %v <= p(skill=%v) = %v", skills[i], hi, skills[i-1], lo)
		}
	}
	diffs := []float64{0, 0.25, 0.5, 0.75, 1.0}
	for i := 1; i < len(diffs); i++ {
		hard := SuccessProbability(0.5, diffs[i])
		easy := SuccessProbability(0.5, diffs[i-1])
		if hard >= easy {
			t.Fatalf("p(diff=%v) = %v >= p(diff=%v) = %v", diffs[i], hard, diffs[i-1], easy)
		}
	}
	if p := SuccessProbability(0.5, 0.5); p != 0.5 {
		t.Fatalf("p at skill==difficulty = %v, want 0.5", p)
	}
}

func TestExecutionStatistics(t *testing.T) {
	// Over many seeded trials, easy tasks for a skilled collective must
	// succeed far more often than hard tasks for an unskilled one.
	run := func(skill, difficulty float64, seed int64) int {
		reg := registry.New()
		reg.BindRole(collectiveID, "a1", "coordinator")
		reg.BindRole(collectiveID, "a2", "analyst")
		reg.SetSkill("a1", "coordinator", skill)
		reg.SetSkill("a2", "analyst", skill)

		e := NewEngine(collectiveID, ledger.New(), reg, reg, entropy.NewSeeded(seed))
		successes := 0
		for i := 0; i < 400; i++ {
			task, err := e.CreateTask("trial", difficulty, 10, []string{"coordinator", "analyst"})
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if err := e.AssignRoles(task.ID); err != nil {
				t.Fatalf("assign: %v", err)
			}
			res, err := e.ExecuteTask(task.ID)
			if err != nil {
				t.Fatalf("execute: %v", err)
			}
			if res.Success {
				successes++
			}
		}
		return successes
	}

	easy := run(0.9, 0.1, 7)
	hard := run(0.1, 0.9, 7)
	if easy <= hard {
		t.Fatalf("easy successes = %d, hard = %d; want easy > hard", easy, hard)
	}
	// p(0.9, 0.1)≈0.77, p(0.1, 0.9)≈0.23: generous bounds either side.
	if easy < 240 {
		t.Fatalf("easy successes = %d/400, suspiciously low", easy)
	}
	if hard > 160 {
		t.Fatalf("hard successes = %d/400, suspiciously high", hard)
	}

	// Same seed replays identical counts.
	if again := run(0.9, 0.1, 7); again != easy {
		t.Fatalf("seeded rerun = %d, want %d", again, easy)
	}
}
