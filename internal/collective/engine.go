// Package collective runs group tasks: role-requirement matching against a
// collective's registered roles, probabilistic execution from pooled agent
// skill, and reward distribution through the ledger.
//
// Task lifecycle: created → assigned → executed, each transition exactly
// once. A failed execution is a normal business outcome reported in the
// Result, not an error.
package collective

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/crossroads-economy/internal/entropy"
	"github.com/talgya/crossroads-economy/internal/ledger"
	"github.com/talgya/crossroads-economy/internal/phi"
)

var (
	// ErrInvalidRoles rejects an empty role set or roles the collective
	// does not know.
	ErrInvalidRoles = errors.New("invalid roles")
	// ErrInvalidReward rejects non-positive rewards.
	ErrInvalidReward = errors.New("invalid reward")
	// ErrInvalidDifficulty rejects difficulty outside [0, 1].
	ErrInvalidDifficulty = errors.New("invalid difficulty")
	// ErrUnfillableRole means a required role has no eligible holder.
	ErrUnfillableRole = errors.New("unfillable role")
	// ErrNotAssigned means execution was attempted before assignment.
	ErrNotAssigned = errors.New("task not assigned")
	// ErrAlreadyAssigned means assignment was attempted twice.
	ErrAlreadyAssigned = errors.New("task already assigned")
	// ErrAlreadyExecuted means execution was attempted twice.
	ErrAlreadyExecuted = errors.New("task already executed")
	// ErrUnknownTask means no task has the given id.
	ErrUnknownTask = errors.New("unknown task")
)

// SkillLookup resolves an agent's level in a named skill. Implemented by
// the external agent registry.
type SkillLookup interface {
	// Skill returns the agent's level in [0, 1] and whether the agent has
	// the skill at all.
	Skill(agentID, skill string) (float64, bool)
}

// RoleLookup resolves a collective's role bindings. Implemented by the
// external collective registry.
type RoleLookup interface {
	// AgentsWithRole returns the agents bound to a role in a collective.
	AgentsWithRole(collectiveID, role string) []string
	// Roles returns all role names the collective knows.
	Roles(collectiveID string) []string
}

// Status is the lifecycle state of a task.
type Status string

const (
	StatusCreated  Status = "created"
	StatusAssigned Status = "assigned"
	StatusExecuted Status = "executed"
)

// Task is a unit of collective work with probabilistic success.
type Task struct {
	ID            string            `json:"id"`
	Description   string            `json:"description"`
	Difficulty    float64           `json:"difficulty"`
	Reward        int64             `json:"reward"`
	RequiredRoles []string          `json:"required_roles"`
	AssignedRoles map[string]string `json:"assigned_roles,omitempty"`
	Status        Status            `json:"status"`
	Succeeded     bool              `json:"succeeded"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Result reports one task execution to the driver/reflection layer.
type Result struct {
	TaskID       string            `json:"task_id"`
	Success      bool              `json:"success"`
	Participants map[string]string `json:"participants"` // role → agent
	SkillMean    float64           `json:"skill_mean"`
	Probability  float64           `json:"probability"`
	RewardPaid   int64             `json:"reward_paid"`
}

// Engine owns the task records of one collective and drives their
// lifecycle. Role selection is deterministic (lowest agent id); the
// execution roll comes from the engine's entropy source, so a fixed seed
// replays identical outcomes.
type Engine struct {
	mu           sync.Mutex
	collectiveID string
	ledger       *ledger.Ledger
	skills       SkillLookup
	roles        RoleLookup
	rng          entropy.Source
	tasks        map[string]*Task
	order        []string
}

// NewEngine creates a task engine for one collective.
func NewEngine(collectiveID string, l *ledger.Ledger, skills SkillLookup, roles RoleLookup, rng entropy.Source) *Engine {
	return &Engine{
		collectiveID: collectiveID,
		ledger:       l,
		skills:       skills,
		roles:        roles,
		rng:          rng,
		tasks:        make(map[string]*Task),
	}
}

// CollectiveID returns the collective this engine serves.
func (e *Engine) CollectiveID() string { return e.collectiveID }

// CreateTask registers a new task in created state and returns a copy.
// Required roles must be a non-empty subset of the collective's known
// roles; duplicates collapse.
func (e *Engine) CreateTask(description string, difficulty float64, reward int64, requiredRoles []string) (Task, error) {
	if reward <= 0 {
		return Task{}, ErrInvalidReward
	}
	if difficulty < 0 || difficulty > 1 {
		return Task{}, ErrInvalidDifficulty
	}
	if len(requiredRoles) == 0 {
		return Task{}, ErrInvalidRoles
	}

	known := make(map[string]bool)
	for _, r := range e.roles.Roles(e.collectiveID) {
		known[r] = true
	}

	seen := make(map[string]bool)
	roles := make([]string, 0, len(requiredRoles))
	for _, r := range requiredRoles {
		if !known[r] {
			return Task{}, fmt.Errorf("%w: %q not registered in collective %s", ErrInvalidRoles, r, e.collectiveID)
		}
		if !seen[r] {
			seen[r] = true
			roles = append(roles, r)
		}
	}
	sort.Strings(roles)

	t := &Task{
		ID:            "task_" + uuid.NewString(),
		Description:   description,
		Difficulty:    difficulty,
		Reward:        reward,
		RequiredRoles: roles,
		Status:        StatusCreated,
		CreatedAt:     time.Now().UTC(),
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks[t.ID] = t
	e.order = append(e.order, t.ID)
	return copyTask(t), nil
}

// AssignRoles binds one agent to each required role. When several agents
// hold a role, the lowest agent id wins; an agent already taken for an
// earlier role of the same task is skipped. On ErrUnfillableRole the task
// stays in created with no partial assignment.
func (e *Engine) AssignRoles(taskID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tasks[taskID]
	if !ok {
		return ErrUnknownTask
	}
	switch t.Status {
	case StatusExecuted:
		return ErrAlreadyExecuted
	case StatusAssigned:
		return ErrAlreadyAssigned
	}

	assigned := make(map[string]string, len(t.RequiredRoles))
	used := make(map[string]bool)
	for _, role := range t.RequiredRoles {
		holders := e.roles.AgentsWithRole(e.collectiveID, role)
		sort.Strings(holders)
		picked := ""
		for _, agent := range holders {
			if !used[agent] {
				picked = agent
				break
			}
		}
		if picked == "" {
			return fmt.Errorf("%w: %q in collective %s", ErrUnfillableRole, role, e.collectiveID)
		}
		assigned[role] = picked
		used[picked] = true
	}

	t.AssignedRoles = assigned
	t.Status = StatusAssigned
	return nil
}

// ExecuteTask runs an assigned task once. Success probability rises with
// the mean skill of the assigned agents in their roles and falls with
// difficulty; the roll comes from the engine's entropy source. On success
// the reward is split across participants through the ledger; on failure
// nothing is paid. Either way the task moves to executed and stays there.
func (e *Engine) ExecuteTask(taskID string) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tasks[taskID]
	if !ok {
		return Result{}, ErrUnknownTask
	}
	switch t.Status {
	case StatusExecuted:
		return Result{}, ErrAlreadyExecuted
	case StatusCreated:
		return Result{}, ErrNotAssigned
	}

	skillMean := e.skillMean(t)
	p := SuccessProbability(skillMean, t.Difficulty)
	success := e.rng.Float() < p

	t.Status = StatusExecuted
	t.Succeeded = success

	res := Result{
		TaskID:       t.ID,
		Success:      success,
		Participants: make(map[string]string, len(t.AssignedRoles)),
		SkillMean:    skillMean,
		Probability:  p,
	}
	for role, agent := range t.AssignedRoles {
		res.Participants[role] = agent
	}

	if success {
		res.RewardPaid = e.payReward(t)
	}
	return res, nil
}

// Task returns a copy of the task with the given id.
func (e *Engine) Task(id string) (Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[id]
	if !ok {
		return Task{}, false
	}
	return copyTask(t), true
}

// Tasks returns copies of all tasks in creation order.
func (e *Engine) Tasks() []Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Task, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, copyTask(e.tasks[id]))
	}
	return out
}

// skillMean averages each assigned agent's level in the skill named after
// its role. Agents without the skill count as 0. Caller must hold e.mu.
func (e *Engine) skillMean(t *Task) float64 {
	if len(t.AssignedRoles) == 0 {
		return 0
	}
	// Sorted so float accumulation order is stable across runs.
	var sum float64
	for _, role := range t.RequiredRoles {
		agent, ok := t.AssignedRoles[role]
		if !ok {
			continue
		}
		if level, ok := e.skills.Skill(agent, role); ok {
			sum += level
		}
	}
	return sum / float64(len(t.AssignedRoles))
}

// payReward splits the reward equally across participants; the remainder
// goes one token each to the earliest roles in sorted order. Caller must
// hold e.mu.
func (e *Engine) payReward(t *Task) int64 {
	roles := make([]string, 0, len(t.AssignedRoles))
	for role := range t.AssignedRoles {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	n := int64(len(roles))
	base := t.Reward / n
	rem := t.Reward % n

	var paid int64
	for i, role := range roles {
		share := base
		if int64(i) < rem {
			share++
		}
		if share == 0 {
			continue
		}
		if _, err := e.ledger.Credit(t.AssignedRoles[role], share, "task reward: "+t.ID); err != nil {
			// Credit only fails on a non-positive share, excluded above.
			continue
		}
		paid += share
	}
	return paid
}

// SuccessProbability maps mean skill and difficulty to a success chance.
// The odds ratio (skill + Agnosis)/(difficulty + Agnosis) makes the curve
// monotonic up in skill and down in difficulty, with p = 0.5 when skill
// matches difficulty. The Agnosis floor keeps zero-skill collectives from
// being mathematically hopeless.
func SuccessProbability(skillMean, difficulty float64) float64 {
	odds := (skillMean + phi.Agnosis) / (difficulty + phi.Agnosis)
	return odds / (odds + 1)
}

func copyTask(t *Task) Task {
	out := *t
	out.RequiredRoles = append([]string(nil), t.RequiredRoles...)
	if t.AssignedRoles != nil {
		out.AssignedRoles = make(map[string]string, len(t.AssignedRoles))
		for k, v := range t.AssignedRoles {
			out.AssignedRoles[k] = v
		}
	}
	return out
}
