// Package sim is the simulation driver: it seeds the agent population,
// funds the ledger, and advances the token economy one logical tick at a
// time. The economy core stays passive; every stochastic choice made here
// draws from the shared entropy source, so a seeded run replays exactly.
package sim

import (
	"fmt"
	"log/slog"
	"sync"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/crossroads-economy/internal/collective"
	"github.com/talgya/crossroads-economy/internal/config"
	"github.com/talgya/crossroads-economy/internal/economy"
	"github.com/talgya/crossroads-economy/internal/entropy"
	"github.com/talgya/crossroads-economy/internal/market"
	"github.com/talgya/crossroads-economy/internal/phi"
	"github.com/talgya/crossroads-economy/internal/registry"
)

// Simulation owns the population and drives the economy tick by tick.
type Simulation struct {
	Econ     *economy.Economy
	Registry *registry.Registry
	Agents   []*Agent

	// OnResult, when set, receives every task execution result (the
	// archive hook). Called synchronously from Tick.
	OnResult func(collectiveID string, res collective.Result)

	cfg        config.Config
	rng        entropy.Source
	priceNoise opensimplex.Noise

	mu       sync.Mutex
	lastTick uint64
	stats    Stats
}

// Stats is the aggregate economy snapshot recomputed each tick.
type Stats struct {
	Tick           uint64 `json:"tick"`
	Agents         int    `json:"agents"`
	TotalSupply    int64  `json:"total_supply"`
	TotalStaked    int64  `json:"total_staked"`
	ActiveListings int    `json:"active_listings"`
	ListingsSold   int    `json:"listings_sold"`
	TasksExecuted  int    `json:"tasks_executed"`
	TasksSucceeded int    `json:"tasks_succeeded"`
	InterestMinted int64  `json:"interest_minted"`
}

// New builds a simulation: spawns the population, funds every agent with
// the initial balance, and registers the collectives.
func New(cfg config.Config, rng entropy.Source) (*Simulation, error) {
	reg := registry.New()
	econ := economy.New(reg, reg, rng)

	agents := spawnPopulation(cfg.Seed, cfg.Sim.Agents, cfg.Sim.Collectives, reg, rng)
	for _, a := range agents {
		if cfg.Sim.InitialBalance > 0 {
			if _, err := econ.Ledger.Credit(a.ID, cfg.Sim.InitialBalance, "initial allocation"); err != nil {
				return nil, fmt.Errorf("fund %s: %w", a.ID, err)
			}
		}
	}

	s := &Simulation{
		Econ:       econ,
		Registry:   reg,
		Agents:     agents,
		cfg:        cfg,
		rng:        rng,
		priceNoise: opensimplex.NewNormalized(cfg.Seed + 700),
	}
	s.updateStats(0, 0)
	return s, nil
}

// CurrentTick returns the most recently processed tick number.
func (s *Simulation) CurrentTick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTick
}

// Stats returns the latest aggregate snapshot.
func (s *Simulation) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Tick advances the economy one step: agent market actions, collective
// task rounds, and the periodic interest pass.
func (s *Simulation) Tick(tick uint64) {
	for i, a := range s.Agents {
		if s.rng.Float() > phi.Psyche {
			continue // agent sits this tick out
		}
		s.actOnce(tick, i, a)
	}

	s.runTaskRound(tick)

	var minted int64
	if s.cfg.InterestEveryTicks > 0 && tick > 0 && tick%uint64(s.cfg.InterestEveryTicks) == 0 {
		minted = s.Econ.Ledger.ApplyInterest(s.cfg.InterestRate)
		if minted > 0 {
			s.Econ.Publish(tick, "interest", fmt.Sprintf("interest pass minted %d tokens", minted))
		}
	}

	s.updateStats(tick, minted)
}

// actOnce runs one agent's action for the tick: list a good, buy one,
// or move tokens in or out of stake.
func (s *Simulation) actOnce(tick uint64, idx int, a *Agent) {
	switch s.rng.IntN(4) {
	case 0:
		s.createListing(tick, idx, a)
	case 1:
		s.buySomething(tick, a)
	case 2:
		s.stakeSome(tick, a)
	case 3:
		s.unstakeSome(tick, a)
	}
}

// createListing publishes a good at a noise-shaped ask over its base
// worth, capped at the Totality multiple.
func (s *Simulation) createListing(tick uint64, idx int, a *Agent) {
	good := GoodCategories[s.rng.IntN(len(GoodCategories))]

	drift := s.priceNoise.Eval2(float64(idx)*0.31, float64(tick)*0.05)
	ask := int64(float64(good.Worth) * (1 + phi.Being*drift))
	ceiling := int64(float64(good.Worth) * phi.Totality)
	if ask < 1 {
		ask = 1
	}
	if ask > ceiling {
		ask = ceiling
	}

	title := fmt.Sprintf("%s by %s", good.Name, a.Name)
	l, err := s.Econ.Market.CreateListing(a.ID, title, "", ask, good.Name, map[string]string{"maker_role": a.Role})
	if err != nil {
		return
	}
	s.Econ.Publish(tick, "market", fmt.Sprintf("%s listed %s at %d", a.ID, l.Category, l.Price))
}

// buySomething picks the cheapest affordable listing from another seller.
func (s *Simulation) buySomething(tick uint64, a *Agent) {
	balance := s.Econ.Ledger.Balance(a.ID)
	var pick *market.Listing
	for _, l := range s.Econ.Market.ActiveListings() {
		if l.Seller == a.ID || l.Price > balance {
			continue
		}
		if pick == nil || l.Price < pick.Price {
			c := l
			pick = &c
		}
	}
	if pick == nil {
		return
	}
	if s.Econ.Market.Purchase(pick.ID, a.ID) {
		s.Econ.Publish(tick, "market", fmt.Sprintf("%s bought %s from %s for %d", a.ID, pick.Category, pick.Seller, pick.Price))
	}
}

// stakeSome locks up to the Matter share of the agent's balance.
func (s *Simulation) stakeSome(tick uint64, a *Agent) {
	balance := s.Econ.Ledger.Balance(a.ID)
	amount := int64(float64(balance) * phi.Matter * s.rng.Float())
	if amount < 1 {
		return
	}
	if err := s.Econ.Ledger.Stake(a.ID, amount); err == nil {
		s.Econ.Publish(tick, "transfer", fmt.Sprintf("%s staked %d", a.ID, amount))
	}
}

// unstakeSome releases part of the agent's stake back to its balance.
func (s *Simulation) unstakeSome(tick uint64, a *Agent) {
	staked := s.Econ.Ledger.Staked(a.ID)
	if staked == 0 {
		return
	}
	amount := int64(float64(staked) * s.rng.Float())
	if amount < 1 {
		amount = 1
	}
	if err := s.Econ.Ledger.Unstake(a.ID, amount); err == nil {
		s.Econ.Publish(tick, "transfer", fmt.Sprintf("%s unstaked %d", a.ID, amount))
	}
}

// runTaskRound gives each collective a chance to run one task end to end.
func (s *Simulation) runTaskRound(tick uint64) {
	for _, cid := range s.Registry.Collectives() {
		if s.rng.Float() > phi.Agnosis {
			continue // most ticks a collective is between tasks
		}
		s.runOneTask(tick, cid)
	}
}

func (s *Simulation) runOneTask(tick uint64, collectiveID string) {
	eng := s.Econ.EngineFor(collectiveID)
	known := s.Registry.Roles(collectiveID)
	if len(known) == 0 {
		return
	}

	// Require 2–3 distinct roles drawn from the known set.
	want := 2 + s.rng.IntN(2)
	if want > len(known) {
		want = len(known)
	}
	roles := make([]string, 0, want)
	taken := make(map[int]bool)
	for len(roles) < want {
		i := s.rng.IntN(len(known))
		if !taken[i] {
			taken[i] = true
			roles = append(roles, known[i])
		}
	}

	difficulty := s.rng.Float()
	reward := int64(20 + s.rng.IntN(60))

	t, err := eng.CreateTask(fmt.Sprintf("expedition %d for %s", tick, collectiveID), difficulty, reward, roles)
	if err != nil {
		slog.Warn("task creation rejected", "collective", collectiveID, "error", err)
		return
	}

	if err := eng.AssignRoles(t.ID); err != nil {
		s.Econ.Publish(tick, "task", fmt.Sprintf("%s could not staff task %s: %v", collectiveID, t.ID, err))
		return
	}

	res, err := eng.ExecuteTask(t.ID)
	if err != nil {
		slog.Warn("task execution rejected", "task", t.ID, "error", err)
		return
	}

	outcome := "failed"
	if res.Success {
		outcome = fmt.Sprintf("succeeded, %d tokens paid", res.RewardPaid)
	}
	s.Econ.Publish(tick, "task", fmt.Sprintf("%s task %s %s (p=%.2f)", collectiveID, res.TaskID, outcome, res.Probability))

	if s.OnResult != nil {
		s.OnResult(collectiveID, res)
	}
}

// updateStats recomputes the aggregate snapshot.
func (s *Simulation) updateStats(tick uint64, minted int64) {
	var staked int64
	for _, rec := range s.Econ.Ledger.Stakes() {
		staked += rec.Amount
	}

	sold := 0
	active := 0
	for _, l := range s.Econ.Market.Listings() {
		switch l.Status {
		case market.StatusSold:
			sold++
		case market.StatusActive:
			active++
		}
	}

	executed, succeeded := 0, 0
	for _, t := range s.Econ.Tasks() {
		if t.Status == collective.StatusExecuted {
			executed++
			if t.Succeeded {
				succeeded++
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTick = tick
	s.stats = Stats{
		Tick:           tick,
		Agents:         len(s.Agents),
		TotalSupply:    s.Econ.Ledger.TotalSupply(),
		TotalStaked:    staked,
		ActiveListings: active,
		ListingsSold:   sold,
		TasksExecuted:  executed,
		TasksSucceeded: succeeded,
		InterestMinted: s.stats.InterestMinted + minted,
	}
}
