// Package api serves the read-only HTTP view of the economy: balances,
// supply, listings, tasks, transfers, and the live event stream. All
// endpoints are GET; nothing here mutates economy state.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/talgya/crossroads-economy/internal/economy"
	"github.com/talgya/crossroads-economy/internal/ledger"
	"github.com/talgya/crossroads-economy/internal/market"
	"github.com/talgya/crossroads-economy/internal/persistence"
	"github.com/talgya/crossroads-economy/internal/sim"
)

// Server serves the economy state over HTTP.
type Server struct {
	Sim     *sim.Simulation
	Econ    *economy.Economy
	Archive *persistence.Archive // optional; archive endpoints 404 without it
	Port    int
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	archiveLimiter := NewLimiter(120, time.Minute)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/balances", s.handleBalances)
	mux.HandleFunc("/api/v1/agent/", s.handleAgent)
	mux.HandleFunc("/api/v1/listings", s.handleListings)
	mux.HandleFunc("/api/v1/tasks", s.handleTasks)
	mux.HandleFunc("/api/v1/transfers", s.handleTransfers)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/stream", s.handleStream)
	mux.HandleFunc("/api/v1/archive/transfers", limit(archiveLimiter, s.handleArchiveTransfers))
	mux.HandleFunc("/api/v1/archive/outcomes", limit(archiveLimiter, s.handleArchiveOutcomes))

	addr := fmt.Sprintf(":%d", s.Port)
	go func() {
		slog.Info("api listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("api server stopped", "error", err)
		}
	}()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("api encode failed", "error", err)
	}
}

func limitParam(r *http.Request, def, max int) int {
	n := def
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			n = v
		}
	}
	if n > max {
		n = max
	}
	return n
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Stats())
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	type row struct {
		Agent   string `json:"agent"`
		Balance int64  `json:"balance"`
		Staked  int64  `json:"staked"`
	}

	staked := make(map[string]int64)
	for _, rec := range s.Econ.Ledger.Stakes() {
		staked[rec.Agent] = rec.Amount
	}

	balances := s.Econ.Ledger.Balances()
	out := make([]row, 0, len(balances))
	for _, a := range s.Sim.Agents {
		out = append(out, row{Agent: a.ID, Balance: balances[a.ID], Staked: staked[a.ID]})
	}
	writeJSON(w, out)
}

// handleAgent serves /api/v1/agent/{id}: identity, balance, stake, and the
// agent's recent transfers.
func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/agent/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	var found *sim.Agent
	for _, a := range s.Sim.Agents {
		if a.ID == id {
			found = a
			break
		}
	}
	if found == nil {
		http.NotFound(w, r)
		return
	}

	limit := limitParam(r, 20, 200)
	recent := []ledger.Transfer{}
	all := s.Econ.Ledger.Transfers()
	for i := len(all) - 1; i >= 0 && len(recent) < limit; i-- {
		if all[i].Sender == id || all[i].Recipient == id {
			recent = append(recent, all[i])
		}
	}

	writeJSON(w, map[string]any{
		"id":         found.ID,
		"name":       found.Name,
		"collective": found.CollectiveID,
		"role":       found.Role,
		"balance":    s.Econ.Ledger.Balance(id),
		"staked":     s.Econ.Ledger.Staked(id),
		"transfers":  recent,
	})
}

func (s *Server) handleListings(w http.ResponseWriter, r *http.Request) {
	var listings []market.Listing
	if r.URL.Query().Get("status") == "all" {
		listings = s.Econ.Market.Listings()
	} else {
		listings = s.Econ.Market.ActiveListings()
	}
	writeJSON(w, listings)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Econ.Tasks())
}

func (s *Server) handleTransfers(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r, 50, 500)
	all := s.Econ.Ledger.Transfers()
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	writeJSON(w, all)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Econ.RecentEvents(limitParam(r, 100, economyEventMax)))
}

const economyEventMax = 1000

func (s *Server) handleArchiveTransfers(w http.ResponseWriter, r *http.Request) {
	if s.Archive == nil {
		http.Error(w, "archive disabled", http.StatusNotFound)
		return
	}
	rows, err := s.Archive.RecentTransfers(r.URL.Query().Get("agent"), limitParam(r, 100, 1000))
	if err != nil {
		http.Error(w, "archive query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, rows)
}

func (s *Server) handleArchiveOutcomes(w http.ResponseWriter, r *http.Request) {
	if s.Archive == nil {
		http.Error(w, "archive disabled", http.StatusNotFound)
		return
	}
	rows, err := s.Archive.RecentOutcomes(limitParam(r, 100, 1000))
	if err != nil {
		http.Error(w, "archive query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, rows)
}
