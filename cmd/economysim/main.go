// Command economysim runs the Crossroads token economy: a population of
// agents trading on the marketplace, staking, and pooling their skills in
// collective tasks, with a read-only HTTP API and a SQLite audit archive.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/crossroads-economy/internal/api"
	"github.com/talgya/crossroads-economy/internal/collective"
	"github.com/talgya/crossroads-economy/internal/config"
	"github.com/talgya/crossroads-economy/internal/entropy"
	"github.com/talgya/crossroads-economy/internal/persistence"
	"github.com/talgya/crossroads-economy/internal/phi"
	"github.com/talgya/crossroads-economy/internal/sim"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (defaults used when empty)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("Crossroads Economy — Token Economy & Collective Task Engine")
	slog.Info("emanation constants",
		"phi", phi.Phi,
		"agnosis", fmt.Sprintf("%.5f", phi.Agnosis),
		"matter", fmt.Sprintf("%.5f", phi.Matter),
		"being", fmt.Sprintf("%.5f", phi.Being),
	)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// ── Entropy ───────────────────────────────────────────────────────
	var rng entropy.Source = entropy.NewSeeded(cfg.Seed)
	if cfg.RandomOrgKey != "" {
		rng = entropy.NewClient(cfg.RandomOrgKey)
		slog.Warn("live entropy enabled — this run will not be replayable")
	} else {
		slog.Info("deterministic entropy", "seed", cfg.Seed)
	}

	// ── Simulation ────────────────────────────────────────────────────
	world, err := sim.New(cfg, rng)
	if err != nil {
		slog.Error("failed to build simulation", "error", err)
		os.Exit(1)
	}
	slog.Info("population ready",
		"agents", len(world.Agents),
		"collectives", cfg.Sim.Collectives,
		"initial_supply", humanize.Comma(world.Econ.Ledger.TotalSupply()),
	)

	// ── Archive ───────────────────────────────────────────────────────
	var archive *persistence.Archive
	if cfg.ArchivePath != "" {
		archive, err = persistence.Open(cfg.ArchivePath)
		if err != nil {
			slog.Error("failed to open archive", "error", err)
			os.Exit(1)
		}
		defer archive.Close()
		slog.Info("archive opened", "path", cfg.ArchivePath)

		world.OnResult = func(collectiveID string, res collective.Result) {
			if err := archive.AppendTaskOutcome(collectiveID, res); err != nil {
				slog.Error("archive outcome failed", "task", res.TaskID, "error", err)
			}
		}
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	if cfg.APIPort > 0 {
		apiServer := &api.Server{
			Sim:     world,
			Econ:    world.Econ,
			Archive: archive,
			Port:    cfg.APIPort,
		}
		apiServer.Start()
	}

	// ── Run ───────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	fmt.Printf("\nThe economy is alive: %d agents, %s tokens in circulation.\n",
		len(world.Agents), humanize.Comma(world.Econ.Ledger.TotalSupply()))
	if cfg.APIPort > 0 {
		fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.APIPort)
	}
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	transferPos, eventPos := 0, 0
	tick := uint64(0)
	running := true
	for running {
		select {
		case <-sigCh:
			slog.Info("received signal, shutting down")
			running = false
		case <-ticker.C:
			tick++
			world.Tick(tick)

			if tick%200 == 0 {
				stats := world.Stats()
				slog.Info("economy pulse",
					"tick", tick,
					"supply", humanize.Comma(stats.TotalSupply),
					"staked", humanize.Comma(stats.TotalStaked),
					"active_listings", stats.ActiveListings,
					"sold", stats.ListingsSold,
					"tasks", fmt.Sprintf("%d/%d", stats.TasksSucceeded, stats.TasksExecuted),
				)
			}

			if archive != nil && tick%100 == 0 {
				transferPos, eventPos = flush(archive, world, transferPos, eventPos)
			}

			if cfg.Sim.Ticks > 0 && tick >= uint64(cfg.Sim.Ticks) {
				slog.Info("tick budget reached", "ticks", tick)
				running = false
			}
		}
	}

	if archive != nil {
		flush(archive, world, transferPos, eventPos)
	}

	stats := world.Stats()
	fmt.Printf("Simulation stopped at tick %d. Final supply: %s tokens (%s minted as interest).\n",
		stats.Tick, humanize.Comma(stats.TotalSupply), humanize.Comma(stats.InterestMinted))
}

// flush writes everything new since the last flush. Events come straight
// from the economy's event buffer by position, so a busy tick loses
// nothing to a full channel.
func flush(archive *persistence.Archive, world *sim.Simulation, transferPos, eventPos int) (int, int) {
	events := world.Econ.EventsSince(eventPos)
	pos, err := archive.Flush(world.Econ.Ledger, world.Econ.Market, events, transferPos)
	if err != nil {
		slog.Error("archive flush failed", "error", err)
		return transferPos, eventPos
	}
	return pos, eventPos + len(events)
}
