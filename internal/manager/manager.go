package manager

import (
	"context"
	"log/slog"
	"time"

	"github.com/faceit-mod/chatfleet/internal/apitypes"
	"github.com/faceit-mod/chatfleet/internal/config"
	"github.com/faceit-mod/chatfleet/internal/dataplaneclient"
)

// Manager ties the Supervisor's process table to the startup/poll/recovery
// schedule described in spec §4.6.
type Manager struct {
	cfg        *config.ManagerConfig
	dataPlane  *dataplaneclient.Client
	supervisor *Supervisor
}

func New(cfg *config.ManagerConfig, dataPlane *dataplaneclient.Client) *Manager {
	return &Manager{cfg: cfg, dataPlane: dataPlane, supervisor: NewSupervisor(cfg)}
}

func (m *Manager) Supervisor() *Supervisor { return m.supervisor }

// Run executes the manager's full lifecycle: warm-up, poll-until-ready,
// staggered initial spawn, then the steady-state event loop (child exits,
// scheduled restarts, recovery sweeps) until ctx is cancelled, at which
// point it shuts every child down gracefully.
func (m *Manager) Run(ctx context.Context) error {
	slog.Info("manager: warming up", "duration", m.cfg.WarmUp)
	select {
	case <-time.After(m.cfg.WarmUp):
	case <-ctx.Done():
		return ctx.Err()
	}

	bots, err := m.waitForDataPlane(ctx)
	if err != nil {
		return err
	}

	for i, bot := range bots {
		if i > 0 {
			select {
			case <-time.After(m.cfg.SpawnStagger):
			case <-ctx.Done():
				m.supervisor.Shutdown(context.Background())
				return ctx.Err()
			}
		}
		if err := m.supervisor.Spawn(bot.BotID); err != nil {
			slog.Error("manager: initial spawn failed", "botId", bot.BotID, "error", err)
		}
	}

	m.eventLoop(ctx)
	return nil
}

// waitForDataPlane polls GET /health until it succeeds or PollBudget is
// exhausted, then fetches the active bot set (spec §4.6).
func (m *Manager) waitForDataPlane(ctx context.Context) ([]apitypes.ActiveBot, error) {
	deadline := time.Now().Add(m.cfg.PollBudget)
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := m.dataPlane.Health(ctx); err == nil {
			bots, err := m.dataPlane.ActiveBots(ctx)
			if err != nil {
				slog.Error("manager: fetch active bots failed", "error", err)
			} else {
				return bots, nil
			}
		} else {
			slog.Warn("manager: data-plane not ready", "error", err)
		}

		if time.Now().After(deadline) {
			slog.Error("manager: data-plane poll budget exhausted, starting with no bots")
			return nil, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (m *Manager) eventLoop(ctx context.Context) {
	recoveryTicker := time.NewTicker(m.cfg.RecoverySweepInterval)
	defer recoveryTicker.Stop()
	restartTicker := time.NewTicker(time.Second)
	defer restartTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.supervisor.Shutdown(context.Background())
			return

		case exit := <-m.supervisor.ExitCh():
			m.supervisor.HandleExit(exit)

		case <-restartTicker.C:
			for _, botID := range m.supervisor.DueRestarts(time.Now()) {
				if err := m.supervisor.Spawn(botID); err != nil {
					slog.Error("manager: scheduled restart failed", "botId", botID, "error", err)
				}
			}

		case <-recoveryTicker.C:
			m.supervisor.RecoverySweep(time.Now())
		}
	}
}
