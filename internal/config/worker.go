package config

import (
	"fmt"
	"time"
)

// WorkerConfig holds the environment-derived configuration for one worker
// process (one bot identity), per spec §6 "Environment variables".
type WorkerConfig struct {
	BotID int

	// Control-plane (data-plane service) settings.
	DataPlaneURL   string
	DataPlaneToken string

	// Worker control surface, bound to 127.0.0.1:(4000+botID) per §9 unless
	// overridden (test hook).
	ControlHost string
	ControlPort int

	// Upstream chat service settings (§6).
	WebSocketURL   string
	AuthURL        string
	ChatAdminURL   string
	MUCDomain      string
	SupergroupDomain string
	ChatDomain     string

	// Outgoing pacing (§4.1.2).
	QueueTickInterval time.Duration

	// Room-set reconciliation (§4.1.4).
	ReconcileInterval time.Duration
	UnassignDebounce  time.Duration

	// Health watchdogs (§4.1.6).
	ReceptionCheckInterval time.Duration
	ReceptionStaleAfter    time.Duration
	ProcessCheckInterval   time.Duration
	ProcessStaleAfter      time.Duration
	MemoryCleanupInterval  time.Duration
	WarnRateLimit          time.Duration

	// Moderation defaults (§4.3 Stage B, §13 open question decision).
	ReadOnlyMuteDuration time.Duration
	DeleteRaceDelay      time.Duration

	// Shutdown bounds (§5).
	ShutdownWSCloseWait  time.Duration
	ShutdownForceGrace   time.Duration

	HTTPTimeout time.Duration
	Verbose     bool
}

// LoadWorkerConfig reads WorkerConfig from the environment. BOT_ID is
// required — the worker has no identity without it.
func LoadWorkerConfig() (*WorkerConfig, error) {
	botID := getEnvInt("BOT_ID", 0)
	if botID <= 0 {
		return nil, fmt.Errorf("BOT_ID is required and must be positive")
	}

	dataPlaneURL := getEnv("DATA_PLANE_URL", "")
	if dataPlaneURL == "" {
		return nil, fmt.Errorf("DATA_PLANE_URL is required")
	}

	controlPort := getEnvInt("WORKER_PORT_OVERRIDE", 0)
	if controlPort <= 0 {
		controlPort = 4000 + botID
	}

	cfg := &WorkerConfig{
		BotID:          botID,
		DataPlaneURL:   dataPlaneURL,
		DataPlaneToken: getEnv("DATA_PLANE_TOKEN", ""),

		ControlHost: getEnv("WORKER_CONTROL_HOST", "127.0.0.1"),
		ControlPort: controlPort,

		WebSocketURL:     getEnv("CHAT_WEBSOCKET_URL", ""),
		AuthURL:          getEnv("CHAT_AUTH_URL", ""),
		ChatAdminURL:     getEnv("CHAT_ADMIN_URL", ""),
		MUCDomain:        getEnv("CHAT_MUC_DOMAIN", "muclight.chat.example"),
		SupergroupDomain: getEnv("CHAT_SUPERGROUP_DOMAIN", "supergroup.chat.example"),
		ChatDomain:       getEnv("CHAT_DOMAIN", "chat.example"),

		QueueTickInterval: getEnvDuration("QUEUE_TICK_INTERVAL", 300*time.Millisecond),

		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", 10*time.Minute),
		UnassignDebounce:  getEnvDuration("UNASSIGN_DEBOUNCE", 5*time.Minute),

		ReceptionCheckInterval: getEnvDuration("RECEPTION_CHECK_INTERVAL", 30*time.Second),
		ReceptionStaleAfter:    getEnvDuration("RECEPTION_STALE_AFTER", 5*time.Minute),
		ProcessCheckInterval:   getEnvDuration("PROCESS_CHECK_INTERVAL", 60*time.Second),
		ProcessStaleAfter:      getEnvDuration("PROCESS_STALE_AFTER", 10*time.Minute),
		MemoryCleanupInterval:  getEnvDuration("MEMORY_CLEANUP_INTERVAL", 1*time.Hour),
		WarnRateLimit:          getEnvDuration("WARN_RATE_LIMIT", 1*time.Minute),

		ReadOnlyMuteDuration: getEnvDuration("READ_ONLY_MUTE_DURATION", 10*time.Second),
		DeleteRaceDelay:      getEnvDuration("DELETE_RACE_DELAY", 300*time.Millisecond),

		ShutdownWSCloseWait: getEnvDuration("SHUTDOWN_WS_CLOSE_WAIT", 5*time.Second),
		ShutdownForceGrace:  getEnvDuration("SHUTDOWN_FORCE_GRACE", 2*time.Second),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),
		Verbose:     getEnvBool("VERBOSE_LOGGING", false),
	}

	return cfg, nil
}
