package config

import (
	"fmt"
	"time"
)

// ManagerConfig holds the environment-derived configuration for the fleet
// supervisor, per spec §4.6 and §6.
type ManagerConfig struct {
	DataPlaneURL   string
	DataPlaneToken string

	HealthHost string
	HealthPort int

	// Startup sequencing.
	WarmUp         time.Duration
	PollInterval   time.Duration
	PollBudget     time.Duration
	SpawnStagger   time.Duration
	ChildStartTimeout time.Duration

	// Restart policy (§4.6).
	InitialRestartDelay time.Duration
	MaxRestartDelay     time.Duration

	// Recovery sweep.
	RecoverySweepInterval  time.Duration
	RecoveryFailureFloor   int
	RecoveryFailureAge     time.Duration

	// Graceful shutdown.
	ShutdownWait time.Duration

	// WorkerBinary is the path to the worker executable the manager spawns
	// one per active bot, with BOT_ID passed via the child environment.
	WorkerBinary string

	HTTPTimeout time.Duration
	Verbose     bool
}

// LoadManagerConfig reads ManagerConfig from the environment.
func LoadManagerConfig() (*ManagerConfig, error) {
	dataPlaneURL := getEnv("DATA_PLANE_URL", "")
	if dataPlaneURL == "" {
		return nil, fmt.Errorf("DATA_PLANE_URL is required")
	}

	return &ManagerConfig{
		DataPlaneURL:   dataPlaneURL,
		DataPlaneToken: getEnv("DATA_PLANE_TOKEN", ""),

		HealthHost: getEnv("MANAGER_HEALTH_HOST", "0.0.0.0"),
		HealthPort: getEnvInt("MANAGER_HEALTH_PORT", 3009),

		WarmUp:            getEnvDuration("MANAGER_WARMUP", 5*time.Second),
		PollInterval:      getEnvDuration("MANAGER_POLL_INTERVAL", 30*time.Second),
		PollBudget:        getEnvDuration("MANAGER_POLL_BUDGET", 30*time.Minute),
		SpawnStagger:      getEnvDuration("MANAGER_SPAWN_STAGGER", 3*time.Second),
		ChildStartTimeout: getEnvDuration("MANAGER_CHILD_START_TIMEOUT", 60*time.Second),

		InitialRestartDelay: getEnvDuration("MANAGER_INITIAL_RESTART_DELAY", 5*time.Minute),
		MaxRestartDelay:     getEnvDuration("MANAGER_MAX_RESTART_DELAY", 1*time.Hour),

		RecoverySweepInterval: getEnvDuration("MANAGER_RECOVERY_SWEEP_INTERVAL", 30*time.Minute),
		RecoveryFailureFloor:  getEnvInt("MANAGER_RECOVERY_FAILURE_FLOOR", 5),
		RecoveryFailureAge:    getEnvDuration("MANAGER_RECOVERY_FAILURE_AGE", 1*time.Hour),

		ShutdownWait: getEnvDuration("MANAGER_SHUTDOWN_WAIT", 8*time.Second),

		WorkerBinary: getEnv("WORKER_BINARY", "./worker"),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),
		Verbose:     getEnvBool("VERBOSE_LOGGING", false),
	}, nil
}
