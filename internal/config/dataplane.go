package config

import "time"

// DataPlaneConfig holds the environment-derived configuration for the
// data-plane service, per spec §4.5 and §6.
type DataPlaneConfig struct {
	Host string
	Port int

	// DBPath is the sqlite database file backing the relational store.
	DBPath string

	// AuthToken, when non-empty, requires every inbound request to carry
	// "Authorization: Bearer <token>". Left empty, the surface is
	// unauthenticated (§13 open question: deployment-time decision).
	AuthToken string

	// Upstream OAuth client used to refresh a bot's access credential.
	OAuthClientID     string
	OAuthClientSecret string
	OAuthTokenURL     string

	// Refresh throttling (§4.5): a non-forced call refreshes only if
	// >= NonForcedRefreshWindow since the bot's last refresh; a forced call
	// only if >= ForcedRefreshWindow.
	NonForcedRefreshWindow time.Duration
	ForcedRefreshWindow    time.Duration

	// Fan-out settings for notifying workers of entity/preset mutations.
	FanoutTimeout time.Duration
	WorkerHost    string

	HTTPTimeout time.Duration
	Verbose     bool
}

// LoadDataPlaneConfig reads DataPlaneConfig from the environment.
func LoadDataPlaneConfig() (*DataPlaneConfig, error) {
	return &DataPlaneConfig{
		Host: getEnv("DATAPLANE_HOST", "0.0.0.0"),
		Port: getEnvInt("DATAPLANE_PORT", 3008),

		DBPath: getEnv("DATAPLANE_DB_PATH", "./data/chatfleet.db"),

		AuthToken: getEnv("DATAPLANE_AUTH_TOKEN", ""),

		OAuthClientID:     getEnv("UPSTREAM_OAUTH_CLIENT_ID", ""),
		OAuthClientSecret: getEnv("UPSTREAM_OAUTH_CLIENT_SECRET", ""),
		OAuthTokenURL:     getEnv("UPSTREAM_OAUTH_TOKEN_URL", ""),

		NonForcedRefreshWindow: getEnvDuration("REFRESH_WINDOW_NON_FORCED", 30*time.Minute),
		ForcedRefreshWindow:    getEnvDuration("REFRESH_WINDOW_FORCED", 60*time.Second),

		FanoutTimeout: getEnvDuration("FANOUT_TIMEOUT", 3*time.Second),
		WorkerHost:    getEnv("WORKER_HOST", "127.0.0.1"),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),
		Verbose:     getEnvBool("VERBOSE_LOGGING", false),
	}, nil
}
