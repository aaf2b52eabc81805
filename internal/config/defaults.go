package config

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "kanban.db"},
		Server:   ServerConfig{Addr: ":8080"},
		Claim: ClaimConfig{
			TTLMinutes:  60,
			MaxAttempts: 5,
		},
		Sweep: SweepConfig{IntervalSeconds: 60},
		Notify: NotifyConfig{
			TimeoutSeconds:   10,
			FailureThreshold: 5,
			BufferSize:       256,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
