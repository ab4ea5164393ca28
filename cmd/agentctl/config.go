package main

import (
	"os"
	"strconv"
)

// config holds the sandbox runtime's own configuration, loaded from
// environment variables the control plane sets on the container per
// lifecycle.Manager's CreateContainer call (AGENT_API_KEY, plus these).
type config struct {
	Port             int
	WorkDir          string
	LogLevel         string
	LogFormat        string
	SimulatedWorkMin int // seconds
	SimulatedWorkMax int // seconds
}

func loadConfig() *config {
	return &config{
		Port:             getEnvInt("AGENTCTL_PORT", 8080),
		WorkDir:          getEnv("AGENTCTL_WORKDIR", "/workspace"),
		LogLevel:         getEnv("AGENTCTL_LOG_LEVEL", "info"),
		LogFormat:        getEnv("AGENTCTL_LOG_FORMAT", "json"),
		SimulatedWorkMin: getEnvInt("AGENTCTL_SIMULATED_WORK_MIN_SECONDS", 1),
		SimulatedWorkMax: getEnvInt("AGENTCTL_SIMULATED_WORK_MAX_SECONDS", 3),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
