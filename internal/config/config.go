package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration from environment.
type Config struct {
	GHToken         string
	QueueDriver     string
	DatabaseURL     string
	RedisURL        string
	WorkspaceRoot   string
	GitRemoteBase   string
	PollIntervalSec int
	HTTPAddr        string
}

// Default values when env vars are unset.
const (
	DefaultQueueDriver     = "postgres"
	DefaultWorkspaceRoot   = "./workspaces"
	DefaultGitRemoteBase   = "https://github.com"
	DefaultPollIntervalSec = 5
	DefaultHTTPAddr        = ":8080"
)

// Load reads configuration from the environment.
// A .env file in the working directory is honored when present.
// Uses defaults for optional values when unset.
func Load() *Config {
	_ = godotenv.Load()

	c := &Config{
		GHToken:         os.Getenv("GH_TOKEN"),
		QueueDriver:     DefaultQueueDriver,
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		WorkspaceRoot:   DefaultWorkspaceRoot,
		GitRemoteBase:   DefaultGitRemoteBase,
		PollIntervalSec: DefaultPollIntervalSec,
		HTTPAddr:        DefaultHTTPAddr,
	}
	if v := os.Getenv("QUEUE_DRIVER"); v != "" {
		c.QueueDriver = v
	}
	if v := os.Getenv("WORKSPACE_ROOT"); v != "" {
		c.WorkspaceRoot = v
	}
	if v := os.Getenv("GIT_REMOTE_BASE"); v != "" {
		c.GitRemoteBase = v
	}
	if v := os.Getenv("POLL_INTERVAL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.PollIntervalSec = n
		}
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	return c
}
