package app

import (
	"strings"

	"github.com/charlesng35/quorum/pkg/logger"
)

// ConfigureLogging initialises the global logger from the server settings, defaulting to info level JSON.
func ConfigureLogging(server ServerConfig) error {
	level := strings.TrimSpace(server.LogLevel)
	if level == "" {
		level = "info"
	}
	return logger.Init(level, server.LogEncoding)
}
