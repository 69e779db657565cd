package utils

import (
	"log/slog"
	"os"
)

// GetUserHome falls back to the working directory when no home is set.
func GetUserHome(logger *slog.Logger) string {
	userHome, err := os.UserHomeDir()
	if err != nil {
		logger.Warn("could not get user home from env, using working directory", "err", err)
		return "."
	}
	return userHome
}
