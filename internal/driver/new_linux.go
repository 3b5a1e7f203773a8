//go:build linux

package driver

import (
	"log/slog"

	"github.com/tripwire/ratewatch/internal/driver/linux"
)

// New constructs the platform Driver for the current GOOS.
func New(logger *slog.Logger) (Driver, error) {
	return linux.New(logger)
}
