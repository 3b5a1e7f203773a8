//go:build windows

package driver

import (
	"log/slog"

	"github.com/tripwire/ratewatch/internal/driver/windows"
)

// New constructs the platform Driver for the current GOOS.
func New(logger *slog.Logger) (Driver, error) {
	return windows.New(logger)
}
