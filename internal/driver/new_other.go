//go:build !linux && !windows

package driver

import (
	"errors"
	"log/slog"
)

// ErrUnsupportedPlatform is returned by New on any GOOS other than linux or
// windows, matching spec.md's scope of exactly those two platforms.
var ErrUnsupportedPlatform = errors.New("driver: ratewatch supports linux and windows only")

// New constructs the platform Driver for the current GOOS.
func New(_ *slog.Logger) (Driver, error) {
	return nil, ErrUnsupportedPlatform
}
