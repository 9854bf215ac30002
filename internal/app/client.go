package app

import (
	"errors"

	intrnl "collabroom/internal"
)

// RunClient launches the Bubble Tea editor with the provided configuration.
func RunClient(cfg ClientConfig) error {
	if cfg.ServerURL == "" {
		return errors.New("server URL is required")
	}
	return intrnl.RunClient(cfg.ServerURL, cfg.RoomKey, cfg.Username, cfg.LogFile)
}
