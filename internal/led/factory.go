package led

import (
	"log/slog"
	"os"
	"path/filepath"
)

// TallyName is the logical name of the recording light.
const TallyName = "tally"

// New returns a controller for the sysfs LED named device, or a no-op
// controller when device is empty or missing.
func New(logger *slog.Logger, device string) Controller {
	return newForRoot(logger, sysfsLEDPath, device)
}

func newForRoot(logger *slog.Logger, root, device string) Controller {
	if device == "" {
		return noop{}
	}
	if _, err := os.Stat(filepath.Join(root, device)); err != nil {
		logger.Warn("Tally LED not found, disabling", "device", device, "error", err)
		return noop{}
	}
	logger.Info("Using sysfs tally LED", "device", device)
	return newSysfs(root, map[string]string{TallyName: device})
}
