package daemon

import (
	"log/slog"
	"os"

	"github.com/shirou/gopsutil/v3/host"

	"go.olrik.dev/invigilator/internal/core"
)

// logHostInfo records the machine the session runs on
func logHostInfo(logger *slog.Logger) {
	attrs := []any{
		"version", core.FormatVersion(core.Version),
		"pid", os.Getpid(),
	}

	info, err := host.Info()
	if err != nil {
		logger.Warn("Failed to read host information", "error", err)
		logger.Info("Session starting", attrs...)
		return
	}

	attrs = append(attrs,
		"hostname", info.Hostname,
		"os", info.OS,
		"platform", info.Platform,
		"platform_version", info.PlatformVersion,
		"kernel", info.KernelVersion,
		"virtualization", virtualization(info),
	)
	logger.Info("Session starting", attrs...)
}

// virtualization describes the guest role, or "none" on bare metal
func virtualization(info *host.InfoStat) string {
	if info.VirtualizationRole != "guest" || info.VirtualizationSystem == "" {
		return "none"
	}
	return info.VirtualizationSystem
}
