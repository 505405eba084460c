package recorder

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
)

var (
	hostOnce sync.Once
	hostID   string
)

// HostID returns a best-effort hardware id of the machine running the agent,
// falling back to the hostname. Computed once per process.
func HostID() string {
	hostOnce.Do(func() {
		hostID = readHostUUID()
		if hostID == "" {
			hostID, _ = os.Hostname()
		}
	})
	return hostID
}

// macOS: system_profiler; Linux: /etc/machine-id then product_uuid.
func readHostUUID() string {
	switch runtime.GOOS {
	case "darwin":
		cmd := exec.CommandContext(context.Background(), "bash", "-c",
			"system_profiler SPHardwareDataType | awk '/Hardware UUID/ {print $3}'")
		out, err := cmd.Output()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(out))
	case "linux":
		for _, path := range []string{"/etc/machine-id", "/sys/class/dmi/id/product_uuid"} {
			if data, err := os.ReadFile(path); err == nil {
				if id := strings.TrimSpace(string(data)); id != "" {
					return id
				}
			}
		}
	}
	return ""
}
