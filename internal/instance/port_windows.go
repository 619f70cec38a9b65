//go:build windows

package instance

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// GetProcessUsingPort shells out to netstat to find whatever process is
// listening on port. Returns 0 if none found.
func GetProcessUsingPort(port int) (int, error) {
	cmd := exec.Command("cmd", "/C", fmt.Sprintf("netstat -ano | findstr :%d | findstr LISTENING", port))
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("netstat command failed: %w", err)
	}

	outputStr := strings.TrimSpace(string(output))
	if outputStr == "" {
		return 0, fmt.Errorf("no process found listening on port %d", port)
	}

	for _, line := range strings.Split(outputStr, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		pid, err := strconv.Atoi(fields[len(fields)-1])
		if err != nil {
			continue
		}
		return pid, nil
	}
	return 0, fmt.Errorf("could not parse pid from netstat output")
}
