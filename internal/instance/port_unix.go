//go:build !windows

package instance

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// GetProcessUsingPort shells out to lsof to find whatever process is
// listening on port. Returns 0 if none found.
func GetProcessUsingPort(port int) (int, error) {
	cmd := exec.Command("lsof", "-t", "-i", fmt.Sprintf(":%d", port), "-sTCP:LISTEN")
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("lsof failed: %w", err)
	}

	fields := strings.Fields(strings.TrimSpace(string(output)))
	if len(fields) == 0 {
		return 0, fmt.Errorf("no process found listening on port %d", port)
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, fmt.Errorf("parsing lsof pid: %w", err)
	}
	return pid, nil
}
