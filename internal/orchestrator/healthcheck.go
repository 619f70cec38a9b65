package orchestrator

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// highMemoryThresholdBytes flags a managed process as worth surfacing once
// its resident memory crosses this line — generous enough that a normal
// agent spawn doesn't trip it, low enough to catch a genuine leak.
const highMemoryThresholdBytes = 1 << 30 // 1 GiB

// pm2Process is the subset of `pm2 jlist`'s per-process object this check
// reads; pm2 emits many more fields (env, pm_uptime, ...) we don't need.
type pm2Process struct {
	Name    string `json:"name"`
	Monit   struct {
		Memory int64 `json:"memory"`
	} `json:"monit"`
	PM2Env struct {
		Status  string `json:"status"`
		Restart int    `json:"restart_time"`
	} `json:"pm2_env"`
}

// ProcessMemoryFlag names a managed process whose memory use crossed
// highMemoryThresholdBytes.
type ProcessMemoryFlag struct {
	Name        string
	MemoryBytes int64
}

// ProcessManagerReport summarizes one runProcessManager + classify pass:
// which processes were found errored/stopped and auto-restarted, and which
// are running but using suspicious amounts of memory.
type ProcessManagerReport struct {
	Manager    string
	Total      int
	Online     int
	Restarted  []string
	HighMemory []ProcessMemoryFlag
}

// runProcessManager shells out to the named manager and returns its raw
// process listing. Only "pm2" is implemented; any other configured manager
// is reported as unsupported rather than guessed at.
func runProcessManager(name string) ([]pm2Process, error) {
	if name != "pm2" {
		return nil, fmt.Errorf("unsupported process manager %q", name)
	}

	cmd := exec.Command("pm2", "jlist")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("pm2 jlist: %w: %s", err, strings.TrimSpace(string(output)))
	}

	var procs []pm2Process
	if err := json.Unmarshal(output, &procs); err != nil {
		return nil, fmt.Errorf("parsing pm2 jlist output: %w", err)
	}
	return procs, nil
}

// restartProcessManager tells the manager to restart one named process.
func restartProcessManager(name, process string) error {
	cmd := exec.Command(name, "restart", process)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s restart %s: %w: %s", name, process, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// checkProcessManager runs the full inspect/classify/restart/flag cycle: it
// lists every managed process, restarts anything errored or stopped, and flags
// online processes using more than highMemoryThresholdBytes.
func checkProcessManager(name string) (ProcessManagerReport, error) {
	report := ProcessManagerReport{Manager: name}

	procs, err := runProcessManager(name)
	if err != nil {
		return report, err
	}
	report.Total = len(procs)

	for _, p := range procs {
		switch p.PM2Env.Status {
		case "online":
			report.Online++
			if p.Monit.Memory > highMemoryThresholdBytes {
				report.HighMemory = append(report.HighMemory, ProcessMemoryFlag{Name: p.Name, MemoryBytes: p.Monit.Memory})
			}
		case "errored", "stopped":
			if err := restartProcessManager(name, p.Name); err != nil {
				continue
			}
			report.Restarted = append(report.Restarted, p.Name)
		}
	}

	return report, nil
}
