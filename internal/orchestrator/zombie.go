package orchestrator

import (
	"time"

	"github.com/CLIAIMONITOR/cos/internal/tasks"
)

// zombieSweep scans running agents for ones that are either pid-less past
// grace or whose pid has exited without a completion event ever arriving,
// and marks them failed so their task can be re-queued instead of stuck
// in_progress forever.
func zombieSweep(running []*tasks.Agent, grace time.Duration) []*tasks.Agent {
	var reaped []*tasks.Agent
	for _, a := range running {
		if a.Status != tasks.AgentRunning {
			continue
		}
		if a.PID > 0 && processAlive(a.PID) {
			continue
		}
		if !a.IsZombieCandidate(grace) {
			continue
		}
		reaped = append(reaped, a)
	}
	return reaped
}
