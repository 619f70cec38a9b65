package orchestrator

import "github.com/CLIAIMONITOR/cos/internal/tasks"

// admissionState is the snapshot admission control reasons over: how many
// agents are currently running, globally and per app.
type admissionState struct {
	globalRunning int
	perAppRunning map[string]int
}

func newAdmissionState(running []*tasks.Agent, tasksByID map[string]*tasks.Task) admissionState {
	s := admissionState{perAppRunning: make(map[string]int)}
	for _, a := range running {
		if a.Status != tasks.AgentRunning {
			continue
		}
		s.globalRunning++
		app := "_self"
		if t, ok := tasksByID[a.TaskID]; ok {
			app = t.App()
		}
		s.perAppRunning[app]++
	}
	return s
}

// admit reports whether a task in app may be admitted given globalMax and
// the app's own concurrency cap, and if so, records the admission so a
// subsequent call in the same evaluation pass sees the updated counts.
func (s *admissionState) admit(app string, globalMax, appMax int) bool {
	ok, _, _ := s.admitWithDetail(app, globalMax, appMax)
	return ok
}

// admitWithDetail is admit plus the limiting app/limit, for decision records
// that need to explain a "capacity-full" deferral (e.g. {app: "a1", limit: 2})
// rather than just a bare yes/no.
func (s *admissionState) admitWithDetail(app string, globalMax, appMax int) (ok bool, limitApp string, limit int) {
	if s.globalRunning >= globalMax {
		return false, "_global", globalMax
	}
	if s.perAppRunning[app] >= appMax {
		return false, app, appMax
	}
	s.globalRunning++
	s.perAppRunning[app]++
	return true, "", 0
}
