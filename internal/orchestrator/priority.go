package orchestrator

import "github.com/CLIAIMONITOR/cos/internal/tasks"

// CandidateBand is the coarse dispatch priority assigned to a pending task,
// independent of its Priority field — a task awaiting explicit human
// approval outranks even a critical auto-approved one, since a human is
// already blocked on it.
type CandidateBand int

const (
	BandApprovalPending CandidateBand = iota // P0
	BandCritical                             // P1
	BandHigh                                 // P2
	BandMedium                               // P3
	BandLow                                  // P4
)

func (b CandidateBand) String() string {
	switch b {
	case BandApprovalPending:
		return "P0"
	case BandCritical:
		return "P1"
	case BandHigh:
		return "P2"
	case BandMedium:
		return "P3"
	case BandLow:
		return "P4"
	default:
		return "P?"
	}
}

// candidateBand computes the dispatch band for a pending task.
func candidateBand(t *tasks.Task) CandidateBand {
	if t.ApprovalRequired && !t.AutoApproved {
		return BandApprovalPending
	}
	switch t.Priority {
	case tasks.PriorityCritical:
		return BandCritical
	case tasks.PriorityHigh:
		return BandHigh
	case tasks.PriorityLow:
		return BandLow
	default:
		return BandMedium
	}
}

// rankCandidates orders pending tasks for dispatch: band ascending (P0
// first), then by CreatedAt ascending (oldest first) within a band — the
// same FIFO tiebreak tasks.Queue already uses for same-priority tasks.
func rankCandidates(pending []*tasks.Task) []*tasks.Task {
	ranked := make([]*tasks.Task, len(pending))
	copy(ranked, pending)

	bands := make(map[string]CandidateBand, len(ranked))
	for _, t := range ranked {
		bands[t.ID] = candidateBand(t)
	}

	for i := 1; i < len(ranked); i++ {
		j := i
		for j > 0 {
			a, b := ranked[j-1], ranked[j]
			if bands[a.ID] < bands[b.ID] {
				break
			}
			if bands[a.ID] == bands[b.ID] && !a.CreatedAt.After(b.CreatedAt) {
				break
			}
			ranked[j-1], ranked[j] = ranked[j], ranked[j-1]
			j--
		}
	}
	return ranked
}

// sourceRung orders a task's dispatch-ladder origin ahead of everything
// below it, regardless of CandidateBand: a true on-demand request always
// dispatches before any user-pending task, which always dispatches before
// system/mission/job/idle work. This is what keeps an on-demand task from
// merely outranking other PriorityHigh work (the old CandidateBand-only
// scheme) and instead puts it ahead of literally everything else pending.
func sourceRung(t *tasks.Task) int {
	switch t.DispatchSource() {
	case tasks.DispatchOnDemand:
		return 0
	case tasks.DispatchUser:
		return 1
	case tasks.DispatchSystem:
		return 2
	case tasks.DispatchMission:
		return 3
	case tasks.DispatchJob:
		return 4
	case tasks.DispatchIdle:
		return 5
	default:
		return 2
	}
}

// rankForDispatch orders pending tasks by dispatch-ladder rung first (P0
// on-demand through P4 idle), then by CandidateBand/CreatedAt within a rung
// — rankCandidates' existing tiebreak still decides order among, say, two
// user-pending tasks, it just no longer has to (and can't) outrank a rung it
// doesn't belong to.
func rankForDispatch(pending []*tasks.Task) []*tasks.Task {
	byRung := make(map[int][]*tasks.Task)
	var rungs []int
	seen := make(map[int]bool)
	for _, t := range pending {
		r := sourceRung(t)
		byRung[r] = append(byRung[r], t)
		if !seen[r] {
			seen[r] = true
			rungs = append(rungs, r)
		}
	}
	for i := 1; i < len(rungs); i++ {
		j := i
		for j > 0 && rungs[j-1] > rungs[j] {
			rungs[j-1], rungs[j] = rungs[j], rungs[j-1]
			j--
		}
	}

	ranked := make([]*tasks.Task, 0, len(pending))
	for _, r := range rungs {
		ranked = append(ranked, rankCandidates(byRung[r])...)
	}
	return ranked
}
