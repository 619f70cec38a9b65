package orchestrator

import "time"

// Decision is one evaluation cycle's dispatch record: what was considered,
// what was admitted, and why. Emitted on the bus as events.EventLog and
// surfaced verbatim by internal/statusapi's decision-log endpoint.
type Decision struct {
	At            time.Time `json:"at"`
	Evaluation    int       `json:"evaluation"`
	Candidates    int       `json:"candidates"`
	Admitted      []string  `json:"admitted"`
	Deferred      []string  `json:"deferred"`
	ZombiesReaped []string  `json:"zombiesReaped,omitempty"`
	Paused        bool      `json:"paused"`

	// Reason is a short tag for why dispatch did what it did this cycle
	// (e.g. "on-demand", "cooldown-active", "capacity-full").
	// Details carries the scenario-specific shape behind that tag.
	Reason  string                 `json:"reason,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}
