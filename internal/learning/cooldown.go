package learning

// CooldownDecision is the routing feedback derived from a bucket's recent
// success rate: how much to scale the task type's normal interval, and
// whether to skip scheduling it altogether this cycle.
type CooldownDecision struct {
	Multiplier float64
	Reason     string
	Skip       bool
}

// minSamplesForConfidence is the completed-task floor below which a bucket's
// success rate is not trusted enough to adjust cooldown.
const minSamplesForConfidence = 3

// rehabilitationGraceCompleted is the completed-count floor that must be met
// before a sustained low success rate escalates to a full skip.
const rehabilitationGraceCompleted = 5

// getAdaptiveCooldownMultiplier maps a bucket's observed success rate to a
// scheduling multiplier. Thresholds and reasons are fixed points, not tuned
// constants — each one corresponds to a distinct routing decision an
// operator needs to be able to explain from the decision log.
func getAdaptiveCooldownMultiplier(b *Bucket) CooldownDecision {
	completed := b.Total()
	if completed < minSamplesForConfidence {
		return CooldownDecision{Multiplier: 1.0, Reason: "insufficient-data"}
	}

	rate := b.SuccessRate()
	switch {
	case rate >= 90:
		return CooldownDecision{Multiplier: 0.7, Reason: "high-success"}
	case rate >= 75:
		return CooldownDecision{Multiplier: 0.85, Reason: "good-success"}
	case rate >= 50:
		return CooldownDecision{Multiplier: 1.0, Reason: "moderate-success"}
	case rate >= 30:
		return CooldownDecision{Multiplier: 1.5, Reason: "low-success"}
	default:
		if completed >= rehabilitationGraceCompleted {
			return CooldownDecision{Multiplier: 0, Reason: "skip-failing", Skip: true}
		}
		return CooldownDecision{Multiplier: 2.0, Reason: "very-low-success"}
	}
}
