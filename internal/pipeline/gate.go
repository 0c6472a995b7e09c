package pipeline

// scoreTolerance absorbs float error in trained-production differences so a
// delta equal to the threshold on paper is not rejected.
const scoreTolerance = 1e-9

// Decision is the outcome of the acceptance gate.
type Decision struct {
	Accepted bool
	Changed  float64
}

// Decide accepts a trained model when no production model exists, or when
// it beats production by at least minImprovement.
func Decide(trained, production float64, hasProduction bool, minImprovement float64) Decision {
	if !hasProduction {
		return Decision{Accepted: true, Changed: trained}
	}
	changed := trained - production
	return Decision{Accepted: changed+scoreTolerance >= minImprovement, Changed: changed}
}
