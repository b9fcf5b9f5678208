package caregap

import "fmt"

// breastCancerScreening evaluates HEDIS-BCS for women 50 through 74.
// Gender is checked before age.
func breastCancerScreening(e evaluation) []CareGap {
	g := firstBlocking(
		func() gate { return e.female("Breast cancer screening") },
		func() gate { return e.ageBand("Breast cancer screening", 50, 74) },
		func() gate { return e.exclusion(breastExclusions) },
	)
	if !g.proceeds() {
		return e.outcome(breastCheck, g)
	}

	if m, ok := recentObservation(e.hc.Observations, mammograms, e.today, mammogramWindow); ok {
		return []CareGap{e.satisfied(breastCheck, m.date,
			fmt.Sprintf("Your mammogram on %s meets the breast cancer screening requirement.", formatDisplayDate(m.date)),
			"No action needed. Your next mammogram is due within 2 years of your last one."),
		}
	}

	description := "No mammogram found in your records for the past 27 months."
	if last, ok := latestObservation(e.hc.Observations, mammograms, e.today); ok {
		description = fmt.Sprintf("Your last mammogram was %s.", timeSince(last.date, e.today))
	}
	return []CareGap{e.due(breastCheck, PriorityHigh, description,
		"Schedule a screening mammogram. Women 50 to 74 should have one every 2 years.")}
}
