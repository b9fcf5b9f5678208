package caregap

import (
	"fmt"
	"time"
)

// screeningModality is one accepted way to satisfy a screening measure.
type screeningModality struct {
	set    *CodeSet
	window int
}

var colorectalModalities = []screeningModality{
	{stoolTests, stoolTestWindow},
	{colonoscopies, colonoscopyWindow},
	{sigmoidoscopies, sigmoidoscopyWindow},
}

// colorectalScreening evaluates HEDIS-COL for adults 45 through 75.
func colorectalScreening(e evaluation) []CareGap {
	g := firstBlocking(
		func() gate { return e.ageBand("Colorectal cancer screening", 45, 75) },
		func() gate { return e.exclusion(colorectalExclusions) },
	)
	if !g.proceeds() {
		return e.outcome(colorectalCheck, g)
	}

	var (
		best     datedObservation
		bestName string
		found    bool
	)
	for _, m := range colorectalModalities {
		obs, ok := recentObservation(e.hc.Observations, m.set, e.today, m.window)
		if ok && (!found || obs.date.After(best.date)) {
			best, bestName, found = obs, m.set.Name(), true
		}
	}
	if found {
		return []CareGap{e.satisfied(colorectalCheck, best.date,
			fmt.Sprintf("Your %s on %s meets the colorectal cancer screening requirement.", bestName, formatDisplayDate(best.date)),
			"No action needed. Keep up with screening on the schedule your doctor recommends."),
		}
	}

	description := "No colorectal cancer screening found in your records."
	if name, last, ok := lastColorectalScreening(e); ok {
		description = fmt.Sprintf("Your last colorectal cancer screening (%s) was %s.", name, timeSince(last, e.today))
	}
	action := "Schedule a colorectal cancer screening: a stool-based test every year, a flexible sigmoidoscopy every 5 years, or a colonoscopy every 10 years."
	if age, _ := e.age(); age < 50 {
		action = "Screening is now recommended starting at age 45. Talk to your doctor about a stool-based test or a colonoscopy."
	}
	return []CareGap{e.due(colorectalCheck, PriorityHigh, description, action)}
}

// lastColorectalScreening finds the most recent screening of any modality, regardless of window.
func lastColorectalScreening(e evaluation) (string, time.Time, bool) {
	var (
		name   string
		latest time.Time
		found  bool
	)
	for _, m := range colorectalModalities {
		obs, ok := latestObservation(e.hc.Observations, m.set, e.today)
		if ok && (!found || obs.date.After(latest)) {
			name, latest, found = m.set.Name(), obs.date, true
		}
	}
	return name, latest, found
}
