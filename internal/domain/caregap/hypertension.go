package caregap

import "fmt"

// hypertensionMonitoring evaluates HEDIS-CBP: patients with hypertension need
// a blood pressure reading every 6 months.
func hypertensionMonitoring(e evaluation) []CareGap {
	if !hasCondition(e.hc.Conditions, hypertensionDiagnoses) {
		return []CareGap{e.notApplicable(hypertensionCheck, "No hypertension diagnosis on record")}
	}
	if bp, ok := recentObservation(e.hc.Observations, bloodPressureReadings, e.today, bpMonitoringWindow); ok {
		return []CareGap{e.satisfied(hypertensionCheck, bp.date,
			fmt.Sprintf("Your blood pressure was checked on %s.", formatDisplayDate(bp.date)),
			"No action needed. Keep taking your medications as prescribed.")}
	}
	description := "No blood pressure reading found in the past 6 months."
	if last, ok := latestObservation(e.hc.Observations, bloodPressureReadings, e.today); ok {
		description = fmt.Sprintf("Your last blood pressure reading was %s. With hypertension it should be checked every 6 months.",
			timeSince(last.date, e.today))
	}
	return []CareGap{e.due(hypertensionCheck, PriorityHigh, description,
		"Schedule a visit to have your blood pressure checked.")}
}
