package caregap

import (
	"fmt"
	"strconv"
)

// diabetesCare evaluates HEDIS-CDC sub-checks for patients with type 2 diabetes.
//
// The HbA1c testing check always yields a verdict, due or satisfied. Poor
// glycemic control, eye exam and kidney monitoring are only reported when due,
// so the measure carries at most one satisfied verdict.
func diabetesCare(e evaluation) []CareGap {
	if !hasCondition(e.hc.Conditions, diabetesDiagnoses) {
		return []CareGap{e.notApplicable(diabetesCheck, "No diabetes diagnosis on record")}
	}

	gaps := make([]CareGap, 0, 4)

	if hba1c, ok := recentObservation(e.hc.Observations, hba1cTests, e.today, hba1cWindow); ok {
		gaps = append(gaps, e.satisfied(hba1cTestingCheck, hba1c.date,
			fmt.Sprintf("Your HbA1c was tested on %s.", formatDisplayDate(hba1c.date)),
			"No action needed. HbA1c should be tested at least once a year."))

		if value, ok := hba1c.obs.NumericValue(); ok && value > hba1cPoorControl {
			gaps = append(gaps, e.due(hba1cControlCheck, PriorityHigh,
				fmt.Sprintf("Your most recent HbA1c was %s%% on %s, above the 9%% control target.",
					strconv.FormatFloat(value, 'f', -1, 64), formatDisplayDate(hba1c.date)),
				"Talk to your doctor about adjusting your diabetes treatment plan."))
		}
	} else {
		description := "No HbA1c test found in the past 12 months."
		if last, ok := latestObservation(e.hc.Observations, hba1cTests, e.today); ok {
			description = fmt.Sprintf("Your last HbA1c test was %s. It should be checked at least once a year.", timeSince(last.date, e.today))
		}
		gaps = append(gaps, e.due(hba1cTestingCheck, PriorityHigh, description,
			"Schedule an HbA1c blood test to check your average blood sugar."))
	}

	if _, ok := recentObservation(e.hc.Observations, eyeExams, e.today, eyeExamWindow); !ok {
		gaps = append(gaps, e.due(eyeExamCheck, PriorityMedium,
			"No diabetic eye exam found in the past 12 months.",
			"Schedule a dilated retinal eye exam with an eye care professional."))
	}

	if _, ok := recentObservation(e.hc.Observations, nephropathyTests, e.today, nephropathyWindow); !ok {
		gaps = append(gaps, e.due(kidneyMonitoringCheck, PriorityMedium,
			"No kidney health test found in the past 12 months.",
			"Ask your doctor for a urine albumin test to check your kidney health."))
	}

	return gaps
}
