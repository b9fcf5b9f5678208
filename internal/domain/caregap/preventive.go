package caregap

import (
	"fmt"
	"strconv"
)

// preventiveCare evaluates general adult preventive measures: blood pressure
// screening, cholesterol screening and the annual flu vaccine.
func preventiveCare(e evaluation) []CareGap {
	if _, ok := e.age(); !ok {
		return []CareGap{}
	}
	gaps := make([]CareGap, 0, 3)
	gaps = append(gaps, bloodPressureScreening(e)...)
	gaps = append(gaps, cholesterolScreening(e)...)
	gaps = append(gaps, influenzaVaccination(e)...)
	return gaps
}

func bloodPressureScreening(e evaluation) []CareGap {
	if g := e.minimumAge("Blood pressure screening", 18); !g.proceeds() {
		return e.outcome(bloodPressureCheck, g)
	}
	if bp, ok := recentObservation(e.hc.Observations, bloodPressureReadings, e.today, bpScreeningWindow); ok {
		return []CareGap{e.satisfied(bloodPressureCheck, bp.date,
			fmt.Sprintf("Your blood pressure was checked on %s.", formatDisplayDate(bp.date)),
			"No action needed.")}
	}
	description := "No blood pressure reading found in the past 2 years."
	if last, ok := latestObservation(e.hc.Observations, bloodPressureReadings, e.today); ok {
		description = fmt.Sprintf("Your last blood pressure reading was %s.", timeSince(last.date, e.today))
	}
	return []CareGap{e.due(bloodPressureCheck, PriorityMedium, description,
		"Have your blood pressure checked at your next visit.")}
}

// cholesterolScreening applies from age 40, or from age 20 with a
// cardiovascular risk factor on record.
func cholesterolScreening(e evaluation) []CareGap {
	age, _ := e.age()
	atRisk := hasCondition(e.hc.Conditions, cardiovascularRisks)
	if age < 20 || (age < 40 && !atRisk) {
		return []CareGap{e.notApplicable(cholesterolCheck, fmt.Sprintf(
			"Cholesterol screening applies to ages 40 and older, or 20 and older with cardiovascular risk factors (patient age %d)", age))}
	}
	if lipid, ok := recentObservation(e.hc.Observations, cholesterolTests, e.today, cholesterolWindow); ok {
		return []CareGap{e.satisfied(cholesterolCheck, lipid.date,
			fmt.Sprintf("Your cholesterol was checked on %s.", formatDisplayDate(lipid.date)),
			"No action needed.")}
	}
	description := "No cholesterol test found in the past 5 years."
	if last, ok := latestObservation(e.hc.Observations, cholesterolTests, e.today); ok {
		description = fmt.Sprintf("Your last cholesterol test was %s.", timeSince(last.date, e.today))
	}
	if age < 40 {
		description += " Screening is recommended because of cardiovascular risk factors in your history."
	}
	return []CareGap{e.due(cholesterolCheck, PriorityMedium, description,
		"Ask your doctor about a lipid panel blood test.")}
}

// influenzaVaccination requires a flu vaccine in the current calendar year
// for patients at least 6 months old.
func influenzaVaccination(e evaluation) []CareGap {
	months, _ := e.ageInMonths()
	if months < 6 {
		return []CareGap{e.notApplicable(influenzaCheck,
			fmt.Sprintf("Flu vaccination applies to patients 6 months and older (patient age %d months)", months))}
	}
	year := strconv.Itoa(e.today.Year())
	if last, ok := latestImmunization(e.hc.Immunizations, fluVaccines, e.today); ok && inCalendarYear(last, e.today) {
		return []CareGap{e.satisfied(influenzaCheck, last,
			fmt.Sprintf("You received a flu vaccine on %s.", formatDisplayDate(last)),
			"No action needed for the "+year+" season.")}
	}
	return []CareGap{e.due(influenzaCheck, PriorityMedium,
		"No flu vaccine recorded in "+year+".",
		"Get your annual flu vaccine at your doctor's office or a pharmacy.")}
}
