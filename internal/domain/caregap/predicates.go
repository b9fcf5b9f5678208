package caregap

import (
	"sort"
	"time"

	fhir "github.com/drfirst/go-caregap/internal/fhir/r4"
)

// Lookback windows in months
const (
	stoolTestWindow     = 12
	colonoscopyWindow   = 120
	sigmoidoscopyWindow = 60
	mammogramWindow     = 27
	hba1cWindow         = 12
	eyeExamWindow       = 12
	nephropathyWindow   = 12
	bpScreeningWindow   = 24
	bpMonitoringWindow  = 6
	cholesterolWindow   = 60
)

// hba1cPoorControl is the HbA1c percentage above which glycemic control is poor
const hba1cPoorControl = 9.0

// datedObservation is an observation paired with its parsed calendar date.
type datedObservation struct {
	obs  *fhir.Observation
	date time.Time
}

// observationsIn returns the observations coded in set with a usable date on
// or before today, most recent first. Observations with missing or malformed
// dates are dropped.
func observationsIn(observations []fhir.Observation, set *CodeSet, today time.Time) []datedObservation {
	var out []datedObservation
	for i := range observations {
		obs := &observations[i]
		if !set.MatchesConcept(obs.Code) {
			continue
		}
		date, ok := parseFHIRDate(obs.EffectiveDate())
		if !ok || date.After(today) {
			continue
		}
		out = append(out, datedObservation{obs: obs, date: date})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].date.After(out[j].date)
	})
	return out
}

// latestObservation returns the most recent matching observation on or before today.
func latestObservation(observations []fhir.Observation, set *CodeSet, today time.Time) (datedObservation, bool) {
	matches := observationsIn(observations, set, today)
	if len(matches) == 0 {
		return datedObservation{}, false
	}
	return matches[0], true
}

// recentObservation returns the most recent matching observation inside the lookback window.
func recentObservation(observations []fhir.Observation, set *CodeSet, today time.Time, months int) (datedObservation, bool) {
	latest, ok := latestObservation(observations, set, today)
	if !ok || !withinMonths(latest.date, today, months) {
		return datedObservation{}, false
	}
	return latest, true
}

// hasCondition reports whether any condition is coded in set.
func hasCondition(conditions []fhir.Condition, set *CodeSet) bool {
	for i := range conditions {
		if set.MatchesConcept(conditions[i].Code) {
			return true
		}
	}
	return false
}

// latestImmunization returns the date of the most recent immunization coded
// in set that is on or before today.
func latestImmunization(immunizations []fhir.Immunization, set *CodeSet, today time.Time) (time.Time, bool) {
	var (
		latest time.Time
		found  bool
	)
	for i := range immunizations {
		imm := &immunizations[i]
		if !set.MatchesConcept(imm.VaccineCode) {
			continue
		}
		date, ok := parseFHIRDate(imm.OccurrenceDateTime)
		if !ok || date.After(today) {
			continue
		}
		if !found || date.After(latest) {
			latest, found = date, true
		}
	}
	return latest, found
}
