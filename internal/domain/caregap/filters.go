package caregap

import (
	"fmt"
	"strings"
)

// gateResult is the outcome of an eligibility filter.
type gateResult int

const (
	// gateProceed continues to the due/satisfied evaluation
	gateProceed gateResult = iota
	// gateNotApplicable short-circuits with a not_applicable verdict
	gateNotApplicable
	// gateSkip produces no verdict, used when the record lacks the data to decide
	gateSkip
)

type gate struct {
	result gateResult
	reason string
}

func proceed() gate { return gate{result: gateProceed} }

func skip() gate { return gate{result: gateSkip} }

func excluded(reason string) gate { return gate{result: gateNotApplicable, reason: reason} }

func (g gate) proceeds() bool { return g.result == gateProceed }

// outcome converts a blocking gate into the verdicts for c: none when skipped,
// a single not_applicable verdict otherwise.
func (e evaluation) outcome(c check, g gate) []CareGap {
	if g.result == gateNotApplicable {
		return []CareGap{e.notApplicable(c, g.reason)}
	}
	return []CareGap{}
}

// age returns the patient's age in whole years. It reports false when the
// birth date is absent or malformed.
func (e evaluation) age() (int, bool) {
	birth, ok := parseFHIRDate(e.hc.Patient.BirthDate)
	if !ok {
		return 0, false
	}
	return yearsBetween(birth, e.today), true
}

// ageInMonths returns the patient's age in whole months.
func (e evaluation) ageInMonths() (int, bool) {
	birth, ok := parseFHIRDate(e.hc.Patient.BirthDate)
	if !ok {
		return 0, false
	}
	return monthsBetween(birth, e.today), true
}

// ageBand admits patients whose age lies in [lo, hi].
func (e evaluation) ageBand(measure string, lo, hi int) gate {
	age, ok := e.age()
	if !ok {
		return skip()
	}
	if age < lo || age > hi {
		return excluded(fmt.Sprintf("%s applies to ages %d-%d (patient age %d)", measure, lo, hi, age))
	}
	return proceed()
}

// minimumAge admits patients at least lo years old.
func (e evaluation) minimumAge(measure string, lo int) gate {
	age, ok := e.age()
	if !ok {
		return skip()
	}
	if age < lo {
		return excluded(fmt.Sprintf("%s applies to ages %d and older (patient age %d)", measure, lo, age))
	}
	return proceed()
}

// female admits patients whose administrative gender is female.
func (e evaluation) female(measure string) gate {
	if e.hc.Patient.Gender == "female" {
		return proceed()
	}
	gender := strings.TrimSpace(e.hc.Patient.Gender)
	if gender == "" {
		gender = "unknown"
	}
	return excluded(fmt.Sprintf("%s applies to female patients only (recorded gender: %s)", measure, gender))
}

// exclusion disqualifies patients with a condition coded in set.
func (e evaluation) exclusion(set *CodeSet) gate {
	if hasCondition(e.hc.Conditions, set) {
		return excluded(fmt.Sprintf("Excluded due to documented history of %s", set.Name()))
	}
	return proceed()
}

// firstBlocking returns the first gate that does not proceed.
func firstBlocking(gates ...func() gate) gate {
	for _, g := range gates {
		if res := g(); !res.proceeds() {
			return res
		}
	}
	return proceed()
}
