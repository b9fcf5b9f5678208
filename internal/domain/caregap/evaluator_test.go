package caregap

import (
	"reflect"
	"strings"
	"testing"
	"time"

	fhir "github.com/drfirst/go-caregap/internal/fhir/r4"
)

var evaluationTime = time.Date(2026, time.October, 18, 15, 30, 0, 0, time.UTC)

func newTestEvaluator() *Evaluator {
	return NewEvaluator(AsOf(evaluationTime))
}

// monthsAgo returns the ISO date n months before the evaluation date.
func monthsAgo(n int) string {
	return formatISODate(addMonths(dateOf(evaluationTime), -n))
}

func birthDateForAge(years int) string {
	return monthsAgo(12 * years)
}

func newPatient(gender, birthDate string) fhir.Patient {
	return fhir.Patient{ResourceType: fhir.ResourcePatient, ID: "patient-1", Gender: gender, BirthDate: birthDate}
}

func newCondition(system, code string) fhir.Condition {
	return fhir.Condition{
		ResourceType: fhir.ResourceCondition,
		Code:         &fhir.CodeableConcept{Coding: []fhir.Coding{{System: system, Code: code}}},
	}
}

func newObservation(system, code, date string) fhir.Observation {
	return fhir.Observation{
		ResourceType:      fhir.ResourceObservation,
		Status:            "final",
		Code:              &fhir.CodeableConcept{Coding: []fhir.Coding{{System: system, Code: code}}},
		EffectiveDateTime: date,
	}
}

func withValue(o fhir.Observation, v float64) fhir.Observation {
	o.ValueQuantity = &fhir.Quantity{Value: &v, Unit: "%"}
	return o
}

func newFluShot(code, date string) fhir.Immunization {
	return fhir.Immunization{
		ResourceType:       fhir.ResourceImmunization,
		Status:             "completed",
		VaccineCode:        &fhir.CodeableConcept{Coding: []fhir.Coding{{System: fhir.SystemCVX, Code: code}}},
		OccurrenceDateTime: date,
	}
}

func diabeticWith(observations ...fhir.Observation) *PatientHealthContext {
	return &PatientHealthContext{
		Patient:      newPatient("male", birthDateForAge(60)),
		Conditions:   []fhir.Condition{newCondition(fhir.SystemICD10, "E11.9")},
		Observations: observations,
	}
}

func findGap(gaps []CareGap, id string) (CareGap, bool) {
	for _, g := range gaps {
		if g.ID == id {
			return g, true
		}
	}
	return CareGap{}, false
}

func TestColorectalNotApplicableOutsideAgeBand(t *testing.T) {
	ev := newTestEvaluator()
	for _, age := range []int{18, 30, 44, 76, 90} {
		hc := &PatientHealthContext{Patient: newPatient("male", birthDateForAge(age))}
		gaps := ev.ColorectalScreening(hc)
		if len(gaps) != 1 {
			t.Fatalf("age %d: expected 1 gap, got %d", age, len(gaps))
		}
		if gaps[0].Status != StatusNotApplicable {
			t.Errorf("age %d: expected not_applicable, got %s", age, gaps[0].Status)
		}
		if !strings.Contains(gaps[0].Reason, "age") {
			t.Errorf("age %d: reason should cite age, got %q", age, gaps[0].Reason)
		}
	}
}

func TestColorectalAgeBandIsInclusive(t *testing.T) {
	ev := newTestEvaluator()
	for _, age := range []int{45, 75} {
		hc := &PatientHealthContext{Patient: newPatient("female", birthDateForAge(age))}
		gaps := ev.ColorectalScreening(hc)
		if len(gaps) != 1 || gaps[0].Status != StatusDue {
			t.Errorf("age %d: expected a single due gap, got %+v", age, gaps)
		}
	}
}

func TestColorectalScreeningModalities(t *testing.T) {
	tests := []struct {
		name   string
		obs    fhir.Observation
		status Status
	}{
		{"stool test within a year", newObservation(fhir.SystemLOINC, "29771-3", monthsAgo(11)), StatusSatisfied},
		{"stool test too old", newObservation(fhir.SystemLOINC, "29771-3", monthsAgo(13)), StatusDue},
		{"colonoscopy within 10 years", newObservation(fhir.SystemSNOMED, "73761001", monthsAgo(9*12)), StatusSatisfied},
		{"colonoscopy too old", newObservation(fhir.SystemLOINC, "28022-8", monthsAgo(11*12)), StatusDue},
		{"sigmoidoscopy within 5 years", newObservation(fhir.SystemSNOMED, "44441009", monthsAgo(4*12)), StatusSatisfied},
		{"sigmoidoscopy too old", newObservation(fhir.SystemSNOMED, "44441009", monthsAgo(6*12)), StatusDue},
		{"unrelated observation", newObservation(fhir.SystemLOINC, "4548-4", monthsAgo(1)), StatusDue},
	}

	ev := newTestEvaluator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := &PatientHealthContext{
				Patient:      newPatient("male", birthDateForAge(60)),
				Observations: []fhir.Observation{tt.obs},
			}
			gaps := ev.ColorectalScreening(hc)
			if len(gaps) != 1 {
				t.Fatalf("expected 1 gap, got %d", len(gaps))
			}
			g := gaps[0]
			if g.Status != tt.status {
				t.Fatalf("expected %s, got %s", tt.status, g.Status)
			}
			switch g.Status {
			case StatusSatisfied:
				if g.LastPerformedDate != tt.obs.EffectiveDateTime {
					t.Errorf("expected lastPerformedDate %s, got %s", tt.obs.EffectiveDateTime, g.LastPerformedDate)
				}
			case StatusDue:
				if g.Priority != PriorityHigh {
					t.Errorf("expected high priority, got %s", g.Priority)
				}
				if g.DueDate != "2026-10-18" {
					t.Errorf("expected due date 2026-10-18, got %s", g.DueDate)
				}
			}
		})
	}
}

func TestColorectalDueNarrative(t *testing.T) {
	ev := newTestEvaluator()
	hc := &PatientHealthContext{
		Patient:      newPatient("male", birthDateForAge(62)),
		Observations: []fhir.Observation{newObservation(fhir.SystemLOINC, "28022-8", monthsAgo(11*12))},
	}
	g := ev.ColorectalScreening(hc)[0]
	want := "Your last colorectal cancer screening (colonoscopy) was 11 years ago."
	if g.Description != want {
		t.Errorf("expected description %q, got %q", want, g.Description)
	}
	if !strings.Contains(g.RecommendedAction, "every 10 years") {
		t.Errorf("established eligibility should list screening options, got %q", g.RecommendedAction)
	}

	hc.Patient = newPatient("male", birthDateForAge(46))
	g = ev.ColorectalScreening(hc)[0]
	if !strings.Contains(g.RecommendedAction, "age 45") {
		t.Errorf("newly eligible patients should get the age 45 guidance, got %q", g.RecommendedAction)
	}
}

func TestColorectalExclusion(t *testing.T) {
	ev := newTestEvaluator()
	for _, cond := range []fhir.Condition{
		newCondition(fhir.SystemICD10, "C18.9"),
		newCondition(fhir.SystemICD10, "Z85.038"),
		newCondition(fhir.SystemSNOMED, "26390003"),
	} {
		hc := &PatientHealthContext{
			Patient:    newPatient("female", birthDateForAge(60)),
			Conditions: []fhir.Condition{cond},
		}
		gaps := ev.ColorectalScreening(hc)
		if len(gaps) != 1 || gaps[0].Status != StatusNotApplicable {
			t.Fatalf("%s: expected not_applicable, got %+v", cond.Code.Coding[0].Code, gaps)
		}
		if !strings.Contains(gaps[0].Reason, "Excluded") {
			t.Errorf("expected exclusion reason, got %q", gaps[0].Reason)
		}
	}
}

func TestBreastNotApplicableForNonFemale(t *testing.T) {
	ev := newTestEvaluator()
	for _, gender := range []string{"male", "other", "unknown", "", "Female", "FEMALE", " female "} {
		for _, age := range []int{30, 60, 80} {
			hc := &PatientHealthContext{Patient: newPatient(gender, birthDateForAge(age))}
			gaps := ev.BreastCancerScreening(hc)
			if len(gaps) != 1 || gaps[0].Status != StatusNotApplicable {
				t.Fatalf("gender %q age %d: expected not_applicable, got %+v", gender, age, gaps)
			}
			if !strings.Contains(gaps[0].Reason, "gender") {
				t.Errorf("gender %q age %d: reason should cite gender, got %q", gender, age, gaps[0].Reason)
			}
		}
	}
}

func TestBreastScreeningDueForFemaleWithoutMammogram(t *testing.T) {
	ev := newTestEvaluator()
	hc := &PatientHealthContext{Patient: newPatient("female", "1970-01-01")}

	g, ok := findGap(ev.EvaluateAll(hc), "breast-cancer-screening")
	if !ok {
		t.Fatal("expected a breast cancer screening gap")
	}
	if g.Status != StatusDue {
		t.Errorf("expected status due, got %s", g.Status)
	}
	if g.Priority != PriorityHigh {
		t.Errorf("expected priority high, got %s", g.Priority)
	}
	if g.MeasureID != "HEDIS-BCS" {
		t.Errorf("expected measure HEDIS-BCS, got %s", g.MeasureID)
	}
	if g.PatientID != "patient-1" {
		t.Errorf("expected patient id to be carried, got %q", g.PatientID)
	}
}

func TestBreastScreeningMammogramWindow(t *testing.T) {
	ev := newTestEvaluator()
	hc := &PatientHealthContext{
		Patient:      newPatient("female", birthDateForAge(55)),
		Observations: []fhir.Observation{newObservation(fhir.SystemLOINC, "24606-6", monthsAgo(27))},
	}
	if g := ev.BreastCancerScreening(hc)[0]; g.Status != StatusSatisfied {
		t.Errorf("mammogram exactly 27 months ago should satisfy, got %s", g.Status)
	}

	hc.Observations = []fhir.Observation{newObservation(fhir.SystemLOINC, "24606-6", monthsAgo(28))}
	g := ev.BreastCancerScreening(hc)[0]
	if g.Status != StatusDue {
		t.Fatalf("mammogram 28 months ago should be due, got %s", g.Status)
	}
	if g.Description != "Your last mammogram was 2 years ago." {
		t.Errorf("unexpected description %q", g.Description)
	}
}

func TestBreastScreeningExclusionAndAge(t *testing.T) {
	ev := newTestEvaluator()
	hc := &PatientHealthContext{
		Patient:    newPatient("female", birthDateForAge(60)),
		Conditions: []fhir.Condition{newCondition(fhir.SystemSNOMED, "27865001")},
	}
	if g := ev.BreastCancerScreening(hc)[0]; g.Status != StatusNotApplicable || !strings.Contains(g.Reason, "mastectomy") {
		t.Errorf("expected mastectomy exclusion, got %+v", g)
	}

	hc = &PatientHealthContext{Patient: newPatient("female", birthDateForAge(49))}
	if g := ev.BreastCancerScreening(hc)[0]; g.Status != StatusNotApplicable || !strings.Contains(g.Reason, "age") {
		t.Errorf("expected age exclusion, got %+v", g)
	}
}

func TestMissingBirthDateYieldsNoAgeBasedVerdicts(t *testing.T) {
	ev := newTestEvaluator()
	hc := &PatientHealthContext{Patient: newPatient("female", "")}

	if gaps := ev.ColorectalScreening(hc); len(gaps) != 0 {
		t.Errorf("expected no colorectal verdicts, got %+v", gaps)
	}
	if gaps := ev.BreastCancerScreening(hc); len(gaps) != 0 {
		t.Errorf("expected no breast verdicts, got %+v", gaps)
	}
	if gaps := ev.PreventiveCare(hc); len(gaps) != 0 {
		t.Errorf("expected no preventive verdicts, got %+v", gaps)
	}

	hc.Patient.BirthDate = "not a date"
	if gaps := ev.ColorectalScreening(hc); len(gaps) != 0 {
		t.Errorf("malformed birth date should behave as absent, got %+v", gaps)
	}
}

func TestDiabetesNotApplicableWithoutDiagnosis(t *testing.T) {
	ev := newTestEvaluator()
	hc := &PatientHealthContext{
		Patient:      newPatient("male", birthDateForAge(60)),
		Conditions:   []fhir.Condition{newCondition(fhir.SystemICD10, "E10.9")},
		Observations: []fhir.Observation{withValue(newObservation(fhir.SystemLOINC, "4548-4", monthsAgo(1)), 10.2)},
	}
	gaps := ev.DiabetesCare(hc)
	if len(gaps) != 1 {
		t.Fatalf("expected exactly one gap, got %d", len(gaps))
	}
	if gaps[0].Status != StatusNotApplicable || gaps[0].MeasureID != MeasureDiabetesCare {
		t.Errorf("expected a HEDIS-CDC not_applicable verdict, got %+v", gaps[0])
	}
}

func TestDiabetesHbA1cWindowBoundary(t *testing.T) {
	// 12 months before 2026-10-18 is 2025-10-18
	tests := []struct {
		name string
		date string
		due  bool
	}{
		{"12 months plus one day", "2025-10-17", true},
		{"exactly 12 months", "2025-10-18", false},
		{"12 months minus one day", "2025-10-19", false},
		// written dates count, not their UTC instant
		{"outside by written date, inside in UTC", "2025-10-17T22:00:00-05:00", true},
		{"inside by written date, outside in UTC", "2025-10-18T01:00:00+05:00", false},
	}

	ev := newTestEvaluator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := diabeticWith(withValue(newObservation(fhir.SystemLOINC, "4548-4", tt.date), 7.1))
			g, ok := findGap(ev.DiabetesCare(hc), "diabetes-hba1c-testing")
			if !ok {
				t.Fatal("expected an HbA1c testing verdict")
			}
			if got := g.Status == StatusDue; got != tt.due {
				t.Errorf("expected due=%v, got status %s", tt.due, g.Status)
			}
		})
	}
}

func TestDiabetesPoorGlycemicControl(t *testing.T) {
	hba1c := func(v float64) fhir.Observation {
		return withValue(newObservation(fhir.SystemLOINC, "4548-4", monthsAgo(1)), v)
	}
	ev := newTestEvaluator()

	gaps := ev.DiabetesCare(diabeticWith(hba1c(9.5)))
	tested, ok := findGap(gaps, "diabetes-hba1c-testing")
	if !ok || tested.Status != StatusSatisfied {
		t.Errorf("expected HbA1c testing to be satisfied, got %+v", tested)
	}
	control, ok := findGap(gaps, "diabetes-hba1c-control")
	if !ok {
		t.Fatal("expected a poor glycemic control gap for 9.5")
	}
	if control.Status != StatusDue || control.Priority != PriorityHigh {
		t.Errorf("expected due/high control gap, got %+v", control)
	}
	if control.MeasureID != tested.MeasureID || control.ID == tested.ID {
		t.Error("control gap should share the measure but carry its own id")
	}

	if _, ok := findGap(ev.DiabetesCare(diabeticWith(hba1c(9.0))), "diabetes-hba1c-control"); ok {
		t.Error("an HbA1c of exactly 9.0 must not trigger the control gap")
	}
}

func TestDiabetesControlUsesValueStringAndIgnoresMissingValues(t *testing.T) {
	ev := newTestEvaluator()

	obs := newObservation(fhir.SystemLOINC, "4548-4", monthsAgo(2))
	obs.ValueString = "10.1 %"
	if _, ok := findGap(ev.DiabetesCare(diabeticWith(obs)), "diabetes-hba1c-control"); !ok {
		t.Error("expected numeric valueString to trigger the control gap")
	}

	obs = newObservation(fhir.SystemLOINC, "4548-4", monthsAgo(2))
	obs.ValueString = "see report"
	gaps := ev.DiabetesCare(diabeticWith(obs))
	if _, ok := findGap(gaps, "diabetes-hba1c-control"); ok {
		t.Error("non numeric values must be excluded from threshold checks")
	}
	if g, _ := findGap(gaps, "diabetes-hba1c-testing"); g.Status != StatusSatisfied {
		t.Errorf("a test without a value still counts as performed, got %s", g.Status)
	}

	for _, v := range []string{"Infinity", "NaN"} {
		obs = newObservation(fhir.SystemLOINC, "4548-4", monthsAgo(2))
		obs.ValueString = v
		if g, ok := findGap(ev.DiabetesCare(diabeticWith(obs)), "diabetes-hba1c-control"); ok {
			t.Errorf("%s must not be read as a lab value, got %q", v, g.Description)
		}
	}
}

func TestDiabetesAllChecksCurrent(t *testing.T) {
	ev := newTestEvaluator()
	hc := diabeticWith(
		withValue(newObservation(fhir.SystemLOINC, "4548-4", monthsAgo(2)), 7.0),
		newObservation(fhir.SystemSNOMED, "252779009", monthsAgo(3)),
		newObservation(fhir.SystemLOINC, "14959-1", monthsAgo(4)),
	)
	gaps := ev.DiabetesCare(hc)
	if len(gaps) != 1 {
		t.Fatalf("expected a single satisfied verdict, got %+v", gaps)
	}
	if gaps[0].Status != StatusSatisfied || gaps[0].LastPerformedDate != monthsAgo(2) {
		t.Errorf("expected satisfied with the HbA1c date, got %+v", gaps[0])
	}
}

func TestDiabetesAllChecksMissing(t *testing.T) {
	ev := newTestEvaluator()
	hc := &PatientHealthContext{
		Patient:    newPatient("female", birthDateForAge(52)),
		Conditions: []fhir.Condition{newCondition(fhir.SystemSNOMED, "44054006")},
	}
	gaps := ev.DiabetesCare(hc)

	want := map[string]Priority{
		"diabetes-hba1c-testing":     PriorityHigh,
		"diabetes-eye-exam":          PriorityMedium,
		"diabetes-kidney-monitoring": PriorityMedium,
	}
	if len(gaps) != len(want) {
		t.Fatalf("expected %d gaps, got %+v", len(want), gaps)
	}
	for _, g := range gaps {
		if g.Status != StatusDue || g.Priority != want[g.ID] {
			t.Errorf("%s: expected due/%s, got %s/%s", g.ID, want[g.ID], g.Status, g.Priority)
		}
	}
}

func TestPreventiveCareForChildren(t *testing.T) {
	ev := newTestEvaluator()

	gaps := ev.PreventiveCare(&PatientHealthContext{Patient: newPatient("female", birthDateForAge(10))})
	if len(gaps) != 3 {
		t.Fatalf("expected 3 preventive verdicts, got %d", len(gaps))
	}
	if g, _ := findGap(gaps, "blood-pressure-screening"); g.Status != StatusNotApplicable {
		t.Errorf("blood pressure screening should not apply at 10, got %s", g.Status)
	}
	if g, _ := findGap(gaps, "cholesterol-screening"); g.Status != StatusNotApplicable {
		t.Errorf("cholesterol screening should not apply at 10, got %s", g.Status)
	}
	if g, _ := findGap(gaps, "influenza-vaccination"); g.Status != StatusDue || g.Priority != PriorityMedium {
		t.Errorf("flu vaccine should be due/medium, got %+v", g)
	}

	infant := newPatient("male", monthsAgo(3))
	g, _ := findGap(ev.PreventiveCare(&PatientHealthContext{Patient: infant}), "influenza-vaccination")
	if g.Status != StatusNotApplicable || !strings.Contains(g.Reason, "6 months") {
		t.Errorf("flu vaccine should not apply under 6 months, got %+v", g)
	}
}

func TestBloodPressureScreeningWindow(t *testing.T) {
	ev := newTestEvaluator()
	hc := &PatientHealthContext{
		Patient:      newPatient("male", birthDateForAge(30)),
		Observations: []fhir.Observation{newObservation(fhir.SystemLOINC, "85354-9", monthsAgo(23))},
	}
	if g, _ := findGap(ev.PreventiveCare(hc), "blood-pressure-screening"); g.Status != StatusSatisfied {
		t.Errorf("reading 23 months ago should satisfy, got %s", g.Status)
	}

	hc.Observations = []fhir.Observation{newObservation(fhir.SystemLOINC, "85354-9", monthsAgo(25))}
	if g, _ := findGap(ev.PreventiveCare(hc), "blood-pressure-screening"); g.Status != StatusDue {
		t.Errorf("reading 25 months ago should be due, got %s", g.Status)
	}
}

func TestCholesterolEligibility(t *testing.T) {
	tests := []struct {
		name       string
		age        int
		conditions []fhir.Condition
		want       Status
	}{
		{"under 20 with risk factor", 19, []fhir.Condition{newCondition(fhir.SystemICD10, "I10")}, StatusNotApplicable},
		{"30 without risk factor", 30, nil, StatusNotApplicable},
		{"30 with hyperlipidemia", 30, []fhir.Condition{newCondition(fhir.SystemICD10, "E78.5")}, StatusDue},
		{"30 with tobacco use", 30, []fhir.Condition{newCondition(fhir.SystemICD10, "F17.210")}, StatusDue},
		{"40 without risk factor", 40, nil, StatusDue},
	}

	ev := newTestEvaluator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := &PatientHealthContext{
				Patient:    newPatient("male", birthDateForAge(tt.age)),
				Conditions: tt.conditions,
			}
			g, ok := findGap(ev.PreventiveCare(hc), "cholesterol-screening")
			if !ok {
				t.Fatal("expected a cholesterol verdict")
			}
			if g.Status != tt.want {
				t.Errorf("expected %s, got %s (%s)", tt.want, g.Status, g.Reason)
			}
		})
	}
}

func TestCholesterolSatisfiedWithinFiveYears(t *testing.T) {
	ev := newTestEvaluator()
	hc := &PatientHealthContext{
		Patient:      newPatient("female", birthDateForAge(45)),
		Observations: []fhir.Observation{newObservation(fhir.SystemLOINC, "2093-3", monthsAgo(4*12))},
	}
	if g, _ := findGap(ev.PreventiveCare(hc), "cholesterol-screening"); g.Status != StatusSatisfied {
		t.Errorf("expected satisfied, got %s", g.Status)
	}
}

func TestFluVaccineUsesCalendarYear(t *testing.T) {
	tests := []struct {
		name string
		shot fhir.Immunization
		want Status
	}{
		{"this year", newFluShot("158", "2026-01-10"), StatusSatisfied},
		{"last december", newFluShot("158", "2025-12-20"), StatusDue},
		{"non flu vaccine", newFluShot("208", "2026-09-01"), StatusDue},
		{"future dated", newFluShot("158", "2026-11-01"), StatusDue},
		{"malformed date", newFluShot("158", "10/01/2026"), StatusDue},
	}

	ev := newTestEvaluator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := &PatientHealthContext{
				Patient:       newPatient("male", birthDateForAge(35)),
				Immunizations: []fhir.Immunization{tt.shot},
			}
			g, _ := findGap(ev.PreventiveCare(hc), "influenza-vaccination")
			if g.Status != tt.want {
				t.Errorf("expected %s, got %s", tt.want, g.Status)
			}
		})
	}
}

func TestHypertensionMonitoring(t *testing.T) {
	ev := newTestEvaluator()

	hc := &PatientHealthContext{Patient: newPatient("male", birthDateForAge(58))}
	gaps := ev.HypertensionMonitoring(hc)
	if len(gaps) != 1 || gaps[0].Status != StatusNotApplicable {
		t.Fatalf("expected not_applicable without diagnosis, got %+v", gaps)
	}

	hc.Conditions = []fhir.Condition{newCondition(fhir.SystemICD10, "I10")}
	hc.Observations = []fhir.Observation{newObservation(fhir.SystemLOINC, "8480-6", monthsAgo(5))}
	if g := ev.HypertensionMonitoring(hc)[0]; g.Status != StatusSatisfied {
		t.Errorf("reading 5 months ago should satisfy, got %s", g.Status)
	}

	hc.Observations = []fhir.Observation{newObservation(fhir.SystemLOINC, "8480-6", monthsAgo(7))}
	g := ev.HypertensionMonitoring(hc)[0]
	if g.Status != StatusDue || g.Priority != PriorityHigh {
		t.Fatalf("reading 7 months ago should be due/high, got %+v", g)
	}
	if !strings.Contains(g.Description, "every 6 months") {
		t.Errorf("expected the hypertension narrative, got %q", g.Description)
	}
	general, _ := findGap(ev.PreventiveCare(hc), "blood-pressure-screening")
	if general.Status != StatusSatisfied {
		t.Errorf("the general 2 year check should still be satisfied, got %s", general.Status)
	}
}

func TestMalformedObservationDatesNeverMatch(t *testing.T) {
	ev := newTestEvaluator()
	hc := &PatientHealthContext{
		Patient:    newPatient("male", birthDateForAge(58)),
		Conditions: []fhir.Condition{newCondition(fhir.SystemICD10, "I10.0")},
		Observations: []fhir.Observation{
			newObservation(fhir.SystemLOINC, "8480-6", "yesterday"),
			newObservation(fhir.SystemLOINC, "8480-6", ""),
		},
	}
	if g := ev.HypertensionMonitoring(hc)[0]; g.Status != StatusDue {
		t.Errorf("expected due, got %s", g.Status)
	}
}

func TestEffectivePeriodStartCountsAsDate(t *testing.T) {
	ev := newTestEvaluator()
	obs := newObservation(fhir.SystemLOINC, "24606-6", "")
	obs.EffectivePeriod = &fhir.Period{Start: monthsAgo(6)}
	hc := &PatientHealthContext{
		Patient:      newPatient("female", birthDateForAge(60)),
		Observations: []fhir.Observation{obs},
	}
	if g := ev.BreastCancerScreening(hc)[0]; g.Status != StatusSatisfied {
		t.Errorf("expected satisfied from effectivePeriod.start, got %s", g.Status)
	}
}

func fullRecord() *PatientHealthContext {
	return &PatientHealthContext{
		Patient: newPatient("female", "1970-01-01"),
		Conditions: []fhir.Condition{
			newCondition(fhir.SystemICD10, "E11.9"),
			newCondition(fhir.SystemICD10, "I10"),
		},
		Observations: []fhir.Observation{
			withValue(newObservation(fhir.SystemLOINC, "4548-4", monthsAgo(1)), 9.5),
			newObservation(fhir.SystemLOINC, "85354-9", monthsAgo(8)),
			newObservation(fhir.SystemLOINC, "28022-8", monthsAgo(30)),
		},
		Immunizations: []fhir.Immunization{newFluShot("141", "2026-09-30")},
	}
}

func TestEvaluateAllOrder(t *testing.T) {
	gaps := newTestEvaluator().EvaluateAll(fullRecord())

	var order []string
	seen := make(map[string]bool)
	for _, g := range gaps {
		if !seen[g.MeasureID] {
			seen[g.MeasureID] = true
			order = append(order, g.MeasureID)
		}
	}
	want := []string{
		MeasureColorectalScreening,
		MeasureBreastScreening,
		MeasureDiabetesCare,
		MeasureBloodPressure,
		MeasureCholesterol,
		MeasureInfluenza,
		MeasureHypertension,
	}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("expected measure order %v, got %v", want, order)
	}
}

func TestEvaluateAllIsIdempotent(t *testing.T) {
	ev := newTestEvaluator()
	hc := fullRecord()

	first := ev.EvaluateAll(hc)
	second := ev.EvaluateAll(hc)
	if !reflect.DeepEqual(first, second) {
		t.Error("repeated evaluation produced different results")
	}
	if !reflect.DeepEqual(hc, fullRecord()) {
		t.Error("evaluation modified the patient context")
	}
}

func TestVerdictConsistency(t *testing.T) {
	records := []*PatientHealthContext{
		fullRecord(),
		{Patient: newPatient("male", birthDateForAge(30))},
		{Patient: newPatient("female", birthDateForAge(80))},
		diabeticWith(),
	}

	ev := newTestEvaluator()
	for i, hc := range records {
		terminal := make(map[string]int)
		for _, g := range ev.EvaluateAll(hc) {
			set := 0
			for _, field := range []string{g.DueDate, g.LastPerformedDate, g.Reason} {
				if field != "" {
					set++
				}
			}
			if set != 1 {
				t.Errorf("record %d, %s: expected exactly one of dueDate/lastPerformedDate/reason", i, g.ID)
			}
			if (g.Priority != "") != (g.Status == StatusDue) {
				t.Errorf("record %d, %s: priority must be present only on due gaps", i, g.ID)
			}
			if g.Status != StatusDue {
				terminal[g.MeasureID]++
			}
		}
		for measure, n := range terminal {
			if n > 1 {
				t.Errorf("record %d: measure %s has %d satisfied/not_applicable verdicts", i, measure, n)
			}
		}
	}
}

func TestEvaluateAllNilContext(t *testing.T) {
	gaps := newTestEvaluator().EvaluateAll(nil)
	if gaps == nil || len(gaps) != 0 {
		t.Errorf("expected an empty, non-nil slice, got %#v", gaps)
	}
}

func TestEvaluatorUsesClockPerRun(t *testing.T) {
	now := time.Date(2026, time.January, 5, 0, 0, 0, 0, time.UTC)
	ev := NewEvaluator(WithClock(func() time.Time { return now }))
	hc := &PatientHealthContext{
		Patient:       newPatient("male", birthDateForAge(35)),
		Immunizations: []fhir.Immunization{newFluShot("158", "2025-12-20")},
	}

	if g, _ := findGap(ev.PreventiveCare(hc), "influenza-vaccination"); g.Status != StatusDue {
		t.Errorf("expected due in the new year, got %s", g.Status)
	}
	now = time.Date(2025, time.December, 31, 0, 0, 0, 0, time.UTC)
	if g, _ := findGap(ev.PreventiveCare(hc), "influenza-vaccination"); g.Status != StatusSatisfied {
		t.Errorf("expected satisfied within 2025, got %s", g.Status)
	}
}
