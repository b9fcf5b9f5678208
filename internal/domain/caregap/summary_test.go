package caregap

import (
	"reflect"
	"testing"
)

func TestSummarize(t *testing.T) {
	gaps := newTestEvaluator().EvaluateAll(fullRecord())
	s := Summarize("patient-1", gaps)

	if s.Total != len(gaps) {
		t.Errorf("expected total %d, got %d", len(gaps), s.Total)
	}
	if sum := s.ByStatus[StatusDue] + s.ByStatus[StatusSatisfied] + s.ByStatus[StatusNotApplicable]; sum != s.Total {
		t.Errorf("status counts %v do not add up to %d", s.ByStatus, s.Total)
	}

	// breast, HbA1c control, eye exam, kidney, cholesterol, hypertension
	if s.ByStatus[StatusDue] != 6 {
		t.Errorf("expected 6 due gaps, got %d", s.ByStatus[StatusDue])
	}
	if s.DueByPriority[PriorityHigh] != 3 || s.DueByPriority[PriorityMedium] != 3 {
		t.Errorf("unexpected priority counts %v", s.DueByPriority)
	}

	want := []string{MeasureBreastScreening, MeasureDiabetesCare, MeasureCholesterol, MeasureHypertension}
	if !reflect.DeepEqual(s.DueMeasures, want) {
		t.Errorf("expected due measures %v, got %v", want, s.DueMeasures)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize("p", nil)
	if s.Total != 0 || s.DueMeasures == nil || len(s.DueMeasures) != 0 {
		t.Errorf("unexpected summary for no gaps: %+v", s)
	}
}

func TestDue(t *testing.T) {
	gaps := []CareGap{
		{ID: "a", Status: StatusDue},
		{ID: "b", Status: StatusSatisfied},
		{ID: "c", Status: StatusNotApplicable},
		{ID: "d", Status: StatusDue},
	}
	due := Due(gaps)
	if len(due) != 2 || due[0].ID != "a" || due[1].ID != "d" {
		t.Errorf("unexpected due gaps %+v", due)
	}
}
