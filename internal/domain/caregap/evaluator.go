package caregap

import "time"

// Clock returns the current time
type Clock func() time.Time

// Evaluator runs the care gap measures against a patient's record. It holds
// no mutable state and is safe for concurrent use.
type Evaluator struct {
	now Clock
}

// Option configures an Evaluator
type Option func(*Evaluator)

// WithClock sets the clock used to determine the evaluation date.
func WithClock(c Clock) Option {
	return func(e *Evaluator) {
		if c != nil {
			e.now = c
		}
	}
}

// AsOf pins the evaluation date.
func AsOf(date time.Time) Option {
	return WithClock(func() time.Time { return date })
}

// NewEvaluator creates an evaluator using the system clock (UTC) unless overridden.
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// measureFunc evaluates one measure family
type measureFunc func(evaluation) []CareGap

// measures is the fixed evaluation order of EvaluateAll.
var measures = []measureFunc{
	colorectalScreening,
	breastCancerScreening,
	diabetesCare,
	preventiveCare,
	hypertensionMonitoring,
}

// EvaluateAll runs every measure and concatenates the verdicts in a fixed
// order: colorectal, breast, diabetes, preventive, hypertension.
func (ev *Evaluator) EvaluateAll(hc *PatientHealthContext) []CareGap {
	e, ok := ev.begin(hc)
	if !ok {
		return []CareGap{}
	}
	gaps := make([]CareGap, 0, 10)
	for _, m := range measures {
		gaps = append(gaps, m(e)...)
	}
	return gaps
}

// ColorectalScreening evaluates HEDIS-COL.
func (ev *Evaluator) ColorectalScreening(hc *PatientHealthContext) []CareGap {
	return ev.run(hc, colorectalScreening)
}

// BreastCancerScreening evaluates HEDIS-BCS.
func (ev *Evaluator) BreastCancerScreening(hc *PatientHealthContext) []CareGap {
	return ev.run(hc, breastCancerScreening)
}

// DiabetesCare evaluates the HEDIS-CDC sub-checks.
func (ev *Evaluator) DiabetesCare(hc *PatientHealthContext) []CareGap {
	return ev.run(hc, diabetesCare)
}

// PreventiveCare evaluates blood pressure, cholesterol and flu vaccine measures.
func (ev *Evaluator) PreventiveCare(hc *PatientHealthContext) []CareGap {
	return ev.run(hc, preventiveCare)
}

// HypertensionMonitoring evaluates HEDIS-CBP.
func (ev *Evaluator) HypertensionMonitoring(hc *PatientHealthContext) []CareGap {
	return ev.run(hc, hypertensionMonitoring)
}

func (ev *Evaluator) run(hc *PatientHealthContext, m measureFunc) []CareGap {
	e, ok := ev.begin(hc)
	if !ok {
		return []CareGap{}
	}
	return m(e)
}

// begin captures today once so every measure in a run sees the same date.
func (ev *Evaluator) begin(hc *PatientHealthContext) (evaluation, bool) {
	if hc == nil {
		return evaluation{}, false
	}
	return evaluation{hc: hc, today: dateOf(ev.now())}, true
}
