package caregap

// Summary aggregates the verdicts of one evaluation
type Summary struct {
	PatientID     string           `json:"patientId"`
	Total         int              `json:"total"`
	ByStatus      map[Status]int   `json:"byStatus"`
	DueByPriority map[Priority]int `json:"dueByPriority"`
	DueMeasures   []string         `json:"dueMeasures"`
}

// Summarize counts verdicts by status and due gaps by priority. DueMeasures
// lists each measure with at least one due gap, in first-seen order.
func Summarize(patientID string, gaps []CareGap) Summary {
	s := Summary{
		PatientID: patientID,
		Total:     len(gaps),
		ByStatus: map[Status]int{
			StatusDue:           0,
			StatusSatisfied:     0,
			StatusNotApplicable: 0,
		},
		DueByPriority: map[Priority]int{
			PriorityHigh:   0,
			PriorityMedium: 0,
			PriorityLow:    0,
		},
		DueMeasures: []string{},
	}

	seen := make(map[string]bool)
	for _, g := range gaps {
		s.ByStatus[g.Status]++
		if g.Status != StatusDue {
			continue
		}
		s.DueByPriority[g.Priority]++
		if !seen[g.MeasureID] {
			seen[g.MeasureID] = true
			s.DueMeasures = append(s.DueMeasures, g.MeasureID)
		}
	}
	return s
}

// Due filters gaps to those with status due.
func Due(gaps []CareGap) []CareGap {
	out := make([]CareGap, 0, len(gaps))
	for _, g := range gaps {
		if g.Status == StatusDue {
			out = append(out, g)
		}
	}
	return out
}
