package caregap

import "time"

// Measure identifiers
const (
	MeasureColorectalScreening = "HEDIS-COL"
	MeasureBreastScreening     = "HEDIS-BCS"
	MeasureDiabetesCare        = "HEDIS-CDC"
	MeasureBloodPressure       = "PREV-BP"
	MeasureCholesterol         = "PREV-CHOL"
	MeasureInfluenza           = "PREV-FLU"
	MeasureHypertension        = "HEDIS-CBP"
)

// check is the static identity of one verdict a measure can produce.
type check struct {
	id        string
	title     string
	measureID string
	category  Category
}

var (
	colorectalCheck = check{"colorectal-cancer-screening", "Colorectal Cancer Screening", MeasureColorectalScreening, CategoryPreventive}
	breastCheck     = check{"breast-cancer-screening", "Breast Cancer Screening", MeasureBreastScreening, CategoryPreventive}

	diabetesCheck         = check{"diabetes-care", "Comprehensive Diabetes Care", MeasureDiabetesCare, CategoryChronic}
	hba1cTestingCheck     = check{"diabetes-hba1c-testing", "HbA1c Testing", MeasureDiabetesCare, CategoryChronic}
	hba1cControlCheck     = check{"diabetes-hba1c-control", "HbA1c Control", MeasureDiabetesCare, CategoryChronic}
	eyeExamCheck          = check{"diabetes-eye-exam", "Diabetic Eye Exam", MeasureDiabetesCare, CategoryChronic}
	kidneyMonitoringCheck = check{"diabetes-kidney-monitoring", "Kidney Health Monitoring", MeasureDiabetesCare, CategoryChronic}

	bloodPressureCheck = check{"blood-pressure-screening", "Blood Pressure Screening", MeasureBloodPressure, CategoryPreventive}
	cholesterolCheck   = check{"cholesterol-screening", "Cholesterol Screening", MeasureCholesterol, CategoryPreventive}
	influenzaCheck     = check{"influenza-vaccination", "Annual Flu Vaccine", MeasureInfluenza, CategoryPreventive}

	hypertensionCheck = check{"hypertension-bp-monitoring", "Hypertension Blood Pressure Monitoring", MeasureHypertension, CategoryChronic}
)

// evaluation carries the inputs shared by every evaluator for one run.
type evaluation struct {
	hc    *PatientHealthContext
	today time.Time
}

func (e evaluation) due(c check, p Priority, description, action string) CareGap {
	return CareGap{
		ID:                c.id,
		PatientID:         e.hc.Patient.ID,
		Title:             c.title,
		Status:            StatusDue,
		Description:       description,
		RecommendedAction: action,
		MeasureID:         c.measureID,
		Category:          c.category,
		Priority:          p,
		DueDate:           formatISODate(e.today),
	}
}

func (e evaluation) satisfied(c check, performed time.Time, description, action string) CareGap {
	return CareGap{
		ID:                c.id,
		PatientID:         e.hc.Patient.ID,
		Title:             c.title,
		Status:            StatusSatisfied,
		Description:       description,
		RecommendedAction: action,
		MeasureID:         c.measureID,
		Category:          c.category,
		LastPerformedDate: formatISODate(performed),
	}
}

func (e evaluation) notApplicable(c check, reason string) CareGap {
	return CareGap{
		ID:                c.id,
		PatientID:         e.hc.Patient.ID,
		Title:             c.title,
		Status:            StatusNotApplicable,
		Description:       "This measure does not apply to you.",
		RecommendedAction: "No action needed.",
		MeasureID:         c.measureID,
		Category:          c.category,
		Reason:            reason,
	}
}
