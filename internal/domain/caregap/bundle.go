package caregap

import (
	"errors"
	"fmt"

	fhir "github.com/drfirst/go-caregap/internal/fhir/r4"
)

// ErrNoPatient is returned when a record contains no Patient resource
var ErrNoPatient = errors.New("record contains no Patient resource")

// NewContext assembles a PatientHealthContext from decoded resources.
// With an empty patientID the first Patient is used.
func NewContext(res *fhir.Resources, patientID string) (*PatientHealthContext, error) {
	if res == nil || len(res.Patients) == 0 {
		return nil, ErrNoPatient
	}

	patient := res.Patients[0]
	if patientID != "" {
		found := false
		for _, p := range res.Patients {
			if p.ID == patientID {
				patient, found = p, true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("patient %s: %w", patientID, ErrPatientNotFound)
		}
	}

	return &PatientHealthContext{
		Patient:       patient,
		Conditions:    res.Conditions,
		Observations:  res.Observations,
		Medications:   res.MedicationRequests,
		Immunizations: res.Immunizations,
	}, nil
}

// ContextFromBundle builds a PatientHealthContext from a FHIR Bundle holding
// one patient's record.
func ContextFromBundle(b *fhir.Bundle, patientID string) (*PatientHealthContext, error) {
	if b == nil {
		return nil, ErrNoPatient
	}
	return NewContext(b.Resources(), patientID)
}
