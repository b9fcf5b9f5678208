// Package r4 provides the FHIR R4 data structures consumed by the care gap engine.
package r4

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Meta contains metadata about a resource.
type Meta struct {
	VersionID   string   `json:"versionId,omitempty"`
	LastUpdated string   `json:"lastUpdated,omitempty"`
	Source      string   `json:"source,omitempty"`
	Profile     []string `json:"profile,omitempty"`
}

// Identifier represents a FHIR Identifier.
type Identifier struct {
	Use    string           `json:"use,omitempty"`
	Type   *CodeableConcept `json:"type,omitempty"`
	System string           `json:"system,omitempty"`
	Value  string           `json:"value,omitempty"`
}

// CodeableConcept represents a concept with text and codings.
type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// Codings returns the concept's codings, tolerating a nil receiver.
func (c *CodeableConcept) Codings() []Coding {
	if c == nil {
		return nil
	}
	return c.Coding
}

// Coding represents a code from a terminology system.
type Coding struct {
	System  string `json:"system,omitempty"`
	Version string `json:"version,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// Reference represents a reference to another resource.
type Reference struct {
	Reference string `json:"reference,omitempty"`
	Type      string `json:"type,omitempty"`
	Display   string `json:"display,omitempty"`
}

// ID returns the logical id part of a relative reference ("Patient/123" -> "123").
func (r *Reference) ID() string {
	if r == nil || r.Reference == "" {
		return ""
	}
	if i := strings.LastIndex(r.Reference, "/"); i >= 0 {
		return r.Reference[i+1:]
	}
	return r.Reference
}

// Period represents a time period. Bounds stay as raw FHIR dateTime strings.
type Period struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// Quantity represents a measured amount.
//
// Upstream systems do not always send a proper Quantity object, so decoding
// also accepts a bare JSON number or a numeric string as the value. Any other
// shape decodes to a Quantity without a value.
type Quantity struct {
	Value      *float64 `json:"value,omitempty"`
	Comparator string   `json:"comparator,omitempty"`
	Unit       string   `json:"unit,omitempty"`
	System     string   `json:"system,omitempty"`
	Code       string   `json:"code,omitempty"`
}

type quantityObject struct {
	Value      json.RawMessage `json:"value,omitempty"`
	Comparator string          `json:"comparator,omitempty"`
	Unit       string          `json:"unit,omitempty"`
	System     string          `json:"system,omitempty"`
	Code       string          `json:"code,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (q *Quantity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '{':
		var obj quantityObject
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		q.Comparator = obj.Comparator
		q.Unit = obj.Unit
		q.System = obj.System
		q.Code = obj.Code
		q.Value = decodeLooseNumber(obj.Value)
		return nil
	default:
		q.Value = decodeLooseNumber(data)
		return nil
	}
}

// decodeLooseNumber reads a JSON number or numeric string. Anything else is nil.
func decodeLooseNumber(raw json.RawMessage) *float64 {
	if len(raw) == 0 {
		return nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return &n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, ok := ParseNumber(s); ok {
			return &v
		}
	}
	return nil
}

// ParseNumber parses a finite numeric lab string such as "9.5" or "9.5 %".
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// HumanName represents a human name.
type HumanName struct {
	Use    string   `json:"use,omitempty"`
	Text   string   `json:"text,omitempty"`
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
}

// Annotation represents a note or comment.
type Annotation struct {
	AuthorString string `json:"authorString,omitempty"`
	Time         string `json:"time,omitempty"`
	Text         string `json:"text"`
}

// OperationOutcome represents errors and warnings from FHIR operations.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

// OperationOutcomeIssue represents a single issue in an OperationOutcome.
type OperationOutcomeIssue struct {
	Severity    string `json:"severity"` // fatal | error | warning | information
	Code        string `json:"code"`
	Diagnostics string `json:"diagnostics,omitempty"`
}

// Summary joins the diagnostics of all issues.
func (o *OperationOutcome) Summary() string {
	parts := make([]string, 0, len(o.Issue))
	for _, issue := range o.Issue {
		if issue.Diagnostics != "" {
			parts = append(parts, issue.Diagnostics)
		} else {
			parts = append(parts, issue.Code)
		}
	}
	return strings.Join(parts, "; ")
}

// Common code systems
const (
	SystemSNOMED = "http://snomed.info/sct"
	SystemLOINC  = "http://loinc.org"
	SystemICD10  = "http://hl7.org/fhir/sid/icd-10-cm"
	SystemCVX    = "http://hl7.org/fhir/sid/cvx"
	SystemRxNorm = "http://www.nlm.nih.gov/research/umls/rxnorm"
)

// Resource type names
const (
	ResourcePatient           = "Patient"
	ResourceCondition         = "Condition"
	ResourceObservation       = "Observation"
	ResourceMedicationRequest = "MedicationRequest"
	ResourceImmunization      = "Immunization"
	ResourceBundle            = "Bundle"
	ResourceOperationOutcome  = "OperationOutcome"
)
