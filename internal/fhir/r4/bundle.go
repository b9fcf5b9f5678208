package r4

import (
	"encoding/json"
	"fmt"
)

// Bundle represents a FHIR R4 Bundle (searchset, collection, transaction).
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type,omitempty"`
	Total        *int          `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

// BundleLink is a paging or self link.
type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

// BundleEntry holds one resource, still encoded.
type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

// NextLink returns the URL of the next page, if any.
func (b *Bundle) NextLink() string {
	for _, l := range b.Link {
		if l.Relation == "next" {
			return l.URL
		}
	}
	return ""
}

// Resources holds the typed resources decoded from a bundle.
type Resources struct {
	Patients           []Patient
	Conditions         []Condition
	Observations       []Observation
	MedicationRequests []MedicationRequest
	Immunizations      []Immunization
	// Skipped counts entries with an unknown or undecodable resource type.
	Skipped int
}

type resourceHeader struct {
	ResourceType string `json:"resourceType"`
}

// Resources decodes every entry by its resourceType. Entries of other types
// and entries that fail to decode are counted in Skipped, not returned as errors.
func (b *Bundle) Resources() *Resources {
	out := &Resources{}
	for _, entry := range b.Entry {
		if err := out.Add(entry.Resource); err != nil {
			out.Skipped++
		}
	}
	return out
}

// Add decodes a single raw resource into the matching slice.
func (r *Resources) Add(raw json.RawMessage) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty resource")
	}
	var hdr resourceHeader
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return fmt.Errorf("decode resource header: %w", err)
	}

	switch hdr.ResourceType {
	case ResourcePatient:
		var p Patient
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode %s: %w", hdr.ResourceType, err)
		}
		r.Patients = append(r.Patients, p)
	case ResourceCondition:
		var c Condition
		if err := json.Unmarshal(raw, &c); err != nil {
			return fmt.Errorf("decode %s: %w", hdr.ResourceType, err)
		}
		r.Conditions = append(r.Conditions, c)
	case ResourceObservation:
		var o Observation
		if err := json.Unmarshal(raw, &o); err != nil {
			return fmt.Errorf("decode %s: %w", hdr.ResourceType, err)
		}
		r.Observations = append(r.Observations, o)
	case ResourceMedicationRequest:
		var m MedicationRequest
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("decode %s: %w", hdr.ResourceType, err)
		}
		r.MedicationRequests = append(r.MedicationRequests, m)
	case ResourceImmunization:
		var i Immunization
		if err := json.Unmarshal(raw, &i); err != nil {
			return fmt.Errorf("decode %s: %w", hdr.ResourceType, err)
		}
		r.Immunizations = append(r.Immunizations, i)
	default:
		return fmt.Errorf("unsupported resource type %q", hdr.ResourceType)
	}
	return nil
}
