package caregap

import (
	"strings"

	fhir "github.com/drfirst/go-caregap/internal/fhir/r4"
)

// Terminology is a family of code systems recognized by the engine
type Terminology string

const (
	TerminologySNOMED Terminology = "snomed"
	TerminologyICD10  Terminology = "icd-10"
	TerminologyLOINC  Terminology = "loinc"
	TerminologyCVX    Terminology = "cvx"
)

// TerminologyOf classifies a coding system URI by substring, case-insensitively.
// Unrecognized systems return "".
func TerminologyOf(system string) Terminology {
	s := strings.ToLower(system)
	switch {
	case strings.Contains(s, "snomed"):
		return TerminologySNOMED
	case strings.Contains(s, "icd-10"), strings.Contains(s, "icd10"):
		return TerminologyICD10
	case strings.Contains(s, "loinc"):
		return TerminologyLOINC
	case strings.Contains(s, "cvx"):
		return TerminologyCVX
	}
	return ""
}

// CodeSet is a named set of codes for one clinical concept. A code matches
// exactly, except ICD-10 where prefixes match so that a category such as
// E11 covers E11.9 and E11.65.
type CodeSet struct {
	name     string
	exact    map[Terminology]map[string]struct{}
	prefixes map[Terminology][]string
}

func newCodeSet(name string) *CodeSet {
	return &CodeSet{
		name:     name,
		exact:    make(map[Terminology]map[string]struct{}),
		prefixes: make(map[Terminology][]string),
	}
}

func (s *CodeSet) codes(t Terminology, codes ...string) *CodeSet {
	set, ok := s.exact[t]
	if !ok {
		set = make(map[string]struct{}, len(codes))
		s.exact[t] = set
	}
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return s
}

func (s *CodeSet) prefix(t Terminology, prefixes ...string) *CodeSet {
	for _, p := range prefixes {
		s.prefixes[t] = append(s.prefixes[t], strings.ToUpper(p))
	}
	return s
}

// Name returns the concept name
func (s *CodeSet) Name() string { return s.name }

// Matches reports whether a single coding belongs to the set.
func (s *CodeSet) Matches(c fhir.Coding) bool {
	t := TerminologyOf(c.System)
	if t == "" {
		return false
	}
	code := strings.TrimSpace(c.Code)
	if code == "" {
		return false
	}
	if _, ok := s.exact[t][code]; ok {
		return true
	}
	upper := strings.ToUpper(code)
	for _, p := range s.prefixes[t] {
		if strings.HasPrefix(upper, p) {
			return true
		}
	}
	return false
}

// MatchesConcept reports whether any coding of the concept belongs to the set.
func (s *CodeSet) MatchesConcept(cc *fhir.CodeableConcept) bool {
	for _, c := range cc.Codings() {
		if s.Matches(c) {
			return true
		}
	}
	return false
}

// Clinical concept code sets. Read-only after package initialization.
var (
	colorectalExclusions = newCodeSet("colorectal cancer or total colectomy").
		codes(TerminologySNOMED, "363406005", "109838007", "1701000119104", "26390003").
		prefix(TerminologyICD10, "C18", "C19", "C20", "C21", "Z85.03", "Z85.04")

	stoolTests = newCodeSet("stool-based test").
		codes(TerminologyLOINC, "2335-8", "27396-1", "29771-3", "57905-2", "56490-6", "56491-4", "77353-1", "77354-9")

	colonoscopies = newCodeSet("colonoscopy").
		codes(TerminologyLOINC, "28022-8").
		codes(TerminologySNOMED, "73761001")

	sigmoidoscopies = newCodeSet("flexible sigmoidoscopy").
		codes(TerminologySNOMED, "44441009", "24420007")

	breastExclusions = newCodeSet("bilateral mastectomy").
		codes(TerminologySNOMED, "27865001", "456903003").
		prefix(TerminologyICD10, "Z90.13")

	mammograms = newCodeSet("mammogram").
		codes(TerminologyLOINC, "24606-6", "24605-8", "26346-7", "26347-5", "36319-2").
		codes(TerminologySNOMED, "71651007")

	diabetesDiagnoses = newCodeSet("type 2 diabetes").
		codes(TerminologySNOMED, "44054006", "73211009").
		prefix(TerminologyICD10, "E11")

	hba1cTests = newCodeSet("HbA1c test").
		codes(TerminologyLOINC, "4548-4", "4549-2", "17856-6")

	eyeExams = newCodeSet("diabetic eye exam").
		codes(TerminologySNOMED, "36228007", "252779009").
		codes(TerminologyLOINC, "32451-7")

	nephropathyTests = newCodeSet("kidney health test").
		codes(TerminologyLOINC, "14959-1", "14958-3", "9318-7", "32294-1")

	hypertensionDiagnoses = newCodeSet("essential hypertension").
		codes(TerminologySNOMED, "38341003", "59621000").
		prefix(TerminologyICD10, "I10")

	bloodPressureReadings = newCodeSet("blood pressure reading").
		codes(TerminologyLOINC, "85354-9", "8480-6", "8462-4", "55284-4")

	cholesterolTests = newCodeSet("cholesterol panel").
		codes(TerminologyLOINC, "2093-3", "2085-9", "13457-7", "18262-6", "2571-8", "57698-3")

	// diabetes, hypertension, ischemic heart disease, hyperlipidemia, tobacco use
	cardiovascularRisks = newCodeSet("cardiovascular risk factor").
		codes(TerminologySNOMED, "44054006", "38341003", "77176002", "414545008", "22298006").
		prefix(TerminologyICD10, "E11", "I10", "I25", "E78", "Z72.0", "F17")

	fluVaccines = newCodeSet("influenza vaccine").
		codes(TerminologyCVX, "88", "135", "140", "141", "150", "153", "155", "158",
			"161", "166", "168", "171", "185", "186", "197", "205")
)
