package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind names the extraction task that produced a record.
type Kind string

const (
	KindPrescription Kind = "prescription"
	KindDiagnostic   Kind = "diagnostic"
)

// ParseKind normalises a user supplied task name.
func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindPrescription:
		return KindPrescription, nil
	case KindDiagnostic:
		return KindDiagnostic, nil
	default:
		return "", fmt.Errorf("unknown analysis kind %q", raw)
	}
}

// Patient identifies who a prescription was written for.
type Patient struct {
	Name Text `json:"Name"`
	Age  Text `json:"Age"`
}

// Medicine is one prescribed line item. Timings hold clock hints such as "8" or "8 AM".
type Medicine struct {
	Type    Text   `json:"Type"`
	Name    Text   `json:"Medicine"`
	Dosage  Text   `json:"Dosage"`
	Timings []Text `json:"Timings"`
}

// Prescription is the structured form of a prescription image.
type Prescription struct {
	Date      Text       `json:"Date"`
	Patient   Patient    `json:"Patient"`
	Medicines []Medicine `json:"Medicines"`
}

// Diagnostic is the structured form of a diagnostic scan.
type Diagnostic struct {
	PredictedCondition Text   `json:"Predicted_Disease"`
	Confidence         Text   `json:"Confidence_Score"`
	Description        Text   `json:"Description"`
	PossibleCauses     []Text `json:"Possible_Causes"`
	RecommendedActions []Text `json:"Recommended_Actions"`
}

// Record holds exactly one of Prescription or Diagnostic, selected by Kind.
// It serialises to the bare variant body.
type Record struct {
	Kind         Kind
	Prescription *Prescription
	Diagnostic   *Diagnostic
}

// NewPrescription wraps p in a Record.
func NewPrescription(p Prescription) Record {
	return Record{Kind: KindPrescription, Prescription: &p}
}

// NewDiagnostic wraps d in a Record.
func NewDiagnostic(d Diagnostic) Record {
	return Record{Kind: KindDiagnostic, Diagnostic: &d}
}

// Body returns the populated variant.
func (r Record) Body() any {
	switch {
	case r.Kind == KindPrescription && r.Prescription != nil:
		return r.Prescription
	case r.Kind == KindDiagnostic && r.Diagnostic != nil:
		return r.Diagnostic
	default:
		return nil
	}
}

// MarshalJSON emits the variant body so persisted records keep the model's field names.
func (r Record) MarshalJSON() ([]byte, error) {
	body := r.Body()
	if body == nil {
		return nil, fmt.Errorf("record has no %s body", r.Kind)
	}
	return json.Marshal(body)
}

// Summary is a one-line description used in logs and status strings.
func (r Record) Summary() string {
	switch {
	case r.Kind == KindPrescription && r.Prescription != nil:
		return fmt.Sprintf("prescription for %s (%d medicines)", orUnknown(r.Prescription.Patient.Name), len(r.Prescription.Medicines))
	case r.Kind == KindDiagnostic && r.Diagnostic != nil:
		return fmt.Sprintf("diagnostic: %s", orUnknown(r.Diagnostic.PredictedCondition))
	default:
		return "empty record"
	}
}

func orUnknown(t Text) string {
	if s := strings.TrimSpace(t.String()); s != "" {
		return s
	}
	return "unknown"
}
