package extract

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/medlens/backend/internal/model/analysis"
)

func TestDecodePrescriptionWithSurroundingProse(t *testing.T) {
	raw := `Sure! {"Date":"2024-01-01","Patient":{"Name":"A","Age":"30"},"Medicines":[]} Hope that helps!`

	rec, err := Decode(raw, analysis.KindPrescription)
	require.NoError(t, err)
	require.Equal(t, analysis.KindPrescription, rec.Kind)
	require.NotNil(t, rec.Prescription)

	assert.Equal(t, analysis.Text("2024-01-01"), rec.Prescription.Date)
	assert.Equal(t, analysis.Text("A"), rec.Prescription.Patient.Name)
	assert.Empty(t, rec.Prescription.Medicines)
}

func TestDecodeRecoversBodyRegardlessOfWrapping(t *testing.T) {
	body := `{"Predicted_Disease":"Pneumonia","Confidence_Score":"85%","Description":"Lung infection","Possible_Causes":["bacteria"],"Recommended_Actions":["see a doctor","rest"]}`
	wrappers := []struct {
		prefix string
		suffix string
	}{
		{"", ""},
		{"Here is the analysis:\n```json\n", "\n```"},
		{"Result ->", "\n\nLet me know if you need more."},
		{"   \n", "\t"},
	}

	for _, w := range wrappers {
		rec, err := Decode(w.prefix+body+w.suffix, analysis.KindDiagnostic)
		require.NoError(t, err, "prefix %q", w.prefix)
		require.NotNil(t, rec.Diagnostic)
		assert.Equal(t, analysis.Text("Pneumonia"), rec.Diagnostic.PredictedCondition)
		assert.Equal(t, []analysis.Text{"see a doctor", "rest"}, rec.Diagnostic.RecommendedActions)
	}
}

func TestDecodeWithoutBraces(t *testing.T) {
	for _, raw := range []string{"", "I cannot read this image.", "} backwards {"} {
		_, err := Decode(raw, analysis.KindPrescription)
		assert.True(t, errors.Is(err, ErrNoStructureFound), "input %q gave %v", raw, err)
	}
}

func TestDecodeMalformedSpan(t *testing.T) {
	_, err := Decode(`{"Date": "2024-01-01", "Patient": }`, analysis.KindPrescription)
	assert.True(t, errors.Is(err, ErrMalformedStructure))
}

func TestDecodeTwoBlocksTakesFirstValidObject(t *testing.T) {
	raw := `{"Predicted_Disease":"Flu"} and also {"Predicted_Disease":"Cold"}`

	rec, err := Decode(raw, analysis.KindDiagnostic)
	require.NoError(t, err)
	assert.Equal(t, analysis.Text("Flu"), rec.Diagnostic.PredictedCondition)
}

func TestDecodeIgnoresBracesInsideProse(t *testing.T) {
	raw := `Note {uncertain}: {"Date":"2024-02-02","Patient":{"Name":"B {jr}","Age":"5"},"Medicines":[]}`

	rec, err := Decode(raw, analysis.KindPrescription)
	require.NoError(t, err)
	assert.Equal(t, analysis.Text("B {jr}"), rec.Prescription.Patient.Name)
}

func TestSpanIsGreedy(t *testing.T) {
	span, err := Span(`x {"a":{"b":1}} y {"c":2} z`)
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"b":1}} y {"c":2}`, span)
}
