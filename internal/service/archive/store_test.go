package archive

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/medlens/backend/internal/model/analysis"
	"github.com/zhouzirui/medlens/backend/internal/model/chat"
)

func newTestStore() (*Store, afero.Fs) {
	fs := afero.NewMemMapFs()
	s := NewStore(fs, "data")
	s.now = func() time.Time { return time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC) }
	return s, fs
}

func TestSaveRecordUsesKindDirectory(t *testing.T) {
	s, fs := newTestStore()

	path, err := s.SaveRecord(analysis.NewPrescription(analysis.Prescription{Date: "2024-01-01", Patient: analysis.Patient{Name: "A"}}))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("data", "prescriptions", "prescription_20240309_140507.json"), path)

	raw, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "2024-01-01", body["Date"])

	path, err = s.SaveRecord(analysis.NewDiagnostic(analysis.Diagnostic{PredictedCondition: "Flu"}))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("data", "diagnostics", "diagnostic_20240309_140507.json"), path)
}

func TestSaveRecordSameSecondDoesNotOverwrite(t *testing.T) {
	s, _ := newTestStore()
	rec := analysis.NewDiagnostic(analysis.Diagnostic{PredictedCondition: "Flu"})

	first, err := s.SaveRecord(rec)
	require.NoError(t, err)
	second, err := s.SaveRecord(rec)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, "diagnostic_20240309_140507_1.json", filepath.Base(second))
}

func TestSaveRecordRejectsEmptyRecord(t *testing.T) {
	s, _ := newTestStore()
	_, err := s.SaveRecord(analysis.Record{Kind: analysis.KindPrescription})
	assert.Error(t, err)

	_, err = s.SaveRecord(analysis.Record{})
	assert.Error(t, err)
}

func TestSaveConversation(t *testing.T) {
	s, fs := newTestStore()

	_, err := s.SaveConversation(nil)
	assert.ErrorIs(t, err, ErrEmptyConversation)

	turns := []chat.Turn{
		{Role: chat.RoleUser, Content: "What is this?"},
		{Role: chat.RoleAssistant, Content: "A prescription."},
	}
	path, err := s.SaveConversation(turns)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("data", "voice_conversations", "voice_conversation_20240309_140507.json"), path)

	raw, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	var decoded []chat.Turn
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, turns, decoded)
}
