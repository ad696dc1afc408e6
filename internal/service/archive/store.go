package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/zhouzirui/medlens/backend/internal/model/analysis"
	"github.com/zhouzirui/medlens/backend/internal/model/chat"
	"github.com/zhouzirui/medlens/backend/pkg/logger"
)

var ErrEmptyConversation = errors.New("conversation has no turns")

const (
	timestampLayout = "20060102_150405"

	prescriptionDir  = "prescriptions"
	diagnosticDir    = "diagnostics"
	conversationDir  = "voice_conversations"
	conversationName = "voice_conversation"
)

// Store writes analysis records and conversation snapshots as timestamped JSON files.
// It never reads them back.
type Store struct {
	fs   afero.Fs
	root string
	now  func() time.Time
	log  zerolog.Logger
}

// NewStore roots the archive at dir on fs.
func NewStore(fs afero.Fs, dir string) *Store {
	return &Store{
		fs:   fs,
		root: dir,
		now:  time.Now,
		log:  logger.Component("archive"),
	}
}

// NewOsStore is NewStore on the host filesystem.
func NewOsStore(dir string) *Store {
	return NewStore(afero.NewOsFs(), dir)
}

// SaveRecord persists rec under its kind's directory and returns the written path.
func (s *Store) SaveRecord(rec analysis.Record) (string, error) {
	var dir string
	switch rec.Kind {
	case analysis.KindPrescription:
		dir = prescriptionDir
	case analysis.KindDiagnostic:
		dir = diagnosticDir
	default:
		return "", fmt.Errorf("unsupported record kind %q", rec.Kind)
	}

	return s.write(dir, string(rec.Kind), rec)
}

// SaveConversation persists the full turn log.
func (s *Store) SaveConversation(turns []chat.Turn) (string, error) {
	if len(turns) == 0 {
		return "", ErrEmptyConversation
	}
	return s.write(conversationDir, conversationName, turns)
}

func (s *Store) write(dir, prefix string, payload any) (string, error) {
	data, err := json.MarshalIndent(payload, "", "    ")
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", prefix, err)
	}

	target := filepath.Join(s.root, dir)
	if err := s.fs.MkdirAll(target, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", target, err)
	}

	path := s.uniquePath(target, prefix)
	if err := afero.WriteFile(s.fs, path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	s.log.Info().Str("path", path).Int("bytes", len(data)).Msg("archived")
	return path, nil
}

// uniquePath appends a counter when two saves land in the same second.
func (s *Store) uniquePath(dir, prefix string) string {
	stamp := s.now().Format(timestampLayout)
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.json", prefix, stamp))
	for i := 1; ; i++ {
		exists, err := afero.Exists(s.fs, path)
		if err != nil || !exists {
			return path
		}
		path = filepath.Join(dir, fmt.Sprintf("%s_%s_%d.json", prefix, stamp, i))
	}
}
