package speech

import (
	"context"
	"sync"

	"github.com/zhouzirui/medlens/backend/internal/model/chat"
	speechmodel "github.com/zhouzirui/medlens/backend/internal/model/speech"
)

type fakeRecognizer struct {
	text string
	err  error

	mu    sync.Mutex
	audio [][]byte
}

func (f *fakeRecognizer) Recognize(_ context.Context, audio []byte, _ string) (speechmodel.Transcript, error) {
	f.mu.Lock()
	f.audio = append(f.audio, audio)
	f.mu.Unlock()
	if f.err != nil {
		return speechmodel.Transcript{}, f.err
	}
	return speechmodel.Transcript{Text: f.text, Confidence: 0.9}, nil
}

type fakeSynthesizer struct {
	err   error
	texts []string
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, text, _ string) (speechmodel.Synthesis, error) {
	f.texts = append(f.texts, text)
	if f.err != nil {
		return speechmodel.Synthesis{}, f.err
	}
	return speechmodel.Synthesis{Audio: []byte("mp3:" + text), Format: "mp3"}, nil
}

type fakeSubmitter struct {
	resp    chat.QueryResponse
	queries []string
}

func (f *fakeSubmitter) Submit(_ context.Context, query string) chat.QueryResponse {
	f.queries = append(f.queries, query)
	return f.resp
}

// scriptedSource replays chunks then blocks until ctx ends.
type scriptedSource struct {
	chunks [][]byte
	final  bool
}

func (s *scriptedSource) Read(ctx context.Context) ([]byte, bool, error) {
	if len(s.chunks) > 0 {
		c := s.chunks[0]
		s.chunks = s.chunks[1:]
		return c, len(s.chunks) == 0 && s.final, nil
	}
	<-ctx.Done()
	return nil, false, ctx.Err()
}
