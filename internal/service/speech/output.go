package speech

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/spf13/afero"

	speechmodel "github.com/zhouzirui/medlens/backend/internal/model/speech"
	"github.com/zhouzirui/medlens/backend/pkg/logger"
)

// DefaultCleanupDelay is how long an artifact outlives its playback hand-off.
const DefaultCleanupDelay = 5 * time.Second

// Synthesizer turns text into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string) (speechmodel.Synthesis, error)
}

// Artifact is a synthesized audio file awaiting playback.
type Artifact struct {
	Path   string
	Audio  []byte
	Format string
}

// Player receives the artifact for playback.
type Player interface {
	Play(ctx context.Context, a Artifact) error
}

// PlayerFunc adapts a function to Player.
type PlayerFunc func(ctx context.Context, a Artifact) error

// Play implements Player.
func (f PlayerFunc) Play(ctx context.Context, a Artifact) error { return f(ctx, a) }

// Output synthesizes speech into transient files and removes each one after a
// grace delay on a background goroutine.
type Output struct {
	synth Synthesizer
	fs    afero.Fs
	dir   string
	delay time.Duration
	lang  string
	log   zerolog.Logger

	cleanups conc.WaitGroup
	flush    chan struct{}
	mu       sync.Mutex
	closed   bool
}

// OutputOption customises an Output.
type OutputOption func(*Output)

// WithFs stores artifacts on fs instead of the host filesystem.
func WithFs(fs afero.Fs) OutputOption {
	return func(o *Output) { o.fs = fs }
}

// WithCleanupDelay overrides DefaultCleanupDelay.
func WithCleanupDelay(d time.Duration) OutputOption {
	return func(o *Output) {
		if d >= 0 {
			o.delay = d
		}
	}
}

// WithLanguage sets the synthesis language.
func WithLanguage(lang string) OutputOption {
	return func(o *Output) { o.lang = lang }
}

// NewOutput writes artifacts under dir.
func NewOutput(synth Synthesizer, dir string, opts ...OutputOption) *Output {
	o := &Output{
		synth: synth,
		fs:    afero.NewOsFs(),
		dir:   dir,
		delay: DefaultCleanupDelay,
		flush: make(chan struct{}),
		log:   logger.Component("speech-output"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Speak synthesizes text, hands the artifact to player and schedules its removal.
// It reports false on any synthesis, storage or playback failure, and once Close
// has been called.
func (o *Output) Speak(ctx context.Context, text string, player Player) bool {
	if o.isClosed() {
		o.log.Warn().Err(ErrOutputClosed).Msg("speak skipped")
		return false
	}
	if o.synth == nil {
		o.log.Warn().Err(ErrDisabled).Msg("speak skipped")
		return false
	}

	out, err := o.synth.Synthesize(ctx, text, o.lang)
	if err != nil {
		o.log.Error().Err(err).Msg("synthesis failed")
		return false
	}

	artifact, err := o.store(out)
	if err != nil {
		o.log.Error().Err(err).Msg("failed to store artifact")
		return false
	}
	// 播放结束（无论成败）后才开始计算清理延迟。
	defer o.scheduleCleanup(artifact.Path)

	if player == nil {
		return true
	}
	if err := player.Play(ctx, artifact); err != nil {
		o.log.Warn().Err(err).Str("artifact", artifact.Path).Msg("playback failed")
		return false
	}
	return true
}

func (o *Output) store(out speechmodel.Synthesis) (Artifact, error) {
	if err := o.fs.MkdirAll(o.dir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("create artifact dir: %w", err)
	}

	format := out.Format
	if format == "" {
		format = "mp3"
	}
	path := filepath.Join(o.dir, fmt.Sprintf("speech-%s.%s", uuid.NewString(), format))
	if err := afero.WriteFile(o.fs, path, out.Audio, 0o644); err != nil {
		return Artifact{}, fmt.Errorf("write artifact: %w", err)
	}
	return Artifact{Path: path, Audio: out.Audio, Format: format}, nil
}

func (o *Output) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (o *Output) scheduleCleanup(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	// Close 已在等待时不再启动新的 goroutine，直接删除。
	if o.closed {
		o.remove(path)
		return
	}

	o.log.Debug().Str("artifact", path).Dur("delay", o.delay).Msg("cleanup scheduled")
	o.cleanups.Go(func() {
		timer := time.NewTimer(o.delay)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-o.flush:
		}
		o.remove(path)
	})
}

// remove deletes path if it still exists. It never panics or returns an error.
func (o *Output) remove(path string) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error().Interface("panic", r).Str("artifact", path).Msg("cleanup panicked")
		}
	}()

	exists, err := afero.Exists(o.fs, path)
	if err != nil {
		o.log.Warn().Err(err).Str("artifact", path).Msg("cleanup stat failed")
		return
	}
	if !exists {
		o.log.Debug().Str("artifact", path).Msg("artifact already gone")
		return
	}
	if err := o.fs.Remove(path); err != nil {
		o.log.Warn().Err(err).Str("artifact", path).Msg("cleanup failed")
		return
	}
	o.log.Debug().Str("artifact", path).Msg("artifact removed")
}

// Close runs every pending cleanup now and waits for them. Later Speak calls fail.
func (o *Output) Close() {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.flush)
	}
	o.mu.Unlock()
	o.cleanups.Wait()
}
