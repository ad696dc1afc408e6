package speech

import "errors"

var (
	// ErrCaptureTimeout is logged when no audio arrives in time. Capture reports
	// that outcome as a nil buffer, never as this error.
	ErrCaptureTimeout = errors.New("no speech captured before timeout")
	// ErrUnintelligible means audio was captured but produced no words.
	ErrUnintelligible = errors.New("speech was not intelligible")
	// ErrServiceUnavailable means the recognition backend could not be reached or failed.
	ErrServiceUnavailable = errors.New("speech recognition service unavailable")
	// ErrSynthesis covers every text-to-speech failure.
	ErrSynthesis = errors.New("speech synthesis failed")
	// ErrDisabled means speech credentials are missing.
	ErrDisabled = errors.New("speech service not configured")
	// ErrOutputClosed is logged when Speak runs after Output.Close.
	ErrOutputClosed = errors.New("speech output closed")
)
