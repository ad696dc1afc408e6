package speech

import "time"

// Transcript 是一次语音识别的结果。
type Transcript struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Duration   int64     `json:"duration"` // milliseconds
	RequestID  string    `json:"requestId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Synthesis 是一次语音合成的结果。
type Synthesis struct {
	Audio     []byte    `json:"-"`
	Format    string    `json:"format"`
	Duration  int64     `json:"duration"` // milliseconds
	RequestID string    `json:"requestId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Status 是语音轮次推送给前端的中间状态。
type Status string

const (
	StatusListening     Status = "Listening..."
	StatusNoSpeech      Status = "No speech detected. Please try again."
	StatusProcessing    Status = "Processing speech..."
	StatusNotUnderstood Status = "Could not understand audio. Please try again."
	StatusUnavailable   Status = "Speech service unavailable."
	StatusThinking      Status = "Processing your query..."
	StatusSpeaking      Status = "Speaking..."
	StatusReady         Status = "Ready"
)

func (s Status) String() string { return string(s) }
