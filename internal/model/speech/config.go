package speech

import "time"

// Config 语音服务配置（火山引擎 ASR/TTS）。
type Config struct {
	AppID       string
	AccessToken string
	// ResourceID 为 ASR 资源 ID，空值使用小时版。
	ResourceID string

	ASREndpoint string
	TTSEndpoint string

	ASRLanguage string
	TTSVoice    string
	TTSSpeed    float32
	TTSVolume   float32
	TTSLanguage string

	Timeout time.Duration
}

// Enabled 表示凭证是否齐全。
func (c *Config) Enabled() bool {
	return c != nil && c.AppID != "" && c.AccessToken != ""
}
