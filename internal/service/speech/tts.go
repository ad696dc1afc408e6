package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	speechmodel "github.com/zhouzirui/medlens/backend/internal/model/speech"
	"github.com/zhouzirui/medlens/backend/pkg/logger"
)

const (
	ttsDefaultResource = "volc.service_type.10029"
	ttsSeedResource    = "seed-tts-2.0"
	ttsMegaResource    = "volc.megatts.default"

	ttsDefaultVoice = "en_female_amy_jupiter_bigtts"
)

var errResourceMismatch = errors.New("resource ID is mismatched with speaker related resource")

// TTSClient 火山引擎单向流式合成客户端。
type TTSClient struct {
	cfg    *speechmodel.Config
	dialer *websocket.Dialer
	log    zerolog.Logger
}

// NewTTSClient 创建 TTS 客户端。
func NewTTSClient(cfg *speechmodel.Config) *TTSClient {
	return &TTSClient{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		log:    logger.Component("tts"),
	}
}

type ttsRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string         `json:"speaker"`
		Text        string         `json:"text"`
		Language    string         `json:"language,omitempty"`
		AudioParams ttsAudioParams `json:"audio_params"`
	} `json:"req_params"`
}

type ttsAudioParams struct {
	Format      string  `json:"format"`
	SampleRate  int     `json:"sample_rate"`
	SpeedRatio  float32 `json:"speed_ratio,omitempty"`
	VolumeRatio float32 `json:"volume_ratio,omitempty"`
}

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Data     string `json:"data"`
	Addition struct {
		Duration string `json:"duration,omitempty"`
	} `json:"addition,omitempty"`
}

// Synthesize 把 text 合成为 mp3。lang 为空时使用配置的默认语言。
// 当音色与资源 ID 不匹配时依次尝试备选资源。
func (c *TTSClient) Synthesize(ctx context.Context, text, lang string) (speechmodel.Synthesis, error) {
	if !c.cfg.Enabled() {
		return speechmodel.Synthesis{}, ErrDisabled
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return speechmodel.Synthesis{}, fmt.Errorf("%w: empty text", ErrSynthesis)
	}
	if lang == "" {
		lang = c.cfg.TTSLanguage
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	voice := strings.TrimSpace(c.cfg.TTSVoice)
	if voice == "" {
		voice = ttsDefaultVoice
	}

	var lastErr error
	for i, resource := range resourceCandidates(voice) {
		out, err := c.synthesizeWith(ctx, text, lang, voice, resource)
		if err == nil {
			if i > 0 {
				c.log.Info().Str("voice", voice).Str("resource", resource).Msg("fallback resource succeeded")
			}
			return out, nil
		}
		if !errors.Is(err, errResourceMismatch) {
			return speechmodel.Synthesis{}, fmt.Errorf("%w: %v", ErrSynthesis, err)
		}
		c.log.Warn().Str("voice", voice).Str("resource", resource).Msg("resource mismatch, trying next")
		lastErr = err
	}
	return speechmodel.Synthesis{}, fmt.Errorf("%w: %v", ErrSynthesis, lastErr)
}

func (c *TTSClient) synthesizeWith(ctx context.Context, text, lang, voice, resource string) (speechmodel.Synthesis, error) {
	connectID := uuid.NewString()

	header := http.Header{}
	header.Set("X-Api-App-Key", c.cfg.AppID)
	header.Set("X-Api-Access-Key", c.cfg.AccessToken)
	header.Set("X-Api-Resource-Id", resource)
	header.Set("X-Api-Connect-Id", connectID)

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.TTSEndpoint, header)
	if err != nil {
		return speechmodel.Synthesis{}, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// 关闭连接以中断阻塞的读取。
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	req := &ttsRequest{}
	req.User.UID = connectID
	req.ReqParams.Speaker = voice
	req.ReqParams.Text = text
	req.ReqParams.Language = lang
	req.ReqParams.AudioParams = ttsAudioParams{Format: "mp3", SampleRate: 24000}
	if s := c.cfg.TTSSpeed; s > 0 && s != 1 {
		req.ReqParams.AudioParams.SpeedRatio = s
	}
	if v := c.cfg.TTSVolume; v > 0 && v != 1 {
		req.ReqParams.AudioParams.VolumeRatio = v
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return speechmodel.Synthesis{}, fmt.Errorf("marshal tts request: %w", err)
	}
	frame, err := newClientRequest(payload, NoCompression)
	if err != nil {
		return speechmodel.Synthesis{}, err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame.Marshal()); err != nil {
		return speechmodel.Synthesis{}, fmt.Errorf("send request: %w", err)
	}

	var (
		audio    bytes.Buffer
		reqID    = connectID
		duration int64
	)
	finish := func() (speechmodel.Synthesis, error) {
		if audio.Len() == 0 {
			return speechmodel.Synthesis{}, errors.New("tts returned no audio")
		}
		return speechmodel.Synthesis{
			Audio:     audio.Bytes(),
			Format:    "mp3",
			Duration:  duration,
			RequestID: reqID,
			CreatedAt: time.Now(),
		}, nil
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return speechmodel.Synthesis{}, ctx.Err()
			}
			return speechmodel.Synthesis{}, fmt.Errorf("read: %w", err)
		}

		frame, err := ParseFrame(data)
		if err != nil {
			return speechmodel.Synthesis{}, err
		}

		switch frame.Type {
		case ErrorMessage:
			body, _ := frame.Body()
			if strings.Contains(string(body), errResourceMismatch.Error()) {
				return speechmodel.Synthesis{}, fmt.Errorf("%w: %s", errResourceMismatch, body)
			}
			return speechmodel.Synthesis{}, fmt.Errorf("tts error %d: %s", frame.ErrorCode, body)

		case AudioOnlyServerResponse:
			chunk, err := frame.Body()
			if err != nil {
				return speechmodel.Synthesis{}, err
			}
			audio.Write(chunk)
			if frame.IsLast() {
				return finish()
			}

		case FullServerResponse:
			body, err := frame.Body()
			if err != nil {
				return speechmodel.Synthesis{}, err
			}
			if len(body) > 0 {
				var msg ttsServerMessage
				if err := json.Unmarshal(body, &msg); err != nil {
					c.log.Debug().Err(err).Msg("skip non-json payload")
				} else {
					if msg.Code != 0 && msg.Code != 3000 && msg.Code != 20000000 {
						if strings.Contains(msg.Message, errResourceMismatch.Error()) {
							return speechmodel.Synthesis{}, fmt.Errorf("%w: %s", errResourceMismatch, msg.Message)
						}
						return speechmodel.Synthesis{}, fmt.Errorf("tts api error %d: %s", msg.Code, msg.Message)
					}
					if msg.ReqID != "" {
						reqID = msg.ReqID
					}
					if d, err := strconv.ParseInt(msg.Addition.Duration, 10, 64); err == nil {
						duration = d
					}
					if msg.Data != "" {
						chunk, err := base64.StdEncoding.DecodeString(msg.Data)
						if err != nil {
							return speechmodel.Synthesis{}, fmt.Errorf("decode audio chunk: %w", err)
						}
						audio.Write(chunk)
					}
				}
			}

			finished := frame.HasEvent() && frame.Event == EventSessionFinished
			if finished || frame.IsLast() {
				return finish()
			}
		}
	}
}

// resourceCandidates 根据音色推断资源 ID 的尝试顺序。
func resourceCandidates(voice string) []string {
	if strings.HasPrefix(voice, "S_") {
		return []string{ttsMegaResource}
	}

	normalized := strings.ToLower(voice)
	for _, hint := range []string{"bigtts", "seed", "megatts", "uranus", "venus", "jupiter", "saturn", "mars"} {
		if strings.Contains(normalized, hint) {
			return []string{ttsSeedResource, ttsDefaultResource}
		}
	}
	return []string{ttsDefaultResource, ttsSeedResource}
}
