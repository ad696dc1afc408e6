package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	speechmodel "github.com/zhouzirui/medlens/backend/internal/model/speech"
	"github.com/zhouzirui/medlens/backend/pkg/logger"
)

const (
	defaultASRResource = "volc.bigasr.sauc.duration"
	// 16kHz, 16bit, mono: 200ms of audio.
	asrChunkSize = 6400

	asrCodeOK        = 20000000
	asrCodeNoSpeech  = 20000003
	asrCodeEmptyData = 45000002
)

// ASRClient 火山引擎大模型流式识别客户端（bigmodel_nostream）。
type ASRClient struct {
	cfg    *speechmodel.Config
	dialer *websocket.Dialer
	// chunkInterval paces audio packets to mimic a live stream.
	chunkInterval time.Duration
	log           zerolog.Logger
}

// NewASRClient 创建 ASR 客户端。
func NewASRClient(cfg *speechmodel.Config) *ASRClient {
	return &ASRClient{
		cfg:           cfg,
		dialer:        &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		chunkInterval: 200 * time.Millisecond,
		log:           logger.Component("asr"),
	}
}

type asrRequest struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate"`
		Bits     int    `json:"bits"`
		Channel  int    `json:"channel"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn"`
		EnablePunc     bool   `json:"enable_punc"`
		ShowUtterances bool   `json:"show_utterances"`
		ResultType     string `json:"result_type"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

type asrUtterance struct {
	Text     string `json:"text"`
	Definite bool   `json:"definite"`
}

type asrServerMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Result  struct {
		Text       string         `json:"text"`
		Utterances []asrUtterance `json:"utterances,omitempty"`
	} `json:"result"`
	AudioInfo struct {
		Duration int64 `json:"duration"`
	} `json:"audio_info"`
}

// Recognize 发送整段音频并返回最终识别文本。连接与协议层错误归为 ErrServiceUnavailable，
// 空结果或静音归为 ErrUnintelligible。
func (c *ASRClient) Recognize(ctx context.Context, audio []byte, format string) (speechmodel.Transcript, error) {
	if !c.cfg.Enabled() {
		return speechmodel.Transcript{}, ErrDisabled
	}
	if len(audio) == 0 {
		return speechmodel.Transcript{}, ErrUnintelligible
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	connectID := uuid.NewString()
	resource := c.cfg.ResourceID
	if resource == "" {
		resource = defaultASRResource
	}

	header := http.Header{}
	header.Set("X-Api-App-Key", c.cfg.AppID)
	header.Set("X-Api-Access-Key", c.cfg.AccessToken)
	header.Set("X-Api-Resource-Id", resource)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.ASREndpoint, header)
	if err != nil {
		return speechmodel.Transcript{}, fmt.Errorf("%w: dial: %v", ErrServiceUnavailable, err)
	}
	defer conn.Close()

	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			c.log.Debug().Str("logid", logid).Msg("connected")
		}
	}

	payload, err := json.Marshal(c.buildRequest(connectID, format))
	if err != nil {
		return speechmodel.Transcript{}, fmt.Errorf("marshal asr request: %w", err)
	}
	frame, err := newClientRequest(payload, GzipCompression)
	if err != nil {
		return speechmodel.Transcript{}, err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame.Marshal()); err != nil {
		return speechmodel.Transcript{}, fmt.Errorf("%w: send request: %v", ErrServiceUnavailable, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		transcript speechmodel.Transcript
		err        error
	}
	recvCh := make(chan result, 1)
	go func() {
		t, err := c.receive(conn)
		recvCh <- result{t, err}
	}()

	sendCh := make(chan error, 1)
	go func() { sendCh <- c.sendAudio(ctx, conn, audio) }()

	for {
		select {
		case err := <-sendCh:
			if err != nil {
				return speechmodel.Transcript{}, fmt.Errorf("%w: send audio: %v", ErrServiceUnavailable, err)
			}
			sendCh = nil
		case res := <-recvCh:
			if res.err == nil {
				res.transcript.RequestID = connectID
			}
			return res.transcript, res.err
		case <-ctx.Done():
			return speechmodel.Transcript{}, fmt.Errorf("%w: %v", ErrServiceUnavailable, ctx.Err())
		}
	}
}

func (c *ASRClient) buildRequest(uid, format string) *asrRequest {
	req := &asrRequest{}
	req.User.UID = uid

	req.Audio.Format = format
	if req.Audio.Format == "" {
		req.Audio.Format = "wav"
	}
	req.Audio.Language = c.cfg.ASRLanguage
	req.Audio.Codec = "raw"
	req.Audio.Rate = 16000
	req.Audio.Bits = 16
	req.Audio.Channel = 1

	req.Request.ModelName = "bigmodel"
	req.Request.EnableITN = true
	req.Request.EnablePunc = true
	req.Request.ShowUtterances = true
	req.Request.ResultType = "full"
	req.Request.EndWindowSize = 800
	return req
}

func (c *ASRClient) sendAudio(ctx context.Context, conn *websocket.Conn, audio []byte) error {
	// FullClientRequest 占用序号 1，音频从 2 开始。
	sequence := int32(2)
	for start := 0; start < len(audio); start += asrChunkSize {
		end := min(start+asrChunkSize, len(audio))
		last := end == len(audio)

		frame, err := newAudioRequest(audio[start:end], sequence, last, GzipCompression)
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, frame.Marshal()); err != nil {
			return err
		}
		if last {
			return nil
		}
		sequence++

		if c.chunkInterval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.chunkInterval):
			}
		}
	}
	return nil
}

func (c *ASRClient) receive(conn *websocket.Conn) (speechmodel.Transcript, error) {
	var (
		text     string
		duration int64
	)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return speechmodel.Transcript{}, fmt.Errorf("%w: read: %v", ErrServiceUnavailable, err)
		}

		frame, err := ParseFrame(data)
		if err != nil {
			return speechmodel.Transcript{}, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
		}

		switch frame.Type {
		case ErrorMessage:
			body, _ := frame.Body()
			if frame.ErrorCode == asrCodeNoSpeech || frame.ErrorCode == asrCodeEmptyData {
				return speechmodel.Transcript{}, fmt.Errorf("%w: %s", ErrUnintelligible, body)
			}
			return speechmodel.Transcript{}, fmt.Errorf("%w: code %d: %s", ErrServiceUnavailable, frame.ErrorCode, body)

		case FullServerResponse:
			body, err := frame.Body()
			if err != nil {
				return speechmodel.Transcript{}, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
			}

			var msg asrServerMessage
			if len(body) > 0 {
				if err := json.Unmarshal(body, &msg); err != nil {
					c.log.Warn().Err(err).Msg("skip undecodable response")
					continue
				}
			}
			if msg.Code != 0 && msg.Code != asrCodeOK {
				if msg.Code == asrCodeNoSpeech {
					return speechmodel.Transcript{}, fmt.Errorf("%w: %s", ErrUnintelligible, msg.Message)
				}
				return speechmodel.Transcript{}, fmt.Errorf("%w: code %d: %s", ErrServiceUnavailable, msg.Code, msg.Message)
			}

			if candidate := msg.Result.Text; candidate != "" {
				text = candidate
			} else if joined := joinUtterances(msg.Result.Utterances); joined != "" {
				text = joined
			}
			if msg.AudioInfo.Duration > 0 {
				duration = msg.AudioInfo.Duration
			}

			if frame.IsLast() {
				text = strings.TrimSpace(text)
				if text == "" {
					return speechmodel.Transcript{}, ErrUnintelligible
				}
				return speechmodel.Transcript{
					Text:       text,
					Confidence: 0.95,
					Duration:   duration,
					CreatedAt:  time.Now(),
				}, nil
			}
		}
	}
}

func joinUtterances(utterances []asrUtterance) string {
	parts := make([]string, 0, len(utterances))
	for _, u := range utterances {
		if t := strings.TrimSpace(u.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// IsUnavailable reports whether err should be shown as a backend outage.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) || errors.Is(err, ErrDisabled)
}
