package speech

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/zhouzirui/medlens/backend/internal/model/chat"
	speechmodel "github.com/zhouzirui/medlens/backend/internal/model/speech"
	chatservice "github.com/zhouzirui/medlens/backend/internal/service/chat"
	speechsvc "github.com/zhouzirui/medlens/backend/internal/service/speech"
	"github.com/zhouzirui/medlens/backend/pkg/logger"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
)

// WebSocketHandler 语音轮次的WebSocket处理器
type WebSocketHandler struct {
	chain    *speechsvc.VoiceChain
	chatSvc  *chatservice.Service
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(chain *speechsvc.VoiceChain, chatSvc *chatservice.Service) *WebSocketHandler {
	return &WebSocketHandler{
		chain:   chain,
		chatSvc: chatSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: logger.Component("websocket"),
	}
}

// RegisterWebSocketRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// AudioMessage 音频分片。AudioData 在 JSON 中为 base64。
type AudioMessage struct {
	AudioData []byte `json:"audioData"`
	IsFinal   bool   `json:"isFinal"`
}

// TextMessage 文字提问
type TextMessage struct {
	Text string `json:"text"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// TurnMessage 一轮语音问答的结果
type TurnMessage struct {
	Transcript string             `json:"transcript,omitempty"`
	Response   chat.QueryResponse `json:"response"`
	Spoken     bool               `json:"spoken"`
	NoSpeech   bool               `json:"noSpeech,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// conn serialises writes; gorilla allows one concurrent writer.
type conn struct {
	ws        *websocket.Conn
	sessionID string
	mu        sync.Mutex
	log       zerolog.Logger
}

func (c *conn) send(kind string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := outgoingMessage{Type: kind, SessionID: c.sessionID, Data: data, Timestamp: time.Now().Unix()}
	if err := c.ws.WriteJSON(msg); err != nil {
		c.log.Debug().Err(err).Str("type", kind).Msg("write failed")
	}
}

func (c *conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

func (c *conn) sendError(message string) {
	c.send("error", map[string]string{"message": message})
}

// Play implements speechsvc.Player by pushing the artifact to the client.
func (c *conn) Play(_ context.Context, a speechsvc.Artifact) error {
	c.send("audio", map[string]any{"audioData": a.Audio, "format": a.Format})
	return nil
}

// handleWebSocket 处理WebSocket连接。客户端发送 start 开始一轮语音采集，随后推送 audio 分片；
// text 消息走同一个会话的文字问答。
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.chatSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("upgrade failed")
		return
	}
	defer ws.Close()

	log := h.log.With().Str("session", sessionID).Logger()
	c := &conn{ws: ws, sessionID: sessionID, log: log}
	log.Info().Msg("connection opened")

	ctx, cancel := context.WithCancel(context.Background())
	source := speechsvc.NewStreamSource(64)

	// running 覆盖整轮；capturing 只覆盖采集阶段，之后到达的音频直接丢弃。
	var (
		turns     conc.WaitGroup
		running   atomic.Bool
		capturing atomic.Bool
	)
	defer func() {
		cancel()
		source.Close()
		turns.Wait()
		log.Info().Msg("connection closed")
	}()

	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})
	turns.Go(func() { h.pingLoop(ctx, c) })

	c.send("connected", map[string]any{"hasContext": session.Context() != nil})

	for {
		var msg inboundMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("read error")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))

		switch msg.Type {
		case "start":
			if !running.CompareAndSwap(false, true) {
				c.sendError("turn already in progress")
				continue
			}
			source.Drain()
			capturing.Store(true)
			turns.Go(func() {
				defer running.Store(false)
				defer capturing.Store(false)
				h.runVoiceTurn(ctx, c, session, source, func() { capturing.Store(false) })
			})

		case "audio":
			var audio AudioMessage
			if err := json.Unmarshal(msg.Data, &audio); err != nil {
				c.sendError("invalid audio payload")
				continue
			}
			if !capturing.Load() {
				continue
			}
			if !source.Push(audio.AudioData, audio.IsFinal) {
				log.Debug().Int("bytes", len(audio.AudioData)).Msg("audio chunk dropped")
			}

		case "text":
			var text TextMessage
			if err := json.Unmarshal(msg.Data, &text); err != nil || strings.TrimSpace(text.Text) == "" {
				c.sendError("invalid text payload")
				continue
			}
			resp := session.Submit(ctx, text.Text)
			c.send("response", resp)

		default:
			c.sendError("unsupported message type: " + msg.Type)
		}
	}
}

// runVoiceTurn 执行一轮语音问答。captured 在采集阶段结束（第一个非 Listening 状态）时调用。
func (h *WebSocketHandler) runVoiceTurn(ctx context.Context, c *conn, session *chatservice.Session, source speechsvc.Source, captured func()) {
	status := func(s speechmodel.Status) {
		if s != speechmodel.StatusListening {
			captured()
		}
		c.send("status", map[string]string{"status": s.String()})
	}

	res := h.chain.RunTurn(ctx, session, source, c, status)

	out := TurnMessage{
		Transcript: res.Transcript,
		Response:   res.Response,
		Spoken:     res.Spoken,
		NoSpeech:   res.NoSpeech,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	c.send("turn", out)
}

// pingLoop 定期发送ping消息
func (h *WebSocketHandler) pingLoop(ctx context.Context, c *conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}
