package speech

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/voice-chat/backend/internal/service/capture"
	chatservice "github.com/zhouzirui/voice-chat/backend/internal/service/chat"
	"github.com/zhouzirui/voice-chat/backend/internal/service/playback"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
)

// Outbound message types.
const (
	OutEvent        = "event"
	OutVoiceCommand = "voice_command"
	OutMediaCommand = "media_command"
	OutPlayback     = "playback"
	OutConfig       = "config"
	OutError        = "error"
)

// WebSocketHandler 组件实时通道：浏览器识别器、回放控制与会话事件
type WebSocketHandler struct {
	chatSvc     *chatservice.Service
	transcriber capture.Transcriber
	upgrader    websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器；transcriber 为空时不提供录音回退识别
func NewWebSocketHandler(chatSvc *chatservice.Service, transcriber capture.Transcriber) *WebSocketHandler {
	return &WebSocketHandler{
		chatSvc:     chatSvc,
		transcriber: transcriber,
		upgrader: websocket.Upgrader{
			// 跨域策略由 CORS 中间件统一维护，握手阶段不再重复校验
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterWebSocketRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// TextMessage 文本输入
type TextMessage struct {
	Text string `json:"text"`
}

// VoiceControlMessage 开始或结束语音采集
type VoiceControlMessage struct {
	Action string `json:"action"` // start, stop
}

// AudioMessage 回退识别的录音分片
type AudioMessage struct {
	AudioData []byte `json:"audioData"`
	Format    string `json:"format"`
}

// ConfigMessage 浏览器能力与语言
type ConfigMessage struct {
	WebSpeech *bool  `json:"webSpeech,omitempty"`
	Language  string `json:"language"`
}

// PlaybackMessage 音频播放器的操作与媒体事件
type PlaybackMessage struct {
	MessageID string  `json:"messageId"`
	Action    string  `json:"action"` // attach, toggle, seek, loaded, time, ended, detach
	Value     float64 `json:"value,omitempty"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type playbackUpdate struct {
	MessageID string         `json:"messageId"`
	State     playback.State `json:"state"`
}

// client serializes writes; gorilla connections allow one concurrent writer.
type client struct {
	conn      *websocket.Conn
	sessionID string
	mu        sync.Mutex
}

func (c *client) send(msgType string, data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(outgoingMessage{
		Type:      msgType,
		SessionID: c.sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

func (c *client) sendError(message string) {
	if err := c.send(OutError, map[string]string{"message": message}); err != nil {
		log.Printf("[websocket] write error failed: %v", err)
	}
}

func (c *client) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

type connectionState struct {
	mu        sync.Mutex
	webSpeech bool
	language  string

	remote  *capture.RemoteRecognizer
	whisper *capture.WhisperRecognizer
	players *playback.Registry
}

func newConnectionState(remote *capture.RemoteRecognizer, whisper *capture.WhisperRecognizer) *connectionState {
	return &connectionState{
		webSpeech: true,
		remote:    remote,
		whisper:   whisper,
		players:   playback.NewRegistry(),
	}
}

// recognizer picks the browser recognizer when the visitor's browser has
// Web Speech, else the recording fallback when one is configured.
func (s *connectionState) recognizer() (capture.Recognizer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.webSpeech {
		return s.remote, nil
	}
	if s.whisper != nil {
		return s.whisper, nil
	}
	return nil, capture.ErrUnsupportedCapability
}

func (s *connectionState) applyConfig(cfg ConfigMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.WebSpeech != nil {
		s.webSpeech = *cfg.WebSpeech
	}
	if cfg.Language != "" {
		s.language = cfg.Language
	}
}

func (s *connectionState) snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]any{
		"webSpeech": s.webSpeech,
		"fallback":  s.whisper != nil,
		"language":  s.language,
	}
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.chatSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[websocket] new connection for session: %s", sessionID)

	c := &client{conn: conn, sessionID: sessionID}
	remote := capture.NewRemoteRecognizer(func(command, language string) error {
		return c.send(OutVoiceCommand, map[string]string{"command": command, "language": language})
	})
	defer remote.Close()

	var whisper *capture.WhisperRecognizer
	if h.transcriber != nil {
		whisper = capture.NewWhisperRecognizer(h.transcriber)
	}
	state := newConnectionState(remote, whisper)
	session.SetCapability(capture.CapabilityFunc(state.recognizer))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := session.Subscribe()
	defer unsubscribe()
	go h.forwardEvents(ctx, c, events)

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go h.pingLoop(ctx, c)

	if err := c.send(OutConfig, state.snapshot()); err != nil {
		return
	}

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[websocket] read error: %v", err)
			}
			return
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))

		if msg.SessionID != "" && msg.SessionID != sessionID {
			c.sendError("session mismatch")
			continue
		}

		h.handleMessage(ctx, c, session, state, &msg)
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, c *client, session *chatservice.Session, state *connectionState, msg *inboundMessage) {
	switch msg.Type {
	case "text":
		h.handleTextMessage(ctx, c, session, msg.Data)
	case "voice_control":
		h.handleVoiceControl(c, session, msg.Data)
	case "voice":
		h.handleVoiceEvent(c, state, msg.Data)
	case "audio":
		h.handleAudioMessage(c, state, msg.Data)
	case "config":
		h.handleConfigMessage(c, session, state, msg.Data)
	case "playback":
		h.handlePlayback(c, state, msg.Data)
	default:
		c.sendError("unsupported message type: " + msg.Type)
	}
}

func (h *WebSocketHandler) handleTextMessage(ctx context.Context, c *client, session *chatservice.Session, raw json.RawMessage) {
	var text TextMessage
	if err := json.Unmarshal(raw, &text); err != nil {
		c.sendError("invalid text payload")
		return
	}

	// 回复在后台生成，读循环需要继续处理识别事件
	go func() {
		outcome, err := session.SubmitText(ctx, text.Text)
		switch {
		case errors.Is(err, chatservice.ErrTurnInFlight):
			c.sendError(err.Error())
		case err != nil:
			log.Printf("[websocket] submit failed session=%s: %v", session.ID(), err)
			c.sendError(err.Error())
		case outcome.Status == chatservice.StatusRejected:
			c.sendError("text is required")
		}
	}()
}

func (h *WebSocketHandler) handleVoiceControl(c *client, session *chatservice.Session, raw json.RawMessage) {
	var ctrl VoiceControlMessage
	if err := json.Unmarshal(raw, &ctrl); err != nil {
		c.sendError("invalid voice_control payload")
		return
	}

	switch ctrl.Action {
	case "start":
		// 失败原因已通过会话通知事件下发，这里只记录
		if err := session.StartVoice(context.Background()); err != nil {
			log.Printf("[websocket] voice start failed session=%s: %v", session.ID(), err)
		}
	case "stop":
		session.StopVoice()
	default:
		c.sendError("unsupported voice action: " + ctrl.Action)
	}
}

func (h *WebSocketHandler) handleVoiceEvent(c *client, state *connectionState, raw json.RawMessage) {
	var ev capture.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.sendError("invalid voice payload")
		return
	}
	if !state.remote.Feed(ev) {
		c.sendError("no active recognition")
	}
}

func (h *WebSocketHandler) handleAudioMessage(c *client, state *connectionState, raw json.RawMessage) {
	if state.whisper == nil {
		c.sendError(capture.UnsupportedMessage)
		return
	}

	var audio AudioMessage
	if err := json.Unmarshal(raw, &audio); err != nil {
		c.sendError("invalid audio payload")
		return
	}
	if len(audio.AudioData) > 0 {
		state.whisper.Write(audio.AudioData, audio.Format)
	}
}

func (h *WebSocketHandler) handleConfigMessage(c *client, session *chatservice.Session, state *connectionState, raw json.RawMessage) {
	var cfg ConfigMessage
	if err := json.Unmarshal(raw, &cfg); err != nil {
		c.sendError("invalid config payload")
		return
	}

	state.applyConfig(cfg)
	session.SetLanguage(cfg.Language)

	snapshot := state.snapshot()
	log.Printf("[websocket] config applied session=%s webSpeech=%v language=%v", session.ID(), snapshot["webSpeech"], snapshot["language"])
	if err := c.send(OutConfig, snapshot); err != nil {
		log.Printf("[websocket] write config failed: %v", err)
	}
}

// handlePlayback drives one controller per audio message. The browser's
// media element executes commands and reports its events back here.
func (h *WebSocketHandler) handlePlayback(c *client, state *connectionState, raw json.RawMessage) {
	var msg PlaybackMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.MessageID == "" {
		c.sendError("invalid playback payload")
		return
	}

	if msg.Action == "attach" {
		state.players.Attach(msg.MessageID, func() *playback.Controller {
			media := playback.NewRemote(msg.MessageID, func(cmd playback.Command) error {
				return c.send(OutMediaCommand, cmd)
			})
			return playback.NewController(media, func(st playback.State) {
				if err := c.send(OutPlayback, playbackUpdate{MessageID: msg.MessageID, State: st}); err != nil {
					log.Printf("[websocket] write playback failed: %v", err)
				}
			})
		})
		return
	}

	ctrl, ok := state.players.Get(msg.MessageID)
	if !ok {
		c.sendError("unknown audio player: " + msg.MessageID)
		return
	}

	switch msg.Action {
	case "toggle":
		if err := ctrl.TogglePlayPause(); err != nil {
			c.sendError(err.Error())
		}
	case "seek":
		ctrl.Seek(msg.Value)
	case "loaded":
		ctrl.HandleLoadedMetadata(msg.Value)
	case "time":
		ctrl.HandleTimeUpdate(msg.Value)
	case "ended":
		ctrl.HandleEnded()
	case "detach":
		state.players.Remove(msg.MessageID)
	default:
		c.sendError("unsupported playback action: " + msg.Action)
	}
}

// forwardEvents 将会话事件推送给浏览器
func (h *WebSocketHandler) forwardEvents(ctx context.Context, c *client, events <-chan chatservice.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := c.send(OutEvent, ev); err != nil {
				log.Printf("[websocket] write event failed: %v", err)
				return
			}
		}
	}
}

// pingLoop 定期发送ping消息
func (h *WebSocketHandler) pingLoop(ctx context.Context, c *client) {
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
