package speech

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/voice-chat/backend/internal/model/profile"
	"github.com/zhouzirui/voice-chat/backend/internal/model/speech"
	"github.com/zhouzirui/voice-chat/backend/internal/service/capture"
	chatservice "github.com/zhouzirui/voice-chat/backend/internal/service/chat"
)

type echoCompletion struct{}

func (echoCompletion) Complete(_ context.Context, message, _ string) (string, error) {
	return "eco: " + message, nil
}

type fixedTranscriber struct {
	text string
}

func (f fixedTranscriber) Transcribe(_ context.Context, req speech.TranscriptionRequest) (string, error) {
	if len(req.AudioData) == 0 {
		return "", errors.New("empty audio")
	}
	return f.text, nil
}

type received struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func boolPtr(v bool) *bool { return &v }

func dial(t *testing.T, transcriber capture.Transcriber) (*websocket.Conn, *chatservice.Session) {
	t.Helper()

	chatSvc := chatservice.NewService(profile.NewMemoryStore(profile.Seed()), chatservice.Deps{Completion: echoCompletion{}}, "default")
	session, err := chatSvc.CreateSession(context.Background(), "default")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	r := chi.NewRouter()
	NewWebSocketHandler(chatSvc, transcriber).RegisterWebSocketRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + session.ID()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial err: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		chatSvc.CloseAll()
	})

	readUntil(t, conn, func(m received) bool { return m.Type == OutConfig })
	return conn, session
}

func send(t *testing.T, conn *websocket.Conn, msgType string, data any) {
	t.Helper()
	payload, _ := json.Marshal(data)
	if err := conn.WriteJSON(inboundMessage{Type: msgType, Data: payload}); err != nil {
		t.Fatalf("write err: %v", err)
	}
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(received) bool) received {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg received
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read err: %v", err)
		}
		if match(msg) {
			return msg
		}
	}
}

func assistantReply(m received) bool {
	if m.Type != OutEvent {
		return false
	}
	var ev chatservice.Event
	_ = json.Unmarshal(m.Data, &ev)
	return ev.Type == chatservice.EventMessage && ev.Message != nil && ev.Message.Role == "assistant"
}

func TestApplyConfigUpdatesState(t *testing.T) {
	state := newConnectionState(capture.NewRemoteRecognizer(func(string, string) error { return nil }), nil)

	state.applyConfig(ConfigMessage{WebSpeech: boolPtr(false), Language: "en-US"})

	if state.language != "en-US" {
		t.Fatalf("expected language en-US, got %s", state.language)
	}
	if _, err := state.recognizer(); !errors.Is(err, capture.ErrUnsupportedCapability) {
		t.Fatalf("expected unsupported without web speech or fallback, got %v", err)
	}

	state.applyConfig(ConfigMessage{WebSpeech: boolPtr(true)})
	if rec, err := state.recognizer(); err != nil || rec != capture.Recognizer(state.remote) {
		t.Fatalf("expected remote recognizer, got %v %v", rec, err)
	}
	if state.language != "en-US" {
		t.Fatal("empty language must not reset the configured one")
	}
}

func TestTextMessageProducesReply(t *testing.T) {
	conn, _ := dial(t, nil)

	send(t, conn, "text", TextMessage{Text: "oi"})
	msg := readUntil(t, conn, assistantReply)

	var ev chatservice.Event
	_ = json.Unmarshal(msg.Data, &ev)
	if ev.Message.Content != "eco: oi" {
		t.Fatalf("unexpected reply %q", ev.Message.Content)
	}
}

func TestBrowserRecognizerRoundTrip(t *testing.T) {
	conn, session := dial(t, nil)

	send(t, conn, "voice_control", VoiceControlMessage{Action: "start"})
	cmd := readUntil(t, conn, func(m received) bool { return m.Type == OutVoiceCommand })
	if !strings.Contains(string(cmd.Data), `"command":"start"`) {
		t.Fatalf("unexpected command %s", cmd.Data)
	}

	send(t, conn, "voice", capture.Event{Kind: capture.EventStart})
	send(t, conn, "voice", capture.Event{Kind: capture.EventPartial, Text: "qual o"})
	send(t, conn, "voice", capture.Event{Kind: capture.EventFinal, Text: "qual o horário"})
	send(t, conn, "voice", capture.Event{Kind: capture.EventEnd})

	readUntil(t, conn, assistantReply)
	session.Wait()

	msgs := session.Messages()
	if len(msgs) != 3 || msgs[1].Content != "qual o horário" {
		t.Fatalf("unexpected conversation %+v", msgs)
	}
}

func TestFallbackRecordingRoundTrip(t *testing.T) {
	conn, _ := dial(t, fixedTranscriber{text: "gravado"})

	send(t, conn, "config", ConfigMessage{WebSpeech: boolPtr(false)})
	readUntil(t, conn, func(m received) bool { return m.Type == OutConfig })

	send(t, conn, "voice_control", VoiceControlMessage{Action: "start"})
	send(t, conn, "audio", AudioMessage{AudioData: []byte{1, 2, 3}, Format: "webm"})
	send(t, conn, "voice_control", VoiceControlMessage{Action: "stop"})

	msg := readUntil(t, conn, assistantReply)
	var ev chatservice.Event
	_ = json.Unmarshal(msg.Data, &ev)
	if ev.Message.Content != "eco: gravado" {
		t.Fatalf("unexpected reply %q", ev.Message.Content)
	}
}

func TestPlaybackCommands(t *testing.T) {
	conn, _ := dial(t, nil)

	send(t, conn, "playback", PlaybackMessage{MessageID: "m1", Action: "attach"})
	send(t, conn, "playback", PlaybackMessage{MessageID: "m1", Action: "loaded", Value: 10})
	readUntil(t, conn, func(m received) bool {
		return m.Type == OutPlayback && strings.Contains(string(m.Data), `"duration":10`)
	})

	send(t, conn, "playback", PlaybackMessage{MessageID: "m1", Action: "toggle"})
	cmd := readUntil(t, conn, func(m received) bool { return m.Type == OutMediaCommand })
	if !strings.Contains(string(cmd.Data), `"action":"play"`) {
		t.Fatalf("unexpected media command %s", cmd.Data)
	}

	send(t, conn, "playback", PlaybackMessage{MessageID: "m1", Action: "seek", Value: 0.5})
	seek := readUntil(t, conn, func(m received) bool { return m.Type == OutMediaCommand })
	if !strings.Contains(string(seek.Data), `"value":5`) {
		t.Fatalf("unexpected seek command %s", seek.Data)
	}

	send(t, conn, "playback", PlaybackMessage{MessageID: "missing", Action: "toggle"})
	readUntil(t, conn, func(m received) bool { return m.Type == OutError })
}

func TestUnknownMessageType(t *testing.T) {
	conn, _ := dial(t, nil)
	send(t, conn, "bogus", map[string]string{})
	msg := readUntil(t, conn, func(m received) bool { return m.Type == OutError })
	if !strings.Contains(string(msg.Data), "unsupported message type") {
		t.Fatalf("unexpected error %s", msg.Data)
	}
}

func TestStopWithoutCaptureSendsNoError(t *testing.T) {
	conn, _ := dial(t, nil)

	send(t, conn, "voice_control", VoiceControlMessage{Action: "stop"})
	send(t, conn, "text", TextMessage{Text: "depois"})

	readUntil(t, conn, func(m received) bool {
		if m.Type == OutError {
			t.Fatalf("stop on an idle capture produced an error frame: %s", m.Data)
		}
		return assistantReply(m)
	})
}
