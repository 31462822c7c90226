package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zhouzirui/voice-chat/backend/internal/model/speech"
	"github.com/zhouzirui/voice-chat/backend/internal/service/artifact"
)

func TestCompletionClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req speech.CompletionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Message != "Hello" || req.SystemPrompt != "seja breve" {
			t.Errorf("unexpected request %+v", req)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Hi there"}}]}`))
	}))
	defer srv.Close()

	client := NewCompletionClient(srv.URL, time.Second)
	got, err := client.Complete(context.Background(), "Hello", "seja breve")
	if err != nil || got != "Hi there" {
		t.Fatalf("unexpected result %q %v", got, err)
	}
}

func TestCompletionClientErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{"http 500", http.StatusInternalServerError, `{"error":"OpenAI API error: quota"}`, func(err error) bool {
			var se *StatusError
			return errors.As(err, &se) && se.StatusCode == 500 && se.Message == "OpenAI API error: quota"
		}},
		{"empty choices", http.StatusOK, `{"choices":[]}`, func(err error) bool { return errors.Is(err, ErrMalformedResponse) }},
		{"not json", http.StatusOK, `<html>`, func(err error) bool { return errors.Is(err, ErrMalformedResponse) }},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		}))
		_, err := NewCompletionClient(srv.URL, time.Second).Complete(context.Background(), "Hello", "")
		srv.Close()
		if err == nil || !tc.check(err) {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
	}
}

func TestSynthesisClientRawAudio(t *testing.T) {
	wav := artifact.EncodeWAV(make([]byte, 1600), 8000, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wav)
	}))
	defer srv.Close()

	audio, err := NewSynthesisClient(srv.URL, time.Second).Synthesize(context.Background(), "Oi", "onyx")
	if err != nil {
		t.Fatalf("Synthesize err: %v", err)
	}
	a, err := artifact.Decode(audio.Data, audio.Format)
	if err != nil || a.Format != artifact.FormatWAV {
		t.Fatalf("unexpected artifact %+v %v", a, err)
	}
}

func TestSynthesisClientEnvelope(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString(artifact.EncodeWAV(make([]byte, 1600), 8000, 1))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"audioContent":"` + encoded + `"}`))
	}))
	defer srv.Close()

	audio, err := NewSynthesisClient(srv.URL, time.Second).Synthesize(context.Background(), "Oi", "")
	if err != nil {
		t.Fatalf("Synthesize err: %v", err)
	}
	a, err := artifact.Decode(audio.Data, audio.Format)
	if err != nil || a.Duration != 100*time.Millisecond {
		t.Fatalf("unexpected artifact %+v %v", a, err)
	}
}

func TestSynthesisClientEmptyEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	if _, err := NewSynthesisClient(srv.URL, time.Second).Synthesize(context.Background(), "Oi", ""); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}
