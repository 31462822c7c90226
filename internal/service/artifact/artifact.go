// Package artifact turns synthesis payloads into locally playable audio
// artifacts and tracks their revocable references.
package artifact

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/zaf/g711"
)

// Audio formats understood by Decode.
const (
	FormatMP3  = "mp3"
	FormatWAV  = "wav"
	FormatOGG  = "ogg"
	FormatWebM = "webm"
	FormatFLAC = "flac"
	FormatAAC  = "aac"
	FormatOpus = "opus"
	FormatPCM  = "pcm"
	FormatULaw = "ulaw"
	FormatALaw = "alaw"
)

const (
	g711SampleRate = 8000
	pcmSampleRate  = 24000
)

var (
	ErrEmptyPayload  = errors.New("audio payload is empty")
	ErrUnknownFormat = errors.New("unrecognized audio format")
	ErrNotFound      = errors.New("audio artifact not found")
	ErrReleased      = errors.New("audio artifact already released")
)

// Artifact is a decoded audio payload ready to be served to a player.
type Artifact struct {
	ID          string
	Data        []byte
	Format      string
	ContentType string
	Duration    time.Duration
	CreatedAt   time.Time
}

// DurationSeconds returns the probed duration, zero when unknown.
func (a *Artifact) DurationSeconds() float64 {
	if a == nil {
		return 0
	}
	return a.Duration.Seconds()
}

type envelope struct {
	AudioContent string `json:"audioContent"`
	Audio        string `json:"audio"`
	Data         string `json:"data"`
	Format       string `json:"format"`
}

// Decode accepts raw binary audio, a base64 string or a JSON envelope
// carrying base64 audio, and produces a playable artifact. hint names the
// encoding when it cannot be sniffed (pcm, ulaw, alaw) or is ambiguous.
func Decode(payload []byte, hint string) (*Artifact, error) {
	data, envFormat, err := unwrap(payload)
	if err != nil {
		return nil, err
	}
	if hint == "" {
		hint = envFormat
	}

	format := normalizeFormat(hint)
	switch format {
	case FormatULaw:
		data = EncodeWAV(g711.DecodeUlaw(data), g711SampleRate, 1)
		format = FormatWAV
	case FormatALaw:
		data = EncodeWAV(g711.DecodeAlaw(data), g711SampleRate, 1)
		format = FormatWAV
	case FormatPCM:
		if len(data)%2 != 0 {
			return nil, fmt.Errorf("pcm payload length must be even, got %d", len(data))
		}
		data = EncodeWAV(data, pcmSampleRate, 1)
		format = FormatWAV
	default:
		sniffed := sniff(data)
		switch {
		case sniffed != "":
			format = sniffed
		case format == "":
			return nil, ErrUnknownFormat
		}
	}

	duration, err := Probe(format, data)
	if err != nil {
		// 时长未知时交给播放端在元数据加载后补全
		duration = 0
	}

	return &Artifact{
		Data:        data,
		Format:      format,
		ContentType: ContentType(format),
		Duration:    duration,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func unwrap(payload []byte) ([]byte, string, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, "", ErrEmptyPayload
	}

	if sniff(payload) != "" {
		return payload, "", nil
	}

	if trimmed[0] == '{' {
		var env envelope
		if err := sonic.Unmarshal(trimmed, &env); err != nil {
			return nil, "", fmt.Errorf("invalid audio envelope: %w", err)
		}
		encoded := firstNonEmpty(env.AudioContent, env.Audio, env.Data)
		if encoded == "" {
			return nil, "", ErrEmptyPayload
		}
		data, err := decodeBase64(encoded)
		if err != nil {
			return nil, "", err
		}
		return data, env.Format, nil
	}

	text := string(trimmed)
	if strings.HasPrefix(text, "data:") {
		if idx := strings.Index(text, ","); idx >= 0 {
			text = text[idx+1:]
		}
	}
	if looksBase64(text) {
		if data, err := decodeBase64(text); err == nil && len(data) > 0 {
			return data, "", nil
		}
	}

	return payload, "", nil
}

func decodeBase64(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if data, err := enc.DecodeString(encoded); err == nil {
			if len(data) == 0 {
				return nil, ErrEmptyPayload
			}
			return data, nil
		}
	}
	return nil, fmt.Errorf("invalid base64 audio payload")
}

func looksBase64(text string) bool {
	if len(text) < 4 {
		return false
	}
	for _, r := range text {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '+', r == '/', r == '=', r == '-', r == '_', r == '\n', r == '\r':
		default:
			return false
		}
	}
	return true
}

// sniff identifies container formats by their magic bytes.
func sniff(data []byte) string {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return FormatWAV
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return FormatMP3
	case len(data) >= 4 && string(data[0:4]) == "OggS":
		return FormatOGG
	case len(data) >= 4 && string(data[0:4]) == "fLaC":
		return FormatFLAC
	case len(data) >= 4 && data[0] == 0x1A && data[1] == 0x45 && data[2] == 0xDF && data[3] == 0xA3:
		return FormatWebM
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0 && data[1]&0x06 != 0:
		return FormatMP3
	}
	return ""
}

func normalizeFormat(format string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	format = strings.TrimPrefix(format, "audio/")
	switch format {
	case "mpeg", "mpga", "mp3":
		return FormatMP3
	case "wav", "wave", "x-wav":
		return FormatWAV
	case "mulaw", "ulaw", "pcmu", "g711u":
		return FormatULaw
	case "alaw", "pcma", "g711a":
		return FormatALaw
	case "pcm", "l16", "raw":
		return FormatPCM
	}
	return format
}

// ContentType maps a format to the MIME type served to players.
func ContentType(format string) string {
	switch normalizeFormat(format) {
	case FormatMP3:
		return "audio/mpeg"
	case FormatWAV:
		return "audio/wav"
	case FormatOGG, FormatOpus:
		return "audio/ogg"
	case FormatWebM:
		return "audio/webm"
	case FormatFLAC:
		return "audio/flac"
	case FormatAAC:
		return "audio/aac"
	default:
		return "application/octet-stream"
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
