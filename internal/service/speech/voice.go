package speech

import (
	"sort"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// DefaultVoice is used when a request names no voice or an unknown one.
const DefaultVoice = "onyx"

var supportedVoices = map[string]openai.SpeechVoice{
	"alloy":   openai.VoiceAlloy,
	"echo":    openai.VoiceEcho,
	"fable":   openai.VoiceFable,
	"onyx":    openai.VoiceOnyx,
	"nova":    openai.VoiceNova,
	"shimmer": openai.VoiceShimmer,
}

// ResolveVoice maps a requested voice name onto a supported voice.
func ResolveVoice(voice, fallback string) openai.SpeechVoice {
	if v, ok := supportedVoices[strings.ToLower(strings.TrimSpace(voice))]; ok {
		return v
	}
	if v, ok := supportedVoices[strings.ToLower(strings.TrimSpace(fallback))]; ok {
		return v
	}
	return openai.VoiceOnyx
}

// IsSupportedVoice reports whether voice names a synthesis voice.
func IsSupportedVoice(voice string) bool {
	_, ok := supportedVoices[strings.ToLower(strings.TrimSpace(voice))]
	return ok
}

const truncationMarker = "..."

// Truncate limits text to maxChars characters, marking the cut visibly.
func Truncate(text string, maxChars int) string {
	runes := []rune(text)
	if maxChars <= 0 || len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars]) + truncationMarker
}

// Voices lists the supported synthesis voices in alphabetical order.
func Voices() []string {
	names := make([]string, 0, len(supportedVoices))
	for name := range supportedVoices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
