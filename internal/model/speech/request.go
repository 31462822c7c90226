package speech

// CompletionRequest 对话补全中继请求
type CompletionRequest struct {
	Message      string `json:"message"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
}

// SynthesisRequest 语音合成中继请求
type SynthesisRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"` // alloy, echo, fable, onyx, nova, shimmer
}

// TranscriptionRequest 语音识别请求（浏览器不支持 Web Speech 时的回退路径）
type TranscriptionRequest struct {
	AudioData []byte
	Format    string // webm, ogg, wav, mp3
	Language  string // pt-BR, en-US, etc.
}
