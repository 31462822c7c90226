package speech

// ChoiceMessage 补全结果中的单条消息
type ChoiceMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Choice 补全候选
type Choice struct {
	Message ChoiceMessage `json:"message"`
}

// CompletionResponse 对话补全中继响应，与 OpenAI chat completions 形状一致
type CompletionResponse struct {
	Choices []Choice `json:"choices"`
}

// FirstContent 返回第一个候选的文本内容
func (r *CompletionResponse) FirstContent() (string, bool) {
	if r == nil || len(r.Choices) == 0 {
		return "", false
	}
	return r.Choices[0].Message.Content, true
}

// SynthesisEnvelope 语音合成中继的 JSON 响应（base64 音频）
type SynthesisEnvelope struct {
	AudioContent string `json:"audioContent"`
	Format       string `json:"format,omitempty"`
}

// Audio 解码后的合成音频
type Audio struct {
	Data   []byte
	Format string
}

// ErrorEnvelope 中继错误响应
type ErrorEnvelope struct {
	Error string `json:"error"`
}
