package profile

// DefaultSystemPrompt is the instruction sent with every completion request.
const DefaultSystemPrompt = "Você é um assistente prestativo e amigável."

// Profile captures how a widget instance presents itself to the visitor.
type Profile struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Subtitle       string `json:"subtitle"`
	AvatarURL      string `json:"avatarUrl,omitempty"`
	InitialMessage string `json:"initialMessage"`
	Voice          string `json:"voice,omitempty"`
	Language       string `json:"language,omitempty"`
	SystemPrompt   string `json:"-"`
}

// Prompt returns the system instruction, falling back to the default one.
func (p Profile) Prompt() string {
	if p.SystemPrompt == "" {
		return DefaultSystemPrompt
	}
	return p.SystemPrompt
}

// Seed provides the built-in widget profiles.
func Seed() []Profile {
	return []Profile{
		{
			ID:             "default",
			Title:          "Assistente IA",
			Subtitle:       "Como posso ajudar você hoje?",
			AvatarURL:      "https://ui-avatars.com/api/?name=AI&background=2A2A2A&color=fff",
			InitialMessage: "Olá! Como posso ajudar você hoje?",
			Voice:          "onyx",
			Language:       "pt-BR",
		},
		{
			ID:             "johnson-smith",
			Title:          "Johnson Smith [ Rakewells ]",
			Subtitle:       "Assistente Virtual Inteligente",
			AvatarURL:      "https://ui-avatars.com/api/?name=AI&background=2A2A2A&color=fff",
			InitialMessage: "Olá, sou Johnson Smith. Como posso te ajudar?",
			Voice:          "onyx",
			Language:       "pt-BR",
		},
	}
}
