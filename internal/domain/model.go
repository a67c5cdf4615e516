package domain

// Model describes one model a provider can serve.
type Model struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	Description   string `json:"description,omitempty"`
	ContextLength int    `json:"contextLength,omitempty"`
}

// ProviderInfo is the public view of a registered provider.
type ProviderInfo struct {
	Type       string `json:"type"`
	Name       string `json:"name"`
	Configured bool   `json:"isConfigured"`
}
