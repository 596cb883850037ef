package domain

import "context"

// Provider is a language model that answers a single system+user exchange.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
	Healthy(ctx context.Context) error
}

// ChatRequest is one classification-style exchange. JSONMode asks the
// provider to constrain output to a single JSON object.
type ChatRequest struct {
	System      string
	User        string
	Model       string
	Temperature float64
	JSONMode    bool
}

type ChatResponse struct {
	Content string
	Model   string
}

// SpeechToText turns recorded audio into plain text.
type SpeechToText interface {
	Transcribe(ctx context.Context, audio []byte, filename, language string) (string, error)
}
