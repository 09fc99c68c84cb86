package tts

import "context"

// Client defines the interface for text-to-speech providers.
type Client interface {
	// Synthesize converts text to speech and returns the full audio clip.
	Synthesize(ctx context.Context, text string) ([]byte, error)

	// SynthesizeStream converts text to speech and streams audio chunks
	// as they arrive, so playback can start before synthesis finishes.
	SynthesizeStream(ctx context.Context, text string) (<-chan []byte, error)
}
