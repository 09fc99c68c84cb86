package transcribe

import "context"

// Recognizer converts a recorded audio artifact into text.
type Recognizer interface {
	// Transcribe returns the transcript of the given audio. The filename
	// carries the container format hint (e.g. "answer.webm").
	Transcribe(ctx context.Context, filename string, audio []byte) (string, error)
}
