package engine

import (
	"bytes"
	"context"
	"log"
	"sync"
)

// maxArtifactBytes caps the assembled final artifact at roughly two
// minutes of 16 kHz 16-bit mono audio. Older bytes are discarded first.
const maxArtifactBytes = 2 * 60 * 16000 * 2

// Device is the candidate's capture input (microphone, optionally camera
// for display only). Acquire may fail when the candidate denies
// permission; that is surfaced but never fatal to the session.
type Device interface {
	Acquire(ctx context.Context, questionID int) error
	Release()
}

// ChunkUploader submits captured audio to the external transcription
// interface. Partial chunks are best-effort hints; the final artifact is
// the authoritative record. The returned string is a best-effort
// transcript fragment when the interface provides one.
type ChunkUploader interface {
	SubmitChunk(ctx context.Context, questionID, seq int, data []byte, partial bool) (string, error)
}

// CaptureController acquires the input device for one candidate turn,
// streams fixed-interval chunks to the transcription interface, and
// assembles the authoritative final artifact submitted on stop.
type CaptureController struct {
	device   Device
	uploader ChunkUploader
	logger   *log.Logger

	mu         sync.Mutex
	active     bool
	stopped    bool
	questionID int
	seq        int
	artifact   bytes.Buffer
}

// NewCaptureController wires a capture controller to its device and
// transcription interface.
func NewCaptureController(device Device, uploader ChunkUploader, logger *log.Logger) *CaptureController {
	return &CaptureController{device: device, uploader: uploader, logger: logger}
}

// Start acquires the input device for the given question. A permission
// error leaves the controller inactive: the turn simply cannot capture
// and will resolve via its deadline.
func (c *CaptureController) Start(ctx context.Context, questionID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.device.Acquire(ctx, questionID); err != nil {
		c.active = false
		return err
	}
	c.active = true
	c.stopped = false
	c.questionID = questionID
	c.seq = 0
	c.artifact.Reset()
	return nil
}

// Active reports whether a capture is in progress.
func (c *CaptureController) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active && !c.stopped
}

// OnChunk takes ownership of one captured fragment: it is appended to the
// final artifact and uploaded immediately tagged partial. Upload failures
// are logged and do not stop capture. Chunks arriving after Stop are
// dropped silently (a timeout and an in-flight chunk can race).
func (c *CaptureController) OnChunk(ctx context.Context, data []byte) {
	c.mu.Lock()
	if !c.active || c.stopped || len(data) == 0 {
		c.mu.Unlock()
		return
	}
	c.seq++
	seq := c.seq
	questionID := c.questionID

	c.artifact.Write(data)
	if c.artifact.Len() > maxArtifactBytes {
		trimmed := c.artifact.Bytes()[c.artifact.Len()-maxArtifactBytes:]
		var buf bytes.Buffer
		buf.Write(trimmed)
		c.artifact = buf
	}
	c.mu.Unlock()

	// Ownership of the chunk transfers to the uploader here; the engine
	// keeps only the artifact copy made above.
	go func() {
		if _, err := c.uploader.SubmitChunk(ctx, questionID, seq, data, true); err != nil {
			c.logger.Printf("capture: partial chunk %d upload failed (q=%d): %v", seq, questionID, err)
		}
	}()
}

// Stop halts segmentation, releases the input device and submits the
// final artifact exactly once. It is idempotent: racing calls (explicit
// stop plus deadline expiry) return submitted=false on every call but
// the first. The returned transcript is the best-effort text from the
// final submission.
func (c *CaptureController) Stop(ctx context.Context) (transcript string, submitted bool) {
	c.mu.Lock()
	if !c.active || c.stopped {
		c.mu.Unlock()
		return "", false
	}
	c.stopped = true
	c.active = false
	questionID := c.questionID
	data := make([]byte, c.artifact.Len())
	copy(data, c.artifact.Bytes())
	c.artifact.Reset()
	c.mu.Unlock()

	c.device.Release()

	text, err := c.uploader.SubmitChunk(ctx, questionID, 0, data, false)
	if err != nil {
		// The final artifact is authoritative; retrying is the caller's
		// responsibility. The turn still seals.
		c.logger.Printf("capture: final artifact upload failed (q=%d): %v", questionID, err)
		return "", true
	}
	return text, true
}

// Abort releases the device without submitting anything. Used on session
// teardown when a final submission is not wanted.
func (c *CaptureController) Abort() {
	c.mu.Lock()
	if !c.active || c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.active = false
	c.artifact.Reset()
	c.mu.Unlock()

	c.device.Release()
}
