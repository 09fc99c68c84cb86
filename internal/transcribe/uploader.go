package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
)

// Uploader posts captured audio chunks to an external transcription
// endpoint as multipart form data. It satisfies the session engine's
// chunk uploader: partial chunks are best-effort, the final artifact is
// the one the endpoint must keep.
type Uploader struct {
	endpoint   string
	authToken  string
	httpClient *http.Client
}

// NewUploader creates an uploader for the given endpoint URL.
func NewUploader(endpoint, authToken string, httpClient *http.Client) *Uploader {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Uploader{endpoint: endpoint, authToken: authToken, httpClient: httpClient}
}

type uploadResponse struct {
	Transcript string `json:"transcript"`
}

// SubmitChunk uploads one audio fragment. The response transcript is
// best-effort and may be empty for partial chunks.
func (u *Uploader) SubmitChunk(ctx context.Context, questionID, seq int, data []byte, partial bool) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", fmt.Sprintf("chunk-%d-%d.webm", questionID, seq))
	if err != nil {
		return "", fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write audio part: %w", err)
	}
	_ = mw.WriteField("question_id", strconv.Itoa(questionID))
	_ = mw.WriteField("seq", strconv.Itoa(seq))
	_ = mw.WriteField("partial", strconv.FormatBool(partial))
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", u.endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if u.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+u.authToken)
	}

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload chunk: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("transcription endpoint error: %s - %s", resp.Status, string(respBody))
	}

	var parsed uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		// Partial uploads may get an empty 200; that is fine.
		return "", nil
	}
	return parsed.Transcript, nil
}
