package httpapi

import (
	"io"
	"net/http"
	"strconv"

	"github.com/lfialho/parley/internal/store"
)

// maxUploadBytes bounds one multipart audio upload. Final artifacts are
// capped by the engine at ~2 minutes of 16 kHz PCM; this leaves headroom
// for container overhead.
const maxUploadBytes = 8 << 20

// handleTranscribeAudio accepts one captured audio fragment as multipart
// form data (file, question_id, partial) and returns a best-effort
// transcript. Partial chunks are transcribed opportunistically; the final
// artifact is recorded in the uploads table with its result.
func (r *Router) handleTranscribeAudio(w http.ResponseWriter, req *http.Request) {
	interviewID := req.PathValue("id")

	req.Body = http.MaxBytesReader(w, req.Body, maxUploadBytes)
	if err := req.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, `{"error": "invalid multipart body"}`, http.StatusBadRequest)
		return
	}

	file, header, err := req.FormFile("file")
	if err != nil {
		http.Error(w, `{"error": "file is required"}`, http.StatusBadRequest)
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, `{"error": "failed to read file"}`, http.StatusBadRequest)
		return
	}

	var questionID *int
	if v := req.FormValue("question_id"); v != "" {
		q, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, `{"error": "question_id must be an integer"}`, http.StatusBadRequest)
			return
		}
		questionID = &q
	}
	partial := req.FormValue("partial") == "true"

	if r.whisper == nil {
		http.Error(w, `{"error": "transcription not configured"}`, http.StatusServiceUnavailable)
		return
	}

	// Partial chunks are a latency optimization: transcribe and return,
	// nothing persisted.
	if partial {
		text, err := r.whisper.Transcribe(req.Context(), header.Filename, audio)
		if err != nil {
			r.logger.Printf("transcribe: partial chunk failed for %s: %v", interviewID, err)
			writeJSON(w, http.StatusOK, map[string]string{"transcript": ""})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"transcript": text})
		return
	}

	// Final artifact: tracked in the uploads table through its lifecycle.
	uploadID, err := r.store.InsertUpload(req.Context(), interviewID, questionID, false, len(audio))
	if err != nil {
		r.logger.Printf("transcribe: insert upload failed for %s: %v", interviewID, err)
		captureError(req, err, "transcribe: insert upload failed")
		http.Error(w, `{"error": "failed to record upload"}`, http.StatusInternalServerError)
		return
	}
	_ = r.store.SetUploadResult(req.Context(), uploadID, store.UploadProcessing, nil)

	text, err := r.whisper.Transcribe(req.Context(), header.Filename, audio)
	if err != nil {
		r.logger.Printf("transcribe: final artifact failed for %s upload=%s: %v", interviewID, uploadID, err)
		captureError(req, err, "transcribe: final artifact failed")
		_ = r.store.SetUploadResult(req.Context(), uploadID, store.UploadFailed, nil)
		http.Error(w, `{"error": "transcription failed"}`, http.StatusBadGateway)
		return
	}

	if err := r.store.SetUploadResult(req.Context(), uploadID, store.UploadDone, &text); err != nil {
		r.logger.Printf("transcribe: store result failed for upload %s: %v", uploadID, err)
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"upload_id":  uploadID,
		"transcript": text,
	})
}
