package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Segerberg/whisper-ui/internal/config"
	"github.com/Segerberg/whisper-ui/internal/format"
	"github.com/Segerberg/whisper-ui/internal/media"
	"github.com/Segerberg/whisper-ui/internal/models"
	"github.com/Segerberg/whisper-ui/internal/queue"
	"github.com/Segerberg/whisper-ui/internal/store"
	"github.com/Segerberg/whisper-ui/internal/taskstate"
	"github.com/Segerberg/whisper-ui/internal/transcripts"
)

// recordStore is the slice of the transcript record store the handlers use.
type recordStore interface {
	Create(ctx context.Context, audioFile string, meta models.AudioMetadata) (*models.Transcript, error)
	GetByID(ctx context.Context, id int64) (*models.Transcript, error)
	List(ctx context.Context) ([]models.Transcript, error)
	SetSubmitted(ctx context.Context, id int64, taskID string) error
	Delete(ctx context.Context, id int64) error
}

// stateStore reads and writes pollable task status snapshots.
type stateStore interface {
	Set(ctx context.Context, status taskstate.Status) error
	Get(ctx context.Context, taskID string) (taskstate.Status, error)
}

// taskQueue submits transcription runs.
type taskQueue interface {
	EnqueueTranscribe(payload queue.TranscribePayload) error
}

// metadataProber extracts audio metadata at upload time.
type metadataProber interface {
	Probe(ctx context.Context, path string) (models.AudioMetadata, error)
}

// TranscriptHandler serves the transcript job API: upload, listing,
// submission, polling, export and deletion. Handlers never run the engine
// inline; transcription work only ever reaches the queue.
type TranscriptHandler struct {
	records recordStore
	files   *store.FileStore
	prober  metadataProber
	queue   taskQueue
	states  stateStore
	formats *format.Materializer
	upload  config.UploadConfig
}

func NewTranscriptHandler(
	records recordStore,
	files *store.FileStore,
	prober metadataProber,
	queueClient taskQueue,
	states stateStore,
	upload config.UploadConfig,
) *TranscriptHandler {
	return &TranscriptHandler{
		records: records,
		files:   files,
		prober:  prober,
		queue:   queueClient,
		states:  states,
		formats: format.NewMaterializer(files),
		upload:  upload,
	}
}

// Upload receives a multipart audio file, validates it, probes its
// metadata and creates the job record.
func (h *TranscriptHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.upload.MaxFileSize+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form or file too large"})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file required"})
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no selected file"})
		return
	}
	if header.Size > h.upload.MaxFileSize {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "file exceeds size limit"})
		return
	}
	if !h.upload.Allowed(filepath.Ext(header.Filename)) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file type not allowed"})
		return
	}

	mtype, err := mimetype.DetectReader(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable file"})
		return
	}
	if !isMediaMIME(mtype.String()) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content is not audio or video"})
		return
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	name, err := h.files.SaveUpload(file, header.Filename)
	if err != nil {
		writeError(w, err)
		return
	}

	meta, err := h.prober.Probe(r.Context(), h.files.UploadPath(name))
	if err != nil {
		// An upload the probe cannot parse is rejected, not stored. Only
		// the file this request wrote is cleaned up; artifacts sharing the
		// stem belong to an existing record.
		_ = h.files.RemoveUpload(name)
		writeError(w, err)
		return
	}

	record, err := h.records.Create(r.Context(), name, meta)
	if err != nil {
		_ = h.files.RemoveUpload(name)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, record)
}

func (h *TranscriptHandler) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.records.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transcripts": records, "count": len(records)})
}

func (h *TranscriptHandler) Get(w http.ResponseWriter, r *http.Request) {
	record, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// Delete removes the upload and every artifact sharing its stem before
// dropping the record. A filesystem failure aborts the delete with the
// record intact so the request can be retried.
func (h *TranscriptHandler) Delete(w http.ResponseWriter, r *http.Request) {
	record, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if err := h.files.Remove(record.AudioFile); err != nil {
		writeError(w, err)
		return
	}
	if err := h.records.Delete(r.Context(), record.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type transcribeRequest struct {
	Translate bool   `json:"translate"`
	Model     string `json:"model"`
}

// Transcribe enqueues a transcription run for the record and returns an
// opaque task handle. While a previous task for the same record is still
// pending or running the submission is rejected; once that task reaches a
// terminal state a new submission supersedes its handle.
func (h *TranscriptHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	record, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req transcribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Model == "" {
		req.Model = string(models.ModelBase)
	}
	model, err := models.ParseModelSize(req.Model)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if record.TaskID != nil {
		prev, err := h.states.Get(r.Context(), *record.TaskID)
		if err == nil && prev.State.Active() {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "transcription already in progress"})
			return
		}
	}

	taskID := uuid.New().String()
	// The record owns the task handle, so it is updated before the handle
	// becomes pollable. Failing here leaves nothing behind in Redis.
	if err := h.records.SetSubmitted(r.Context(), record.ID, taskID); err != nil {
		writeError(w, err)
		return
	}
	status := taskstate.Status{
		TaskID:       taskID,
		TranscriptID: record.ID,
		State:        taskstate.StatePending,
	}
	if err := h.states.Set(r.Context(), status); err != nil {
		writeError(w, err)
		return
	}

	err = h.queue.EnqueueTranscribe(queue.TranscribePayload{
		TranscriptID: record.ID,
		TaskID:       taskID,
		Translate:    req.Translate,
		Model:        string(model),
	})
	if err != nil {
		status.State = taskstate.StateFailure
		status.Error = "enqueue failed"
		_ = h.states.Set(r.Context(), status)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

// TaskStatus polls one task handle. Active tasks report their state and
// percentage; a successful task additionally carries the stored result and
// word count.
func (h *TranscriptHandler) TaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	status, err := h.states.Get(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]interface{}{
		"task_id":       status.TaskID,
		"transcript_id": status.TranscriptID,
		"state":         status.State,
		"progress":      status.Progress,
	}
	if status.Error != "" {
		resp["error"] = status.Error
	}

	if status.State == taskstate.StateSuccess {
		record, err := h.records.GetByID(r.Context(), status.TranscriptID)
		if err == nil && record.HasResult() {
			var result models.TranscriptResult
			if err := json.Unmarshal(record.Result, &result); err == nil {
				resp["result"] = result
				if record.WordCount != nil {
					resp["word_count"] = *record.WordCount
				}
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// Export materializes one artifact format for a completed transcription
// and returns its downloadable filename. Re-exporting overwrites the prior
// artifact with identical bytes.
func (h *TranscriptHandler) Export(w http.ResponseWriter, r *http.Request) {
	record, ok := h.lookup(w, r)
	if !ok {
		return
	}

	f, err := format.Parse(chi.URLParam(r, "format"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if !record.HasResult() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "transcription not completed"})
		return
	}

	var result models.TranscriptResult
	if err := json.Unmarshal(record.Result, &result); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "stored result is unreadable"})
		return
	}

	name, err := h.formats.Write(record.AudioFile, result, f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"filename": name})
}

// Download streams one artifact file as an attachment.
func (h *TranscriptHandler) Download(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")

	f, err := h.files.OpenArtifact(filename)
	if err != nil {
		writeError(w, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	http.ServeContent(w, r, filename, info.ModTime(), f)
}

// lookup parses the id URL param and fetches the record, writing the error
// response itself when either step fails.
func (h *TranscriptHandler) lookup(w http.ResponseWriter, r *http.Request) (*models.Transcript, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid transcript ID"})
		return nil, false
	}

	record, err := h.records.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return record, true
}

func isMediaMIME(mime string) bool {
	return strings.HasPrefix(mime, "audio/") ||
		strings.HasPrefix(mime, "video/") ||
		mime == "application/ogg"
}

// writeError maps domain sentinel errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, transcripts.ErrNotFound),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, taskstate.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, transcripts.ErrDuplicate),
		errors.Is(err, store.ErrExists):
		status = http.StatusConflict
	case errors.Is(err, media.ErrProbeFailed):
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
