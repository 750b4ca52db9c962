package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/Segerberg/whisper-ui/internal/config"
	"github.com/Segerberg/whisper-ui/internal/media"
	"github.com/Segerberg/whisper-ui/internal/models"
	"github.com/Segerberg/whisper-ui/internal/queue"
	"github.com/Segerberg/whisper-ui/internal/store"
	"github.com/Segerberg/whisper-ui/internal/taskstate"
	"github.com/Segerberg/whisper-ui/internal/transcripts"
)

type fakeRecords struct {
	records   map[int64]*models.Transcript
	created   int
	createErr error
	submitErr error
	submitted map[int64]string
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{
		records:   make(map[int64]*models.Transcript),
		submitted: make(map[int64]string),
	}
}

func (f *fakeRecords) Create(_ context.Context, audioFile string, meta models.AudioMetadata) (*models.Transcript, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created++
	rec := &models.Transcript{ID: int64(f.created), AudioFile: audioFile, Metadata: meta}
	f.records[rec.ID] = rec
	return rec, nil
}

func (f *fakeRecords) GetByID(_ context.Context, id int64) (*models.Transcript, error) {
	rec, ok := f.records[id]
	if !ok {
		return nil, transcripts.ErrNotFound
	}
	return rec, nil
}

func (f *fakeRecords) List(_ context.Context) ([]models.Transcript, error) { return nil, nil }

func (f *fakeRecords) SetSubmitted(_ context.Context, id int64, taskID string) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted[id] = taskID
	return nil
}

func (f *fakeRecords) Delete(_ context.Context, id int64) error {
	delete(f.records, id)
	return nil
}

type fakeStates struct {
	statuses map[string]taskstate.Status
}

func newFakeStates() *fakeStates {
	return &fakeStates{statuses: make(map[string]taskstate.Status)}
}

func (f *fakeStates) Set(_ context.Context, status taskstate.Status) error {
	f.statuses[status.TaskID] = status
	return nil
}

func (f *fakeStates) Get(_ context.Context, taskID string) (taskstate.Status, error) {
	status, ok := f.statuses[taskID]
	if !ok {
		return taskstate.Status{}, taskstate.ErrNotFound
	}
	return status, nil
}

type fakeQueue struct {
	enqueued []queue.TranscribePayload
	err      error
}

func (f *fakeQueue) EnqueueTranscribe(payload queue.TranscribePayload) error {
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, payload)
	return nil
}

type fakeProber struct {
	meta models.AudioMetadata
	err  error
}

func (f *fakeProber) Probe(_ context.Context, _ string) (models.AudioMetadata, error) {
	return f.meta, f.err
}

func testUploadConfig() config.UploadConfig {
	return config.UploadConfig{
		AllowedFiletypes: []string{"mp3", "wav"},
		MaxFileSize:      10 << 20,
	}
}

func newTestHandler(t *testing.T, records recordStore, prober metadataProber, q taskQueue, states stateStore) (*TranscriptHandler, *store.FileStore) {
	t.Helper()
	dir := t.TempDir()
	files := store.NewFileStore(filepath.Join(dir, "uploads"), filepath.Join(dir, "data"))
	return NewTranscriptHandler(records, files, prober, q, states, testUploadConfig()), files
}

// mp3Bytes carries an ID3 tag prefix so content sniffing sees audio/mpeg.
func mp3Bytes(payload string) []byte {
	return append([]byte("ID3"), []byte(payload)...)
}

func uploadRequest(t *testing.T, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	r := httptest.NewRequest(http.MethodPost, "/api/v1/transcripts", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func requestWithID(method, target, id string, body io.Reader) *http.Request {
	r := httptest.NewRequest(method, target, body)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// TestUploadDuplicateFilename verifies a colliding upload is rejected with
// a conflict and that the first job's upload bytes and artifacts are left
// exactly as they were.
func TestUploadDuplicateFilename(t *testing.T) {
	records := newFakeRecords()
	h, files := newTestHandler(t, records, &fakeProber{}, &fakeQueue{}, newFakeStates())

	if _, err := files.SaveUpload(bytes.NewReader(mp3Bytes("first job")), "lecture.mp3"); err != nil {
		t.Fatalf("seed upload: %v", err)
	}
	if err := os.MkdirAll(files.DataDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	artifact := files.ArtifactPath("lecture.txt")
	if err := os.WriteFile(artifact, []byte("first transcript"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	h.Upload(w, uploadRequest(t, "lecture.mp3", mp3Bytes("second job")))

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	if records.created != 0 {
		t.Errorf("record was created for rejected upload")
	}

	data, err := os.ReadFile(files.UploadPath("lecture.mp3"))
	if err != nil {
		t.Fatalf("read first upload: %v", err)
	}
	if string(data) != string(mp3Bytes("first job")) {
		t.Errorf("first upload content changed: %q", data)
	}
	if data, err = os.ReadFile(artifact); err != nil || string(data) != "first transcript" {
		t.Errorf("first job's artifact changed: %q, %v", data, err)
	}
}

// TestUploadProbeFailureCleanup verifies a rejected upload removes only the
// file this request wrote, never artifacts that share its stem.
func TestUploadProbeFailureCleanup(t *testing.T) {
	prober := &fakeProber{err: media.ErrProbeFailed}
	h, files := newTestHandler(t, newFakeRecords(), prober, &fakeQueue{}, newFakeStates())

	if err := os.MkdirAll(files.DataDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	artifact := files.ArtifactPath("lecture.txt")
	if err := os.WriteFile(artifact, []byte("earlier transcript"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	h.Upload(w, uploadRequest(t, "lecture.mp3", mp3Bytes("garbage")))

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
	if _, err := os.Stat(files.UploadPath("lecture.mp3")); !errors.Is(err, os.ErrNotExist) {
		t.Error("rejected upload left on disk")
	}
	if _, err := os.Stat(artifact); err != nil {
		t.Error("stem-matching artifact was removed")
	}
}

// TestUploadCreateFailureCleanup verifies the stored file is removed when
// the record cannot be created.
func TestUploadCreateFailureCleanup(t *testing.T) {
	records := newFakeRecords()
	records.createErr = transcripts.ErrDuplicate
	h, files := newTestHandler(t, records, &fakeProber{}, &fakeQueue{}, newFakeStates())

	w := httptest.NewRecorder()
	h.Upload(w, uploadRequest(t, "lecture.mp3", mp3Bytes("audio")))

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	if _, err := os.Stat(files.UploadPath("lecture.mp3")); !errors.Is(err, os.ErrNotExist) {
		t.Error("upload left on disk after record creation failed")
	}
}

// TestUploadSuccess covers the happy path end to end against the real file
// store and a probing fake.
func TestUploadSuccess(t *testing.T) {
	records := newFakeRecords()
	prober := &fakeProber{meta: models.AudioMetadata{Codec: "mp3", Duration: "00:01:05"}}
	h, files := newTestHandler(t, records, prober, &fakeQueue{}, newFakeStates())

	w := httptest.NewRecorder()
	h.Upload(w, uploadRequest(t, "my lecture.mp3", mp3Bytes("audio")))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}

	var rec models.Transcript
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if rec.AudioFile != "my_lecture.mp3" {
		t.Errorf("audio_file = %q, want my_lecture.mp3", rec.AudioFile)
	}
	if rec.Metadata.Duration != "00:01:05" {
		t.Errorf("duration = %q", rec.Metadata.Duration)
	}
	if _, err := os.Stat(files.UploadPath("my_lecture.mp3")); err != nil {
		t.Errorf("upload not stored: %v", err)
	}
}

// TestTranscribe covers a successful submission: record updated, pending
// state published, task enqueued with the defaulted model.
func TestTranscribe(t *testing.T) {
	records := newFakeRecords()
	records.records[1] = &models.Transcript{ID: 1, AudioFile: "lecture.mp3"}
	states := newFakeStates()
	q := &fakeQueue{}
	h, _ := newTestHandler(t, records, &fakeProber{}, q, states)

	w := httptest.NewRecorder()
	h.Transcribe(w, requestWithID(http.MethodPost, "/api/v1/transcripts/1/transcribe", "1", nil))

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	taskID := resp["task_id"]
	if taskID == "" {
		t.Fatal("response missing task_id")
	}
	if records.submitted[1] != taskID {
		t.Errorf("record task handle = %q, want %q", records.submitted[1], taskID)
	}

	status, ok := states.statuses[taskID]
	if !ok {
		t.Fatal("no pending state published")
	}
	if status.State != taskstate.StatePending || status.TranscriptID != 1 {
		t.Errorf("published state = %+v", status)
	}

	if len(q.enqueued) != 1 {
		t.Fatalf("enqueued %d tasks, want 1", len(q.enqueued))
	}
	payload := q.enqueued[0]
	if payload.TranscriptID != 1 || payload.TaskID != taskID || payload.Model != "base" {
		t.Errorf("payload = %+v", payload)
	}
}

// TestTranscribeRecordUpdateFailure verifies that a failed record update
// publishes no task state and enqueues nothing.
func TestTranscribeRecordUpdateFailure(t *testing.T) {
	records := newFakeRecords()
	records.records[1] = &models.Transcript{ID: 1, AudioFile: "lecture.mp3"}
	records.submitErr = errors.New("connection refused")
	states := newFakeStates()
	q := &fakeQueue{}
	h, _ := newTestHandler(t, records, &fakeProber{}, q, states)

	w := httptest.NewRecorder()
	h.Transcribe(w, requestWithID(http.MethodPost, "/api/v1/transcripts/1/transcribe", "1", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if len(states.statuses) != 0 {
		t.Errorf("task state published despite failed record update: %+v", states.statuses)
	}
	if len(q.enqueued) != 0 {
		t.Error("task enqueued despite failed record update")
	}
}

// TestTranscribeActiveConflict verifies resubmission is rejected while the
// record's current task is still pending or running.
func TestTranscribeActiveConflict(t *testing.T) {
	prev := "11111111-1111-1111-1111-111111111111"
	records := newFakeRecords()
	records.records[1] = &models.Transcript{ID: 1, AudioFile: "lecture.mp3", TaskID: &prev}
	states := newFakeStates()
	states.statuses[prev] = taskstate.Status{TaskID: prev, TranscriptID: 1, State: taskstate.StateTranscribing}
	q := &fakeQueue{}
	h, _ := newTestHandler(t, records, &fakeProber{}, q, states)

	w := httptest.NewRecorder()
	h.Transcribe(w, requestWithID(http.MethodPost, "/api/v1/transcripts/1/transcribe", "1", nil))

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	if len(q.enqueued) != 0 {
		t.Error("task enqueued despite active predecessor")
	}
}

// TestTranscribeEnqueueFailure verifies a failed enqueue marks the freshly
// published task state as failed.
func TestTranscribeEnqueueFailure(t *testing.T) {
	records := newFakeRecords()
	records.records[1] = &models.Transcript{ID: 1, AudioFile: "lecture.mp3"}
	states := newFakeStates()
	q := &fakeQueue{err: errors.New("redis down")}
	h, _ := newTestHandler(t, records, &fakeProber{}, q, states)

	w := httptest.NewRecorder()
	h.Transcribe(w, requestWithID(http.MethodPost, "/api/v1/transcripts/1/transcribe", "1", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}

	taskID := records.submitted[1]
	if taskID == "" {
		t.Fatal("record was not updated before enqueue")
	}
	if status := states.statuses[taskID]; status.State != taskstate.StateFailure {
		t.Errorf("state after enqueue failure = %q, want %q", status.State, taskstate.StateFailure)
	}
}
