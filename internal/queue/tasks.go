package queue

// TypeTranscribeAudio is the task type for running the transcription engine
// against an uploaded audio file.
const TypeTranscribeAudio = "transcription:run"

// TranscribePayload is the queue message for one transcription run. TaskID
// is the opaque handle the API hands out for status polling; the worker
// writes progress under it.
type TranscribePayload struct {
	TranscriptID int64  `json:"transcript_id"`
	TaskID       string `json:"task_id"`
	Translate    bool   `json:"translate"`
	Model        string `json:"model"`
}
