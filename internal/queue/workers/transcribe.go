package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/Segerberg/whisper-ui/internal/engine"
	"github.com/Segerberg/whisper-ui/internal/format"
	"github.com/Segerberg/whisper-ui/internal/models"
	"github.com/Segerberg/whisper-ui/internal/queue"
	"github.com/Segerberg/whisper-ui/internal/store"
	"github.com/Segerberg/whisper-ui/internal/taskstate"
	"github.com/Segerberg/whisper-ui/internal/transcripts"
)

// TranscribeWorker executes transcription runs. It receives its record
// store, file store, engine and task-state handles explicitly; nothing is
// read from ambient state.
type TranscribeWorker struct {
	records *transcripts.Service
	files   *store.FileStore
	runner  *engine.Runner
	states  *taskstate.Store
	formats *format.Materializer
}

// NewTranscribeWorker wires a worker from its collaborators.
func NewTranscribeWorker(records *transcripts.Service, files *store.FileStore, runner *engine.Runner, states *taskstate.Store) *TranscribeWorker {
	return &TranscribeWorker{
		records: records,
		files:   files,
		runner:  runner,
		states:  states,
		formats: format.NewMaterializer(files),
	}
}

// ProcessTask runs one queued transcription to completion. Progress events
// from the engine are forwarded to the task-state store so the API can poll
// them. On success the record gets its result and word count and every
// artifact format is materialized; on failure the record is left untouched
// and the terminal failure is observable via the task state.
func (w *TranscribeWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.TranscribePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	log := slog.With("transcript_id", payload.TranscriptID, "task_id", payload.TaskID)

	record, err := w.records.GetByID(ctx, payload.TranscriptID)
	if err != nil {
		w.fail(ctx, payload, err)
		return fmt.Errorf("load transcript: %w", err)
	}

	model, err := models.ParseModelSize(payload.Model)
	if err != nil {
		w.fail(ctx, payload, err)
		return err
	}

	log.Info("starting transcription", "audio_file", record.AudioFile, "model", model, "translate", payload.Translate)

	result, err := w.runner.Run(ctx, engine.Request{
		AudioPath: w.files.UploadPath(record.AudioFile),
		Translate: payload.Translate,
		Model:     model,
	}, func(ev engine.Event) {
		w.publish(ctx, payload, ev)
	})
	if err != nil {
		log.Error("transcription failed", "error", err)
		return err
	}

	if err := w.records.SetResult(ctx, record.ID, result.Raw, result.WordCount); err != nil {
		w.fail(ctx, payload, err)
		return err
	}

	if err := w.formats.WriteAll(record.AudioFile, result.Transcript); err != nil {
		// The record already holds the result; artifacts can be rebuilt on
		// the next export request.
		log.Warn("artifact materialization failed", "error", err)
	}

	if err := w.states.Set(ctx, taskstate.Status{
		TaskID:       payload.TaskID,
		TranscriptID: payload.TranscriptID,
		State:        taskstate.StateSuccess,
		Progress:     100,
	}); err != nil {
		log.Warn("record task success state failed", "error", err)
	}

	log.Info("transcription completed", "word_count", result.WordCount, "language", result.Transcript.Language)
	return nil
}

// publish maps one engine event onto the pollable task state.
func (w *TranscribeWorker) publish(ctx context.Context, payload queue.TranscribePayload, ev engine.Event) {
	status := taskstate.Status{TaskID: payload.TaskID, TranscriptID: payload.TranscriptID}
	switch ev.Kind {
	case engine.EventInitializing:
		status.State = taskstate.StateInitializing
	case engine.EventProgress:
		status.State = taskstate.StateTranscribing
		status.Progress = ev.Percent
	case engine.EventFailed:
		status.State = taskstate.StateFailure
		if ev.Err != nil {
			status.Error = ev.Err.Error()
		}
	case engine.EventDone:
		// Success is recorded only after the result is durably stored.
		return
	default:
		return
	}

	if err := w.states.Set(ctx, status); err != nil {
		slog.Warn("publish task state failed", "task_id", payload.TaskID, "error", err)
	}
}

func (w *TranscribeWorker) fail(ctx context.Context, payload queue.TranscribePayload, cause error) {
	err := w.states.Set(ctx, taskstate.Status{
		TaskID:       payload.TaskID,
		TranscriptID: payload.TranscriptID,
		State:        taskstate.StateFailure,
		Error:        cause.Error(),
	})
	if err != nil {
		slog.Warn("record task failure state failed", "task_id", payload.TaskID, "error", err)
	}
}
