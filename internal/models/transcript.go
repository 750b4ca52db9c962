package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// AudioMetadata is probed once at upload time and never changes afterwards.
// Fields the probe could not determine carry the sentinel "N/A".
type AudioMetadata struct {
	Codec      string `json:"codec" db:"codec"`
	SampleRate string `json:"sample_rate" db:"sample_rate"`
	Channels   string `json:"channels" db:"channels"`
	EncodedBy  string `json:"encoded_by" db:"encoded_by"`
	Duration   string `json:"duration" db:"duration"` // HH:MM:SS
}

// Transcript is one uploaded audio file and its transcription lifecycle.
type Transcript struct {
	ID          int64           `json:"id" db:"id"`
	AudioFile   string          `json:"audio_file" db:"audio_file"`
	Metadata    AudioMetadata   `json:"metadata"`
	Transcribed bool            `json:"transcribed" db:"transcribed"`
	TaskID      *string         `json:"task_id,omitempty" db:"task_id"`
	Result      json.RawMessage `json:"result,omitempty" db:"result"`
	WordCount   *int            `json:"word_count,omitempty" db:"word_count"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// HasResult reports whether a completed transcription is stored.
func (t *Transcript) HasResult() bool {
	return len(t.Result) > 0
}

// Segment is one time-aligned span of the transcript.
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptResult is the structured output collected from the engine.
type TranscriptResult struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
	Language string    `json:"language"`
}

// ModelSize selects which whisper model the engine loads.
type ModelSize string

const (
	ModelTiny   ModelSize = "tiny"
	ModelBase   ModelSize = "base"
	ModelSmall  ModelSize = "small"
	ModelMedium ModelSize = "medium"
	ModelLarge  ModelSize = "large"
)

// ParseModelSize validates a user-supplied model name.
func ParseModelSize(s string) (ModelSize, error) {
	switch ModelSize(s) {
	case ModelTiny, ModelBase, ModelSmall, ModelMedium, ModelLarge:
		return ModelSize(s), nil
	}
	return "", fmt.Errorf("unknown model size %q", s)
}
