package transcripts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Segerberg/whisper-ui/internal/models"
)

var (
	// ErrNotFound indicates no transcript record exists for the id.
	ErrNotFound = errors.New("transcript not found")
	// ErrDuplicate indicates an upload with the same filename already has a
	// record.
	ErrDuplicate = errors.New("audio file already registered")
)

const transcriptColumns = `id, audio_file, codec, sample_rate, channels, encoded_by, duration,
	 transcribed, task_id, result, word_count, created_at`

// Service is the durable record store for transcription jobs. Every write
// is a single statement, so readers never observe a partially updated row.
type Service struct {
	db *pgxpool.Pool
}

// NewService creates a Service over the connection pool.
func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

// Create inserts a new record for an uploaded audio file with its probed
// metadata. The transcript starts unsubmitted with no result.
func (s *Service) Create(ctx context.Context, audioFile string, meta models.AudioMetadata) (*models.Transcript, error) {
	row := s.db.QueryRow(ctx,
		`INSERT INTO transcripts (audio_file, codec, sample_rate, channels, encoded_by, duration)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+transcriptColumns,
		audioFile, meta.Codec, meta.SampleRate, meta.Channels, meta.EncodedBy, meta.Duration,
	)
	t, err := scanTranscript(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, audioFile)
		}
		return nil, fmt.Errorf("insert transcript: %w", err)
	}
	return t, nil
}

// GetByID fetches one record.
func (s *Service) GetByID(ctx context.Context, id int64) (*models.Transcript, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+transcriptColumns+` FROM transcripts WHERE id = $1`, id)
	t, err := scanTranscript(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get transcript: %w", err)
	}
	return t, nil
}

// List returns every record ordered by id.
func (s *Service) List(ctx context.Context) ([]models.Transcript, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+transcriptColumns+` FROM transcripts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	defer rows.Close()

	var out []models.Transcript
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// SetSubmitted marks the record as submitted for transcription and stores
// the queue's task handle, superseding any previous handle.
func (s *Service) SetSubmitted(ctx context.Context, id int64, taskID string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE transcripts SET transcribed = true, task_id = $1 WHERE id = $2`, taskID, id)
	if err != nil {
		return fmt.Errorf("mark submitted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return nil
}

// SetResult stores the completed transcription. The write is unconditional,
// so replaying a completion for the same job is harmless.
func (s *Service) SetResult(ctx context.Context, id int64, result json.RawMessage, wordCount int) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE transcripts SET result = $1, word_count = $2 WHERE id = $3`, result, wordCount, id)
	if err != nil {
		return fmt.Errorf("store result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return nil
}

// Delete removes the record.
func (s *Service) Delete(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM transcripts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete transcript: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return nil
}

func scanTranscript(row pgx.Row) (*models.Transcript, error) {
	var t models.Transcript
	err := row.Scan(
		&t.ID, &t.AudioFile,
		&t.Metadata.Codec, &t.Metadata.SampleRate, &t.Metadata.Channels,
		&t.Metadata.EncodedBy, &t.Metadata.Duration,
		&t.Transcribed, &t.TaskID, &t.Result, &t.WordCount, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
