package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/Segerberg/whisper-ui/internal/models"
	"github.com/Segerberg/whisper-ui/internal/store"
)

// Format names a downloadable artifact type. The value doubles as the
// artifact file extension.
type Format string

const (
	FormatText Format = "txt"
	FormatSRT  Format = "srt"
	FormatVTT  Format = "vtt"
	FormatTSV  Format = "tsv"
	FormatJSON Format = "json"
)

// All returns every supported format.
func All() []Format {
	return []Format{FormatText, FormatSRT, FormatVTT, FormatTSV, FormatJSON}
}

// Parse validates a user-supplied format name.
func Parse(s string) (Format, error) {
	switch Format(s) {
	case FormatText, FormatSRT, FormatVTT, FormatTSV, FormatJSON:
		return Format(s), nil
	}
	return "", fmt.Errorf("unknown format %q", s)
}

// Render converts a transcript result into the bytes of one target format.
// Rendering is pure; the same result always yields identical bytes.
func Render(result models.TranscriptResult, f Format) ([]byte, error) {
	var buf bytes.Buffer
	switch f {
	case FormatText:
		for _, seg := range result.Segments {
			buf.WriteString(strings.TrimSpace(seg.Text))
			buf.WriteByte('\n')
		}
	case FormatSRT:
		for i, seg := range result.Segments {
			fmt.Fprintf(&buf, "%d\n%s --> %s\n%s\n\n",
				i+1,
				timestamp(seg.Start, ","),
				timestamp(seg.End, ","),
				strings.TrimSpace(seg.Text),
			)
		}
	case FormatVTT:
		buf.WriteString("WEBVTT\n\n")
		for _, seg := range result.Segments {
			fmt.Fprintf(&buf, "%s --> %s\n%s\n\n",
				timestamp(seg.Start, "."),
				timestamp(seg.End, "."),
				strings.TrimSpace(seg.Text),
			)
		}
	case FormatTSV:
		buf.WriteString("start\tend\ttext\n")
		for _, seg := range result.Segments {
			fmt.Fprintf(&buf, "%d\t%d\t%s\n",
				milliseconds(seg.Start),
				milliseconds(seg.End),
				strings.TrimSpace(seg.Text),
			)
		}
	case FormatJSON:
		data, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	default:
		return nil, fmt.Errorf("unknown format %q", f)
	}
	return buf.Bytes(), nil
}

// timestamp renders seconds as HH:MM:SS<sep>mmm, the subtitle timing form.
func timestamp(seconds float64, sep string) string {
	ms := milliseconds(seconds)
	hours := ms / 3_600_000
	ms -= hours * 3_600_000
	minutes := ms / 60_000
	ms -= minutes * 60_000
	secs := ms / 1000
	ms -= secs * 1000
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", hours, minutes, secs, sep, ms)
}

func milliseconds(seconds float64) int {
	return int(math.Round(seconds * 1000))
}

// Materializer writes rendered artifacts into the file store's artifact
// area under the audio file's stem.
type Materializer struct {
	files *store.FileStore
}

// NewMaterializer creates a Materializer writing through the file store.
func NewMaterializer(files *store.FileStore) *Materializer {
	return &Materializer{files: files}
}

// Write renders one format and persists it as <stem>.<format>, overwriting
// any previous artifact. It returns the artifact filename.
func (m *Materializer) Write(audioFile string, result models.TranscriptResult, f Format) (string, error) {
	data, err := Render(result, f)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(m.files.DataDir(), 0o755); err != nil {
		return "", fmt.Errorf("%w: create artifact dir: %v", store.ErrStorage, err)
	}

	name := store.Stem(audioFile) + "." + string(f)
	if err := os.WriteFile(m.files.ArtifactPath(name), data, 0o644); err != nil {
		return "", fmt.Errorf("%w: write artifact %s: %v", store.ErrStorage, name, err)
	}
	return name, nil
}

// WriteAll materializes every supported format for the result.
func (m *Materializer) WriteAll(audioFile string, result models.TranscriptResult) error {
	for _, f := range All() {
		if _, err := m.Write(audioFile, result, f); err != nil {
			return err
		}
	}
	return nil
}
