package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/Segerberg/whisper-ui/internal/models"
)

// ErrProbeFailed indicates the file could not be parsed as a media container.
var ErrProbeFailed = errors.New("media probe failed")

// NotAvailable is the sentinel for metadata fields the probe could not fill.
const NotAvailable = "N/A"

// Prober extracts audio metadata by shelling out to ffprobe.
type Prober struct {
	binPath string
}

// NewProber creates a Prober using the given ffprobe binary, or "ffprobe"
// from PATH when empty.
func NewProber(binPath string) *Prober {
	if binPath == "" {
		binPath = "ffprobe"
	}
	return &Prober{binPath: binPath}
}

// Probe inspects the first audio stream of the file at path. The probe is
// read-only; missing optional tags degrade to "N/A" instead of failing.
func (p *Prober) Probe(ctx context.Context, path string) (models.AudioMetadata, error) {
	cmd := exec.CommandContext(ctx, p.binPath,
		"-v", "error",
		"-select_streams", "a:0",
		"-show_streams",
		"-show_format",
		"-of", "json",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return models.AudioMetadata{}, fmt.Errorf("%w: %s", ErrProbeFailed, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return models.AudioMetadata{}, fmt.Errorf("run ffprobe: %w", err)
	}
	return parseProbeOutput(out)
}

type probeOutput struct {
	Streams []struct {
		CodecLongName string `json:"codec_long_name"`
		SampleRate    string `json:"sample_rate"`
		Channels      int    `json:"channels"`
	} `json:"streams"`
	Format struct {
		Duration string            `json:"duration"`
		Tags     map[string]string `json:"tags"`
	} `json:"format"`
}

// parseProbeOutput maps ffprobe JSON onto AudioMetadata. A missing audio
// stream is fatal; everything else falls back to "N/A".
func parseProbeOutput(data []byte) (models.AudioMetadata, error) {
	var probe probeOutput
	if err := json.Unmarshal(data, &probe); err != nil {
		return models.AudioMetadata{}, fmt.Errorf("%w: parse ffprobe output: %v", ErrProbeFailed, err)
	}
	if len(probe.Streams) == 0 {
		return models.AudioMetadata{}, fmt.Errorf("%w: no audio stream", ErrProbeFailed)
	}

	stream := probe.Streams[0]
	meta := models.AudioMetadata{
		Codec:      NotAvailable,
		SampleRate: NotAvailable,
		Channels:   NotAvailable,
		EncodedBy:  NotAvailable,
		Duration:   NotAvailable,
	}
	if stream.CodecLongName != "" {
		meta.Codec = stream.CodecLongName
	}
	if stream.SampleRate != "" {
		meta.SampleRate = stream.SampleRate
	}
	if stream.Channels > 0 {
		meta.Channels = strconv.Itoa(stream.Channels)
	}
	if encodedBy, ok := probe.Format.Tags["encoded_by"]; ok && encodedBy != "" {
		meta.EncodedBy = encodedBy
	}
	if probe.Format.Duration != "" {
		if seconds, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
			meta.Duration = FormatDuration(seconds)
		}
	}
	return meta, nil
}

// FormatDuration renders fractional seconds as zero-padded HH:MM:SS,
// flooring to whole seconds.
func FormatDuration(seconds float64) string {
	total := int(seconds)
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
}
