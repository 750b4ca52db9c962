package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/Segerberg/whisper-ui/internal/models"
	"github.com/Segerberg/whisper-ui/internal/store"
)

// ErrEngineFailed indicates the engine process exited abnormally or did not
// produce a usable output artifact.
var ErrEngineFailed = errors.New("transcription engine failed")

// Request describes one engine invocation.
type Request struct {
	AudioPath string
	Translate bool
	Model     models.ModelSize
}

// Result is the collected output of a successful engine run.
type Result struct {
	Transcript models.TranscriptResult
	Raw        json.RawMessage
	WordCount  int
}

// Runner invokes the whisper CLI as an isolated worker process and converts
// its diagnostic output into typed progress events.
type Runner struct {
	binPath  string
	modelDir string
	outDir   string
}

// NewRunner creates a Runner. binPath defaults to "whisper" from PATH;
// modelDir is where engine models are downloaded; outDir is the artifact
// area the engine writes its JSON result into.
func NewRunner(binPath, modelDir, outDir string) *Runner {
	if binPath == "" {
		binPath = "whisper"
	}
	return &Runner{binPath: binPath, modelDir: modelDir, outDir: outDir}
}

// Run executes the engine for the request, publishing events to onEvent as
// the run progresses, and returns the parsed result. The call blocks until
// the engine process exits; its duration is unbounded and no timeout is
// applied beyond ctx.
func (r *Runner) Run(ctx context.Context, req Request, onEvent func(Event)) (*Result, error) {
	if onEvent == nil {
		onEvent = func(Event) {}
	}

	if _, err := os.Stat(req.AudioPath); err != nil {
		err = fmt.Errorf("%w: audio file unavailable: %v", ErrEngineFailed, err)
		onEvent(Event{Kind: EventFailed, Err: err})
		return nil, err
	}

	task := "transcribe"
	if req.Translate {
		task = "translate"
	}

	cmd := exec.CommandContext(ctx, r.binPath,
		req.AudioPath,
		"--model", string(req.Model),
		"--model_dir", r.modelDir,
		"--task", task,
		"--output_dir", r.outDir,
		"--output_format", "json",
		"--verbose", "False",
	)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("attach engine stderr: %w", err)
	}

	onEvent(Event{Kind: EventInitializing, Percent: 0})
	if err := cmd.Start(); err != nil {
		err = fmt.Errorf("%w: start engine: %v", ErrEngineFailed, err)
		onEvent(Event{Kind: EventFailed, Err: err})
		return nil, err
	}

	var diag bytes.Buffer
	ScanProgress(io.TeeReader(stderr, &diag), func(percent int) {
		onEvent(Event{Kind: EventProgress, Percent: percent})
	})

	if err := cmd.Wait(); err != nil {
		err = fmt.Errorf("%w: %v: %s", ErrEngineFailed, err, lastLine(diag.String()))
		onEvent(Event{Kind: EventFailed, Err: err})
		return nil, err
	}

	result, err := r.collect(req.AudioPath)
	if err != nil {
		onEvent(Event{Kind: EventFailed, Err: err})
		return nil, err
	}

	onEvent(Event{Kind: EventDone, Percent: 100})
	return result, nil
}

// collect reads the engine's JSON output artifact for the audio file.
func (r *Runner) collect(audioPath string) (*Result, error) {
	artifact := filepath.Join(r.outDir, store.Stem(filepath.Base(audioPath))+".json")

	raw, err := os.ReadFile(artifact)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: output artifact %s missing", ErrEngineFailed, filepath.Base(artifact))
		}
		return nil, fmt.Errorf("read engine output: %w", err)
	}

	var transcript models.TranscriptResult
	if err := json.Unmarshal(raw, &transcript); err != nil {
		return nil, fmt.Errorf("%w: malformed output artifact: %v", ErrEngineFailed, err)
	}

	return &Result{
		Transcript: transcript,
		Raw:        raw,
		WordCount:  CountWords(transcript.Text),
	}, nil
}

// CountWords counts whitespace-delimited tokens in the transcript text.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

var progressPattern = regexp.MustCompile(`(\d{1,3})%\|`)

// ParseProgress extracts a percentage from one line of engine diagnostics.
// The engine renders progress as "N%|" within its status bar output.
func ParseProgress(line string) (int, bool) {
	m := progressPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	percent, err := strconv.Atoi(m[1])
	if err != nil || percent > 100 {
		return 0, false
	}
	return percent, true
}

// ScanProgress reads engine diagnostics line by line, calling onPercent for
// every progress marker found. The engine redraws its status bar with
// carriage returns, so both CR and LF terminate a line.
func ScanProgress(r io.Reader, onPercent func(int)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(scanCRLF)
	for scanner.Scan() {
		if percent, ok := ParseProgress(scanner.Text()); ok {
			onPercent(percent)
		}
	}
}

// scanCRLF is a bufio.SplitFunc treating '\r' and '\n' both as terminators.
func scanCRLF(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func lastLine(s string) string {
	lines := strings.FieldsFunc(strings.TrimSpace(s), func(r rune) bool {
		return r == '\n' || r == '\r'
	})
	if len(lines) == 0 {
		return "no diagnostic output"
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
