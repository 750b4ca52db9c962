package format

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/Segerberg/whisper-ui/internal/models"
	"github.com/Segerberg/whisper-ui/internal/store"
)

func sampleResult() models.TranscriptResult {
	return models.TranscriptResult{
		Text:     " Hello world. This is a test.",
		Language: "en",
		Segments: []models.Segment{
			{ID: 0, Start: 0, End: 2.5, Text: " Hello world."},
			{ID: 1, Start: 2.5, End: 3661.042, Text: " This is a test."},
		},
	}
}

func TestRenderText(t *testing.T) {
	got, err := Render(sampleResult(), FormatText)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "Hello world.\nThis is a test.\n"
	if string(got) != want {
		t.Errorf("txt = %q, want %q", got, want)
	}
}

func TestRenderSRT(t *testing.T) {
	got, err := Render(sampleResult(), FormatSRT)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "1\n00:00:00,000 --> 00:00:02,500\nHello world.\n\n" +
		"2\n00:00:02,500 --> 01:01:01,042\nThis is a test.\n\n"
	if string(got) != want {
		t.Errorf("srt = %q, want %q", got, want)
	}
}

func TestRenderVTT(t *testing.T) {
	got, err := Render(sampleResult(), FormatVTT)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "WEBVTT\n\n" +
		"00:00:00.000 --> 00:00:02.500\nHello world.\n\n" +
		"00:00:02.500 --> 01:01:01.042\nThis is a test.\n\n"
	if string(got) != want {
		t.Errorf("vtt = %q, want %q", got, want)
	}
}

func TestRenderTSV(t *testing.T) {
	got, err := Render(sampleResult(), FormatTSV)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "start\tend\ttext\n" +
		"0\t2500\tHello world.\n" +
		"2500\t3661042\tThis is a test.\n"
	if string(got) != want {
		t.Errorf("tsv = %q, want %q", got, want)
	}
}

// TestRenderDeterministic checks that re-rendering yields identical bytes
// for every format.
func TestRenderDeterministic(t *testing.T) {
	for _, f := range All() {
		first, err := Render(sampleResult(), f)
		if err != nil {
			t.Fatalf("render %s: %v", f, err)
		}
		second, err := Render(sampleResult(), f)
		if err != nil {
			t.Fatalf("render %s again: %v", f, err)
		}
		if !bytes.Equal(first, second) {
			t.Errorf("%s render is not deterministic", f)
		}
	}
}

func TestRenderEmptyResult(t *testing.T) {
	empty := models.TranscriptResult{Language: "en"}

	got, err := Render(empty, FormatText)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("txt of empty result = %q, want empty", got)
	}

	got, err = Render(empty, FormatVTT)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if string(got) != "WEBVTT\n\n" {
		t.Errorf("vtt of empty result = %q", got)
	}
}

func TestParse(t *testing.T) {
	for _, name := range []string{"txt", "srt", "vtt", "tsv", "json"} {
		if _, err := Parse(name); err != nil {
			t.Errorf("Parse(%q): %v", name, err)
		}
	}
	if _, err := Parse("docx"); err == nil {
		t.Error("Parse(docx) succeeded, want error")
	}
}

// TestMaterializerWriteAll verifies one artifact per format appears under
// the audio stem and that rewriting overwrites in place.
func TestMaterializerWriteAll(t *testing.T) {
	dir := t.TempDir()
	files := store.NewFileStore(filepath.Join(dir, "uploads"), filepath.Join(dir, "data"))
	m := NewMaterializer(files)

	if err := m.WriteAll("lecture.mp3", sampleResult()); err != nil {
		t.Fatalf("write all: %v", err)
	}

	for _, f := range All() {
		name := "lecture." + string(f)
		first, err := os.ReadFile(files.ArtifactPath(name))
		if err != nil {
			t.Fatalf("artifact %s missing: %v", name, err)
		}

		if _, err := m.Write("lecture.mp3", sampleResult(), f); err != nil {
			t.Fatalf("rewrite %s: %v", name, err)
		}
		second, err := os.ReadFile(files.ArtifactPath(name))
		if err != nil {
			t.Fatalf("reread %s: %v", name, err)
		}
		if !bytes.Equal(first, second) {
			t.Errorf("artifact %s changed across identical writes", name)
		}
	}
}
