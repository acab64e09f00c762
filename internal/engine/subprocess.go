package engine

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// SubprocessProvider drives a CLI speech-to-text binary (whisper.cpp's
// `main`/`whisper-cli`, or any tool with the same `--output-csv`
// convention) as an external process, parsing its CSV segment output.
// This backs deployments that build whisper.cpp from source rather than
// linking its Go bindings, and any other CLI transcriber that emits the
// same column layout.
type SubprocessProvider struct {
	binary    string
	modelPath string
	extraArgs []string
}

// NewSubprocessProvider configures a CLI backend. extraArgs are appended
// verbatim after the audio/model/output flags (e.g. "-t", "4" for thread
// count).
func NewSubprocessProvider(binary, modelPath string, extraArgs ...string) (*SubprocessProvider, error) {
	if _, err := exec.LookPath(binary); err != nil {
		return nil, fmt.Errorf("engine: subprocess binary %q not found in PATH: %w", binary, err)
	}
	return &SubprocessProvider{binary: binary, modelPath: modelPath, extraArgs: extraArgs}, nil
}

func (p *SubprocessProvider) Family() string { return "subprocess" }
func (p *SubprocessProvider) Model() string  { return p.modelPath }

// Transcribe invokes the configured binary against audioPath, requesting
// CSV segment output, then parses and cleans up the CSV file.
func (p *SubprocessProvider) Transcribe(ctx context.Context, audioPath string, opts Options) (*Result, error) {
	csvPath := audioPath + ".csv"
	defer os.Remove(csvPath)

	args := []string{
		"-m", p.modelPath,
		"-f", audioPath,
		"-ocsv",
		"-of", strings.TrimSuffix(csvPath, ".csv"),
		"-l", defaultLang(opts.Language),
	}
	if opts.Prompt != "" {
		args = append(args, "--prompt", opts.Prompt)
	}
	if opts.BeamSize > 0 {
		args = append(args, "-bs", strconv.Itoa(opts.BeamSize))
	}
	args = append(args, p.extraArgs...)

	cmd := exec.CommandContext(ctx, p.binary, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("engine: run %s: %w: %s", filepath.Base(p.binary), err, stderr.String())
	}

	segs, err := parseSegmentCSV(csvPath)
	if err != nil {
		return nil, fmt.Errorf("engine: parse subprocess CSV output: %w", err)
	}

	var textParts []string
	var duration float64
	for _, s := range segs {
		textParts = append(textParts, s.Text)
		if s.End > duration {
			duration = s.End
		}
	}

	return &Result{
		Text:     strings.Join(textParts, " "),
		Language: defaultLang(opts.Language),
		Duration: duration,
		Segments: segs,
	}, nil
}

func defaultLang(lang string) string {
	if lang == "" {
		return "en"
	}
	return lang
}

// placeholderMarkers are substrings whisper.cpp emits in CSV rows for
// non-speech audio (silence/background noise markers) that should never
// surface as transcript text. Checked by containment, not exact match,
// since whisper.cpp sometimes pads these markers with surrounding words.
var placeholderMarkers = []string{"[BLANK_AUDIO]", "[SOUND]"}

func isPlaceholderLine(text string) bool {
	if text == "" {
		return true
	}
	for _, marker := range placeholderMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// parseSegmentCSV reads a whisper.cpp-style CSV (start_ms,end_ms,text
// columns, no header) into Segments, dropping placeholder lines and
// blank text.
func parseSegmentCSV(path string) ([]Segment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var segs []Segment
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read CSV record: %w", err)
		}
		if len(record) < 3 {
			continue
		}
		text := strings.TrimSpace(record[2])
		if isPlaceholderLine(text) {
			continue
		}
		startMs, err := strconv.ParseFloat(strings.TrimSpace(record[0]), 64)
		if err != nil {
			continue
		}
		endMs, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
		if err != nil {
			continue
		}
		segs = append(segs, Segment{
			Start: startMs / 1000.0,
			End:   endMs / 1000.0,
			Text:  text,
		})
	}
	return segs, nil
}
