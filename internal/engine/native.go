package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// NativeProvider runs whisper.cpp in-process via CGO bindings, avoiding
// the HTTP round trip of OpenAIClient entirely. The model is loaded once
// and shared across jobs; whisper.cpp contexts (one per Transcribe call)
// are not safe for concurrent use, so calls are serialized with a mutex.
type NativeProvider struct {
	model whisperlib.Model
	path  string

	mu sync.Mutex
}

// NewNativeProvider loads a whisper.cpp model file (.bin) from modelPath.
// The caller must call Close when the provider is no longer needed.
func NewNativeProvider(modelPath string) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("engine: native provider requires a model path")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("engine: load whisper.cpp model %q: %w", modelPath, err)
	}
	return &NativeProvider{model: model, path: modelPath}, nil
}

func (p *NativeProvider) Family() string { return "native" }
func (p *NativeProvider) Model() string  { return p.path }

// Close releases the loaded model.
func (p *NativeProvider) Close() error {
	if p.model == nil {
		return nil
	}
	return p.model.Close()
}

// Transcribe decodes a 16-bit PCM mono WAV file and runs whisper.cpp
// inference against it. Audio must already be resampled to the rate the
// model expects (16kHz) — that's the preprocessing stage's job, not
// this provider's.
func (p *NativeProvider) Transcribe(ctx context.Context, audioPath string, opts Options) (*Result, error) {
	samples, err := readWAVMono16(audioPath)
	if err != nil {
		return nil, fmt.Errorf("engine: read wav for native inference: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	wctx, err := p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("engine: create whisper.cpp context: %w", err)
	}

	lang := opts.Language
	if lang == "" {
		lang = "en"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return nil, fmt.Errorf("engine: set whisper.cpp language %q: %w", lang, err)
	}
	if opts.BeamSize > 0 {
		wctx.SetBeamSize(opts.BeamSize)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("engine: whisper.cpp process: %w", err)
	}

	var segs []Segment
	var textParts []string
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("engine: read whisper.cpp segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		segs = append(segs, Segment{
			Start: seg.Start.Seconds(),
			End:   seg.End.Seconds(),
			Text:  text,
		})
		textParts = append(textParts, text)
	}

	duration := float64(len(samples)) / 16000.0
	return &Result{
		Text:     strings.Join(textParts, " "),
		Language: lang,
		Duration: duration,
		Segments: segs,
	}, nil
}

// readWAVMono16 reads a canonical 16-bit PCM mono WAV file into
// normalized float32 samples, the format whisper.cpp's Process expects.
func readWAVMono16(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var riffHeader [12]byte
	if _, err := io.ReadFull(f, riffHeader[:]); err != nil {
		return nil, fmt.Errorf("read RIFF header: %w", err)
	}
	if string(riffHeader[0:4]) != "RIFF" || string(riffHeader[8:12]) != "WAVE" {
		return nil, errors.New("not a RIFF/WAVE file")
	}

	var bitsPerSample uint16
	var numChannels uint16
	var sampleRate uint32
	for {
		var chunkHeader [8]byte
		if _, err := io.ReadFull(f, chunkHeader[:]); err != nil {
			return nil, fmt.Errorf("read chunk header: %w", err)
		}
		chunkID := string(chunkHeader[0:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])

		if chunkID == "fmt " {
			fmtChunk := make([]byte, chunkSize)
			if _, err := io.ReadFull(f, fmtChunk); err != nil {
				return nil, fmt.Errorf("read fmt chunk: %w", err)
			}
			numChannels = binary.LittleEndian.Uint16(fmtChunk[2:4])
			sampleRate = binary.LittleEndian.Uint32(fmtChunk[4:8])
			bitsPerSample = binary.LittleEndian.Uint16(fmtChunk[14:16])
			continue
		}
		if chunkID == "data" {
			raw := make([]byte, chunkSize)
			if _, err := io.ReadFull(f, raw); err != nil {
				return nil, fmt.Errorf("read data chunk: %w", err)
			}
			if bitsPerSample != 16 {
				return nil, fmt.Errorf("unsupported bit depth %d, expected 16", bitsPerSample)
			}
			if numChannels != 1 {
				return nil, fmt.Errorf("unsupported channel count %d, expected mono", numChannels)
			}
			if sampleRate != 16000 {
				return nil, fmt.Errorf("unsupported sample rate %d, expected 16000", sampleRate)
			}
			samples := make([]float32, len(raw)/2)
			for i := range samples {
				v := int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
				samples[i] = float32(v) / 32768.0
			}
			return samples, nil
		}

		// Skip any other chunk (LIST, fact, etc), padded to even length.
		skip := int64(chunkSize)
		if chunkSize%2 == 1 {
			skip++
		}
		if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
			return nil, fmt.Errorf("skip chunk %q: %w", chunkID, err)
		}
	}
}
