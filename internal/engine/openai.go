package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// OpenAIClient calls an OpenAI-compatible /v1/audio/transcriptions
// endpoint. This also serves servers that mimic that API surface
// (speaches, a self-hosted faster-whisper server, etc).
type OpenAIClient struct {
	url     string
	model   string
	apiKey  string
	timeout time.Duration
	client  *http.Client
}

// openAIResponse is the parsed verbose_json response shape.
type openAIResponse struct {
	Text     string            `json:"text"`
	Language string            `json:"language"`
	Duration float64           `json:"duration"`
	Segments []openAISegment   `json:"segments"`
}

type openAISegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// NewOpenAIClient builds a client against an OpenAI-compatible endpoint.
// apiKey may be empty for self-hosted servers that don't require one.
func NewOpenAIClient(url, model, apiKey string, timeout time.Duration) *OpenAIClient {
	return &OpenAIClient{
		url:     url,
		model:   model,
		apiKey:  apiKey,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *OpenAIClient) Family() string { return "openai" }
func (c *OpenAIClient) Model() string  { return c.model }

// Transcribe uploads the audio file as multipart/form-data. language
// (default "en"), response_format and temperature are always sent, model
// when one is configured; prompt, hotwords, beam_size and the other
// option fields are sent only when set.
func (c *OpenAIClient) Transcribe(ctx context.Context, audioPath string, opts Options) (*Result, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}

	if c.model != "" {
		w.WriteField("model", c.model)
	}
	lang := opts.Language
	if lang == "" {
		lang = "en"
	}
	w.WriteField("language", lang)
	w.WriteField("response_format", "verbose_json")
	w.WriteField("temperature", fmt.Sprintf("%.2f", opts.Temperature))

	if opts.Prompt != "" {
		w.WriteField("prompt", opts.Prompt)
	}
	if opts.Hotwords != "" {
		w.WriteField("hotwords", opts.Hotwords)
	}
	if opts.BeamSize > 0 {
		w.WriteField("beam_size", fmt.Sprintf("%d", opts.BeamSize))
	}
	if opts.RepetitionPenalty > 0 && opts.RepetitionPenalty != 1.0 {
		w.WriteField("repetition_penalty", fmt.Sprintf("%.2f", opts.RepetitionPenalty))
	}
	if opts.NoRepeatNgramSize > 0 {
		w.WriteField("no_repeat_ngram_size", fmt.Sprintf("%d", opts.NoRepeatNgramSize))
	}
	if opts.ConditionOnPreviousText != nil {
		w.WriteField("condition_on_previous_text", fmt.Sprintf("%t", *opts.ConditionOnPreviousText))
	}
	if opts.NoSpeechThreshold > 0 {
		w.WriteField("no_speech_threshold", fmt.Sprintf("%.2f", opts.NoSpeechThreshold))
	}
	if opts.HallucinationSilenceThreshold > 0 {
		w.WriteField("hallucination_silence_threshold", fmt.Sprintf("%.2f", opts.HallucinationSilenceThreshold))
	}
	if opts.MaxNewTokens > 0 {
		w.WriteField("max_new_tokens", fmt.Sprintf("%d", opts.MaxNewTokens))
	}
	if opts.CompressionRatioThreshold > 0 {
		w.WriteField("compression_ratio_threshold", fmt.Sprintf("%.2f", opts.CompressionRatioThreshold))
	}
	if opts.VadFilter {
		w.WriteField("vad_filter", "true")
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai transcription request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai transcription error (status %d): %s", resp.StatusCode, string(body))
	}

	var parsed openAIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	segs := make([]Segment, len(parsed.Segments))
	for i, s := range parsed.Segments {
		segs[i] = Segment{Start: s.Start, End: s.End, Text: s.Text}
	}
	return &Result{
		Text:     parsed.Text,
		Language: parsed.Language,
		Duration: parsed.Duration,
		Segments: segs,
	}, nil
}
