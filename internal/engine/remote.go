package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// RemoteASRClient calls a whisper-asr-webservice-style endpoint that
// takes its options as query-string flags rather than multipart form
// fields (the OpenAIClient's convention). Distinct enough from
// OpenAIClient's request shape to warrant its own adapter rather than a
// shared code path.
type RemoteASRClient struct {
	baseURL string
	model   string
	timeout time.Duration
	client  *http.Client
}

type remoteASRResponse struct {
	Text     string              `json:"text"`
	Language string              `json:"language"`
	Segments []remoteASRSegment  `json:"segments"`
}

type remoteASRSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// NewRemoteASRClient builds a client against baseURL (e.g.
// "http://asr:9000/asr").
func NewRemoteASRClient(baseURL, model string, timeout time.Duration) *RemoteASRClient {
	return &RemoteASRClient{baseURL: baseURL, model: model, timeout: timeout, client: &http.Client{Timeout: timeout}}
}

func (c *RemoteASRClient) Family() string { return "remote-asr" }
func (c *RemoteASRClient) Model() string  { return c.model }

// Transcribe posts the audio file body with options encoded as query
// parameters, per whisper-asr-webservice's `/asr` contract.
func (c *RemoteASRClient) Transcribe(ctx context.Context, audioPath string, opts Options) (*Result, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("audio_file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}
	w.Close()

	q := url.Values{}
	q.Set("task", "transcribe")
	q.Set("output", "json")
	q.Set("word_timestamps", "false")
	if c.model != "" {
		q.Set("model", c.model)
	}
	if opts.Language != "" {
		q.Set("language", opts.Language)
	}
	if opts.VadFilter {
		q.Set("vad_filter", "true")
	}
	if opts.Prompt != "" {
		q.Set("initial_prompt", opts.Prompt)
	}
	if opts.BeamSize > 0 {
		q.Set("beam_size", strconv.Itoa(opts.BeamSize))
	}
	if opts.CompressionRatioThreshold > 0 {
		q.Set("compression_ratio_threshold", strconv.FormatFloat(opts.CompressionRatioThreshold, 'f', 2, 64))
	}

	reqURL := c.baseURL + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote ASR request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote ASR error (status %d): %s", resp.StatusCode, string(body))
	}

	var parsed remoteASRResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	segs := make([]Segment, len(parsed.Segments))
	var duration float64
	for i, s := range parsed.Segments {
		segs[i] = Segment{Start: s.Start, End: s.End, Text: s.Text}
		if s.End > duration {
			duration = s.End
		}
	}

	return &Result{
		Text:     parsed.Text,
		Language: parsed.Language,
		Duration: duration,
		Segments: segs,
	}, nil
}
