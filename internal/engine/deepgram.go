package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

const deepgramBaseURL = "https://api.deepgram.com/v1/listen"

// DeepgramClient calls Deepgram's prerecorded transcription API.
type DeepgramClient struct {
	baseURL string
	apiKey  string
	model   string
	timeout time.Duration
	client  *http.Client
}

type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
				Paragraphs struct {
					Paragraphs []struct {
						Sentences []struct {
							Text  string  `json:"text"`
							Start float64 `json:"start"`
							End   float64 `json:"end"`
						} `json:"sentences"`
					} `json:"paragraphs"`
				} `json:"paragraphs"`
			} `json:"alternatives"`
			DetectedLanguage string `json:"detected_language"`
		} `json:"channels"`
	} `json:"results"`
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
}

// NewDeepgramClient builds a Deepgram prerecorded-audio client.
func NewDeepgramClient(apiKey, model string, timeout time.Duration) *DeepgramClient {
	return &DeepgramClient{
		baseURL: deepgramBaseURL,
		apiKey:  apiKey,
		model:   model,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *DeepgramClient) Family() string { return "deepgram" }
func (c *DeepgramClient) Model() string  { return c.model }

// Transcribe uploads raw audio bytes to Deepgram, requesting paragraph
// segmentation so the result carries sentence-level start/end timing
// comparable to the other engines' segment output.
func (c *DeepgramClient) Transcribe(ctx context.Context, audioPath string, opts Options) (*Result, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	q := url.Values{}
	q.Set("model", c.model)
	q.Set("paragraphs", "true")
	q.Set("punctuate", "true")
	if opts.Language != "" {
		q.Set("language", opts.Language)
	} else {
		q.Set("detect_language", "true")
	}
	if opts.VadFilter {
		q.Set("vad_events", "true")
	}
	if opts.Hotwords != "" {
		q.Set("keywords", opts.Hotwords)
	}

	reqURL := c.baseURL + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, f)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Content-Type", "audio/mpeg")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("deepgram API error (status %d): %s", resp.StatusCode, string(body))
	}

	var parsed deepgramResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Results.Channels) == 0 || len(parsed.Results.Channels[0].Alternatives) == 0 {
		return &Result{Duration: parsed.Metadata.Duration}, nil
	}

	alt := parsed.Results.Channels[0].Alternatives[0]
	var segs []Segment
	for _, p := range alt.Paragraphs.Paragraphs {
		for _, s := range p.Sentences {
			segs = append(segs, Segment{Start: s.Start, End: s.End, Text: s.Text})
		}
	}

	return &Result{
		Text:     alt.Transcript,
		Language: parsed.Results.Channels[0].DetectedLanguage,
		Duration: parsed.Metadata.Duration,
		Segments: segs,
	}, nil
}

