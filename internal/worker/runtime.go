// Package worker is the Worker Runtime: it pulls call jobs off the
// Queue Broker and drives them through download, audio conversion,
// radio-type shaping, engine transcription, post-processing, call-store
// persistence, search indexing, and notification dispatch.
package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/callscribe/internal/broker"
	"github.com/snarg/callscribe/internal/callerr"
	"github.com/snarg/callscribe/internal/calljob"
	"github.com/snarg/callscribe/internal/callstore"
	"github.com/snarg/callscribe/internal/engine"
	"github.com/snarg/callscribe/internal/metadata"
	"github.com/snarg/callscribe/internal/metrics"
	"github.com/snarg/callscribe/internal/notify"
	"github.com/snarg/callscribe/internal/postprocess"
	"github.com/snarg/callscribe/internal/search"
	"github.com/snarg/callscribe/internal/shaper"
)

// Subjects the Worker Runtime consumes: the primary transcription queue
// and the retranscribe queue. Both share the exact same handling logic;
// the retranscribe queue just always carries a job with ID set.
const (
	SubjectTranscribe   = "calls.transcribe"
	SubjectRetranscribe = "calls.retranscribe"
)

// Config configures a Runtime.
type Config struct {
	EngineFamily string
	EngineModel  string

	CleanupRules []postprocess.Rule

	// RadioIDs fills in friendly tags/prompts for source list entries the
	// call's own metadata left untagged. Nil means no replacement rules
	// are configured.
	RadioIDs *metadata.RadioIDReplacer

	VadFilterDigital bool
	VadFilterAnalog  bool

	Concurrency     int
	ProviderTimeout time.Duration

	// ConvertBinary and ConvertArgs build the external command that
	// converts downloaded audio into the PCM wav the engine expects.
	// ConvertArgs receives (inputPath, outputPath).
	ConvertBinary string
	ConvertArgs   func(in, out string) []string
}

// DefaultConvertArgs invokes ffmpeg to produce 16kHz mono PCM wav,
// overwriting without prompting, matching what every engine adapter in
// this package expects as input.
func DefaultConvertArgs(in, out string) []string {
	return []string{"-y", "-i", in, "-ar", "16000", "-ac", "1", "-f", "wav", out}
}

// Runtime is the Worker Runtime: one instance per process, running
// Config.Concurrency concurrent job handlers.
type Runtime struct {
	cfg Config

	registry *engine.Registry
	engineMu sync.Mutex // serializes engine invocation; one model instance per process

	calls    callstore.Store
	indexer  *search.Indexer
	notifier *notify.Notifier

	health *Health
	log    zerolog.Logger

	httpClient *http.Client

	terminate chan struct{}
	termOnce  sync.Once
}

// New builds a Runtime. registry must already have the configured
// engine family's factory registered.
func New(cfg Config, registry *engine.Registry, calls callstore.Store, indexer *search.Indexer, notifier *notify.Notifier, log zerolog.Logger) *Runtime {
	if cfg.ConvertBinary == "" {
		cfg.ConvertBinary = "ffmpeg"
	}
	if cfg.ConvertArgs == nil {
		cfg.ConvertArgs = DefaultConvertArgs
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Runtime{
		cfg:        cfg,
		registry:   registry,
		calls:      calls,
		indexer:    indexer,
		notifier:   notifier,
		health:     &Health{},
		log:        log.With().Str("component", "worker").Logger(),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		terminate:  make(chan struct{}),
	}
}

// Terminated is closed once the runtime's health counters cross the
// self-termination thresholds. cmd/worker selects on it to exit.
func (r *Runtime) Terminated() <-chan struct{} { return r.terminate }

// Health exposes the runtime's running totals for metrics.
func (r *Runtime) Health() *Health { return r.health }

// Run launches Config.Concurrency handlers against both the
// transcription and retranscribe subjects and blocks until ctx is
// canceled or any Consume call returns an error.
func (r *Runtime) Run(ctx context.Context, b broker.Broker) error {
	errCh := make(chan error, 2*r.cfg.Concurrency)
	var wg sync.WaitGroup

	start := func(subject string) {
		handler := func(ctx context.Context, msg broker.Message) { r.handle(ctx, subject, msg) }
		for i := 0; i < r.cfg.Concurrency; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := b.Consume(ctx, subject, handler); err != nil && ctx.Err() == nil {
					errCh <- fmt.Errorf("consume %s: %w", subject, err)
				}
			}()
		}
	}
	start(SubjectTranscribe)
	start(SubjectRetranscribe)

	go func() {
		wg.Wait()
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}

// handle is the broker.Handler entry point for one delivered message.
func (r *Runtime) handle(ctx context.Context, subject string, msg broker.Message) {
	start := time.Now()
	err := r.processJob(ctx, msg.Data)
	metrics.JobDuration.WithLabelValues(subject).Observe(time.Since(start).Seconds())

	oc, delay := decide(err, msg.DeliveryAttempt)
	switch oc {
	case outcomeAck:
		if err != nil {
			r.health.RecordFailure()
			metrics.JobsTotal.WithLabelValues(subject, "failure").Inc()
			r.log.Warn().Err(err).Msg("job terminally failed, acking")
		} else {
			r.health.RecordSuccess()
			metrics.JobsTotal.WithLabelValues(subject, "success").Inc()
		}
		if ackErr := msg.Ack(); ackErr != nil {
			r.log.Warn().Err(ackErr).Msg("ack failed")
		}
	case outcomeNack:
		r.health.RecordRetry()
		metrics.JobsTotal.WithLabelValues(subject, "retry").Inc()
		r.log.Warn().Err(err).Dur("delay", delay).Msg("job failed, nacking for redelivery")
		if nackErr := msg.Nack(delay); nackErr != nil {
			r.log.Warn().Err(nackErr).Msg("nack failed")
		}
	}

	if r.health.ShouldTerminate() {
		success, failure, retry := r.health.Snapshot()
		r.log.Error().Int64("success", success).Int64("failure", failure).Int64("retry", retry).
			Msg("health thresholds crossed with no successful job, requesting termination")
		r.termOnce.Do(func() { close(r.terminate) })
	}
}

// processJob runs the full per-job pipeline. A returned error is always
// a *callerr.Error; callers that need the classification should use
// callerr.ClassifyOf.
func (r *Runtime) processJob(ctx context.Context, data []byte) error {
	job, err := calljob.Decode(data)
	if err != nil {
		return callerr.Wrap(callerr.KindInvalidInput, "decode job", err)
	}
	call := job.Metadata
	if err := call.Valid(); err != nil {
		return callerr.Wrap(callerr.KindInvalidInput, "invalid call metadata", err)
	}

	// 1. Download audio to a temporary file.
	audioPath, err := r.download(ctx, job.AudioURL)
	if err != nil {
		return callerr.Wrap(callerr.KindTransientExternal, "download audio", err)
	}
	defer os.Remove(audioPath)

	// 2. Convert to the engine's expected PCM wav; delete the source on completion.
	wavPath, err := r.convert(ctx, audioPath)
	if err != nil {
		return callerr.Wrap(callerr.KindTransientExternal, "convert audio", err)
	}
	os.Remove(audioPath)
	defer os.Remove(wavPath)

	// 3. Radio-Type Shaper -> Engine Adapter -> Post-Processor.
	engineFamily := r.cfg.EngineFamily
	if job.WhisperImplementation != "" {
		engineFamily = job.WhisperImplementation
	}
	provider, err := r.registry.Get(engineFamily, r.cfg.EngineModel)
	if err != nil {
		return callerr.Wrap(callerr.KindConfigurationFatal, "resolve engine provider", err)
	}

	base := engine.Options{}
	var opts engine.Options
	isDigital := call.AudioType == metadata.AudioDigital || call.AudioType == metadata.AudioDigitalTDMA
	if isDigital {
		if r.cfg.RadioIDs != nil {
			r.cfg.RadioIDs.Apply(call.ShortName, call.SrcList)
		}
		opts = shaper.DigitalOptions(base, call.SrcList, r.cfg.VadFilterDigital)
	} else if call.AudioType == metadata.AudioAnalog {
		opts = shaper.AnalogOptions(base, job.Prompt, r.cfg.VadFilterAnalog)
	} else {
		return callerr.New(callerr.KindInvalidInput, "unsupported audio_type: "+string(call.AudioType))
	}

	result, err := r.transcribe(ctx, provider, wavPath, opts)
	if err != nil {
		metrics.EngineErrorsTotal.WithLabelValues(engineFamily, callerr.KindTransientExternal.String()).Inc()
		return callerr.Wrap(callerr.KindTransientExternal, "engine transcribe", err)
	}

	cleaned, err := postprocess.Cleanup(result.Segments, r.cfg.CleanupRules)
	if err != nil {
		return err // already classified (KindTranscriptInvalid / KindTranscriptTooShort)
	}

	var tr *metadata.Transcript
	if isDigital {
		tr, err = shaper.Digital(call.SrcList, cleaned)
	} else {
		tr, err = shaper.Analog(cleaned)
	}
	if err != nil {
		return err // already classified by Transcript.Validate
	}

	// 4. Persist transcript back to the call store.
	rawTranscript, err := tr.Raw()
	if err != nil {
		return callerr.Wrap(callerr.KindTransientExternal, "encode raw transcript", err)
	}
	rawMetadata, err := call.MarshalRaw()
	if err != nil {
		return callerr.Wrap(callerr.KindTransientExternal, "encode raw metadata", err)
	}

	idStr := job.ID
	if job.IsRetranscribe() {
		id, perr := strconv.ParseInt(job.ID, 10, 64)
		if perr != nil {
			return callerr.Wrap(callerr.KindInvalidInput, "job id is not a call store id", perr)
		}
		if err := r.calls.UpdateTranscript(ctx, id, rawTranscript, tr.Text()); err != nil {
			return callerr.Wrap(callerr.KindTransientExternal, "update transcript", err)
		}
	} else {
		id, ierr := r.calls.Insert(ctx, &callstore.Record{
			RawMetadata:         rawMetadata,
			RawAudioURL:         job.AudioURL,
			RawTranscript:       rawTranscript,
			TranscriptPlaintext: tr.Text(),
			StartTime:           time.Unix(call.StartTime, 0),
		})
		if ierr != nil {
			return callerr.Wrap(callerr.KindTransientExternal, "insert call record", ierr)
		}
		idStr = strconv.FormatInt(id, 10)
	}

	// 5. Hand the document to the Search Indexer.
	doc, err := search.BuildDocument(idStr, call, job.AudioURL, tr, nil, "")
	if err != nil {
		return callerr.Wrap(callerr.KindTransientExternal, "build search document", err)
	}
	deepLink, err := r.indexer.IndexCall(ctx, idStr, doc, job.IndexName)
	if err != nil {
		return callerr.Wrap(callerr.KindTransientExternal, "index call", err)
	}

	// 6. Dispatch notifications only for first-pass jobs.
	if r.notifier != nil {
		r.notifier.Dispatch(ctx, call, tr, job.AudioURL, deepLink, job.IsRetranscribe())
	}

	return nil
}

// transcribe serializes engine invocation behind engineMu: the
// underlying model instance is not safe for concurrent use on one GPU.
// Everything else in processJob (download, conversion, store writes,
// indexing, notification) runs outside this lock.
func (r *Runtime) transcribe(ctx context.Context, provider engine.Provider, audioPath string, opts engine.Options) (*engine.Result, error) {
	timeout := r.cfg.ProviderTimeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r.engineMu.Lock()
	defer r.engineMu.Unlock()
	return provider.Transcribe(tctx, audioPath, opts)
}

func (r *Runtime) download(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	res, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download audio: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return "", fmt.Errorf("download audio: status %d", res.StatusCode)
	}

	f, err := os.CreateTemp("", "callscribe-audio-*"+extFromURL(url))
	if err != nil {
		return "", fmt.Errorf("create temp audio file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, res.Body); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("stream audio to disk: %w", err)
	}
	return f.Name(), nil
}

func extFromURL(url string) string {
	if i := strings.LastIndex(url, "."); i >= 0 && i > strings.LastIndex(url, "/") {
		return url[i:]
	}
	return ".audio"
}

func (r *Runtime) convert(ctx context.Context, inputPath string) (string, error) {
	f, err := os.CreateTemp("", "callscribe-wav-*.wav")
	if err != nil {
		return "", fmt.Errorf("create temp wav file: %w", err)
	}
	outPath := f.Name()
	f.Close()

	args := r.cfg.ConvertArgs(inputPath, outPath)
	cmd := exec.CommandContext(ctx, r.cfg.ConvertBinary, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(outPath)
		return "", fmt.Errorf("%s: %w: %s", r.cfg.ConvertBinary, err, string(out))
	}
	return outPath, nil
}
