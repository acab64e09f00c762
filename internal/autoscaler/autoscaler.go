// Package autoscaler is the Autoscaler: it watches the broker's queue
// telemetry, decides how many GPU worker instances the fleet needs, and
// drives the marketplace client to create or delete rentals to match.
package autoscaler

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/callscribe/internal/broker"
	"github.com/snarg/callscribe/internal/metrics"
)

// loadingThreshold is how long an instance may sit in "loading" before
// it's considered stuck. disconnectGrace is added on top of that for
// "running" instances the broker has never seen report in as a consumer.
const (
	loadingThreshold = 20 * time.Minute
	disconnectGrace  = 5 * time.Minute
	diskFullFraction = 0.9
)

// VRAMRequirements maps a model name to the VRAM (MB) a single
// concurrent transcription needs, before the implementation multiplier.
var VRAMRequirements = map[string]float64{
	"tiny.en":   1.5 * 1024,
	"base.en":   2 * 1024,
	"small.en":  3.5 * 1024,
	"medium.en": 6.5 * 1024,
	"large":     12 * 1024,
	"large-v2":  12 * 1024,
	"large-v3":  12 * 1024,
}

// ImplementationVRAMFactor scales VRAMRequirements down for engine
// implementations known to run leaner than the reference whisper build
// (quantized kernels, smaller runtime overhead).
var ImplementationVRAMFactor = map[string]float64{
	"faster-whisper": 0.4,
	"whisper.cpp":    0.4,
	"whispers2t":     0.5,
}

// VRAMRequired resolves the per-concurrency VRAM floor for model under
// implementation, defaulting to a factor of 1.0 for unknown implementations.
func VRAMRequired(model, implementation string) (float64, error) {
	base, ok := VRAMRequirements[model]
	if !ok {
		return 0, fmt.Errorf("autoscaler: unknown model %q", model)
	}
	factor, ok := ImplementationVRAMFactor[implementation]
	if !ok {
		factor = 1.0
	}
	return base * factor, nil
}

// Config configures an Autoscaler.
type Config struct {
	Min, Max int
	Interval time.Duration // how often the scaling decision runs
	Subject  string        // broker subject to read telemetry for

	Image          string
	GitCommit      string
	Model          string
	Implementation string
	CUDAFloor      string
	OnDemand       bool

	InternalBrokerHost string
	PublicHost         string
	BaseEnv            map[string]string

	BrokerURL string // identifies this fleet's instances among all rented ones
}

// Autoscaler runs the telemetry loop and the periodic scaling decision.
type Autoscaler struct {
	cfg Config

	broker      broker.Broker
	marketplace *Marketplace
	forbidden   *ForbiddenSet
	httpClient  *http.Client

	log zerolog.Logger

	mu      sync.Mutex
	samples []float64 // sliding window of ingress-rate samples

	runningMu sync.RWMutex
	running   []string
	pending   map[string]int
}

// New builds an Autoscaler.
func New(cfg Config, b broker.Broker, m *Marketplace, forbidden *ForbiddenSet, log zerolog.Logger) *Autoscaler {
	return &Autoscaler{
		cfg:         cfg,
		broker:      b,
		marketplace: m,
		forbidden:   forbidden,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		log:         log.With().Str("component", "autoscaler").Logger(),
		pending:     make(map[string]int),
	}
}

// Run starts the telemetry loop and blocks running the scaling decision
// on cfg.Interval, until ctx is canceled.
func (a *Autoscaler) Run(ctx context.Context) error {
	go a.telemetryLoop(ctx)

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			change, err := a.MaybeScale(ctx)
			if err != nil {
				a.log.Error().Err(err).Msg("scaling decision failed")
				continue
			}
			a.log.Info().Int("change", change).Dur("took", time.Since(start)).Msg("ran scaling decision")
		}
	}
}

// telemetryLoop polls the broker every 2 seconds and keeps a sliding
// window of the most recent Interval/2 ingress-rate samples.
func (a *Autoscaler) telemetryLoop(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	windowSize := int(a.cfg.Interval.Seconds() / 2)
	if windowSize < 1 {
		windowSize = 1
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := a.broker.Stats(ctx, a.cfg.Subject)
			if err != nil {
				a.log.Warn().Err(err).Msg("telemetry poll failed")
				continue
			}
			a.mu.Lock()
			a.samples = append(a.samples, stats.IngressRate)
			if len(a.samples) > windowSize {
				a.samples = a.samples[len(a.samples)-windowSize:]
			}
			a.mu.Unlock()
		}
	}
}

func (a *Autoscaler) avgIngressRate() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range a.samples {
		sum += s
	}
	return sum / float64(len(a.samples))
}

// needed implements the scaling-decision precedence from the current
// broker stats and the averaged ingress rate.
func needed(stats broker.Stats, avgIngress float64) int {
	current := stats.ConsumerCount
	switch {
	case avgIngress > 0.4 || stats.ConsumerCount == 0:
		return current + 1
	case stats.Depth > 400 && stats.ConsumerCount > 0:
		ackRatePerConsumer := stats.EgressRate / float64(stats.ConsumerCount)
		if ackRatePerConsumer <= 0 {
			return current + 1
		}
		timeToClear := float64(stats.Depth) / ackRatePerConsumer
		if timeToClear > 120 {
			return current + 1
		}
		return current
	case avgIngress < -0.5 && stats.Depth < 10:
		return current - 1
	default:
		return current
	}
}

// MaybeScale runs one full scaling cycle: cleanup, decision, act.
// Returns the net instance count change (positive = scaled up).
func (a *Autoscaler) MaybeScale(ctx context.Context) (int, error) {
	if _, err := a.cleanup(ctx); err != nil {
		return 0, fmt.Errorf("autoscaler: cleanup: %w", err)
	}

	stats, err := a.broker.Stats(ctx, a.cfg.Subject)
	if err != nil {
		return 0, fmt.Errorf("autoscaler: stats: %w", err)
	}

	wantInstances := needed(stats, a.avgIngressRate())
	a.log.Info().
		Float64("avg_ingress_rate", a.avgIngressRate()).
		Int64("depth", stats.Depth).
		Int("consumers", stats.ConsumerCount).
		Msg("evaluated scaling decision")

	a.runningMu.RLock()
	currentEffective := stats.ConsumerCount + len(a.pending)
	a.runningMu.RUnlock()

	target := wantInstances
	if target < a.cfg.Min {
		target = a.cfg.Min
	}
	if target > a.cfg.Max {
		target = a.cfg.Max
	}

	switch {
	case target > currentEffective:
		metrics.AutoscalerScalingDecisionsTotal.WithLabelValues("up").Inc()
		created, err := a.scaleUp(ctx, target-currentEffective)
		return created, err
	case target < currentEffective:
		metrics.AutoscalerScalingDecisionsTotal.WithLabelValues("down").Inc()
		deleted, err := a.scaleDown(ctx, currentEffective-target)
		return -deleted, err
	default:
		metrics.AutoscalerScalingDecisionsTotal.WithLabelValues("none").Inc()
		return 0, nil
	}
}

// cleanup deletes exited/stopped/stuck/disconnected/errored/disk-full
// instances, adding stuck and errored hosts to the forbidden set.
func (a *Autoscaler) cleanup(ctx context.Context) (int, error) {
	instances, err := a.ownedInstances(ctx)
	if err != nil {
		return 0, err
	}

	var toDelete []Instance
	var reasons []DeletionReason
	var forbid []string

	now := time.Now().Unix()
	for _, inst := range instances {
		age := now - inst.StartDate
		isStuck := inst.ActualStatus == "loading" && time.Duration(age)*time.Second > loadingThreshold
		isDisconnected := inst.ActualStatus == "running" &&
			time.Duration(age)*time.Second > loadingThreshold+disconnectGrace
		isErrored := inst.StatusMsg != "" && strings.Contains(strings.ToLower(inst.StatusMsg), "error")
		isExited := inst.ActualStatus == "exited" || inst.CurState == "stopped"
		isFull := inst.DiskSpace > 0 && inst.DiskUsage/inst.DiskSpace > diskFullFraction

		var reason DeletionReason
		switch {
		case isDisconnected:
			reason = ReasonDisconnected
		case isStuck:
			reason = ReasonStuckLoading
		case isErrored:
			reason = ReasonError
		case isExited:
			reason = ReasonExited
		case isFull:
			reason = ReasonDiskSpaceFull
		default:
			continue
		}

		toDelete = append(toDelete, inst)
		reasons = append(reasons, reason)
		if isStuck || isErrored {
			forbid = append(forbid, inst.Hostname())
		}
	}

	if len(forbid) > 0 && a.forbidden != nil {
		if err := a.forbidden.Add(forbid...); err != nil {
			a.log.Warn().Err(err).Msg("failed to persist forbidden hosts")
		}
	}

	for i, inst := range toDelete {
		if err := a.marketplace.Delete(ctx, inst.ID, reasons[i]); err != nil {
			a.log.Warn().Err(err).Int64("instance_id", inst.ID).Msg("failed to delete instance")
			continue
		}
		a.log.Info().
			Str("reason", string(reasons[i])).
			Int64("instance_id", inst.ID).
			Str("gpu", inst.GPUName).
			Msg("deleted instance")
	}

	a.refreshSets(ctx)
	return len(toDelete), nil
}

// scaleUp rents count new instances from the cheapest available offers.
func (a *Autoscaler) scaleUp(ctx context.Context, count int) (int, error) {
	vramRequired, err := VRAMRequired(a.cfg.Model, a.cfg.Implementation)
	if err != nil {
		return 0, err
	}
	vramFloor := vramRequired
	if vramFloor < 10*1024 {
		vramFloor = 10 * 1024
	}

	offers, err := a.marketplace.FindOffers(ctx, vramFloor, a.cfg.CUDAFloor, a.cfg.OnDemand)
	if err != nil {
		return 0, fmt.Errorf("scale up: find offers: %w", err)
	}

	a.runningMu.RLock()
	running := append([]string(nil), a.running...)
	a.runningMu.RUnlock()
	offers = FilterRentable(offers, running, a.forbidden)

	image := a.cfg.Image
	if resolved, err := ResolveImageDigest(ctx, a.httpClient, image); err == nil {
		image = resolved
	} else {
		a.log.Warn().Err(err).Str("image", image).Msg("could not resolve image digest, using tag as-is")
	}

	created := 0
	for created < count && len(offers) > 0 {
		offer := offers[0]
		offers = offers[1:]

		concurrency := Concurrency(offer, vramRequired)
		env := BuildEnv(a.cfg.BaseEnv, a.cfg.InternalBrokerHost, a.cfg.PublicHost, a.cfg.GitCommit, offer.Hostname(), concurrency)

		req := CreateRequest{
			ClientID: "me",
			Image:    image,
			Args:     []string{"worker"},
			Env:      env,
			Disk:     16,
			RunType:  "args",
		}
		if !a.cfg.OnDemand {
			req.Price = Bid(offer)
		}

		if err := a.marketplace.Create(ctx, offer.ID, req); err != nil {
			a.log.Warn().Err(err).Int64("offer_id", offer.ID).Msg("failed to create instance")
			continue
		}
		a.log.Info().
			Int64("offer_id", offer.ID).
			Str("gpu", offer.GPUName).
			Float64("dph_total", offer.DPHTotal).
			Msg("created instance")

		a.runningMu.Lock()
		a.running = append(a.running, offer.Hostname())
		a.runningMu.Unlock()
		created++
	}
	return created, nil
}

// scaleDown deletes count running instances, most expensive first.
func (a *Autoscaler) scaleDown(ctx context.Context, count int) (int, error) {
	instances, err := a.ownedInstances(ctx)
	if err != nil {
		return 0, err
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].DPHTotal > instances[j].DPHTotal })

	deleted := 0
	for _, inst := range instances {
		if deleted >= count {
			break
		}
		if err := a.marketplace.Delete(ctx, inst.ID, ReasonReduceReplicas); err != nil {
			a.log.Warn().Err(err).Int64("instance_id", inst.ID).Msg("failed to delete instance")
			continue
		}
		a.log.Info().Str("reason", string(ReasonReduceReplicas)).Int64("instance_id", inst.ID).Msg("deleted instance")
		deleted++
	}

	a.refreshSets(ctx)
	return deleted, nil
}

// ownedInstances returns only the instances launched by this fleet,
// identified by a matching CELERY_BROKER_URL in their environment.
func (a *Autoscaler) ownedInstances(ctx context.Context) ([]Instance, error) {
	all, err := a.marketplace.ListInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	owned := make([]Instance, 0, len(all))
	for _, inst := range all {
		if inst.ExtraEnv["CELERY_BROKER_URL"] == a.cfg.BrokerURL {
			owned = append(owned, inst)
		}
	}
	return owned, nil
}

// refreshSets rebuilds the running/pending hostname sets from the
// vendor's current view, so running and pending never both claim the
// same host and a crashed scaling cycle can't leak stale state.
func (a *Autoscaler) refreshSets(ctx context.Context) {
	instances, err := a.ownedInstances(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("failed to refresh instance sets")
		return
	}

	var running []string
	pending := make(map[string]int)
	for _, inst := range instances {
		h := inst.Hostname()
		if inst.ActualStatus == "running" {
			running = append(running, h)
			continue
		}
		hostname := inst.ExtraEnv["CELERY_HOSTNAME"]
		concurrency := 0
		if c, ok := inst.ExtraEnv["CELERY_CONCURRENCY"]; ok {
			concurrency, _ = strconv.Atoi(c)
		}
		if hostname != "" && concurrency > 0 {
			pending[h] = concurrency
		}
	}

	a.runningMu.Lock()
	a.running = running
	a.pending = pending
	a.runningMu.Unlock()

	metrics.AutoscalerInstances.WithLabelValues("running").Set(float64(len(running)))
	metrics.AutoscalerInstances.WithLabelValues("pending").Set(float64(len(pending)))
}
