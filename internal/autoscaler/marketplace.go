package autoscaler

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Offer is one rentable GPU instance advertised by the marketplace.
type Offer struct {
	ID       int64   `json:"id"`
	MachineID int64  `json:"machine_id"`
	HostID   int64   `json:"host_id"`
	GPUName  string  `json:"gpu_name"`
	GPURAM   float64 `json:"gpu_ram"`
	NumGPUs  int     `json:"num_gpus"`
	DPHTotal float64 `json:"dph_total"`
	CUDAMax  string  `json:"cuda_max_good"`
	Rentable bool    `json:"rentable"`
}

// Hostname is the stable vendor-assigned identity of an offer or a
// running instance, used for the running/forbidden-set membership
// checks. It never changes across an instance's lifetime.
func (o Offer) Hostname() string {
	return fmt.Sprintf("%d.%d.vast.ai", o.MachineID, o.HostID)
}

// Instance is a currently running or pending rental.
type Instance struct {
	ID             int64             `json:"id"`
	MachineID      int64             `json:"machine_id"`
	HostID         int64             `json:"host_id"`
	GPUName        string            `json:"gpu_name"`
	ActualStatus   string            `json:"actual_status"`
	CurState       string            `json:"cur_state"`
	StatusMsg      string            `json:"status_msg"`
	StartDate      int64             `json:"start_date"`
	DPHTotal       float64           `json:"dph_total"`
	DiskUsage      float64           `json:"disk_usage"`
	DiskSpace      float64           `json:"disk_space"`
	ExtraEnv       map[string]string `json:"-"`
	rawExtraEnv    [][2]string
}

// Hostname matches Offer.Hostname's format so the two can be compared.
func (i Instance) Hostname() string {
	return fmt.Sprintf("%d.%d.vast.ai", i.MachineID, i.HostID)
}

func (i *Instance) UnmarshalJSON(data []byte) error {
	type alias Instance
	var aux struct {
		alias
		ExtraEnv [][2]string `json:"extra_env"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*i = Instance(aux.alias)
	i.rawExtraEnv = aux.ExtraEnv
	i.ExtraEnv = make(map[string]string, len(aux.ExtraEnv))
	for _, kv := range aux.ExtraEnv {
		if len(kv) == 2 {
			i.ExtraEnv[kv[0]] = kv[1]
		}
	}
	return nil
}

// CreateRequest is the body submitted to rent an Offer.
type CreateRequest struct {
	ClientID string            `json:"client_id"`
	Image    string            `json:"image"`
	Args     []string          `json:"args"`
	Env      map[string]string `json:"env"`
	Disk     float64           `json:"disk"`
	RunType  string            `json:"runtype"`
	Price    float64           `json:"price,omitempty"`
}

// Marketplace is a minimal REST client over the GPU rental vendor's
// bundles/instances/asks API. Every outbound call is rate-limited since
// the vendor throttles aggressively on the free tier.
type Marketplace struct {
	baseURL    string
	apiKey     string
	client     *http.Client
	limiter    *rate.Limiter
}

// NewMarketplace builds a client. baseURL has no trailing slash.
func NewMarketplace(baseURL, apiKey string) *Marketplace {
	return &Marketplace{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 3),
	}
}

func (m *Marketplace) do(ctx context.Context, method, path string, query map[string]string, body any, out any) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}

	var bodyReader *strings.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marketplace: encode request: %w", err)
		}
		bodyReader = strings.NewReader(string(data))
	} else {
		bodyReader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("marketplace: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	q := req.URL.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()

	res, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("marketplace: %s %s: %w", method, path, err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return fmt.Errorf("marketplace: %s %s: status %d", method, path, res.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

// FindOffers queries the marketplace for offers satisfying the given
// VRAM floor (MB) and CUDA floor, and returns them cheapest-first,
// already filtered to single-GPU RTX-family hardware.
func (m *Marketplace) FindOffers(ctx context.Context, vramFloorMB float64, cudaFloor string, onDemand bool) ([]Offer, error) {
	offerType := "bid"
	if onDemand {
		offerType = "ask"
	}
	query := map[string]any{
		"rentable":      map[string]string{"eq": "true"},
		"num_gpus":      map[string]string{"eq": "1"},
		"gpu_ram":       map[string]string{"gte": fmt.Sprintf("%.1f", vramFloorMB)},
		"cuda_max_good": map[string]string{"gte": cudaFloor},
		"order":         [][]string{{"dph_total", "asc"}},
		"type":          offerType,
	}
	q, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("marketplace: encode offer query: %w", err)
	}

	var parsed struct {
		Offers []Offer `json:"offers"`
	}
	if err := m.do(ctx, http.MethodGet, "/bundles/", map[string]string{"q": string(q)}, nil, &parsed); err != nil {
		return nil, err
	}

	offers := make([]Offer, 0, len(parsed.Offers))
	for _, o := range parsed.Offers {
		if o.NumGPUs == 1 && strings.Contains(o.GPUName, "RTX") {
			offers = append(offers, o)
		}
	}
	sort.Slice(offers, func(i, j int) bool { return offers[i].DPHTotal < offers[j].DPHTotal })
	return offers, nil
}

// FilterRentable drops offers whose hostname is already running or on
// the forbidden list, preserving order.
func FilterRentable(offers []Offer, running []string, forbidden *ForbiddenSet) []Offer {
	runningSet := make(map[string]bool, len(running))
	for _, h := range running {
		runningSet[h] = true
	}

	out := make([]Offer, 0, len(offers))
	for _, o := range offers {
		h := o.Hostname()
		if runningSet[h] || (forbidden != nil && forbidden.Contains(h)) {
			continue
		}
		out = append(out, o)
	}
	return out
}

// Concurrency computes how many parallel job handlers an offer's GPU
// can support for a model requiring vramRequiredMB of VRAM, clamped to
// a minimum of 1 (an offer is never rejected for being undersized once
// it clears the VRAM floor in the query itself).
func Concurrency(offer Offer, vramRequiredMB float64) int {
	c := int(math.Floor(offer.GPURAM / vramRequiredMB))
	if c < 1 {
		c = 1
	}
	return c
}

// Bid returns the price to submit for a spot rental: 1.25x the offer's
// minimum, rounded to 6 decimal places, floored at the vendor's minimum
// accepted bid.
func Bid(offer Offer) float64 {
	bid := math.Round(offer.DPHTotal*1.25*1e6) / 1e6
	if bid < 0.001 {
		bid = 0.001
	}
	return bid
}

// ListInstances returns every instance owned by this API key.
func (m *Marketplace) ListInstances(ctx context.Context) ([]Instance, error) {
	var parsed struct {
		Instances []Instance `json:"instances"`
	}
	if err := m.do(ctx, http.MethodGet, "/instances/", map[string]string{"owner": "me"}, nil, &parsed); err != nil {
		return nil, err
	}
	return parsed.Instances, nil
}

// Create rents offer, submitting req as the instance's launch body.
func (m *Marketplace) Create(ctx context.Context, offerID int64, req CreateRequest) error {
	return m.do(ctx, http.MethodPut, fmt.Sprintf("/asks/%d/", offerID), nil, req, nil)
}

// DeletionReason is a fixed vocabulary recorded against an instance
// before it's torn down, surfaced in logs and usable for later audit.
type DeletionReason string

const (
	ReasonReduceReplicas DeletionReason = "reduce_replicas"
	ReasonDisconnected   DeletionReason = "disconnected"
	ReasonStuckLoading   DeletionReason = "stuck_loading"
	ReasonError          DeletionReason = "error"
	ReasonExited         DeletionReason = "exited"
	ReasonDiskSpaceFull  DeletionReason = "disk_space_full"
)

// Delete tears down instance id, recording reason for the caller's log line.
func (m *Marketplace) Delete(ctx context.Context, id int64, reason DeletionReason) error {
	_ = reason // logged by the caller; the vendor API takes no reason field
	return m.do(ctx, http.MethodDelete, fmt.Sprintf("/instances/%d/", id), nil, map[string]any{}, nil)
}

// BuildEnv rewrites the internal broker address host to publicHost so
// rented instances (which live outside the private network) can reach
// the broker, and stamps the per-instance hostname/concurrency.
func BuildEnv(base map[string]string, internalHost, publicHost, gitCommit, instanceHostname string, concurrency int) map[string]string {
	env := make(map[string]string, len(base)+2)
	for k, v := range base {
		if internalHost != "" && publicHost != "" {
			v = strings.ReplaceAll(v, internalHost, publicHost)
		}
		env[k] = v
	}
	env["CELERY_HOSTNAME"] = WorkerHostname(gitCommit, instanceHostname)
	env["CELERY_CONCURRENCY"] = fmt.Sprintf("%d", concurrency)
	return env
}

// WorkerHostname builds the stable, non-random hostname an instance's
// worker process announces itself as, so the fleet can be matched
// against live consumer names reported by the broker.
func WorkerHostname(gitCommit, instanceHostname string) string {
	return fmt.Sprintf("celery-%s@%s", gitCommit, instanceHostname)
}

var imageRefPattern = regexp.MustCompile(`^([^/]+)/(.+):([^:@]+)$`)

// ResolveImageDigest looks up the immutable digest for image's tag via
// the registry's token + manifest-head dance, returning image rewritten
// as repo@sha256:... so a rented instance's container runtime can never
// silently serve a stale cached layer for a tag that moved.
func ResolveImageDigest(ctx context.Context, client *http.Client, image string) (string, error) {
	m := imageRefPattern.FindStringSubmatch(image)
	if m == nil {
		return "", fmt.Errorf("resolve image digest: %q is not repo/path:tag", image)
	}
	registry, repository, tag := m[1], m[2], m[3]

	tokenURL := fmt.Sprintf("https://%s/token?scope=repository:%s:pull", registry, repository)
	tokenReq, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL, nil)
	if err != nil {
		return "", err
	}
	tokenRes, err := client.Do(tokenReq)
	if err != nil {
		return "", fmt.Errorf("resolve image digest: fetch token: %w", err)
	}
	defer tokenRes.Body.Close()
	if tokenRes.StatusCode >= 300 {
		return "", fmt.Errorf("resolve image digest: token status %d", tokenRes.StatusCode)
	}
	var tokenBody struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(tokenRes.Body).Decode(&tokenBody); err != nil {
		return "", fmt.Errorf("resolve image digest: decode token: %w", err)
	}

	manifestURL := fmt.Sprintf("https://%s/v2/%s/manifests/%s", registry, repository, tag)
	manifestReq, err := http.NewRequestWithContext(ctx, http.MethodHead, manifestURL, nil)
	if err != nil {
		return "", err
	}
	manifestReq.Header.Set("Authorization", "Bearer "+tokenBody.Token)
	manifestReq.Header.Set("Accept", "application/vnd.oci.image.index.v1+json")

	manifestRes, err := client.Do(manifestReq)
	if err != nil {
		return "", fmt.Errorf("resolve image digest: fetch manifest: %w", err)
	}
	defer manifestRes.Body.Close()
	if manifestRes.StatusCode >= 300 {
		return "", fmt.Errorf("resolve image digest: manifest status %d", manifestRes.StatusCode)
	}

	digest := manifestRes.Header.Get("Docker-Content-Digest")
	if digest == "" {
		return "", fmt.Errorf("resolve image digest: no Docker-Content-Digest header for %s", image)
	}
	return fmt.Sprintf("%s/%s@%s", registry, repository, digest), nil
}
