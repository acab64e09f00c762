// Package notify is the notification-channel dispatch collaborator: it
// fans a finished call out to opaque delivery URIs. Keyword and
// location matching against the transcript happen on the receiving
// end, per the channel's own rules — this package only decides which
// channels a call's talkgroup routes to and builds the payload they
// receive.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/callscribe/internal/metadata"
	"github.com/snarg/callscribe/internal/metrics"
)

// Route maps talkgroups to the delivery URIs that should receive them.
// Pattern is matched against "<talkgroup>@<short_name>", mirroring the
// routing key convention the legacy Telegram integration used.
type Route struct {
	Pattern        string   `json:"pattern"`
	URIs           []string `json:"uris"`
	AppendTalkgroup bool    `json:"append_talkgroup"`

	compiled *regexp.Regexp
}

// Config is the full set of notification routes, typically loaded from
// a JSON file alongside the post-processing cleanup rules.
type Config struct {
	Routes []Route `json:"routes"`

	// MaxDelay discards notifications for calls whose audio finished
	// more than MaxDelay ago by the time a route is resolved — nobody
	// wants a dispatch alert that's 20 minutes stale. Zero means no
	// delay limit.
	MaxDelay time.Duration `json:"-"`
}

// Payload is what each delivery URI receives: everything a receiver
// needs to run its own keyword/location matching and render the call.
type Payload struct {
	Talkgroup    string `json:"talkgroup"`
	ShortName    string `json:"short_name"`
	Transcript   string `json:"transcript"`
	AudioURL     string `json:"audio_url"`
	SearchURL    string `json:"search_url"`
	StartTime    int64  `json:"start_time"`
	StopTime     int64  `json:"stop_time"`
}

// Notifier dispatches finished calls to their routed delivery URIs.
type Notifier struct {
	routes  []Route
	maxDelay time.Duration
	client  *http.Client
	log     zerolog.Logger
}

// LoadConfig reads a JSON object of Config (routes only; MaxDelay is
// not file-configurable and comes from the process's own env) from path.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read notify routes: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse notify routes: %w", err)
	}
	return cfg, nil
}

// New compiles cfg's routes and returns a ready Notifier.
func New(cfg Config, log zerolog.Logger) (*Notifier, error) {
	routes := make([]Route, len(cfg.Routes))
	for i, r := range cfg.Routes {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("notify: compile route pattern %q: %w", r.Pattern, err)
		}
		r.compiled = re
		routes[i] = r
	}
	return &Notifier{
		routes:   routes,
		maxDelay: cfg.MaxDelay,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log.With().Str("component", "notify").Logger(),
	}, nil
}

// matchKey is the routing key a call is matched against.
func matchKey(call metadata.Call) string {
	return fmt.Sprintf("%d@%s", call.Talkgroup, call.ShortName)
}

// routesFor returns every route whose pattern matches call's routing key.
func (n *Notifier) routesFor(call metadata.Call) []Route {
	key := matchKey(call)
	var matched []Route
	for _, r := range n.routes {
		if r.compiled.MatchString(key) {
			matched = append(matched, r)
		}
	}
	return matched
}

// Dispatch sends a finished call to every route whose pattern matches
// its talkgroup, unless isRetranscribe is true — a retranscribe is not
// news to anyone who already saw the call once. Delivery to each URI
// happens independently; a failure on one URI does not block the
// others and is logged, not returned, since notification delivery is
// best-effort and must never fail the job it rides in on.
func (n *Notifier) Dispatch(ctx context.Context, call metadata.Call, tr *metadata.Transcript, audioURL, searchURL string, isRetranscribe bool) {
	if isRetranscribe {
		return
	}
	if n.maxDelay > 0 && time.Since(time.Unix(call.StopTime, 0)) > n.maxDelay {
		n.log.Debug().Int("talkgroup", call.Talkgroup).Msg("notification skipped, call too old")
		return
	}

	routes := n.routesFor(call)
	if len(routes) == 0 {
		return
	}

	payload := Payload{
		Talkgroup:  call.TalkgroupTag,
		ShortName:  call.ShortName,
		Transcript: tr.HTML(),
		AudioURL:   audioURL,
		SearchURL:  searchURL,
		StartTime:  call.StartTime,
		StopTime:   call.StopTime,
	}

	seen := make(map[string]bool)
	for _, route := range routes {
		for _, uri := range route.URIs {
			if seen[uri] {
				continue
			}
			seen[uri] = true
			n.deliver(ctx, uri, payload)
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, uri string, payload Payload) {
	body, err := json.Marshal(payload)
	if err != nil {
		n.log.Warn().Err(err).Msg("marshal notification payload")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(body))
	if err != nil {
		n.log.Warn().Err(err).Str("uri", uri).Msg("build notification request")
		metrics.NotificationsDispatchedTotal.WithLabelValues("error").Inc()
		return
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := n.client.Do(req)
	if err != nil {
		n.log.Warn().Err(err).Str("uri", uri).Msg("deliver notification")
		metrics.NotificationsDispatchedTotal.WithLabelValues("error").Inc()
		return
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		n.log.Warn().Str("uri", uri).Int("status", res.StatusCode).Msg("notification channel rejected delivery")
		metrics.NotificationsDispatchedTotal.WithLabelValues("rejected").Inc()
		return
	}
	metrics.NotificationsDispatchedTotal.WithLabelValues("delivered").Inc()
}
