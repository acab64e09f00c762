package search

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Settings describes the index configuration every engine
// implementation must converge on: searchable/filterable/sortable
// attributes plus the ranking rule order. No engine diffs these against
// an existing index: OpenSearch's CreateOrUpdateIndex pushes the full
// mapping on every call, and the HTTP engine's only creates a missing
// collection.
var Settings = struct {
	Searchable  []string
	Filterable  []string
	Sortable    []string
	RankingRules []string
}{
	Searchable: []string{"transcript_plaintext"},
	Filterable: []string{
		"start_time", "talkgroup", "talkgroup_tag", "talkgroup_description",
		"talkgroup_group_tag", "talkgroup_group",
		"talkgroup_hierarchy_lvl0", "talkgroup_hierarchy_lvl1", "talkgroup_hierarchy_lvl2",
		"audio_type", "short_name", "units", "radios", "srcList", "_geo",
	},
	Sortable:     []string{"start_time", "_geo"},
	RankingRules: []string{"sort", "words", "typo", "proximity", "attribute", "exactness"},
}

// Engine is the pluggable search backend contract. Implementations
// must treat writes as an upsert keyed by document id.
type Engine interface {
	IndexDocument(ctx context.Context, indexName string, doc Document) error
	CreateOrUpdateIndex(ctx context.Context, indexName string) error
	IndexExists(ctx context.Context, indexName string) (bool, error)
}

// Indexer is the Search Indexer collaborator: it builds documents,
// derives index names (with optional monthly sharding), pre-creates
// the next month's index near a boundary, and hands back deep links.
type Indexer struct {
	engine       Engine
	baseIndex    string
	splitByMonth bool
	searchUIURL  string
	log          zerolog.Logger
}

// Config configures an Indexer.
type Config struct {
	BaseIndex    string
	SplitByMonth bool
	SearchUIURL  string
}

// New builds an Indexer around an Engine.
func New(engine Engine, cfg Config, log zerolog.Logger) *Indexer {
	return &Indexer{
		engine:       engine,
		baseIndex:    cfg.BaseIndex,
		splitByMonth: cfg.SplitByMonth,
		searchUIURL:  cfg.SearchUIURL,
		log:          log.With().Str("component", "search-indexer").Logger(),
	}
}

// IndexCall writes doc to the search engine, returning the deep-link
// search URL. indexName overrides the derived default when non-empty,
// used by reindex/backfill tooling targeting a specific shard.
func (idx *Indexer) IndexCall(ctx context.Context, id string, doc Document, indexName string) (string, error) {
	if indexName == "" {
		indexName = IndexNameFor(idx.baseIndex, idx.splitByMonth, time.Unix(doc.StartTime, 0))
	}

	if err := idx.engine.IndexDocument(ctx, indexName, doc); err != nil {
		return "", fmt.Errorf("search: index call %s into %s: %w", id, indexName, err)
	}

	return DeepLinkURL(idx.searchUIURL, indexName, doc), nil
}

// EnsureNextIndex pre-creates next month's index once the wall clock
// is within one hour of a month boundary, so a call landing exactly at
// midnight on the 1st never races the schema into existence.
func (idx *Indexer) EnsureNextIndex(ctx context.Context, now time.Time) error {
	if !idx.splitByMonth {
		return nil
	}
	current := IndexNameFor(idx.baseIndex, true, now)
	future := IndexNameFor(idx.baseIndex, true, now.Add(time.Hour))
	if current == future {
		return nil
	}

	exists, err := idx.engine.IndexExists(ctx, future)
	if err != nil {
		return fmt.Errorf("search: check next index %s: %w", future, err)
	}
	if exists {
		return nil
	}

	idx.log.Info().Str("index", future).Msg("pre-creating next month's index")
	if err := idx.engine.CreateOrUpdateIndex(ctx, future); err != nil {
		return fmt.Errorf("search: create next index %s: %w", future, err)
	}
	return nil
}
