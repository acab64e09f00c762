package callstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PostgresStore is the pgx/v5 implementation of Store.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// Connect dials Postgres and verifies the connection before returning.
func Connect(ctx context.Context, databaseURL string, log zerolog.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse call store dsn: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MinConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open call store pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping call store: %w", err)
	}

	log.Info().Str("url", maskDSN(databaseURL)).Msg("call store connected")
	return &PostgresStore{pool: pool, log: log}, nil
}

func (s *PostgresStore) Insert(ctx context.Context, rec *Record) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO calls (raw_metadata, raw_audio_url, start_time)
		VALUES ($1, $2, $3)
		RETURNING id
	`, rec.RawMetadata, rec.RawAudioURL, rec.StartTime).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert call: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (*Record, error) {
	rec := &Record{ID: id}
	var transcript, geo []byte
	var plaintext *string
	err := s.pool.QueryRow(ctx, `
		SELECT raw_metadata, raw_audio_url, raw_transcript, transcript_plaintext, geo, start_time
		FROM calls WHERE id = $1
	`, id).Scan(&rec.RawMetadata, &rec.RawAudioURL, &transcript, &plaintext, &geo, &rec.StartTime)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("call %d: %w", id, err)
		}
		return nil, fmt.Errorf("get call %d: %w", id, err)
	}
	rec.RawTranscript = json.RawMessage(transcript)
	rec.Geo = json.RawMessage(geo)
	if plaintext != nil {
		rec.TranscriptPlaintext = *plaintext
	}
	return rec, nil
}

// UpdateTranscript performs a partial update: only the transcript
// columns change, leaving raw_metadata and raw_audio_url untouched.
func (s *PostgresStore) UpdateTranscript(ctx context.Context, id int64, rawTranscript json.RawMessage, plaintext string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE calls SET
			raw_transcript = $2,
			transcript_plaintext = $3,
			updated_at = now()
		WHERE id = $1
	`, id, rawTranscript, plaintext)
	if err != nil {
		return fmt.Errorf("update transcript for call %d: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) UpdateGeo(ctx context.Context, id int64, geo json.RawMessage) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE calls SET geo = $2, updated_at = now()
		WHERE id = $1
	`, id, geo)
	if err != nil {
		return fmt.Errorf("update geo for call %d: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.log.Info().Msg("closing call store pool")
	s.pool.Close()
}

// HealthCheck pings the pool with a short timeout, used for readiness probes.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		if _, hasPass := u.User.Password(); hasPass {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
	}
	return u.String()
}
