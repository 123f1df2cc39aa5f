package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaymesh/wcengine/pkg/wcengine/wcerr"
)

// PostgresConfig holds connection parameters for the Postgres-backed
// sequence store.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// PostgresStore implements SequenceStore against a `sequences` table keyed
// by topic, with Migrate performed inside a single transaction so a partial
// migration is never observable (§3, §6).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a connection pool and pings it once before returning.
func NewPostgresStore(ctx context.Context, cfg *PostgresConfig) (*PostgresStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, wcerr.Wrap(wcerr.CodeTransport, "create postgres pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, wcerr.Wrap(wcerr.CodeTransport, "ping postgres", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Schema is the DDL this store expects; callers run it via their own
// migration tooling. Kept here since the teacher's storage package ships no
// separate migrations directory either — schema lives next to the queries
// that depend on it.
const Schema = `
CREATE TABLE IF NOT EXISTS sequences (
	topic      TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	body       JSONB NOT NULL,
	expiry     BIGINT
);
CREATE INDEX IF NOT EXISTS sequences_expiry_idx ON sequences (expiry) WHERE expiry IS NOT NULL;
`

func (p *PostgresStore) Put(ctx context.Context, seq *Sequence) error {
	body, err := json.Marshal(seq)
	if err != nil {
		return wcerr.Wrap(wcerr.CodeDeserializationFailed, "marshal sequence", err)
	}
	var expiry *int64
	if seq.Settled != nil {
		expiry = &seq.Settled.Expiry
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO sequences (topic, kind, body, expiry)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (topic) DO UPDATE SET kind = $2, body = $3, expiry = $4
	`, seq.Topic, string(seq.Kind), body, expiry)
	if err != nil {
		return wcerr.Wrap(wcerr.CodeTransport, "put sequence", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, topic string) (*Sequence, bool, error) {
	var body []byte
	err := p.pool.QueryRow(ctx, `SELECT body FROM sequences WHERE topic = $1`, topic).Scan(&body)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wcerr.Wrap(wcerr.CodeTransport, "get sequence", err)
	}
	var seq Sequence
	if err := json.Unmarshal(body, &seq); err != nil {
		return nil, false, wcerr.Wrap(wcerr.CodeDeserializationFailed, "unmarshal sequence", err)
	}
	return &seq, true, nil
}

func (p *PostgresStore) Delete(ctx context.Context, topic string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM sequences WHERE topic = $1`, topic)
	if err != nil {
		return wcerr.Wrap(wcerr.CodeTransport, "delete sequence", err)
	}
	return nil
}

// Migrate moves a sequence from oldTopic to settled.Topic inside one
// transaction: the delete and the insert either both apply or neither does,
// closing the crash-consistency gap named in §3/§6.
func (p *PostgresStore) Migrate(ctx context.Context, oldTopic string, settled *Sequence) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return wcerr.Wrap(wcerr.CodeTransport, "begin migrate tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM sequences WHERE topic = $1`, oldTopic)
	if err != nil {
		return wcerr.Wrap(wcerr.CodeTransport, "migrate: delete old topic", err)
	}
	if tag.RowsAffected() == 0 {
		return wcerr.New(wcerr.CodeNoSequenceForTopic, "migrate: no sequence at old topic "+oldTopic)
	}

	body, err := json.Marshal(settled)
	if err != nil {
		return wcerr.Wrap(wcerr.CodeDeserializationFailed, "marshal settled sequence", err)
	}
	var expiry *int64
	if settled.Settled != nil {
		expiry = &settled.Settled.Expiry
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO sequences (topic, kind, body, expiry)
		VALUES ($1, $2, $3, $4)
	`, settled.Topic, string(settled.Kind), body, expiry); err != nil {
		return wcerr.Wrap(wcerr.CodeTransport, "migrate: insert new topic", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return wcerr.Wrap(wcerr.CodeTransport, "commit migrate tx", err)
	}
	return nil
}

func (p *PostgresStore) ListTopics(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT topic FROM sequences`)
	if err != nil {
		return nil, wcerr.Wrap(wcerr.CodeTransport, "list topics", err)
	}
	defer rows.Close()

	var topics []string
	for rows.Next() {
		var topic string
		if err := rows.Scan(&topic); err != nil {
			return nil, wcerr.Wrap(wcerr.CodeTransport, "scan topic", err)
		}
		topics = append(topics, topic)
	}
	if err := rows.Err(); err != nil {
		return nil, wcerr.Wrap(wcerr.CodeTransport, "iterate topics", err)
	}
	return topics, nil
}

func (p *PostgresStore) DeleteExpired(ctx context.Context, now int64) ([]ExpiredEntry, error) {
	rows, err := p.pool.Query(ctx, `DELETE FROM sequences WHERE expiry IS NOT NULL AND expiry <= $1 RETURNING topic, kind`, now)
	if err != nil {
		return nil, wcerr.Wrap(wcerr.CodeTransport, "delete expired sequences", err)
	}
	defer rows.Close()

	var removed []ExpiredEntry
	for rows.Next() {
		var topic, kind string
		if err := rows.Scan(&topic, &kind); err != nil {
			return nil, wcerr.Wrap(wcerr.CodeTransport, "scan expired sequence", err)
		}
		removed = append(removed, ExpiredEntry{Topic: topic, Kind: Kind(kind)})
	}
	if err := rows.Err(); err != nil {
		return nil, wcerr.Wrap(wcerr.CodeTransport, "iterate expired sequences", err)
	}
	return removed, nil
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
