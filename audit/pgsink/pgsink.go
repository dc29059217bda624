// Package pgsink mirrors cluster state into Postgres via pgxpool, in the
// shape of NDB Cluster's real ndbinfo introspection tables: a
// read-only, periodically-refreshed view of node/table/GCI state for
// operational querying. Grounded directly on the teacher's
// storage/postgres.go SQLDB (same pgxpool.ParseConfig/ConnectConfig
// bootstrap, same tryExec/mustExec DDL-then-ignore-failure idiom for
// schema setup).
package pgsink

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"distcoord/audit"
)

// Sink is an audit.SnapshotSink backed by a connection pool to one
// Postgres database.
type Sink struct {
	ctx  context.Context
	pool *pgxpool.Pool
}

// Open connects and provisions the mirror tables. dsn is used as
// given; an empty dsn is not replaced by configs.DefaultPostgresAuditDSN.
func Open(dsn string) (*Sink, error) {
	ctx := context.Background()
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &Sink{ctx: ctx, pool: pool}
	s.tryExec("CREATE TABLE IF NOT EXISTS ndbinfo_cluster (id SERIAL PRIMARY KEY, gci BIGINT, newest_restorable_gci BIGINT, oldest_restorable_gci BIGINT, keep_gci BIGINT, latest_lcp_id BIGINT, recorded_at TIMESTAMPTZ DEFAULT now())")
	s.tryExec("CREATE TABLE IF NOT EXISTS ndbinfo_nodes (cluster_id INT, node_id INT, status TEXT, node_group INT)")
	s.tryExec("CREATE TABLE IF NOT EXISTS ndbinfo_tables (cluster_id INT, table_id INT, fragment_count INT)")
	return s, nil
}

func (s *Sink) tryExec(sql string) {
	_, _ = s.pool.Exec(s.ctx, sql)
}

// WriteSnapshot inserts one cluster-state row plus its node/table detail
// rows, matching the teacher's pattern of one struct-per-insert rather
// than a batched upsert (storage/postgres.go's Insert/Update).
func (s *Sink) WriteSnapshot(snap audit.Snapshot) error {
	var clusterID int
	err := s.pool.QueryRow(s.ctx,
		"insert into ndbinfo_cluster (gci, newest_restorable_gci, oldest_restorable_gci, keep_gci, latest_lcp_id) values ($1,$2,$3,$4,$5) returning id",
		int64(snap.GCI), int64(snap.NewestRestorableGCI), int64(snap.OldestRestorableGCI), int64(snap.KeepGCI), int64(snap.LatestLcpID),
	).Scan(&clusterID)
	if err != nil {
		return err
	}
	for _, n := range snap.Nodes {
		if _, err := s.pool.Exec(s.ctx, "insert into ndbinfo_nodes (cluster_id, node_id, status, node_group) values ($1,$2,$3,$4)",
			clusterID, int(n.ID), n.Status, int(n.Group)); err != nil {
			return err
		}
	}
	for _, t := range snap.Tables {
		if _, err := s.pool.Exec(s.ctx, "insert into ndbinfo_tables (cluster_id, table_id, fragment_count) values ($1,$2,$3)",
			clusterID, int(t.ID), t.FragmentCount); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Close() { s.pool.Close() }
