// Package pgsource implements a polling EndpointWatcher backed by a
// Postgres table, shaped after the teacher's
// healthcheck/internal/coordinator/repository/postgres.Repository:
// pgxpool for the connection, squirrel for building the read query, and
// the same fmt.Errorf("...: %w") wrapping idiom throughout.
package pgsource

import (
	"context"
	"fmt"
	"net"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/Sh00ty/proxyplane/internal/discovery"
	"github.com/Sh00ty/proxyplane/internal/upstream"
)

const endpointsTable = "cluster_endpoints"

// Source polls a single cluster's row set from Postgres on a fixed
// interval, since Postgres has no built-in change-watch primitive
// comparable to etcd's or a Kafka consumer's.
type Source struct {
	db          *pgxpool.Pool
	cluster     string
	pollEvery   time.Duration
	lastVersion int64
}

// Dial opens a pgxpool connection the same way Repository.NewRepo does.
func Dial(ctx context.Context, user, password, addr string, port uint16, dbname string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(
		fmt.Sprintf(
			"user=%s password=%s host=%s port=%d dbname=%s sslmode=disable pool_max_conns=15",
			user, password, addr, port, dbname,
		),
	)
	if err != nil {
		return nil, fmt.Errorf("pgsource: failed to parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgsource: failed to create pool: %w", err)
	}
	err = retry.Do(
		func() error { return pool.Ping(ctx) },
		retry.Attempts(3),
		retry.Context(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("pgsource: failed to ping db: %w", err)
	}
	return pool, nil
}

// New builds a Source polling cluster's endpoint rows every pollEvery.
func New(db *pgxpool.Pool, cluster string, pollEvery time.Duration) *Source {
	return &Source{db: db, cluster: cluster, pollEvery: pollEvery}
}

var _ discovery.EndpointWatcher = (*Source)(nil)

// Watch polls until ctx is canceled, comparing a row-set version stamp
// against the last-delivered one so unchanged polls don't produce
// redundant updates.
func (s *Source) Watch(ctx context.Context, sink discovery.Sink) error {
	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()

	if err := s.pollOnce(ctx, sink); err != nil {
		sink.OnSubscriptionError(err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.pollOnce(ctx, sink); err != nil {
				log.Error().Err(err).Str("cluster", s.cluster).Msg("pgsource: poll failed")
				sink.OnSubscriptionError(err)
			}
		}
	}
}

func (s *Source) pollOnce(ctx context.Context, sink discovery.Sink) error {
	sql, args, err := squirrel.Select(
		"ip", "port", "priority", "region", "zone", "sub_zone", "weight", "healthy", "version",
	).From(endpointsTable).
		Where(squirrel.Eq{"cluster_name": s.cluster}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("pgsource: failed to build query: %w", err)
	}

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("pgsource: failed to execute query: %w", err)
	}
	defer rows.Close()

	type key struct {
		loc      upstream.Locality
		priority uint32
	}
	groups := make(map[key]*upstream.LocalityEndpoints)
	maxVersion := s.lastVersion

	for rows.Next() {
		var (
			ip, region, zone, subZone string
			port                      int
			priority, weight          uint32
			healthy                   bool
			version                   int64
		)
		if err := rows.Scan(&ip, &port, &priority, &region, &zone, &subZone, &weight, &healthy, &version); err != nil {
			return fmt.Errorf("pgsource: failed to scan row: %w", err)
		}
		if version > maxVersion {
			maxVersion = version
		}
		k := key{loc: upstream.Locality{Region: region, Zone: zone, SubZone: subZone}, priority: priority}
		g, ok := groups[k]
		if !ok {
			g = &upstream.LocalityEndpoints{Locality: k.loc, Priority: k.priority}
			groups[k] = g
		}
		g.Members = append(g.Members, upstream.EndpointSpec{
			Addr:    &net.TCPAddr{IP: net.ParseIP(ip), Port: port},
			Weight:  weight,
			Healthy: healthy,
		})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("pgsource: row iteration failed: %w", err)
	}

	if maxVersion == s.lastVersion {
		return nil
	}
	s.lastVersion = maxVersion

	endpoints := make([]upstream.LocalityEndpoints, 0, len(groups))
	for _, g := range groups {
		endpoints = append(endpoints, *g)
	}
	discovery.Deliver(sink, upstream.EndpointAssignment{ClusterName: s.cluster, Endpoints: endpoints})
	return nil
}
