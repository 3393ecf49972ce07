// Package kafkawatch implements an EndpointWatcher backed by CDC events
// consumed off a Kafka topic, shaped directly after the teacher's
// healthcheck/internal/coordinator/targetwatcher: a Debezium-style
// before/after/op envelope decoded from each message, folded into a
// running per-cluster endpoint table, and committed only after the
// resulting assignment is delivered.
package kafkawatch

import (
	"context"
	"encoding/json"
	"errors"
	"net"

	"github.com/rs/zerolog/log"
	kafka "github.com/segmentio/kafka-go"

	"github.com/Sh00ty/proxyplane/internal/discovery"
	"github.com/Sh00ty/proxyplane/internal/upstream"
)

// EndpointRow is the row shape captured by the CDC connector for one
// endpoint. RemovedAt/priority/weight are denormalized onto the row so a
// single change-stream topic can describe an entire cluster.
type EndpointRow struct {
	ClusterName string  `json:"cluster_name"`
	IP          string  `json:"ip"`
	Port        int     `json:"port"`
	Priority    uint32  `json:"priority"`
	Region      string  `json:"region"`
	Zone        string  `json:"zone"`
	SubZone     string  `json:"sub_zone"`
	Weight      uint32  `json:"weight"`
	LocalWeight *uint32 `json:"locality_weight,omitempty"`
	Healthy     bool    `json:"healthy"`
}

type envelope struct {
	Before *EndpointRow `json:"before"`
	After  *EndpointRow `json:"after"`
	Op     string       `json:"op"`
}

type rowKey struct {
	ip   string
	port int
}

// Watcher consumes a single cluster's CDC rows off one Kafka topic and
// reconstructs a full EndpointAssignment on every change.
type Watcher struct {
	cluster string
	reader  *kafka.Reader
	rows    map[rowKey]EndpointRow
}

// New builds a Watcher consuming topic on the given brokers under a
// consumer group scoped to nodeID, mirroring NewCheckUpdateWatcher's
// reader configuration.
func New(nodeID, cluster string, brokers []string, topic string) *Watcher {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		MaxBytes:    10 * 1024 * 1024,
		GroupID:     nodeID,
		StartOffset: kafka.LastOffset,
	})
	return &Watcher{
		cluster: cluster,
		reader:  reader,
		rows:    make(map[rowKey]EndpointRow),
	}
}

var _ discovery.EndpointWatcher = (*Watcher)(nil)

// Watch consumes until ctx is canceled, folding each decoded row into
// the running table and delivering a rebuilt assignment on every
// applied event. Malformed messages are logged and committed past
// rather than blocking the partition.
func (w *Watcher) Watch(ctx context.Context, sink discovery.Sink) error {
	logger := log.With().Str("cluster", w.cluster).Str("topic", w.reader.Config().Topic).Logger()
	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			logger.Error().Err(err).Msg("kafkawatch: fetch failed")
			sink.OnSubscriptionError(err)
			continue
		}

		var env envelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			logger.Error().Err(err).Msg("kafkawatch: failed to decode cdc envelope")
			_ = w.reader.CommitMessages(ctx, msg)
			continue
		}

		if row, ok := w.applyEnvelope(env); ok && row.ClusterName == w.cluster {
			discovery.Deliver(sink, w.buildAssignment())
		}

		if err := w.reader.CommitMessages(ctx, msg); err != nil {
			logger.Error().Err(err).Msg("kafkawatch: commit failed, message may be redelivered")
		}
	}
}

// applyEnvelope folds one CDC event into w.rows, returning the row that
// changed and whether anything changed at all.
func (w *Watcher) applyEnvelope(env envelope) (EndpointRow, bool) {
	switch env.Op {
	case "c", "r", "u":
		if env.After == nil {
			return EndpointRow{}, false
		}
		w.rows[rowKey{env.After.IP, env.After.Port}] = *env.After
		return *env.After, true
	case "d":
		if env.Before == nil {
			return EndpointRow{}, false
		}
		key := rowKey{env.Before.IP, env.Before.Port}
		if _, ok := w.rows[key]; ok {
			delete(w.rows, key)
			return *env.Before, true
		}
		return EndpointRow{}, false
	default:
		return EndpointRow{}, false
	}
}

func (w *Watcher) buildAssignment() upstream.EndpointAssignment {
	type groupKey struct {
		loc      upstream.Locality
		priority uint32
	}
	groups := make(map[groupKey]*upstream.LocalityEndpoints)
	for _, row := range w.rows {
		if row.ClusterName != w.cluster {
			continue
		}
		key := groupKey{
			loc:      upstream.Locality{Region: row.Region, Zone: row.Zone, SubZone: row.SubZone},
			priority: row.Priority,
		}
		g, ok := groups[key]
		if !ok {
			g = &upstream.LocalityEndpoints{Locality: key.loc, Priority: key.priority, Weight: row.LocalWeight}
			groups[key] = g
		}
		g.Members = append(g.Members, upstream.EndpointSpec{
			Addr:    &net.TCPAddr{IP: net.ParseIP(row.IP), Port: row.Port},
			Weight:  row.Weight,
			Healthy: row.Healthy,
		})
	}

	endpoints := make([]upstream.LocalityEndpoints, 0, len(groups))
	for _, g := range groups {
		endpoints = append(endpoints, *g)
	}
	return upstream.EndpointAssignment{ClusterName: w.cluster, Endpoints: endpoints}
}

// Close releases the underlying Kafka reader.
func (w *Watcher) Close() error {
	return w.reader.Close()
}
