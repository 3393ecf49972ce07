// Package etcdwatch implements an EndpointWatcher backed by an etcd watch
// stream, shaped directly after the teacher's
// control-plane/internal/etcd/watcher.go: watch a key prefix from a
// revision, restart the watch on cancellation/error, and track the
// last-seen revision for resumption.
package etcdwatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	"github.com/rs/zerolog/log"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/Sh00ty/proxyplane/internal/discovery"
	"github.com/Sh00ty/proxyplane/internal/upstream"
)

// EndpointRecord is the JSON shape stored at one key under the watched
// prefix: one locality group's current endpoint list. The prefix holds
// one key per (cluster, locality, priority) tuple; a delete is treated
// as that locality group disappearing in the next synthesized
// assignment.
type EndpointRecord struct {
	ClusterName string               `json:"cluster_name"`
	Priority    uint32               `json:"priority"`
	Region      string               `json:"region"`
	Zone        string               `json:"zone"`
	SubZone     string               `json:"sub_zone"`
	Weight      *uint32              `json:"weight,omitempty"`
	Endpoints   []EndpointRecordAddr `json:"endpoints"`
}

// EndpointRecordAddr is one endpoint within an EndpointRecord.
type EndpointRecordAddr struct {
	IP      string `json:"ip"`
	Port    int    `json:"port"`
	Weight  uint32 `json:"weight"`
	Healthy bool   `json:"healthy"`
}

// Watcher streams a cluster's endpoint-assignment prefix from etcd.
type Watcher struct {
	cluster      string
	prefix       string
	client       *clientv3.Client
	lastRevision int64

	groups map[string]EndpointRecord // key -> last-known record, to rebuild a full assignment on every change
}

// New builds a Watcher rooted at prefix for a given cluster name,
// starting from startRevision (0 means "current").
func New(client *clientv3.Client, prefix, cluster string, startRevision int64) *Watcher {
	return &Watcher{
		cluster:      cluster,
		prefix:       prefix,
		client:       client,
		lastRevision: startRevision,
		groups:       make(map[string]EndpointRecord),
	}
}

var _ discovery.EndpointWatcher = (*Watcher)(nil)

// Watch streams updates until ctx is canceled, reconstructing a full
// EndpointAssignment from the watched key space on every change and
// delivering it to sink.
func (w *Watcher) Watch(ctx context.Context, sink discovery.Sink) error {
	if err := w.seed(ctx); err != nil {
		sink.OnSubscriptionError(err)
	} else {
		discovery.Deliver(sink, w.buildAssignment())
	}

	ctx = clientv3.WithRequireLeader(ctx)
	watchCh := w.openWatch(ctx)
	logger := log.With().Str("prefix", w.prefix).Str("cluster", w.cluster).Logger()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watchCh:
			if !ok {
				logger.Info().Msg("etcdwatch: watch channel closed")
				return nil
			}
			if event.Canceled {
				logger.Error().Err(event.Err()).Msg("etcdwatch: watch canceled, restarting")
				watchCh = w.openWatch(ctx)
				continue
			}
			if err := event.Err(); err != nil {
				logger.Error().Err(err).Msg("etcdwatch: watch error")
				sink.OnSubscriptionError(err)
				continue
			}
			w.lastRevision = event.Header.Revision
			if w.applyEvents(event.Events) {
				discovery.Deliver(sink, w.buildAssignment())
			}
		}
	}
}

func (w *Watcher) openWatch(ctx context.Context) clientv3.WatchChan {
	return w.client.Watch(
		ctx,
		w.prefix,
		clientv3.WithRev(w.lastRevision),
		clientv3.WithPrefix(),
		clientv3.WithCreatedNotify(),
	)
}

func (w *Watcher) seed(ctx context.Context) error {
	resp, err := w.client.Get(ctx, w.prefix, clientv3.WithPrefix())
	if err != nil {
		return fmt.Errorf("etcdwatch: initial get of %s: %w", w.prefix, err)
	}
	for _, kv := range resp.Kvs {
		var rec EndpointRecord
		if err := json.Unmarshal(kv.Value, &rec); err != nil {
			return fmt.Errorf("etcdwatch: decode %s: %w", kv.Key, err)
		}
		w.groups[string(kv.Key)] = rec
	}
	w.lastRevision = resp.Header.Revision
	return nil
}

// applyEvents folds watch events into w.groups, returning true if
// anything actually changed.
func (w *Watcher) applyEvents(events []*clientv3.Event) bool {
	changed := false
	for _, ev := range events {
		key := string(ev.Kv.Key)
		switch ev.Type {
		case clientv3.EventTypeDelete:
			if _, ok := w.groups[key]; ok {
				delete(w.groups, key)
				changed = true
			}
		case clientv3.EventTypePut:
			var rec EndpointRecord
			if err := json.Unmarshal(ev.Kv.Value, &rec); err != nil {
				log.Error().Err(err).Str("key", key).Msg("etcdwatch: decode put failed, skipping")
				continue
			}
			w.groups[key] = rec
			changed = true
		}
	}
	return changed
}

func (w *Watcher) buildAssignment() upstream.EndpointAssignment {
	groups := make([]upstream.LocalityEndpoints, 0, len(w.groups))
	for _, rec := range w.groups {
		members := make([]upstream.EndpointSpec, 0, len(rec.Endpoints))
		for _, ep := range rec.Endpoints {
			members = append(members, upstream.EndpointSpec{
				Addr:    tcpAddr(ep.IP, ep.Port),
				Weight:  ep.Weight,
				Healthy: ep.Healthy,
			})
		}
		groups = append(groups, upstream.LocalityEndpoints{
			Locality: upstream.Locality{Region: rec.Region, Zone: rec.Zone, SubZone: rec.SubZone},
			Priority: rec.Priority,
			Weight:   rec.Weight,
			Members:  members,
		})
	}
	return upstream.EndpointAssignment{ClusterName: w.cluster, Endpoints: groups}
}

func tcpAddr(ip string, port int) net.Addr {
	return &net.TCPAddr{IP: net.ParseIP(ip), Port: port}
}
