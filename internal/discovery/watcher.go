// Package discovery provides external collaborators that feed
// upstream.EndpointAssignment updates into a membership Engine. Full xDS
// transport mechanics are intentionally out of scope; these are concrete
// stream implementations exercising gRPC, etcd, Kafka, and Postgres
// against the same EndpointWatcher contract.
package discovery

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/Sh00ty/proxyplane/internal/upstream"
)

// Sink receives validated assignments and subscription errors, the shape
// upstream.Engine itself satisfies.
type Sink interface {
	Apply(update upstream.EndpointAssignment) error
	OnSubscriptionError(err error)
}

// EndpointWatcher streams ClusterLoadAssignment updates for one cluster
// until ctx is canceled or the source is exhausted.
type EndpointWatcher interface {
	Watch(ctx context.Context, sink Sink) error
}

// Deliver pushes one update into sink, logging a validation rejection
// without aborting the watch loop: a bad update from a source must not
// tear down that source's subscription.
func Deliver(sink Sink, update upstream.EndpointAssignment) {
	if err := sink.Apply(update); err != nil {
		log.Error().Err(err).Str("cluster", update.ClusterName).Msg("discovery: rejected update")
	}
}
