package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vrischmann/envconfig"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/Sh00ty/proxyplane/internal/config"
	"github.com/Sh00ty/proxyplane/internal/discovery"
	"github.com/Sh00ty/proxyplane/internal/discovery/etcdwatch"
	"github.com/Sh00ty/proxyplane/internal/discovery/kafkawatch"
	"github.com/Sh00ty/proxyplane/internal/discovery/pgsource"
	"github.com/Sh00ty/proxyplane/internal/stats"
	"github.com/Sh00ty/proxyplane/internal/tcpproxy"
	"github.com/Sh00ty/proxyplane/internal/upstream"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	appCfg := config.Config{}
	if err := envconfig.Init(&appCfg); err != nil {
		log.Fatal().Err(err).Msg("failed to read app config")
	}
	log.Logger = log.Level(appCfg.LoggerZerologLevel())

	log.Warn().Msgf("running node %s for cluster %s", appCfg.NodeID, appCfg.ClusterName)

	engineOpts := []upstream.EngineOption{}
	if appCfg.IsLocalCluster {
		engineOpts = append(engineOpts, upstream.WithLocalCluster(upstream.Locality{
			Region:  appCfg.LocalRegion,
			Zone:    appCfg.LocalZone,
			SubZone: appCfg.LocalSubZone,
		}))
	}
	engine := upstream.NewEngine(appCfg.ClusterName, engineOpts...)

	watcher, err := buildWatcher(ctx, appCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build discovery watcher")
	}
	go func() {
		if err := watcher.Watch(ctx, engine); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("discovery watcher exited")
		}
	}()

	statsSink := buildStatsSink(appCfg)

	resources := upstream.NewResourceManager(upstream.ResourceManagerLimits{
		MaxConnections:     appCfg.MaxConnections,
		MaxPendingRequests: appCfg.MaxPendingRequests,
		MaxRequests:        appCfg.MaxRequests,
		MaxRetries:         appCfg.MaxRetries,
	})
	outlier := upstream.NewOutlierPolicy(
		appCfg.OutlierConsecutiveFailures,
		appCfg.OutlierBaseEjection,
		appCfg.OutlierMaxEjection,
	)
	selector := tcpproxy.NewSelector(appCfg.ClusterName, engine.Priorities())

	filter := tcpproxy.NewFilter(
		tcpproxy.Config{
			StatPrefix:         appCfg.StatPrefix,
			MaxConnectAttempts: appCfg.MaxConnectAttempts,
			ConnectTimeout:     appCfg.ConnectTimeout,
			IdleTimeout:        appCfg.IdleTimeout,
			Watermarks:         tcpproxy.FlowWatermarks{High: appCfg.WatermarkHigh, Low: appCfg.WatermarkLow},
		},
		tcpproxy.RouteTable{Routes: []tcpproxy.Route{{Cluster: appCfg.ClusterName}}}, // unconditional match: a Route with no CIDR/port lists matches every connection
		map[string]*tcpproxy.Selector{appCfg.ClusterName: selector},
		map[string]*upstream.ResourceManager{appCfg.ClusterName: resources},
		outlier,
		statsSink,
	)

	ln, err := net.Listen("tcp", appCfg.ListenAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", appCfg.ListenAddr).Msg("failed to bind listener")
	}
	log.Info().Str("addr", appCfg.ListenAddr).Str("cluster", appCfg.ClusterName).Msg("tcpproxy: listening")

	go func() {
		if err := tcpproxy.Serve(ctx, ln, filter); err != nil && ctx.Err() == nil {
			log.Fatal().Err(err).Msg("tcpproxy: serve loop exited")
		}
	}()

	serverClose := startProbeServer()
	defer serverClose()

	<-ctx.Done()
	if closer, ok := statsSink.(*stats.StatsdSink); ok {
		_ = closer.Close()
	}
}

// buildWatcher constructs the single discovery source this node
// subscribes to, per appCfg.DiscoverySource.
func buildWatcher(ctx context.Context, appCfg config.Config) (discovery.EndpointWatcher, error) {
	switch appCfg.DiscoverySource {
	case "etcd":
		cli, err := clientv3.New(clientv3.Config{
			Endpoints:   config.SplitList(appCfg.EtcdEndpoints),
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("cmd/proxy: failed to dial etcd: %w", err)
		}
		return etcdwatch.New(cli, appCfg.EtcdPrefix, appCfg.ClusterName, 0), nil

	case "kafka":
		return kafkawatch.New(appCfg.NodeID, appCfg.ClusterName, config.SplitList(appCfg.KafkaBrokers), appCfg.KafkaTopic), nil

	case "postgres":
		pool, err := pgsource.Dial(ctx, appCfg.DatabaseUser, appCfg.DatabasePassword, appCfg.DatabaseHost, appCfg.DatabasePort, appCfg.DatabaseName)
		if err != nil {
			return nil, fmt.Errorf("cmd/proxy: failed to dial postgres: %w", err)
		}
		return pgsource.New(pool, appCfg.ClusterName, appCfg.DatabasePollEvery), nil

	case "grpc":
		// grpcwatch.Watcher takes an AssignmentClient over the control
		// plane's generated gRPC stub, which lives in that service's own
		// module and isn't vendored here; wiring this source means
		// supplying that client from a build that does import it.
		return nil, fmt.Errorf("cmd/proxy: grpc discovery source requires a generated control-plane client, not available in this binary")

	default:
		return nil, fmt.Errorf("cmd/proxy: unknown discovery source %q", appCfg.DiscoverySource)
	}
}

func buildStatsSink(appCfg config.Config) stats.Sink {
	if appCfg.StatsdAddr == "" {
		return stats.NewMemorySink()
	}
	return stats.NewStatsdSink(appCfg.NodeID, appCfg.StatPrefix, appCfg.StatsdAddr)
}

func startProbeServer() func() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		w.WriteHeader(http.StatusOK)
	})
	srv := http.Server{
		Handler: mux,
		Addr:    "0.0.0.0:8080",
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start http server")
		}
	}()
	return func() {
		_ = srv.Close()
	}
}
