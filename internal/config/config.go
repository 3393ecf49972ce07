// Package config defines the envconfig-driven bootstrap configuration for
// cmd/proxy, shaped after the teacher's healthcheck/cmd/processor and
// healthcheck/cmd/controller Config structs: one flat struct read via
// vrischmann/envconfig.Init, plus the same LoggerLevel-to-zerolog.Level
// switch every teacher main.go carries.
package config

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config is the complete set of settings one proxy node needs: the
// listener and routing surface, the cluster it proxies to, the resource
// limits and outlier policy guarding that cluster, and the single
// discovery source it subscribes to for endpoint membership.
type Config struct {
	NodeID      string `envconfig:"NODE_ID"`
	LoggerLevel string `envconfig:"LOGGER_LEVEL"`

	ListenAddr  string `envconfig:"LISTEN_ADDR"`
	ClusterName string `envconfig:"CLUSTER_NAME"`
	StatPrefix  string `envconfig:"STAT_PREFIX"`

	MaxConnectAttempts int           `envconfig:"MAX_CONNECT_ATTEMPTS"`
	ConnectTimeout     time.Duration `envconfig:"CONNECT_TIMEOUT"`
	IdleTimeout        time.Duration `envconfig:"IDLE_TIMEOUT"`

	// WatermarkHigh/WatermarkLow gate read-disable/enable on the upstream
	// read side once bytes queued for downstream cross these thresholds.
	// WatermarkHigh <= 0 disables the backpressure path entirely.
	WatermarkHigh int `envconfig:"WATERMARK_HIGH_BYTES"`
	WatermarkLow  int `envconfig:"WATERMARK_LOW_BYTES"`

	MaxConnections     uint32 `envconfig:"RESOURCE_MAX_CONNECTIONS"`
	MaxPendingRequests uint32 `envconfig:"RESOURCE_MAX_PENDING_REQUESTS"`
	MaxRequests        uint32 `envconfig:"RESOURCE_MAX_REQUESTS"`
	MaxRetries         uint32 `envconfig:"RESOURCE_MAX_RETRIES"`

	OutlierConsecutiveFailures uint32        `envconfig:"OUTLIER_CONSECUTIVE_FAILURES"`
	OutlierBaseEjection        time.Duration `envconfig:"OUTLIER_BASE_EJECTION"`
	OutlierMaxEjection         time.Duration `envconfig:"OUTLIER_MAX_EJECTION"`

	LocalRegion    string `envconfig:"LOCAL_REGION"`
	LocalZone      string `envconfig:"LOCAL_ZONE"`
	LocalSubZone   string `envconfig:"LOCAL_SUB_ZONE"`
	IsLocalCluster bool   `envconfig:"IS_LOCAL_CLUSTER"`

	// DiscoverySource selects which watcher below feeds the membership
	// engine: "etcd", "kafka", or "postgres". cmd/proxy rejects "grpc"
	// with an error, since it has no control-plane client for it.
	DiscoverySource string `envconfig:"DISCOVERY_SOURCE"`

	ControlPlaneAddr        string        `envconfig:"CONTROL_PLANE_ADDR"`
	ControlPlanePollTimeout time.Duration `envconfig:"CONTROL_PLANE_POLL_TIMEOUT"`

	EtcdEndpoints string `envconfig:"ETCD_ENDPOINTS"` // comma-separated
	EtcdPrefix    string `envconfig:"ETCD_PREFIX"`

	KafkaBrokers string `envconfig:"KAFKA_BROKERS"` // comma-separated
	KafkaTopic   string `envconfig:"KAFKA_TOPIC"`

	DatabaseHost      string        `envconfig:"DATABASE_HOST"`
	DatabaseUser      string        `envconfig:"DATABASE_USER"`
	DatabasePassword  string        `envconfig:"DATABASE_PASSWORD"`
	DatabasePort      uint16        `envconfig:"DATABASE_PORT"`
	DatabaseName      string        `envconfig:"DATABASE_NAME"`
	DatabasePollEvery time.Duration `envconfig:"DATABASE_POLL_EVERY"`

	StatsdAddr string `envconfig:"STATSD_ADDR"`
}

// LoggerZerologLevel maps LoggerLevel the same way every teacher main.go does:
// lowercase the string, switch on the four named levels, default to Warn.
func (c Config) LoggerZerologLevel() zerolog.Level {
	switch strings.ToLower(c.LoggerLevel) {
	case "error":
		return zerolog.ErrorLevel
	case "warn":
		return zerolog.WarnLevel
	case "info":
		return zerolog.InfoLevel
	case "debug":
		return zerolog.DebugLevel
	}
	return zerolog.WarnLevel
}

// SplitList parses a comma-separated env value into a trimmed, non-empty
// element list, the shape EtcdEndpoints/KafkaBrokers are stored in since
// envconfig has no native []string-from-CSV support in this codebase's
// existing usage (compare gossip.Config.SeedNodes, built programmatically
// rather than parsed from a single var).
func SplitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
