package config

import "time"

// Config holds the configuration for a qpdb-backed authoritative server.
type Config struct {
	ListenAddr          string
	MetricsAddr         string
	PrometheusEnabled   bool
	PrometheusNamespace string

	// Partitions holds P, a node-lock/resign-heap partition count. No code
	// in this module reads it when creating a DB.
	Partitions int

	// ZoneFiles maps a zone origin to the path of its zone file. No code
	// in this module reads it; qpdbdemo loads only the file named by its
	// -zone flag.
	ZoneFiles map[string]string

	// ProxyProtocol and the Proxy* fields hold PROXYv2 settings for
	// inbound connections. No code in this module reads them.
	ProxyProtocol        bool
	ProxyMaxHeaderSize   int
	ProxyAllowedNetworks []string

	// GlueCacheEnabled holds a switch for C9 memoization. No code in this
	// module reads it; the glue cache is always used.
	GlueCacheEnabled bool

	ResignSweepInterval time.Duration
}

// NewConfig returns a new Config with default values.
func NewConfig() *Config {
	return &Config{
		ListenAddr:           "0.0.0.0:5053",
		MetricsAddr:          "0.0.0.0:9090",
		PrometheusEnabled:    false,
		PrometheusNamespace:  "qpdb",
		Partitions:           16,
		ZoneFiles:            map[string]string{},
		ProxyProtocol:        false,
		ProxyMaxHeaderSize:   4096,
		GlueCacheEnabled:     true,
		ResignSweepInterval:  time.Minute,
	}
}
