package dht

import (
	"time"

	"kaddht/provstore"
	"kaddht/query"
	"kaddht/recstore"
	"kaddht/rtable"
	"kaddht/transport"
)

// Config tunes one DHT instance. Every field has a documented default
// (DefaultConfig); callers normally only touch the handful that matter
// for their deployment (ListenAddr, ClientMode, the republish intervals).
type Config struct {
	// K is the bucket size / query result width.
	K int
	// Alpha is the number of disjoint query paths.
	Alpha int
	// Beta is per-path worker concurrency; zero means Alpha.
	Beta int

	RecordTTL   time.Duration
	ProviderTTL time.Duration

	QueryTimeout   time.Duration
	RequestTimeout time.Duration

	BucketRefreshInterval     time.Duration
	RecordRepublishInterval   time.Duration
	ProviderRepublishInterval time.Duration
	CleanupInterval           time.Duration

	MaxInFlightPerPeer int64

	// ClientMode, if true, never answers incoming requests: the instance
	// still dials out and runs queries but binds no listener.
	ClientMode bool
}

// DefaultConfig returns the documented defaults for every tunable.
func DefaultConfig() Config {
	return Config{
		K:     rtable.DefaultConfig().BucketSize,
		Alpha: query.DefaultAlpha,
		Beta:  0,

		RecordTTL:   recstore.DefaultTTL,
		ProviderTTL: provstore.DefaultTTL,

		QueryTimeout:   query.DefaultTimeout,
		RequestTimeout: transport.DefaultRequestTimeout,

		BucketRefreshInterval:     10 * time.Minute,
		RecordRepublishInterval:   24 * time.Hour,
		ProviderRepublishInterval: 12 * time.Hour,
		CleanupInterval:           time.Hour,

		MaxInFlightPerPeer: transport.DefaultMaxInFlight,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.K <= 0 {
		c.K = d.K
	}
	if c.Alpha <= 0 {
		c.Alpha = d.Alpha
	}
	if c.RecordTTL <= 0 {
		c.RecordTTL = d.RecordTTL
	}
	if c.ProviderTTL <= 0 {
		c.ProviderTTL = d.ProviderTTL
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = d.QueryTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.BucketRefreshInterval <= 0 {
		c.BucketRefreshInterval = d.BucketRefreshInterval
	}
	if c.RecordRepublishInterval <= 0 {
		c.RecordRepublishInterval = d.RecordRepublishInterval
	}
	if c.ProviderRepublishInterval <= 0 {
		c.ProviderRepublishInterval = d.ProviderRepublishInterval
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	if c.MaxInFlightPerPeer <= 0 {
		c.MaxInFlightPerPeer = d.MaxInFlightPerPeer
	}
	return c
}

func (c Config) queryConfig() query.Config {
	return query.Config{Alpha: c.Alpha, K: c.K, Beta: c.Beta, Timeout: c.QueryTimeout}
}
