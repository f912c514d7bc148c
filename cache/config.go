package cache

import (
	"database/sql"
	"os"
	"regexp"
	"time"

	"github.com/cockroachdb/errors"
	str2duration "github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// Type selects the storage backend variant.
type Type string

const (
	// TypeTable stores entries as rows in a dedicated table inside the
	// storage engine the host already talks to.
	TypeTable Type = "table"
	// TypeKV stores entries in a single-node Redis-compatible store using
	// its native expiration.
	TypeKV Type = "kv"
	// TypeKVCluster is TypeKV addressing a multi-node cluster.
	TypeKVCluster Type = "kv-cluster"
	// TypeCustom delegates backend construction to Config.Provider.
	TypeCustom Type = "custom"
	// TypeMemory keeps entries in an in-process sharded map.
	TypeMemory Type = "memory"
)

const (
	// DefaultTableName is the table used by TypeTable when none is configured.
	DefaultTableName = "query_result_cache"
	// DefaultQueryTimeout bounds every backend operation so slow or
	// unresponsive storage cannot hang a read indefinitely.
	DefaultQueryTimeout = 5 * time.Second
	// DefaultSweepInterval is how often the table and memory backends delete
	// entries past their write-time ttl. Sweeping reclaims space only;
	// correctness never depends on it.
	DefaultSweepInterval = time.Minute
	// DefaultMemoryShards is the shard count for the memory backend.
	DefaultMemoryShards = 16
)

// PlaceholderStyle is the bind-parameter syntax of the host's storage engine.
type PlaceholderStyle string

const (
	// PlaceholdersQuestion uses "?" markers (SQLite, MySQL).
	PlaceholdersQuestion PlaceholderStyle = "question"
	// PlaceholdersDollar uses "$1".."$n" markers (PostgreSQL).
	PlaceholdersDollar PlaceholderStyle = "dollar"
)

// TableOptions tunes the relational-table backend.
type TableOptions struct {
	// Placeholders selects the bind-parameter syntax. Defaults to question.
	Placeholders PlaceholderStyle
	// SweepInterval is how often expired rows are deleted in the background.
	// Zero uses DefaultSweepInterval; negative disables sweeping.
	SweepInterval time.Duration
}

// KVOptions are the connection parameters for the single-node key-value
// backend.
type KVOptions struct {
	// Addr is the host:port of the store.
	Addr string
	// Username and Password authenticate the session when set.
	Username string
	Password string
	// DB selects the logical database.
	DB int
	// Prefix namespaces every key; Clear only touches keys under it.
	Prefix string
	// DialTimeout, ReadTimeout and WriteTimeout follow the client defaults
	// when zero.
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// PoolSize caps concurrent connections; zero uses the client default.
	PoolSize int
}

// ReadMode is the read-scaling policy for the clustered key-value backend.
type ReadMode string

const (
	// ReadPrimary routes every read to the key's primary node.
	ReadPrimary ReadMode = "primary"
	// ReadReplica allows reads from replica nodes.
	ReadReplica ReadMode = "replica"
	// ReadLatency routes reads to the lowest-latency node, primary or replica.
	ReadLatency ReadMode = "latency"
	// ReadRandom routes reads to a random node, primary or replica.
	ReadRandom ReadMode = "random"
)

// ClusterOptions are the connection parameters for the clustered key-value
// backend. Key distribution and routing across the cluster belong to the
// underlying client.
type ClusterOptions struct {
	// Addrs are the seed node addresses used to discover the topology.
	Addrs []string
	// Username and Password authenticate the session when set.
	Username string
	Password string
	// Prefix namespaces every key; Clear only touches keys under it.
	Prefix string
	// ReadMode selects the read-scaling policy. Defaults to primary.
	ReadMode ReadMode
	// MaxRedirects caps MOVED/ASK redirects per request; zero uses the
	// client default.
	MaxRedirects int
	// MaxRetries caps retries per request; zero uses the client default.
	MaxRetries int
	// MinRetryBackoff and MaxRetryBackoff bound the retry backoff window.
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration
	// DialTimeout, ReadTimeout and WriteTimeout follow the client defaults
	// when zero.
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// PoolSize caps concurrent connections per node; zero uses the client
	// default.
	PoolSize int
}

// MemoryOptions tunes the in-process backend.
type MemoryOptions struct {
	// Shards is the number of independently locked map shards.
	Shards int
	// SweepInterval is how often the janitor deletes expired entries. Zero
	// uses DefaultSweepInterval; negative disables the janitor.
	SweepInterval time.Duration
}

// Config configures the cache subsystem. The zero value is not usable;
// pass it through New which applies defaults and validates.
type Config struct {
	// Enabled turns the subsystem on. When false every read executes
	// directly and no backend traffic happens.
	Enabled bool
	// Type selects the backend variant. Defaults to memory.
	Type Type
	// TableName overrides DefaultTableName for the table backend.
	TableName string
	// Table, KV, Cluster and Memory carry the per-backend options.
	Table   TableOptions
	KV      KVOptions
	Cluster ClusterOptions
	Memory  MemoryOptions
	// Duration is the default ttl for reads that do not set Options.TTL.
	// Zero falls back to DefaultDuration.
	Duration time.Duration
	// QueryTimeout bounds each backend operation. Zero uses
	// DefaultQueryTimeout.
	QueryTimeout time.Duration
	// IgnoreErrors makes backend faults non-fatal: lookup failures degrade
	// to misses and store failures to no-ops after a successful execution.
	// Left unset, any backend fault fails the read loudly so cache
	// misconfiguration cannot silently degrade to "always miss".
	IgnoreErrors bool
	// SingleFlight coalesces concurrent misses for one identifier into a
	// single execution. Off by default: the base contract allows concurrent
	// misses to each execute, last store wins.
	SingleFlight bool
	// DB is the host's connection pool, required by the table backend. The
	// cache shares it and never closes it.
	DB *sql.DB
	// Provider builds the backend for TypeCustom.
	Provider ProviderFactory
}

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (c Config) withDefaults() Config {
	if c.Type == "" {
		c.Type = TypeMemory
	}
	if c.TableName == "" {
		c.TableName = DefaultTableName
	}
	if c.Table.Placeholders == "" {
		c.Table.Placeholders = PlaceholdersQuestion
	}
	if c.Table.SweepInterval == 0 {
		c.Table.SweepInterval = DefaultSweepInterval
	}
	if c.Memory.Shards <= 0 {
		c.Memory.Shards = DefaultMemoryShards
	}
	if c.Memory.SweepInterval == 0 {
		c.Memory.SweepInterval = DefaultSweepInterval
	}
	if c.Cluster.ReadMode == "" {
		c.Cluster.ReadMode = ReadPrimary
	}
	if c.Duration <= 0 {
		c.Duration = DefaultDuration
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = DefaultQueryTimeout
	}
	return c
}

// Validate checks that the configuration is complete for its backend type.
func (c Config) Validate() error {
	switch c.Type {
	case TypeTable:
		if c.DB == nil {
			return errors.New("cache: table backend requires Config.DB")
		}
		if !tableNameRe.MatchString(c.TableName) {
			return errors.Newf("cache: invalid table name %q", c.TableName)
		}
		if c.Table.Placeholders != PlaceholdersQuestion && c.Table.Placeholders != PlaceholdersDollar {
			return errors.Newf("cache: invalid placeholder style %q", c.Table.Placeholders)
		}
	case TypeKV:
		if c.KV.Addr == "" {
			return errors.New("cache: kv backend requires KV.Addr")
		}
	case TypeKVCluster:
		if len(c.Cluster.Addrs) == 0 {
			return errors.New("cache: kv-cluster backend requires Cluster.Addrs")
		}
		switch c.Cluster.ReadMode {
		case ReadPrimary, ReadReplica, ReadLatency, ReadRandom:
		default:
			return errors.Newf("cache: invalid read mode %q", c.Cluster.ReadMode)
		}
	case TypeCustom:
		if c.Provider == nil {
			return errors.New("cache: custom backend requires Config.Provider")
		}
	case TypeMemory:
	default:
		return errors.Newf("cache: unknown backend type %q", c.Type)
	}
	return nil
}

type fileTable struct {
	Placeholders  PlaceholderStyle `yaml:"placeholders"`
	SweepInterval string           `yaml:"sweepInterval"`
}

type fileKV struct {
	Addr         string `yaml:"addr"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	Prefix       string `yaml:"prefix"`
	DialTimeout  string `yaml:"dialTimeout"`
	ReadTimeout  string `yaml:"readTimeout"`
	WriteTimeout string `yaml:"writeTimeout"`
	PoolSize     int    `yaml:"poolSize"`
}

type fileCluster struct {
	Addrs           []string `yaml:"addrs"`
	Username        string   `yaml:"username"`
	Password        string   `yaml:"password"`
	Prefix          string   `yaml:"prefix"`
	ReadMode        ReadMode `yaml:"readMode"`
	MaxRedirects    int      `yaml:"maxRedirects"`
	MaxRetries      int      `yaml:"maxRetries"`
	MinRetryBackoff string   `yaml:"minRetryBackoff"`
	MaxRetryBackoff string   `yaml:"maxRetryBackoff"`
	DialTimeout     string   `yaml:"dialTimeout"`
	ReadTimeout     string   `yaml:"readTimeout"`
	WriteTimeout    string   `yaml:"writeTimeout"`
	PoolSize        int      `yaml:"poolSize"`
}

type fileMemory struct {
	Shards        int    `yaml:"shards"`
	SweepInterval string `yaml:"sweepInterval"`
}

type fileConfig struct {
	Enabled      bool        `yaml:"enabled"`
	Type         Type        `yaml:"type"`
	TableName    string      `yaml:"tableName"`
	Duration     string      `yaml:"duration"`
	QueryTimeout string      `yaml:"queryTimeout"`
	IgnoreErrors bool        `yaml:"ignoreErrors"`
	SingleFlight bool        `yaml:"singleFlight"`
	Table        fileTable   `yaml:"table"`
	KV           fileKV      `yaml:"kv"`
	Cluster      fileCluster `yaml:"cluster"`
	Memory       fileMemory  `yaml:"memory"`
}

// parseDuration converts a config duration string like "750ms", "30s" or
// "1d" into a time.Duration. Empty means unset.
func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := str2duration.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(err, "cache: invalid duration for %s", field)
	}
	return d, nil
}

func (f fileConfig) toConfig() (Config, error) {
	cfg := Config{
		Enabled:      f.Enabled,
		Type:         f.Type,
		TableName:    f.TableName,
		IgnoreErrors: f.IgnoreErrors,
		SingleFlight: f.SingleFlight,
		Table: TableOptions{
			Placeholders: f.Table.Placeholders,
		},
		KV: KVOptions{
			Addr:     f.KV.Addr,
			Username: f.KV.Username,
			Password: f.KV.Password,
			DB:       f.KV.DB,
			Prefix:   f.KV.Prefix,
			PoolSize: f.KV.PoolSize,
		},
		Cluster: ClusterOptions{
			Addrs:        f.Cluster.Addrs,
			Username:     f.Cluster.Username,
			Password:     f.Cluster.Password,
			Prefix:       f.Cluster.Prefix,
			ReadMode:     f.Cluster.ReadMode,
			MaxRedirects: f.Cluster.MaxRedirects,
			MaxRetries:   f.Cluster.MaxRetries,
			PoolSize:     f.Cluster.PoolSize,
		},
		Memory: MemoryOptions{
			Shards: f.Memory.Shards,
		},
	}

	var err error
	durations := []struct {
		field string
		src   string
		dst   *time.Duration
	}{
		{"duration", f.Duration, &cfg.Duration},
		{"queryTimeout", f.QueryTimeout, &cfg.QueryTimeout},
		{"table.sweepInterval", f.Table.SweepInterval, &cfg.Table.SweepInterval},
		{"kv.dialTimeout", f.KV.DialTimeout, &cfg.KV.DialTimeout},
		{"kv.readTimeout", f.KV.ReadTimeout, &cfg.KV.ReadTimeout},
		{"kv.writeTimeout", f.KV.WriteTimeout, &cfg.KV.WriteTimeout},
		{"cluster.minRetryBackoff", f.Cluster.MinRetryBackoff, &cfg.Cluster.MinRetryBackoff},
		{"cluster.maxRetryBackoff", f.Cluster.MaxRetryBackoff, &cfg.Cluster.MaxRetryBackoff},
		{"cluster.dialTimeout", f.Cluster.DialTimeout, &cfg.Cluster.DialTimeout},
		{"cluster.readTimeout", f.Cluster.ReadTimeout, &cfg.Cluster.ReadTimeout},
		{"cluster.writeTimeout", f.Cluster.WriteTimeout, &cfg.Cluster.WriteTimeout},
		{"memory.sweepInterval", f.Memory.SweepInterval, &cfg.Memory.SweepInterval},
	}
	for _, d := range durations {
		if *d.dst, err = parseDuration(d.field, d.src); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

// LoadConfig reads a YAML cache configuration. Duration fields are strings
// in the go-str2duration grammar ("750ms", "30s", "1d"). The result still
// needs programmatic-only fields (DB, Provider) filled in before New.
func LoadConfig(path string) (Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "cache: read config %s", path)
	}
	return ParseConfig(buf)
}

// ParseConfig parses a YAML cache configuration from a buffer.
func ParseConfig(buf []byte) (Config, error) {
	var f fileConfig
	if err := yaml.Unmarshal(buf, &f); err != nil {
		return Config{}, errors.Wrap(err, "cache: unmarshal config")
	}
	return f.toConfig()
}
