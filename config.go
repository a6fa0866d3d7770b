package sqlcached

import (
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/facebookgo/stackerr"
)

type Config struct {
	// DBName is the path of the SQLite database file.
	DBName string
	// CacheSize is the in-memory byte ceiling.
	CacheSize int64
	// MaxItemSize bounds a single item.
	MaxItemSize int64
	// UseCas enables CAS token assignment and conflict checks.
	UseCas bool
	// Eviction allows evicting unreferenced items when the cache is full.
	Eviction bool
	// Warmup loads the whole durable store into the cache at startup.
	Warmup bool
	// Compress stores values snappy-compressed.
	Compress bool
	// Verbose is the engine verbosity level.
	Verbose uint64

	// Slab allocator knobs, parsed for surface compatibility with
	// slab-allocating cache layers. The bundled map cache ignores them.
	Factor      float64
	ChunkSize   int64
	Preallocate bool
}

func DefaultConfig() Config {
	return Config{
		DBName:      "/tmp/sqlcached.db",
		CacheSize:   64 * 1024 * 1024,
		MaxItemSize: 1024 * 1024,
		UseCas:      true,
		Eviction:    true,
		Factor:      1.25,
		ChunkSize:   48,
	}
}

// ParseConfig parses a free-form "key=value;key=value" initialization
// string. Unset keys keep their defaults; unknown keys are an error.
// Size values accept humanized forms like "64MB".
func ParseConfig(s string) (Config, error) {
	conf := DefaultConfig()
	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return conf, stackerr.Newf("config entry %q is not key=value", pair)
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		var err error
		switch key {
		case "dbname":
			conf.DBName = value
		case "cache_size":
			conf.CacheSize, err = parseSize(value)
		case "item_size_max":
			conf.MaxItemSize, err = parseSize(value)
		case "chunk_size":
			conf.ChunkSize, err = parseSize(value)
		case "cas":
			conf.UseCas, err = strconv.ParseBool(value)
		case "eviction":
			conf.Eviction, err = strconv.ParseBool(value)
		case "warmup":
			conf.Warmup, err = strconv.ParseBool(value)
		case "compress":
			conf.Compress, err = strconv.ParseBool(value)
		case "preallocate":
			conf.Preallocate, err = strconv.ParseBool(value)
		case "factor":
			conf.Factor, err = strconv.ParseFloat(value, 64)
		case "verbose":
			conf.Verbose, err = strconv.ParseUint(value, 10, 64)
		default:
			return conf, stackerr.Newf("unknown config key %q", key)
		}
		if err != nil {
			return conf, stackerr.Newf("config key %q: invalid value %q: %v", key, value, err)
		}
	}
	return conf, nil
}

func parseSize(s string) (int64, error) {
	size, err := humanize.ParseBytes(s)
	return int64(size), err
}
