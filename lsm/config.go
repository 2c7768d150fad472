package lsm

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// BloomPolicy is the bloom-creation policy bitset from spec §4.1.
type BloomPolicy uint32

const (
	// BloomDefault creates a bloom filter on every chunk except the
	// newest chunk immediately after switch.
	BloomDefault BloomPolicy = 0
	BloomOff     BloomPolicy = 1 << iota
	BloomMerged
	BloomOldest
)

// Config holds the tunables recognized at tree open (spec §6 "Config
// options"). DefaultConfig returns a fully populated Config; Open does not
// fill in zero-value fields, it validates the Config as given.
type Config struct {
	ChunkSize     uint64
	ChunkMax      uint64
	MergeMin      uint
	MergeMax      uint
	MergeThreads  uint
	BloomBitCount uint32
	BloomHashCount uint32
	Bloom         BloomPolicy
	KeyFormat     string
	ValueFormat   string
	CollatorName  string

	WorkersMax     uint
	IdleWait       durationMS
	CkptThrottle   durationUS
	MergeThrottle  durationUS
}

type durationMS int64
type durationUS int64

// DefaultConfig returns the engine's out-of-the-box tunables, chosen to be
// small enough for unit tests to exercise switch/merge/drop without huge
// fixtures.
func DefaultConfig() Config {
	return Config{
		ChunkSize:      10 * 1024 * 1024,
		ChunkMax:       5 * ChunkSizeDefault,
		MergeMin:       2,
		MergeMax:       4,
		MergeThreads:   2,
		BloomBitCount:  8,
		BloomHashCount: 4,
		Bloom:          BloomDefault,
		KeyFormat:      "u",
		ValueFormat:    "u",
		CollatorName:   "",
		WorkersMax:     6,
		IdleWait:       durationMS(200),
		CkptThrottle:   durationUS(0),
		MergeThrottle:  durationUS(0),
	}
}

// ChunkSizeDefault mirrors DefaultConfig's ChunkSize so ChunkMax's default
// (5x) stays derived rather than duplicated.
const ChunkSizeDefault = 10 * 1024 * 1024

// Validate rejects a Config at open, per the "Configuration" error class
// (spec §7d).
func (c Config) Validate() error {
	if c.MergeMin < 2 {
		return errors.Wrap(ErrConfiguration, "merge_min must be >= 2")
	}
	if c.MergeMax < c.MergeMin {
		return errors.Wrap(ErrConfiguration, "merge_max must be >= merge_min")
	}
	if c.ChunkSize == 0 {
		return errors.Wrap(ErrConfiguration, "chunk_size must be > 0")
	}
	if c.WorkersMax < 1 {
		return errors.Wrap(ErrConfiguration, "lsm_workers_max must be >= 1")
	}
	return nil
}

// ParseConfig parses a WiredTiger-style config string such as
// "chunk_size=10MB,merge_max=15,bloom=off" over DefaultConfig. Unknown
// keys are a Configuration error rather than being silently ignored.
func ParseConfig(s string) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(s) == "" {
		return cfg, nil
	}

	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return cfg, errors.Wrapf(ErrConfiguration, "malformed option %q", pair)
		}
		key, val := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])

		var err error
		switch key {
		case "chunk_size":
			cfg.ChunkSize, err = parseSize(val)
		case "chunk_max":
			cfg.ChunkMax, err = parseSize(val)
		case "merge_min":
			cfg.MergeMin, err = parseUint(val)
		case "merge_max":
			cfg.MergeMax, err = parseUint(val)
		case "merge_threads":
			cfg.MergeThreads, err = parseUint(val)
		case "bloom_bit_count":
			cfg.BloomBitCount, err = parseUint32(val)
		case "bloom_hash_count":
			cfg.BloomHashCount, err = parseUint32(val)
		case "bloom":
			cfg.Bloom, err = parseBloomPolicy(val)
		case "key_format":
			cfg.KeyFormat = val
		case "value_format":
			cfg.ValueFormat = val
		case "collator":
			cfg.CollatorName = val
			if _, ok := lookupCollator(val); !ok {
				return cfg, errors.Wrapf(ErrConfiguration, "unknown collator %q", val)
			}
		case "lsm_workers_max":
			cfg.WorkersMax, err = parseUint(val)
		case "ckpt_throttle":
			var n uint64
			n, err = strconv.ParseUint(val, 10, 63)
			cfg.CkptThrottle = durationUS(n)
		case "merge_throttle":
			var n uint64
			n, err = strconv.ParseUint(val, 10, 63)
			cfg.MergeThrottle = durationUS(n)
		default:
			return cfg, errors.Wrapf(ErrConfiguration, "unknown option %q", key)
		}
		if err != nil {
			return cfg, errors.Wrapf(ErrConfiguration, "option %q: %v", key, err)
		}
	}

	return cfg, nil
}

func parseUint(s string) (uint, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	return uint(n), err
}

func parseUint32(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	return uint32(n), err
}

func parseSize(s string) (uint64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	mult := uint64(1)
	switch {
	case strings.HasSuffix(s, "GB"):
		mult = 1 << 30
		s = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		mult = 1 << 20
		s = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		mult = 1 << 10
		s = strings.TrimSuffix(s, "KB")
	}
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, err
	}
	return n * mult, nil
}

func parseBloomPolicy(s string) (BloomPolicy, error) {
	switch strings.ToLower(s) {
	case "", "default", "all":
		return BloomDefault, nil
	case "off":
		return BloomOff, nil
	case "merged":
		return BloomMerged, nil
	case "oldest":
		return BloomOldest, nil
	default:
		return 0, errors.Errorf("unknown bloom policy %q", s)
	}
}

// TreeOption configures a Tree at Open time, generalizing the teacher's
// functional BucketOption pattern (bucket_options.go) to the tree level.
type TreeOption func(*Tree)

func WithLogger(logger logrus.FieldLogger) TreeOption {
	return func(t *Tree) { t.logger = logger }
}

func WithBlockStore(bs BlockStore) TreeOption {
	return func(t *Tree) { t.blocks = bs }
}

func WithCodec(c Codec) TreeOption {
	return func(t *Tree) { t.codec = c }
}

func WithCollator(c Collator) TreeOption {
	return func(t *Tree) { t.collator = c }
}

func WithManager(m *Manager) TreeOption {
	return func(t *Tree) { t.manager = m; t.ownsManager = false }
}

func WithMetrics(m *Metrics) TreeOption {
	return func(t *Tree) { t.metrics = m }
}
