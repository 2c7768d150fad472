package lsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestParseConfig_Overrides(t *testing.T) {
	cfg, err := ParseConfig("chunk_size=10MB,merge_max=15,bloom=off")
	require.NoError(t, err)
	assert.EqualValues(t, 10*1024*1024, cfg.ChunkSize)
	assert.EqualValues(t, 15, cfg.MergeMax)
	assert.Equal(t, BloomOff, cfg.Bloom)
}

func TestParseConfig_SizeSuffixes(t *testing.T) {
	cfg, err := ParseConfig("chunk_size=2KB,chunk_max=1GB")
	require.NoError(t, err)
	assert.EqualValues(t, 2*1024, cfg.ChunkSize)
	assert.EqualValues(t, 1<<30, cfg.ChunkMax)
}

func TestParseConfig_UnknownKeyRejected(t *testing.T) {
	_, err := ParseConfig("not_a_real_option=1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestParseConfig_Malformed(t *testing.T) {
	_, err := ParseConfig("chunk_size")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestParseConfig_BloomPolicies(t *testing.T) {
	cases := map[string]BloomPolicy{
		"":       BloomDefault,
		"all":    BloomDefault,
		"off":    BloomOff,
		"merged": BloomMerged,
		"oldest": BloomOldest,
	}
	for input, want := range cases {
		cfg, err := ParseConfig("bloom=" + input)
		require.NoError(t, err)
		assert.Equal(t, want, cfg.Bloom, "bloom=%q", input)
	}
}

func TestParseConfig_Throttles(t *testing.T) {
	cfg, err := ParseConfig("ckpt_throttle=1500,merge_throttle=2500")
	require.NoError(t, err)
	assert.EqualValues(t, 1500, cfg.CkptThrottle)
	assert.EqualValues(t, 2500, cfg.MergeThrottle)
}

func TestParseConfig_CollatorRecognized(t *testing.T) {
	cfg, err := ParseConfig("collator=reverse")
	require.NoError(t, err)
	assert.Equal(t, "reverse", cfg.CollatorName)
}

func TestParseConfig_UnknownCollatorRejected(t *testing.T) {
	_, err := ParseConfig("collator=nonexistent")
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.MergeMin = 1
	assert.ErrorIs(t, bad.Validate(), ErrConfiguration)

	bad = cfg
	bad.MergeMax = 1
	bad.MergeMin = 2
	assert.ErrorIs(t, bad.Validate(), ErrConfiguration)

	bad = cfg
	bad.ChunkSize = 0
	assert.ErrorIs(t, bad.Validate(), ErrConfiguration)

	bad = cfg
	bad.WorkersMax = 0
	assert.ErrorIs(t, bad.Validate(), ErrConfiguration)
}
