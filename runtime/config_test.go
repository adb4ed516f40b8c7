package runtime_test

import (
	"testing"
	"time"

	"github.com/nyaruka/eventsink/runtime"
	"github.com/stretchr/testify/assert"
)

func TestConfigValidate(t *testing.T) {
	cfg := runtime.NewDefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 7*24*time.Hour, cfg.TTL())

	loc, err := cfg.Location()
	assert.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())

	// no redis means an in-memory ledger
	cfg.Redis = ""
	assert.NoError(t, cfg.Validate())

	tcs := []struct {
		modify        func(*runtime.Config)
		expectedError string
	}{
		{func(c *runtime.Config) { c.Redis = ":foo" }, "Field validation for 'Redis' failed on the 'url' tag"},
		{func(c *runtime.Config) { c.Redis = "http://localhost:6379" }, "Field validation for 'Redis' failed on the 'startswith' tag"},
		{func(c *runtime.Config) { c.LedgerTTL = 0 }, "Field validation for 'LedgerTTL' failed on the 'min' tag"},
		{func(c *runtime.Config) { c.Sink = "ftp" }, "Field validation for 'Sink' failed on the 'oneof' tag"},
		{func(c *runtime.Config) { c.S3Endpoint = "foo" }, "Field validation for 'S3Endpoint' failed on the 'url' tag"},
		{func(c *runtime.Config) { c.S3Bucket = "" }, "S3Bucket is required when sink is s3"},
		{func(c *runtime.Config) { c.Sink = "file"; c.FileRoot = "" }, "FileRoot is required when sink is file"},
		{func(c *runtime.Config) { c.Timezone = "Mars/Olympus" }, "invalid Timezone 'Mars/Olympus'"},
	}

	for _, tc := range tcs {
		cfg := runtime.NewDefaultConfig()
		tc.modify(cfg)

		err := cfg.Validate()
		if assert.Error(t, err, "expected error for config %v", cfg) {
			assert.Contains(t, err.Error(), tc.expectedError, "error mismatch for config %v", cfg)
		}
	}
}
