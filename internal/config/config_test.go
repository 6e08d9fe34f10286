package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "guardian-cli", cfg.Logger.ServiceName)
	assert.Equal(t, "http://127.0.0.1:8000/check-sentence/", cfg.Oracle.FastURL)
	assert.Equal(t, "http://127.0.0.1:8000/check/llm/", cfg.Oracle.SecondaryURL)
	assert.Equal(t, 3, cfg.Oracle.MinLength)
	assert.Equal(t, 500*time.Millisecond, cfg.Guard.DebounceWindow)
	assert.Equal(t, []string{"q", "search_query", "p"}, cfg.Guard.QueryParams)
	assert.Contains(t, cfg.Guard.SendWords, "send")
	assert.Contains(t, cfg.Guard.SendWords, "tweet")
	assert.True(t, cfg.Enforcement.DisableControls)
	assert.True(t, cfg.Enforcement.ScrubField)
	assert.False(t, cfg.Enforcement.BroadScrub, "the broad sweep is opt-in")
	assert.True(t, cfg.Enforcement.Redirect)
	assert.Contains(t, cfg.Enforcement.DraftWords, "draft")
	assert.Equal(t, "127.0.0.1:7877", cfg.Pages.ListenAddr)
	assert.False(t, cfg.Proxy.Enabled)
	assert.False(t, cfg.Browser.Headless, "a supervised browser is visible by default")

	require.NoError(t, cfg.Validate(), "defaults must validate")
}

func TestNewConfigFromViper(t *testing.T) {
	v := defaultViper()
	v.Set("guard.debounce_window", "250ms")
	v.Set("oracle.min_length", 5)

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Guard.DebounceWindow)
	assert.Equal(t, 5, cfg.Oracle.MinLength)
}

func TestConfigFromEnvironment(t *testing.T) {
	t.Setenv("GUARDIAN_LLM_API_KEY", "test-key-123")

	v := defaultViper()
	v.Set("oracle.llm.enabled", true)

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "test-key-123", cfg.Oracle.LLM.APIKey)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(v *viper.Viper)
		wantErr string
	}{
		{
			name:    "missing fast url",
			mutate:  func(v *viper.Viper) { v.Set("oracle.fast_url", "") },
			wantErr: "oracle.fast_url",
		},
		{
			name:    "zero min length",
			mutate:  func(v *viper.Viper) { v.Set("oracle.min_length", 0) },
			wantErr: "oracle.min_length",
		},
		{
			name:    "zero debounce",
			mutate:  func(v *viper.Viper) { v.Set("guard.debounce_window", "0s") },
			wantErr: "guard.debounce_window",
		},
		{
			name:    "no query params",
			mutate:  func(v *viper.Viper) { v.Set("guard.query_params", []string{}) },
			wantErr: "guard.query_params",
		},
		{
			name:    "missing pages addr",
			mutate:  func(v *viper.Viper) { v.Set("pages.listen_addr", "") },
			wantErr: "pages.listen_addr",
		},
		{
			name:    "postgres sink without url",
			mutate:  func(v *viper.Viper) { v.Set("audit.postgres.enabled", true) },
			wantErr: "audit.postgres.url",
		},
		{
			name:    "llm without api key",
			mutate:  func(v *viper.Viper) { v.Set("oracle.llm.enabled", true) },
			wantErr: "API key",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v := defaultViper()
			tc.mutate(v)
			_, err := NewConfigFromViper(v)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
