package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDefaults() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func TestDefaults(t *testing.T) {
	cfg, err := decode(newDefaults())
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, StoreDriverBolt, cfg.Store.Driver)
	assert.Equal(t, 30*time.Second, cfg.Store.CacheTTL)
	assert.Equal(t, BlobDriverFilesystem, cfg.Storage.Driver)
	assert.Equal(t, "auth-session", cfg.Security.CookieName)
	assert.Equal(t, 5, cfg.Security.LoginLimit.Limit)
	assert.Equal(t, 15*time.Minute, cfg.Security.LoginLimit.Window)
	assert.Equal(t, 60, cfg.Security.APILimit.Limit)
	assert.Equal(t, time.Minute, cfg.Security.APILimit.Window)
	assert.Equal(t, 10, cfg.Upload.MaxFiles)
	assert.Equal(t, int64(10<<20), cfg.Upload.MaxFileSize)
	assert.Equal(t, "0 0 0 * * *", cfg.Jobs.CleanupSchedule)
	assert.NotEmpty(t, cfg.Security.SessionSecret)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(v *viper.Viper)
		wantErr string
	}{
		{
			name:    "production requires secret",
			mutate:  func(v *viper.Viper) { v.Set("environment", "production") },
			wantErr: "sessionsecret",
		},
		{
			name: "production with secret",
			mutate: func(v *viper.Viper) {
				v.Set("environment", "production")
				v.Set("security.sessionsecret", "s3cret")
			},
		},
		{
			name:    "unknown store driver",
			mutate:  func(v *viper.Viper) { v.Set("store.driver", "mysql") },
			wantErr: "unknown store driver",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(v *viper.Viper) { v.Set("store.driver", StoreDriverPostgres) },
			wantErr: "postgres.dsn",
		},
		{
			name: "minio without endpoint",
			mutate: func(v *viper.Viper) {
				v.Set("storage.driver", BlobDriverMinio)
			},
			wantErr: "storage.endpoint",
		},
		{
			name:    "unknown blob driver",
			mutate:  func(v *viper.Viper) { v.Set("storage.driver", "ftp") },
			wantErr: "unknown storage driver",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newDefaults()
			tt.mutate(v)

			_, err := decode(v)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCORSOriginsFromCommaList(t *testing.T) {
	v := newDefaults()
	v.Set("allowcorsorigins", "https://a.example,https://b.example")

	cfg, err := decode(v)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowCORSOrigins)
}

func TestEmbeddedConsumer(t *testing.T) {
	tests := []struct {
		name     string
		driver   string
		embedded bool
		want     bool
	}{
		{name: "bolt default", driver: StoreDriverBolt, want: true},
		{name: "bolt explicit", driver: StoreDriverBolt, embedded: true, want: true},
		{name: "postgres with worker", driver: StoreDriverPostgres, want: false},
		{name: "postgres embedded", driver: StoreDriverPostgres, embedded: true, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newDefaults()
			v.Set("store.driver", tt.driver)
			v.Set("postgres.dsn", "postgres://localhost/certportal")
			v.Set("queues.embedded", tt.embedded)

			cfg, err := decode(v)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.EmbeddedConsumer())
		})
	}
}

func TestTrustedProxiesDefaultEmpty(t *testing.T) {
	cfg, err := decode(newDefaults())
	require.NoError(t, err)
	assert.Empty(t, cfg.HTTP.TrustedProxies)

	v := newDefaults()
	v.Set("http.trustedproxies", "10.0.0.0/8,192.168.0.0/16")
	cfg, err = decode(v)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.0.0/16"}, cfg.HTTP.TrustedProxies)
}
