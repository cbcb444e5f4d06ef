package backup

import (
	"testing"

	apperrors "dbvault/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_SetDefaults(t *testing.T) {
	config := Config{Compression: "ZSTD"}
	config.SetDefaults()

	assert.Equal(t, "backups", config.Directory)
	assert.Equal(t, CompressionTypeZstd, config.Compression)

	assert.Equal(t, CompressionTypeGzip, DefaultConfig().Compression)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "defaults",
			config: DefaultConfig(),
		},
		{
			name: "uploads and config files",
			config: Config{
				Directory:   "backups",
				Compression: CompressionTypeLZ4,
				Uploads:     []UploadSource{{Name: "avatars", Path: "/srv/avatars"}, {Name: "docs", Path: "/srv/docs"}},
				ConfigFiles: []string{"/etc/app/app.yaml", "/etc/app/.env"},
			},
		},
		{
			name:    "missing directory",
			config:  Config{Directory: " ", Compression: CompressionTypeGzip},
			wantErr: true,
		},
		{
			name:    "unknown compression",
			config:  Config{Directory: "backups", Compression: "rar"},
			wantErr: true,
		},
		{
			name: "duplicate upload names",
			config: Config{
				Directory: "backups",
				Uploads:   []UploadSource{{Name: "avatars", Path: "/a"}, {Name: "avatars", Path: "/b"}},
			},
			wantErr: true,
		},
		{
			name: "upload name with separator",
			config: Config{
				Directory: "backups",
				Uploads:   []UploadSource{{Name: "../avatars", Path: "/a"}},
			},
			wantErr: true,
		},
		{
			name: "upload without path",
			config: Config{
				Directory: "backups",
				Uploads:   []UploadSource{{Name: "avatars"}},
			},
			wantErr: true,
		},
		{
			name: "config files sharing a base name",
			config: Config{
				Directory:   "backups",
				ConfigFiles: []string{"/etc/a/app.yaml", "/etc/b/app.yaml"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, apperrors.IsConfigurationError(err))
		})
	}
}

func TestConfig_Lookups(t *testing.T) {
	config := Config{
		Uploads:     []UploadSource{{Name: "avatars", Path: "/srv/avatars"}},
		ConfigFiles: []string{"/etc/app/app.yaml"},
	}

	path, ok := config.UploadPath("avatars")
	assert.True(t, ok)
	assert.Equal(t, "/srv/avatars", path)

	_, ok = config.UploadPath("docs")
	assert.False(t, ok)

	path, ok = config.ConfigFilePath("app.yaml")
	assert.True(t, ok)
	assert.Equal(t, "/etc/app/app.yaml", path)

	_, ok = config.ConfigFilePath("other.yaml")
	assert.False(t, ok)
}
