package cache

import (
	"context"
	"testing"

	"dsda-uploader/internal/config"
)

func TestNewCacheFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.CacheConfig
		wantErr bool
	}{
		{
			name: "memory cache",
			cfg:  config.CacheConfig{Type: "memory"},
		},
		{
			name: "filesystem cache",
			cfg:  config.CacheConfig{Type: "filesystem", FSRoot: "TEMP"},
		},
		{
			name:    "filesystem cache without root",
			cfg:     config.CacheConfig{Type: "filesystem"},
			wantErr: true,
		},
		{
			name:    "s3 cache without bucket",
			cfg:     config.CacheConfig{Type: "s3", S3Region: "us-east-1"},
			wantErr: true,
		},
		{
			name:    "unknown type",
			cfg:     config.CacheConfig{Type: "ftp"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			if cfg.FSRoot == "TEMP" {
				cfg.FSRoot = t.TempDir()
			}

			got, err := NewCacheFromConfig(context.Background(), cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewCacheFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got == nil {
				t.Error("NewCacheFromConfig() returned nil")
			}
			if tt.wantErr && got != nil {
				t.Error("NewCacheFromConfig() should return nil on error")
			}
		})
	}
}
