package vault

import (
	"context"
	"path/filepath"
	"testing"

	"dm-go/internal/config"
)

func TestNewContentStoreFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.StorageConfig
		wantErr bool
		wantNil bool
	}{
		{
			name:    "memory store",
			cfg:     config.StorageConfig{Type: "memory"},
			wantErr: false,
			wantNil: false,
		},
		{
			name: "filesystem store",
			cfg: config.StorageConfig{
				Type: "filesystem",
				Root: filepath.Join(t.TempDir(), "storage"),
			},
			wantErr: false,
			wantNil: false,
		},
		{
			name:    "filesystem store without root",
			cfg:     config.StorageConfig{Type: "filesystem"},
			wantErr: true,
			wantNil: true,
		},
		{
			name:    "s3 store without bucket",
			cfg:     config.StorageConfig{Type: "s3"},
			wantErr: true,
			wantNil: true,
		},
		{
			name:    "unknown storage type",
			cfg:     config.StorageConfig{Type: "unknown"},
			wantErr: true,
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewContentStoreFromConfig(context.Background(), tt.cfg)

			if (err != nil) != tt.wantErr {
				t.Errorf("NewContentStoreFromConfig() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if (got == nil) != tt.wantNil {
				t.Errorf("NewContentStoreFromConfig() returned nil = %v, wantNil %v", got == nil, tt.wantNil)
			}

			// For successful cases, verify the store works
			if !tt.wantErr && got != nil {
				if err := got.ValidateSetup(context.Background()); err != nil {
					t.Errorf("ValidateSetup() error = %v", err)
				}
			}
		})
	}
}
