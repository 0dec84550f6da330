package vault

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"dm-go/internal/dm"
)

func TestMemoryStore_PutAndOpen(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	tests := []struct {
		name    string
		content string
		size    int64
		wantErr bool
	}{
		{
			name:    "store and retrieve content",
			content: "hello world",
			size:    11,
		},
		{
			name:    "store empty content",
			content: "",
			size:    0,
		},
		{
			name:    "store large content",
			content: strings.Repeat("x", 10000),
			size:    10000,
		},
		{
			name:    "size mismatch",
			content: "short",
			size:    100,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			digest := digestOf(tt.content)
			err := store.Put(ctx, digest, strings.NewReader(tt.content), tt.size)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Put() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, dm.ErrStorageWrite) {
					t.Errorf("Put() error = %v, want ErrStorageWrite", err)
				}
				if ok, _ := store.Exists(ctx, digest); ok {
					t.Error("failed Put left content behind")
				}
				return
			}

			r, err := store.Open(ctx, digest)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer r.Close()
			got, _ := io.ReadAll(r)
			if string(got) != tt.content {
				t.Errorf("Open() content length = %d, want %d", len(got), len(tt.content))
			}
		})
	}
}

func TestMemoryStore_OpenMissing(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Open(context.Background(), digestOf("nope"))
	if !errors.Is(err, dm.ErrNotFound) {
		t.Errorf("Open() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_PutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	digest := digestOf("same")

	for i := 0; i < 2; i++ {
		if err := store.Put(ctx, digest, strings.NewReader("same"), 4); err != nil {
			t.Fatalf("Put() #%d error = %v", i, err)
		}
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}

	store.Delete(digest)
	if ok, _ := store.Exists(ctx, digest); ok {
		t.Error("Exists() after Delete = true, want false")
	}
}

func TestMemoryStore_FailPuts(t *testing.T) {
	store := NewMemoryStore()
	store.FailPuts = true

	err := store.Put(context.Background(), digestOf("x"), strings.NewReader("x"), 1)
	if !errors.Is(err, dm.ErrStorageWrite) {
		t.Errorf("Put() error = %v, want ErrStorageWrite", err)
	}
}
