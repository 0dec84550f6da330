package dm_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"golang.org/x/sync/errgroup"

	"dm-go/internal/dm"
	"dm-go/internal/model"
	"dm-go/internal/testutil"
)

// racingRegistry lets another writer claim the version an upload computed,
// immediately before the upload's own insert, for the first races calls.
type racingRegistry struct {
	dm.Registry

	mu    sync.Mutex
	races int
	raced int
}

func (r *racingRegistry) RecordUpload(ctx context.Context, rec *model.FileVersion, ownerID string) error {
	r.mu.Lock()
	race := r.raced < r.races
	if race {
		r.raced++
	}
	n := r.raced
	r.mu.Unlock()

	if race {
		rival := &model.FileVersion{
			ID:            fmt.Sprintf("rival-%d", n),
			LogicalPath:   rec.LogicalPath,
			VersionNumber: rec.VersionNumber,
			Digest:        testutil.SHA256Hex([]byte(fmt.Sprintf("rival %d", n))),
			OriginalName:  "rival.txt",
			Size:          int64(len(fmt.Sprintf("rival %d", n))),
			CreatedAt:     rec.CreatedAt,
		}
		if err := r.Registry.RecordUpload(ctx, rival, "mallory"); err != nil {
			return fmt.Errorf("rival insert: %w", err)
		}
	}
	return r.Registry.RecordUpload(ctx, rec, ownerID)
}

func newRacingService(t *testing.T, races int) (*dm.DMService, *racingRegistry, *testutil.RecordingLogger) {
	t.Helper()
	reg := &racingRegistry{Registry: testutil.NewTestDatabase(t), races: races}
	logger := testutil.NewRecordingLogger()
	svc := dm.NewDMService(reg, testutil.NewTestStagingArea(), testutil.NewTestStore(),
		testutil.NewTestDirectoryManager(t), logger, testutil.NewRecordingMetrics(),
		testutil.FixedClock(), testutil.NewStubIDGenerator())
	return svc, reg, logger
}

func TestDMService_VersionConflictRetry(t *testing.T) {
	for races := range dm.MaxVersionAttempts {
		t.Run(fmt.Sprintf("%d lost races", races), func(t *testing.T) {
			svc, reg, logger := newRacingService(t, races)

			res, err := svc.Upload(context.Background(), dm.UploadRequest{
				UserID:      "alice",
				LogicalPath: "report.txt",
				Content:     strings.NewReader("final report"),
			})
			if err != nil {
				t.Fatalf("Upload() error = %v", err)
			}
			if res.Status != dm.UploadCreated {
				t.Fatalf("Upload() status = %v, want created", res.Status)
			}
			if got := res.Record.VersionNumber; got != int64(races) {
				t.Errorf("VersionNumber = %d, want %d", got, races)
			}
			if got := len(logger.Entries("DEBUG")); got < races {
				t.Errorf("retry debug entries = %d, want at least %d", got, races)
			}

			all, err := reg.ListFileVersions(context.Background())
			if err != nil {
				t.Fatalf("ListFileVersions() error = %v", err)
			}
			if len(all) != races+1 {
				t.Errorf("records = %d, want %d", len(all), races+1)
			}
		})
	}

	t.Run("gives up after max attempts", func(t *testing.T) {
		svc, reg, _ := newRacingService(t, dm.MaxVersionAttempts)

		_, err := svc.Upload(context.Background(), dm.UploadRequest{
			UserID:      "alice",
			LogicalPath: "report.txt",
			Content:     strings.NewReader("final report"),
		})
		if !errors.Is(err, dm.ErrVersionConflict) {
			t.Fatalf("Upload() error = %v, want ErrVersionConflict", err)
		}

		owned, err := reg.ListFileVersionsByOwner(context.Background(), "alice")
		if err != nil {
			t.Fatalf("ListFileVersionsByOwner() error = %v", err)
		}
		if len(owned) != 0 {
			t.Errorf("alice owns %d records after failed upload, want 0", len(owned))
		}
	})
}

func TestDMService_ConcurrentServicesSharedRegistry(t *testing.T) {
	const (
		services  = 4
		perWriter = 10
	)
	reg := testutil.NewTestDatabase(t)
	store := testutil.NewTestStore()
	dirs := testutil.NewTestDirectoryManager(t)

	// Each service has its own path locks, like separate processes sharing
	// one database and content store.
	svcs := make([]*dm.DMService, services)
	for i := range svcs {
		svcs[i] = dm.NewDMService(reg, testutil.NewTestStagingArea(), store, dirs,
			dm.NewNopLogger(), dm.NopMetrics{}, dm.RealClock{}, dm.UUIDGenerator{})
	}

	g, ctx := errgroup.WithContext(context.Background())
	var mu sync.Mutex
	versions := make(map[int64]int)
	for i, svc := range svcs {
		for j := range perWriter {
			g.Go(func() error {
				res, err := svc.Upload(ctx, dm.UploadRequest{
					UserID:      fmt.Sprintf("user-%d", i),
					LogicalPath: "p.txt",
					Content:     strings.NewReader(fmt.Sprintf("writer %d revision %d", i, j)),
				})
				if err != nil {
					return err
				}
				if res.Status != dm.UploadCreated {
					return fmt.Errorf("status = %v, want created", res.Status)
				}
				mu.Lock()
				versions[res.Record.VersionNumber]++
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	for v := range int64(services * perWriter) {
		if versions[v] != 1 {
			t.Errorf("version %d assigned %d times, want 1", v, versions[v])
		}
	}
	if len(versions) != services*perWriter {
		t.Errorf("distinct versions = %d, want %d", len(versions), services*perWriter)
	}
}
