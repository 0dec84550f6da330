package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"dm-go/internal/config"
	"dm-go/internal/database"
	"dm-go/internal/dm"
	"dm-go/internal/fs"
	"dm-go/internal/metrics"
	"dm-go/internal/model"
	"dm-go/internal/server"
	"dm-go/internal/staging"
	"dm-go/internal/vault"
)

// DMApp is the application layer between the CLI and DMService.
// It constructs all dependencies from config, tracks the mutating operation
// being run, and manages the DB lifecycle on Close.
type DMApp struct {
	cfg       *config.Config
	db        dm.Registry
	store     dm.ContentStore
	staging   dm.StagingArea
	dirs      *fs.OSDirectoryManager
	collector *metrics.Collector
	logger    *slogAdapter
	service   *dm.DMService
	op        *Operation
	logFile   *os.File
}

// NewDMApp creates a fully wired DMApp from the given config.
// operation identifies the CLI command being run (e.g. "Upload", "Serve").
// The caller must call Close when done.
func NewDMApp(ctx context.Context, cfg *config.Config, operation string) (*DMApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dirs, err := fs.NewOSDirectoryManager(directoryRoot(cfg), nil)
	if err != nil {
		return nil, fmt.Errorf("creating directory manager: %w", err)
	}

	store, err := vault.NewContentStoreFromConfig(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("creating content store: %w", err)
	}
	if err := store.ValidateSetup(ctx); err != nil {
		return nil, fmt.Errorf("content store not usable: %w", err)
	}

	sa, err := staging.NewStagingAreaFromConfig(cfg.Staging)
	if err != nil {
		return nil, fmt.Errorf("creating staging area: %w", err)
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		closeStaging(sa)
		return nil, fmt.Errorf("creating database: %w", err)
	}

	if err := db.CheckMigrations(); err != nil {
		db.Close()
		closeStaging(sa)
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		db.Close()
		closeStaging(sa)
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	adapter := &slogAdapter{l: logger}

	collector := metrics.NewCollector()
	svc := dm.NewDMService(db, sa, store, dirs, adapter, collector, dm.RealClock{}, dm.UUIDGenerator{})

	return &DMApp{
		cfg:       cfg,
		db:        db,
		store:     store,
		staging:   sa,
		dirs:      dirs,
		collector: collector,
		logger:    adapter,
		service:   svc,
		op:        NewOperation(operation, ""),
		logFile:   logFile,
	}, nil
}

// closeStaging removes the staging area's private spool, if it has one.
func closeStaging(sa dm.StagingArea) error {
	if c, ok := sa.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// directoryRoot is the tree user directories live in. Blob-less storage
// types fall back to a directory under the base dir.
func directoryRoot(cfg *config.Config) string {
	if cfg.Storage.Root != "" {
		return cfg.Storage.Root
	}
	return filepath.Join(cfg.BaseDir, "storage")
}

// persistOperation saves the operation to the database, giving it an
// auto-increment ID. Only mutating commands call this.
func (a *DMApp) persistOperation(ctx context.Context, parameters string) error {
	if a.op.Persisted() {
		return nil
	}
	a.op.Parameters = parameters
	dbOp, err := a.db.CreateOperation(ctx, a.op.Operation, parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

// Upload stores the local file at localPath under logicalPath for userID.
// An empty logicalPath uses the file's base name.
func (a *DMApp) Upload(ctx context.Context, userID, localPath, logicalPath, directory string) (*dm.UploadResult, error) {
	if logicalPath == "" {
		logicalPath = filepath.Base(localPath)
	}
	if err := a.persistOperation(ctx, fmt.Sprintf("path=%s directory=%s", logicalPath, directory)); err != nil {
		return nil, err
	}

	f, err := os.Open(localPath)
	if err != nil {
		a.op.Fail()
		return nil, fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer f.Close()

	res, err := a.service.Upload(ctx, dm.UploadRequest{
		UserID:       userID,
		LogicalPath:  logicalPath,
		Directory:    directory,
		OriginalName: filepath.Base(localPath),
		Content:      f,
	})
	if err != nil {
		a.op.Fail()
		return nil, err
	}
	return res, nil
}

// Download resolves logicalPath at version, or the latest version when nil.
// The caller must close the returned content.
func (a *DMApp) Download(ctx context.Context, userID, logicalPath string, version *int64) (*dm.Download, error) {
	return a.service.Download(ctx, userID, logicalPath, version)
}

// ListOwned returns the file versions visible to userID.
func (a *DMApp) ListOwned(ctx context.Context, userID string) ([]dm.VisibleFile, error) {
	return a.service.ListOwned(ctx, userID)
}

// ListAll returns every recorded file version.
func (a *DMApp) ListAll(ctx context.Context) ([]*model.FileVersion, error) {
	return a.service.ListAll(ctx)
}

// MakeDirectory creates name under parent in the storage root.
func (a *DMApp) MakeDirectory(ctx context.Context, parent, name string) (string, error) {
	if err := a.persistOperation(ctx, fmt.Sprintf("parent=%s name=%s", parent, name)); err != nil {
		return "", err
	}
	created, err := a.service.CreateDirectory(ctx, parent, name)
	if err != nil {
		a.op.Fail()
		return "", err
	}
	return created, nil
}

// Grant makes a file version visible to grantee.
func (a *DMApp) Grant(ctx context.Context, granter, grantee, fileVersionID string) error {
	if err := a.persistOperation(ctx, fmt.Sprintf("id=%s to=%s", fileVersionID, grantee)); err != nil {
		return err
	}
	if err := a.service.GrantAccess(ctx, granter, grantee, fileVersionID); err != nil {
		a.op.Fail()
		return err
	}
	return nil
}

// GetHistory returns the most recent mutating operations.
func (a *DMApp) GetHistory(ctx context.Context, limit int) ([]*model.Operation, error) {
	return a.service.GetHistory(ctx, limit)
}

// Serve runs the HTTP server until ctx is cancelled. An empty listen
// address uses the configured one.
func (a *DMApp) Serve(ctx context.Context, listen string) error {
	if listen == "" {
		listen = a.cfg.Server.Listen
	}
	if err := a.persistOperation(ctx, "listen="+listen); err != nil {
		return err
	}

	srv, err := server.New(a.service, a.logger, a.collector)
	if err != nil {
		a.op.Fail()
		return err
	}
	if err := srv.ListenAndServe(ctx, listen); err != nil {
		a.op.Fail()
		return err
	}
	return nil
}

// Close finalizes the operation and closes all resources.
func (a *DMApp) Close() error {
	var errs []error

	if a.op.Persisted() {
		// The command context may already be cancelled (serve exits that way).
		if err := a.db.FinishOperation(context.Background(), a.op.ID, a.op.Status); err != nil {
			errs = append(errs, fmt.Errorf("finishing operation: %w", err))
		}
	}

	if err := a.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing database: %w", err))
	}

	if err := closeStaging(a.staging); err != nil {
		errs = append(errs, fmt.Errorf("closing staging area: %w", err))
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return errors.Join(errs...)
}
