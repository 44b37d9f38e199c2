package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"loanflow/internal/config"
	"loanflow/internal/docstore"
	"loanflow/internal/docstore/migrations"
	"loanflow/internal/encryption"
	"loanflow/internal/flow"
	"loanflow/internal/identity"
	"loanflow/internal/loan"
	"loanflow/internal/metrics"
	"loanflow/internal/notify"
	"loanflow/internal/objectstore"
	"loanflow/internal/server"
	"loanflow/internal/staging"
)

// App is the application layer between the CLI and loan.Service.
// It constructs all dependencies from config and releases them on Close.
type App struct {
	cfg     *config.Config
	op      *Operation
	zl      *zap.Logger
	logger  loan.Logger
	docs    *docstore.SQLStore
	metrics *metrics.Collector
	service *loan.Service

	closeProvider func() error
}

// NewApp creates a fully wired App from the given config.
// operation identifies the CLI command being run (e.g. "serve", "login").
// The caller must call Close when done.
func NewApp(ctx context.Context, cfg *config.Config, operation string) (*App, error) {
	op := NewOperation(operation, time.Now())
	zl, err := newLogger(cfg.Log, op.ID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := newZapAdapter(zl)

	a, err := build(ctx, cfg, logger)
	if err != nil {
		zl.Sync()
		return nil, err
	}
	a.op = op
	a.zl = zl
	logger.Info("operation started", "command", operation)
	return a, nil
}

// build wires every component. It is split from NewApp so tests can supply
// their own logger.
func build(ctx context.Context, cfg *config.Config, logger loan.Logger) (*App, error) {
	clock := loan.RealClock{}
	ids := loan.UUIDGenerator{}

	flows, err := flow.Load(cfg.Flows.Dir)
	if err != nil {
		return nil, fmt.Errorf("loading flows: %w", err)
	}

	areas, err := staging.NewFactoryFromConfig(cfg.Staging)
	if err != nil {
		return nil, fmt.Errorf("creating staging area: %w", err)
	}

	objects, err := objectstore.NewObjectStoreFromConfig(ctx, cfg.ObjectStore)
	if err != nil {
		return nil, fmt.Errorf("creating object store: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}
	if enc != nil && !enc.IsConfigured() {
		return nil, fmt.Errorf("encryption keys not found: run `loanflow keys init` first")
	}

	notifier, err := notify.NewNotifierFromConfig(cfg.Notify, logger)
	if err != nil {
		return nil, fmt.Errorf("creating notifier: %w", err)
	}

	docs, err := docstore.NewDocumentStoreFromConfig(ctx, cfg.DocumentStore, clock, ids)
	if err != nil {
		return nil, fmt.Errorf("creating document store: %w", err)
	}

	provider, closeProvider, err := identity.NewProviderFromConfig(ctx, cfg.Identity, clock, ids, logger)
	if err != nil {
		docs.Close()
		return nil, fmt.Errorf("creating identity provider: %w", err)
	}

	m := metrics.New()
	coordinator := loan.NewCoordinator(objects, docs, enc, notifier, clock, logger, m)
	svc := loan.NewService(flows, areas, provider, docs, coordinator, clock, ids, logger, m, cfg.HTTP.SessionTTL.Duration)

	return &App{
		cfg:           cfg,
		logger:        logger,
		docs:          docs,
		metrics:       m,
		service:       svc,
		closeProvider: closeProvider,
	}, nil
}

// Service returns the wired loan service.
func (a *App) Service() *loan.Service { return a.service }

// Logger returns the process logger.
func (a *App) Logger() loan.Logger { return a.logger }

// Handler returns the HTTP API.
func (a *App) Handler() *server.Server {
	return server.New(a.service, a.logger, a.metrics, server.Options{
		AllowedOrigins: a.cfg.HTTP.AllowedOrigins,
	})
}

// Serve runs the HTTP API on the configured address until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	a.logger.Info("listening", "addr", a.cfg.HTTP.Addr)
	return a.Handler().ListenAndServe(ctx, a.cfg.HTTP.Addr)
}

// ListApplications returns stored applications of kind, newest first.
func (a *App) ListApplications(ctx context.Context, kind, status string, limit int) ([]*loan.SubmittedRecord, error) {
	return a.service.ListApplications(ctx, kind, status, limit)
}

// GetApplication returns one stored application, or nil if it does not exist.
func (a *App) GetApplication(ctx context.Context, kind, id string) (*loan.SubmittedRecord, error) {
	return a.service.GetApplication(ctx, kind, id)
}

// DeleteApplication removes a stored application and its documents.
func (a *App) DeleteApplication(ctx context.Context, kind, id string) error {
	return a.service.DeleteApplication(ctx, kind, id)
}

// Fail marks the running operation as failed; Close logs the outcome.
func (a *App) Fail() {
	if a.op != nil {
		a.op.Fail()
	}
}

// Close shuts down live sessions and releases the stores.
func (a *App) Close() error {
	var firstErr error

	a.service.Shutdown()

	if a.closeProvider != nil {
		if err := a.closeProvider(); err != nil {
			firstErr = fmt.Errorf("closing identity provider: %w", err)
		}
	}
	if err := a.docs.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing document store: %w", err)
	}

	if a.op != nil {
		a.logger.Info("operation finished",
			"command", a.op.Command,
			"status", a.op.Status,
			"elapsed", a.op.Elapsed(time.Now()),
		)
	}
	if a.zl != nil {
		a.zl.Sync()
	}
	return firstErr
}

// Migrate brings the configured document store schema up to date.
func Migrate(ctx context.Context, cfg config.DocumentStoreConfig) error {
	db, dialect, err := docstore.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening document store: %w", err)
	}
	defer db.Close()

	if err := migrations.MigrateUp(db, dialect); err != nil {
		return err
	}
	return migrations.CheckDBMigrationStatus(db, dialect)
}

// SetupKeys generates the document encryption key pair. The private key is
// protected with passphrase.
func SetupKeys(cfg config.EncryptionConfig, passphrase string) error {
	return encryption.NewAgeEncryptor(cfg).Setup(passphrase)
}

// DecryptDocument decrypts one downloaded document from r into w.
func DecryptDocument(cfg config.EncryptionConfig, passphrase string, r io.Reader, w io.Writer) error {
	enc := encryption.NewAgeEncryptor(cfg)
	if !enc.IsConfigured() {
		return fmt.Errorf("encryption keys not found at %s", cfg.PublicKeyPath)
	}
	dec, err := enc.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking private key: %w", err)
	}
	return dec.Decrypt(r, w)
}
