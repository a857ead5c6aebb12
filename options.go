package mogi

import (
	"io/fs"
	"log/slog"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	port            int
	databaseURL     string
	storage         string
	logger          *slog.Logger
	version         string
	actionProvider  ActionProvider
	extraMigrations []fs.FS
}

// WithPort overrides the TCP port from config (MOGI_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the database connection string from config
// (DATABASE_URL env var). Implies Postgres storage unless WithStorage says
// otherwise.
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithStorage overrides the storage backend from config (MOGI_STORAGE env
// var): "postgres" or "memory".
func WithStorage(storage string) Option {
	return func(o *resolvedOptions) { o.storage = storage }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithActionProvider replaces the auto-detected action provider
// (Anthropic/OpenAI/scripted) with a caller-supplied implementation.
func WithActionProvider(p ActionProvider) Option {
	return func(o *resolvedOptions) { o.actionProvider = p }
}

// WithExtraMigrations appends migration filesystems that run after the
// embedded migrations, in registration order. Postgres storage only.
func WithExtraMigrations(fsys fs.FS) Option {
	return func(o *resolvedOptions) { o.extraMigrations = append(o.extraMigrations, fsys) }
}
