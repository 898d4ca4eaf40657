package waldb

import "log"

// Config holds Database settings, populated by the defaults in Open and
// overridden by ConfigOption functions.
type Config struct {
	// Clock supplies record and segment-filename timestamps.
	Clock Clock
	// Fsync, if true, makes Flush call (*os.File).Sync after flushing the
	// buffered writer. The WAL codec's durability contract only requires
	// the flush to succeed; fsync is an opt-in stronger guarantee.
	Fsync bool
	// DirLock, if true (the default), guards the database directory with
	// an advisory file lock so a second instance pointed at the same
	// directory fails Open with ErrDirectoryLocked instead of silently
	// racing with the first.
	DirLock bool
	// Logger receives one line per recovery lifecycle event. Defaults to
	// log.Default().
	Logger *log.Logger
}

// ConfigOption mutates a Config.
type ConfigOption func(*Config)

// WithClock overrides the Clock used for record and segment timestamps.
// Intended for tests; production code should leave the default systemClock.
func WithClock(c Clock) ConfigOption {
	return func(cfg *Config) {
		cfg.Clock = c
	}
}

// WithFsync turns on (or off) calling (*os.File).Sync after every Flush.
func WithFsync(enabled bool) ConfigOption {
	return func(cfg *Config) {
		cfg.Fsync = enabled
	}
}

// WithDirLock turns the cross-process directory guard on or off.
func WithDirLock(enabled bool) ConfigOption {
	return func(cfg *Config) {
		cfg.DirLock = enabled
	}
}

// WithLogger overrides the logger used for recovery lifecycle messages.
func WithLogger(l *log.Logger) ConfigOption {
	return func(cfg *Config) {
		cfg.Logger = l
	}
}

func defaultConfig() Config {
	return Config{
		Clock:   systemClock{},
		Fsync:   false,
		DirLock: true,
		Logger:  log.Default(),
	}
}
