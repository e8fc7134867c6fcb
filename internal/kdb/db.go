package kdb

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gtaf/internal/logging"
	"gtaf/internal/resolve"
)

const (
	testcasesDirName = "testcases"
	analysisDirName  = "analysis"

	defaultTopFailures = 3
	defaultParallel    = 4
)

// DB is the knowledge database handle. Construct it once with Open and pass
// it to every caller; it is safe for concurrent use.
type DB struct {
	root         string
	testcasesDir string
	analysisDir  string

	retained    int
	topFailures int
	parallel    int
	now         func() time.Time
	logger      *slog.Logger

	// store is held shared by every operation touching documents and
	// exclusively by the wipe operations in maintenance.go.
	store sync.RWMutex
	keys  *keyedMutex
}

// Option configures a DB during Open.
type Option func(*DB) error

// WithRetainedOccurrences sets how many recent occurrences each failure group keeps.
func WithRetainedOccurrences(n int) Option {
	return func(db *DB) error {
		if n < 1 {
			return fmt.Errorf("kdb: retained occurrences must be >= 1, got %d", n)
		}
		db.retained = n
		return nil
	}
}

// WithTopFailures sets how many failing tests a snapshot lists.
func WithTopFailures(n int) Option {
	return func(db *DB) error {
		if n < 0 {
			return fmt.Errorf("kdb: top failures must be >= 0, got %d", n)
		}
		db.topFailures = n
		return nil
	}
}

// WithParallel bounds how many test cases Ingest merges at once.
func WithParallel(n int) Option {
	return func(db *DB) error {
		if n < 1 {
			return fmt.Errorf("kdb: parallel must be >= 1, got %d", n)
		}
		db.parallel = n
		return nil
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(db *DB) error {
		db.now = now
		return nil
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(db *DB) error {
		db.logger = l
		return nil
	}
}

// Open returns a DB rooted at dir, creating the namespaces if needed.
func Open(dir string, opts ...Option) (*DB, error) {
	db := &DB{
		root:         dir,
		testcasesDir: filepath.Join(dir, testcasesDirName),
		analysisDir:  filepath.Join(dir, analysisDirName),
		retained:     DefaultRetainedOccurrences,
		topFailures:  defaultTopFailures,
		parallel:     defaultParallel,
		now:          time.Now,
		keys:         newKeyedMutex(),
	}
	for _, opt := range opts {
		if err := opt(db); err != nil {
			return nil, err
		}
	}
	if db.logger == nil {
		db.logger = logging.New("kdb")
	}
	if err := db.ensureNamespaces(); err != nil {
		return nil, err
	}
	return db, nil
}

// Root returns the directory the DB lives in.
func (db *DB) Root() string { return db.root }

// Retained returns the occurrence window size.
func (db *DB) Retained() int { return db.retained }

func (db *DB) ensureNamespaces() error {
	for _, dir := range []string{db.testcasesDir, db.analysisDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return ioErr("create namespace", dir, err)
		}
	}
	return nil
}

// candidates lists stored test cases in resolver form.
func candidates(names []string) []resolve.Candidate {
	out := make([]resolve.Candidate, len(names))
	for i, n := range names {
		out[i] = resolve.Candidate{ID: n, Name: n}
	}
	return out
}
