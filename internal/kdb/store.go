package kdb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	docExt         = ".json"
	maxSafeNameLen = 200
)

// SafeName encodes name into a filesystem-safe document name. Spaces become
// '_' and other characters outside [A-Za-z0-9_-] become '_' too. The plain
// encoding is kept only when it is reversible: no underscore in the name, no
// replaced character other than a space, no surrounding whitespace and at
// most 200 bytes. Otherwise a short hash of the original is appended after
// a '~', so distinct names stay distinct.
func SafeName(name string) string {
	trimmed := strings.TrimSpace(name)
	lossy := trimmed != name
	var b strings.Builder
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('_')
		case r == '_':
			b.WriteByte('_')
			lossy = true
		default:
			b.WriteByte('_')
			lossy = true
		}
	}
	safe := b.String()
	if len(safe) > maxSafeNameLen {
		safe = safe[:maxSafeNameLen]
		lossy = true
	}
	if safe == "" || lossy {
		sum := sha256.Sum256([]byte(name))
		safe += "~" + hex.EncodeToString(sum[:4])
	}
	return safe
}

func (db *DB) docPath(testCase string) string {
	return filepath.Join(db.testcasesDir, SafeName(testCase)+docExt)
}

// Load reads the record for testCase. A missing document yields an error
// wrapping ErrNotFound; a document holding another test case yields a
// StoreIOError wrapping ErrNameCollision. Load takes no locks; merges
// serialize through the engine.
func (db *DB) Load(_ context.Context, testCase string) (*TestCaseRecord, error) {
	path := db.docPath(testCase)
	rec, err := readRecord(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, testCase)
		}
		return nil, err
	}
	if rec.TestCase != testCase {
		return nil, ioErr("load", path, fmt.Errorf("%w: document holds %q, not %q", ErrNameCollision, rec.TestCase, testCase))
	}
	return rec, nil
}

// Save replaces the record's document atomically: readers see either the
// previous version or this one, never a partial write.
func (db *DB) Save(_ context.Context, rec *TestCaseRecord) error {
	if strings.TrimSpace(rec.TestCase) == "" {
		return &MalformedEntryError{Index: -1, Reason: "record has no test case name"}
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("kdb: marshal %q: %w", rec.TestCase, err)
	}
	path := db.docPath(rec.TestCase)
	if err := writeFileAtomic(path, data); err != nil {
		return ioErr("save", path, err)
	}
	return nil
}

// List returns the names of every stored test case, sorted. A missing
// namespace is an empty list.
func (db *DB) List(ctx context.Context) ([]string, error) {
	var names []string
	err := db.withShared(func() error {
		var err error
		names, err = db.listLocked(ctx)
		return err
	})
	return names, err
}

func (db *DB) listLocked(ctx context.Context) ([]string, error) {
	paths, err := db.docPaths()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, ioErr("read", p, err)
		}
		var head struct {
			TestCase string `json:"testCase"`
		}
		if err := json.Unmarshal(data, &head); err != nil || head.TestCase == "" {
			db.logger.Warn("skipping unreadable test case document", "path", p, "error", err)
			continue
		}
		names = append(names, head.TestCase)
	}
	sort.Strings(names)
	return names, nil
}

// loadAllLocked reads every readable record, sorted by test case name.
// Corrupt documents are logged and skipped.
func (db *DB) loadAllLocked(ctx context.Context) ([]*TestCaseRecord, error) {
	paths, err := db.docPaths()
	if err != nil {
		return nil, err
	}
	recs := make([]*TestCaseRecord, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := readRecord(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			db.logger.Warn("skipping unreadable test case document", "path", p, "error", err)
			continue
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].TestCase < recs[j].TestCase })
	return recs, nil
}

// docPaths lists document files in the testcases namespace.
func (db *DB) docPaths() ([]string, error) {
	entries, err := os.ReadDir(db.testcasesDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, ioErr("list", db.testcasesDir, err)
	}
	var paths []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != docExt {
			continue
		}
		paths = append(paths, filepath.Join(db.testcasesDir, name))
	}
	return paths, nil
}

func readRecord(path string) (*TestCaseRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, ioErr("read", path, err)
	}
	var rec TestCaseRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, ioErr("decode", path, err)
	}
	if rec.FailureHistory == nil {
		rec.FailureHistory = make(map[string]*FailureGroup)
	}
	return &rec, nil
}

// writeFileAtomic writes data to a temp file beside path, syncs it, and
// renames it into place.
func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
