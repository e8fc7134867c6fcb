package kdb

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// CleanupAll irreversibly removes every test case document and every
// snapshot, then recreates the empty namespaces. Counts cover only entries
// actually removed, so a second call reports zeros. Per-entry failures are
// collected into Errors and the returned error; the wipe keeps going.
func (db *DB) CleanupAll(ctx context.Context) (CleanupStats, error) {
	var (
		stats  CleanupStats
		result *multierror.Error
	)
	_ = db.withExclusive(func() error {
		n, err := db.deleteDocsLocked(ctx)
		stats.TestcasesRemoved = n
		result = multierror.Append(result, err)

		files, dirs, err := db.deleteAnalysisLocked(ctx)
		stats.AnalysisFilesRemoved = files
		stats.AnalysisDirsRemoved = dirs
		result = multierror.Append(result, err)

		result = multierror.Append(result, db.ensureNamespaces())
		return nil
	})

	err := result.ErrorOrNil()
	if err != nil {
		for _, e := range result.Errors {
			stats.Errors = append(stats.Errors, e.Error())
		}
	}
	db.logger.Info("knowledge base wiped",
		"testcases_removed", stats.TestcasesRemoved,
		"analysis_files_removed", stats.AnalysisFilesRemoved,
		"analysis_directories_removed", stats.AnalysisDirsRemoved,
		"errors", len(stats.Errors))
	return stats, err
}

// DeleteAll removes every test case document and returns how many were removed.
func (db *DB) DeleteAll(ctx context.Context) (int, error) {
	var n int
	err := db.withExclusive(func() error {
		var err error
		n, err = db.deleteDocsLocked(ctx)
		return err
	})
	return n, err
}

// CleanupOlderThan removes test case documents and snapshot files last
// modified more than days ago. It returns the number of test case documents
// removed.
func (db *DB) CleanupOlderThan(ctx context.Context, days int) (int, error) {
	cutoff := db.now().Add(-time.Duration(days) * 24 * time.Hour)
	var (
		removed int
		result  *multierror.Error
	)
	_ = db.withExclusive(func() error {
		paths, err := db.docPaths()
		if err != nil {
			result = multierror.Append(result, err)
			return nil
		}
		for _, p := range paths {
			if err := ctx.Err(); err != nil {
				result = multierror.Append(result, err)
				return nil
			}
			old, err := modifiedBefore(p, cutoff)
			if err != nil {
				result = multierror.Append(result, err)
				continue
			}
			if !old {
				continue
			}
			if err := os.Remove(p); err != nil {
				result = multierror.Append(result, ioErr("remove", p, err))
				continue
			}
			removed++
		}

		err = filepath.WalkDir(db.analysisDir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				result = multierror.Append(result, ioErr("walk", p, err))
				return nil
			}
			if d.IsDir() {
				return nil
			}
			old, err := modifiedBefore(p, cutoff)
			if err != nil {
				result = multierror.Append(result, err)
				return nil
			}
			if old {
				if err := os.Remove(p); err != nil {
					result = multierror.Append(result, ioErr("remove", p, err))
				}
			}
			return nil
		})
		if err != nil {
			result = multierror.Append(result, err)
		}
		return nil
	})

	db.logger.Info("old failures removed", "days", days, "testcases_removed", removed)
	return removed, result.ErrorOrNil()
}

// deleteDocsLocked removes every test case document. The caller holds the
// store lock exclusively.
func (db *DB) deleteDocsLocked(ctx context.Context) (int, error) {
	paths, err := db.docPaths()
	if err != nil {
		return 0, err
	}
	var (
		n      int
		result *multierror.Error
	)
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return n, multierror.Append(result, err).ErrorOrNil()
		}
		if err := os.Remove(p); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				result = multierror.Append(result, ioErr("remove", p, err))
			}
			continue
		}
		n++
	}
	return n, result.ErrorOrNil()
}

// deleteAnalysisLocked removes everything below the analysis namespace:
// files first, then directories deepest first. The namespace directory
// itself is kept.
func (db *DB) deleteAnalysisLocked(ctx context.Context) (files, dirs int, err error) {
	var (
		filePaths, dirPaths []string
		result              *multierror.Error
	)
	walkErr := filepath.WalkDir(db.analysisDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			result = multierror.Append(result, ioErr("walk", p, err))
			return nil
		}
		if p == db.analysisDir {
			return nil
		}
		if d.IsDir() {
			dirPaths = append(dirPaths, p)
		} else {
			filePaths = append(filePaths, p)
		}
		return nil
	})
	if walkErr != nil {
		result = multierror.Append(result, walkErr)
	}

	for _, p := range filePaths {
		if err := ctx.Err(); err != nil {
			return files, dirs, multierror.Append(result, err).ErrorOrNil()
		}
		if err := os.Remove(p); err != nil {
			result = multierror.Append(result, ioErr("remove", p, err))
			continue
		}
		files++
	}

	sort.Slice(dirPaths, func(i, j int) bool {
		return strings.Count(dirPaths[i], string(filepath.Separator)) > strings.Count(dirPaths[j], string(filepath.Separator))
	})
	for _, p := range dirPaths {
		if err := os.Remove(p); err != nil {
			result = multierror.Append(result, ioErr("remove", p, err))
			continue
		}
		dirs++
	}
	return files, dirs, result.ErrorOrNil()
}

func modifiedBefore(path string, cutoff time.Time) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, ioErr("stat", path, err)
	}
	return info.ModTime().Before(cutoff), nil
}
