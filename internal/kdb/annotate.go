package kdb

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Annotate records a tester's verdict on the most recent occurrence of one
// failure group of testCase. failureIndex selects the group in Groups()
// order (most recently seen first). A non-empty note is appended to the
// occurrence's tester notes. The updated group is returned.
func (db *DB) Annotate(ctx context.Context, testCase string, isBug bool, note string, failureIndex int) (*FailureGroup, error) {
	var updated *FailureGroup
	err := db.withKey(SafeName(testCase), func() error {
		rec, err := db.Load(ctx, testCase)
		if err != nil {
			return err
		}
		groups := rec.Groups()
		if failureIndex < 0 || failureIndex >= len(groups) {
			return fmt.Errorf("kdb: failure index %d out of range: %q has %d failure groups", failureIndex, testCase, len(groups))
		}
		g := groups[failureIndex]
		occ := g.Latest()
		if occ == nil {
			return fmt.Errorf("kdb: failure %s of %q has no retained occurrences", g.FailureID, testCase)
		}

		now := db.now()
		verdict := isBug
		occ.IsBug = &verdict
		occ.BugStatusUpdated = &now
		if note != "" {
			class := ClassificationNotBug
			if isBug {
				class = ClassificationBug
			}
			occ.TesterNotes = append(occ.TesterNotes, TesterNote{
				ID:             uuid.NewString(),
				Timestamp:      now,
				Note:           note,
				Classification: class,
			})
		}
		if now.After(rec.LastUpdated) {
			rec.LastUpdated = now
		}
		if err := db.Save(ctx, rec); err != nil {
			return err
		}
		updated = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	db.logger.Info("failure classified", "test_case", testCase, "failure_id", updated.FailureID, "is_bug", isBug)
	return updated, nil
}
