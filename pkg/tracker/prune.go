package tracker

import (
	"github.com/httprunner/ImageAgent/pkg/issu"
)

// Predicate reports whether a device already satisfies a target condition.
type Predicate func(rec *issu.Record) bool

// StatusIs matches devices whose key reports status.
func StatusIs(key issu.ActionKey, status issu.ActionStatus) Predicate {
	return func(rec *issu.Record) bool {
		return rec.Status(key) == status
	}
}

// PolicyIs matches devices attached to policy.
func PolicyIs(policy string) Predicate {
	return func(rec *issu.Record) bool {
		return rec.Policy == policy
	}
}

// All matches devices satisfying every predicate.
func All(preds ...Predicate) Predicate {
	return func(rec *issu.Record) bool {
		for _, p := range preds {
			if !p(rec) {
				return false
			}
		}
		return len(preds) > 0
	}
}

// Prune returns ids for which pred does not hold under snap, preserving order.
// It does not refresh snap, so pruning a pruned set is a no-op.
func Prune(snap *issu.Snapshot, ids []string, pred Predicate) ([]string, error) {
	kept := make([]string, 0, len(ids))
	for _, id := range ids {
		rec, err := snap.Lookup(id)
		if err != nil {
			return nil, err
		}
		if pred(rec) {
			continue
		}
		kept = append(kept, id)
	}
	return kept, nil
}
