// Package tracker classifies switches by image action status and waits for a
// fleet to reach a terminal state.
package tracker

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/httprunner/ImageAgent/pkg/issu"
)

// ExitPolicy selects how a device's tracked keys map onto done/failed/in-progress.
type ExitPolicy int

const (
	// UntilActionComplete: done when every key is Success, failed when any key is Failed.
	UntilActionComplete ExitPolicy = iota
	// UntilNoneInProgress: in progress while any key is In-Progress, otherwise done. Never failed.
	UntilNoneInProgress
)

func (p ExitPolicy) String() string {
	if p == UntilNoneInProgress {
		return "until_none_in_progress"
	}
	return "until_action_complete"
}

// Classifier partitions device identities for one set of action keys.
type Classifier struct {
	Keys   []issu.ActionKey
	Policy ExitPolicy
}

// Classification holds three disjoint sets whose union is the classified input.
type Classification struct {
	Done       mapset.Set[string]
	Failed     mapset.Set[string]
	InProgress mapset.Set[string]
}

// Classify partitions ids under snap. An id absent from snap is an error.
func (c Classifier) Classify(snap *issu.Snapshot, ids []string) (Classification, error) {
	out := Classification{
		Done:       mapset.NewThreadUnsafeSet[string](),
		Failed:     mapset.NewThreadUnsafeSet[string](),
		InProgress: mapset.NewThreadUnsafeSet[string](),
	}
	for _, id := range ids {
		rec, err := snap.Lookup(id)
		if err != nil {
			return Classification{}, err
		}
		switch c.classifyRecord(rec) {
		case classDone:
			out.Done.Add(id)
		case classFailed:
			out.Failed.Add(id)
		default:
			out.InProgress.Add(id)
		}
	}
	return out, nil
}

type class int

const (
	classInProgress class = iota
	classDone
	classFailed
)

func (c Classifier) classifyRecord(rec *issu.Record) class {
	if c.Policy == UntilNoneInProgress {
		for _, key := range c.Keys {
			if rec.Status(key) == issu.StatusInProgress {
				return classInProgress
			}
		}
		return classDone
	}
	allSuccess := true
	for _, key := range c.Keys {
		switch rec.Status(key) {
		case issu.StatusFailed:
			return classFailed
		case issu.StatusSuccess:
		default:
			allSuccess = false
		}
	}
	if allSuccess && len(c.Keys) > 0 {
		return classDone
	}
	return classInProgress
}

// failedKey returns the first tracked key reporting Failed.
func (c Classifier) failedKey(rec *issu.Record) issu.ActionKey {
	for _, key := range c.Keys {
		if rec.Status(key) == issu.StatusFailed {
			return key
		}
	}
	if len(c.Keys) > 0 {
		return c.Keys[0]
	}
	return ""
}
