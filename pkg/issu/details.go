// Package issu reads the controller's fleet-wide ISSU report and serves it as
// immutable snapshots keyed by serial number or management address.
package issu

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/httprunner/ImageAgent/pkg/controller"
	"github.com/httprunner/ImageAgent/pkg/imageerr"
)

const emptyReportMsg = "The controller has no switch ISSU information."

// Details refreshes ISSU snapshots from the controller.
type Details struct {
	sender controller.Sender
	keyBy  KeyBy

	mu     sync.RWMutex
	latest *Snapshot
}

// NewDetails builds a refresher keyed by keyBy.
func NewDetails(sender controller.Sender, keyBy KeyBy) *Details {
	return &Details{sender: sender, keyBy: keyBy}
}

type issuData struct {
	Status             string   `json:"status"`
	LastOperDataObject []Record `json:"lastOperDataObject"`
}

// Refresh fetches the whole fleet report and replaces the latest snapshot.
// A previous snapshot is never merged into the new one.
func (d *Details) Refresh(ctx context.Context) (*Snapshot, error) {
	const op = "issu.Refresh"
	if d == nil || d.sender == nil {
		return nil, errors.New("issu details sender is nil")
	}
	ep := controller.IssuDetailsEndpoint
	resp, err := d.sender.Send(ctx, ep.Verb, ep.Path, nil)
	if err != nil {
		return nil, err
	}
	if err := controller.Check(op, http.MethodGet, resp); err != nil {
		return nil, err
	}
	if !resp.HasData() {
		return nil, &imageerr.EmptyResultError{Op: op, Msg: emptyReportMsg}
	}
	var data issuData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, &imageerr.TransportError{
			Op: op, Verb: ep.Verb, Path: ep.Path, ReturnCode: resp.ReturnCode,
			Err: errors.Wrap(err, "decode issu report"),
		}
	}
	if len(data.LastOperDataObject) == 0 {
		return nil, &imageerr.EmptyResultError{Op: op, Msg: emptyReportMsg}
	}

	snap := NewSnapshot(d.keyBy, data.LastOperDataObject)
	d.mu.Lock()
	d.latest = snap
	d.mu.Unlock()
	log.Debug().Int("switches", snap.Len()).Str("key_by", d.keyBy.String()).Msg("issu report refreshed")
	return snap, nil
}

// Snapshot returns the most recent snapshot, or nil before the first refresh.
func (d *Details) Snapshot() *Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.latest
}
