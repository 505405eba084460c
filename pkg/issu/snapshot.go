package issu

import (
	"encoding/json"
	"sort"

	"github.com/httprunner/ImageAgent/pkg/imageerr"
)

// KeyBy selects which identity addresses a device.
type KeyBy int

const (
	BySerialNumber KeyBy = iota
	ByIPAddress
)

func (k KeyBy) String() string {
	if k == ByIPAddress {
		return "ip_address"
	}
	return "serial_number"
}

// Snapshot is an immutable view of one ISSU report. Serial and address
// indexes point into the same record slice.
type Snapshot struct {
	keyBy    KeyBy
	records  []Record
	bySerial map[string]int
	byIP     map[string]int
}

// NewSnapshot indexes records by serial number and address.
func NewSnapshot(keyBy KeyBy, records []Record) *Snapshot {
	s := &Snapshot{
		keyBy:    keyBy,
		records:  records,
		bySerial: make(map[string]int, len(records)),
		byIP:     make(map[string]int, len(records)),
	}
	for i := range records {
		if serial := records[i].SerialNumber; serial != "" {
			s.bySerial[serial] = i
		}
		if ip := records[i].IPAddress; ip != "" {
			s.byIP[ip] = i
		}
	}
	return s
}

// KeyBy reports the identity kind used by Lookup.
func (s *Snapshot) KeyBy() KeyBy {
	return s.keyBy
}

// Len returns the number of records.
func (s *Snapshot) Len() int {
	return len(s.records)
}

// IDs returns every identity of the snapshot's key kind, sorted.
func (s *Snapshot) IDs() []string {
	index := s.bySerial
	if s.keyBy == ByIPAddress {
		index = s.byIP
	}
	ids := make([]string, 0, len(index))
	for id := range index {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Lookup returns a copy of the record for id under the snapshot's key kind.
func (s *Snapshot) Lookup(id string) (*Record, error) {
	return s.LookupBy(s.keyBy, id)
}

// LookupBy returns a copy of the record for value under the given identity
// kind. Changes to the copy do not reach the snapshot.
func (s *Snapshot) LookupBy(kind KeyBy, value string) (*Record, error) {
	rec, err := s.record(kind, value)
	if err != nil {
		return nil, err
	}
	return rec.clone(), nil
}

func (s *Snapshot) record(kind KeyBy, value string) (*Record, error) {
	index := s.bySerial
	if kind == ByIPAddress {
		index = s.byIP
	}
	i, ok := index[value]
	if !ok {
		return nil, &imageerr.UnknownDeviceError{Op: "issu.Lookup", Identity: value}
	}
	return &s.records[i], nil
}

// Status returns the action status of id.
func (s *Snapshot) Status(id string, key ActionKey) (ActionStatus, error) {
	rec, err := s.record(s.keyBy, id)
	if err != nil {
		return "", err
	}
	return rec.Status(key), nil
}

// Percent returns the action completion percent of id.
func (s *Snapshot) Percent(id string, key ActionKey) (int, error) {
	rec, err := s.record(s.keyBy, id)
	if err != nil {
		return 0, err
	}
	return rec.Percent(key), nil
}

// Raw returns the undecoded controller value of field for id.
func (s *Snapshot) Raw(id, field string) (json.RawMessage, error) {
	rec, err := s.record(s.keyBy, id)
	if err != nil {
		return nil, err
	}
	v, ok := rec.rawField(field)
	if !ok {
		return nil, &imageerr.UnknownFieldError{Op: "issu.Raw", Identity: id, Field: field}
	}
	return append(json.RawMessage(nil), v...), nil
}

// SerialFor resolves an identity of either kind to a serial number.
func (s *Snapshot) SerialFor(id string) (string, error) {
	if rec, err := s.record(BySerialNumber, id); err == nil {
		return rec.SerialNumber, nil
	}
	rec, err := s.record(ByIPAddress, id)
	if err != nil {
		return "", err
	}
	return rec.SerialNumber, nil
}
