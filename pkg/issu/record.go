package issu

import (
	"encoding/json"
	"maps"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"

	"github.com/httprunner/ImageAgent/pkg/imageerr"
)

// ActionKey names one tracked image action in the ISSU report.
type ActionKey string

const (
	ImageStaged ActionKey = "imageStaged"
	Validated   ActionKey = "validated"
	Upgrade     ActionKey = "upgrade"
)

// ActionKeys lists every tracked action key.
var ActionKeys = []ActionKey{ImageStaged, Upgrade, Validated}

// ParseActionKey converts s to an ActionKey.
func ParseActionKey(s string) (ActionKey, error) {
	for _, k := range ActionKeys {
		if strings.EqualFold(strings.TrimSpace(s), string(k)) {
			return k, nil
		}
	}
	choices := make([]string, 0, len(ActionKeys))
	for _, k := range ActionKeys {
		choices = append(choices, string(k))
	}
	return "", &imageerr.ChoiceError{Op: "issu.ParseActionKey", Field: "action_key", Value: s, Choices: choices}
}

// ActionStatus is the controller's per-action status string.
type ActionStatus string

const (
	StatusSuccess    ActionStatus = "Success"
	StatusFailed     ActionStatus = "Failed"
	StatusInProgress ActionStatus = "In-Progress"
	StatusSkipped    ActionStatus = "Skipped"
	StatusNone       ActionStatus = "none"
)

// IsTerminal reports whether the status ends polling for a device.
func (s ActionStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Record is one switch entry of the ISSU report. Null controller values decode
// to zero values; DeviceName is empty for switches the controller does not manage.
type Record struct {
	DeviceName         string `json:"deviceName"`
	IPAddress          string `json:"ipAddress"`
	SerialNumber       string `json:"serialNumber"`
	Platform           string `json:"platform"`
	Policy             string `json:"policy"`
	Model              string `json:"model"`
	Version            string `json:"version"`
	Fabric             string `json:"fabric"`
	Role               string `json:"role"`
	SwitchStatus       string `json:"status"`
	StatusPercent      int    `json:"status_percent"`
	ImageStaged        string `json:"imageStaged"`
	ImageStagedPercent int    `json:"imageStagedPercent"`
	Validated          string `json:"validated"`
	ValidatedPercent   int    `json:"validatedPercent"`
	Upgrade            string `json:"upgrade"`
	UpgradePercent     int    `json:"upgradePercent"`
	SwitchID           int    `json:"id"`
	LastUpgAction      string `json:"lastUpgAction"`
	Reason             string `json:"reason"`
	Mode               string `json:"mode"`
	SystemMode         string `json:"systemMode"`
	SysName            string `json:"sys_name"`

	// Extra holds controller keys that have no typed field.
	Extra map[string]json.RawMessage `json:"-"`

	raw map[string]json.RawMessage
}

var typedFields = mapset.NewSet(
	"deviceName", "ipAddress", "serialNumber", "platform", "policy", "model", "version",
	"fabric", "role", "status", "status_percent", "imageStaged", "imageStagedPercent",
	"validated", "validatedPercent", "upgrade", "upgradePercent", "id", "lastUpgAction",
	"reason", "mode", "systemMode", "sys_name",
)

// UnmarshalJSON decodes the typed fields and keeps every raw key for Raw lookups.
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	var typed plain
	if err := json.Unmarshal(data, &typed); err != nil {
		return errors.Wrap(err, "decode issu record")
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "decode issu record fields")
	}
	*r = Record(typed)
	r.raw = raw
	r.Extra = make(map[string]json.RawMessage)
	for k, v := range raw {
		if !typedFields.Contains(k) {
			r.Extra[k] = v
		}
	}
	return nil
}

func (r *Record) clone() *Record {
	out := *r
	out.Extra = maps.Clone(r.Extra)
	out.raw = maps.Clone(r.raw)
	return &out
}

// Status returns the status of one action key.
func (r *Record) Status(key ActionKey) ActionStatus {
	switch key {
	case ImageStaged:
		return ActionStatus(r.ImageStaged)
	case Validated:
		return ActionStatus(r.Validated)
	case Upgrade:
		return ActionStatus(r.Upgrade)
	}
	return ""
}

// Percent returns the completion percent of one action key.
func (r *Record) Percent(key ActionKey) int {
	switch key {
	case ImageStaged:
		return r.ImageStagedPercent
	case Validated:
		return r.ValidatedPercent
	case Upgrade:
		return r.UpgradePercent
	}
	return 0
}

func (r *Record) rawField(name string) (json.RawMessage, bool) {
	v, ok := r.raw[name]
	return v, ok
}
