// Package switches reads the controller's switch inventory keyed by management address.
package switches

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/httprunner/ImageAgent/pkg/controller"
	"github.com/httprunner/ImageAgent/pkg/imageerr"
)

// Switch is one inventory entry.
type Switch struct {
	IPAddress    string `json:"ipAddress"`
	SerialNumber string `json:"serialNumber"`
	FabricName   string `json:"fabricName"`
	HostName     string `json:"hostName"`
	LogicalName  string `json:"logicalName"`
	Model        string `json:"model"`
	SwitchRole   string `json:"switchRole"`
	Release      string `json:"release"`
	Status       string `json:"status"`
}

// Platform derives the platform from the model prefix, e.g. N9K from N9K-C93180YC-EX.
func (s *Switch) Platform() string {
	if s.Model == "" {
		return ""
	}
	return strings.SplitN(s.Model, "-", 2)[0]
}

// Name prefers the logical name; hostName is empty on some controller releases.
func (s *Switch) Name() string {
	if s.LogicalName != "" {
		return s.LogicalName
	}
	return s.HostName
}

// Inventory caches the all-switches listing.
type Inventory struct {
	sender controller.Sender

	mu   sync.RWMutex
	byIP map[string]*Switch
}

// NewInventory builds an empty inventory; call Refresh before lookups.
func NewInventory(sender controller.Sender) *Inventory {
	return &Inventory{sender: sender, byIP: make(map[string]*Switch)}
}

// Refresh re-reads the inventory.
func (inv *Inventory) Refresh(ctx context.Context) error {
	const op = "switches.Refresh"
	ep := controller.SwitchesInfoEndpoint
	resp, err := inv.sender.Send(ctx, ep.Verb, ep.Path, nil)
	if err != nil {
		return err
	}
	if resp.ReturnCode != http.StatusOK {
		return &imageerr.TransportError{
			Op: op, Verb: ep.Verb, Path: ep.Path, ReturnCode: resp.ReturnCode,
			Message: "Unable to retrieve switch information from the controller. " + resp.Message,
		}
	}
	var list []*Switch
	if err := resp.DecodeData(&list); err != nil {
		return &imageerr.TransportError{
			Op: op, Verb: ep.Verb, Path: ep.Path, ReturnCode: resp.ReturnCode,
			Err: errors.Wrap(err, "decode switch inventory"),
		}
	}
	byIP := lo.SliceToMap(lo.Filter(list, func(s *Switch, _ int) bool {
		return s != nil && s.IPAddress != ""
	}), func(s *Switch) (string, *Switch) {
		return s.IPAddress, s
	})
	inv.mu.Lock()
	inv.byIP = byIP
	inv.mu.Unlock()
	log.Debug().Int("switches", len(byIP)).Msg("switch inventory refreshed")
	return nil
}

// Lookup returns the switch managed at ip.
func (inv *Inventory) Lookup(ip string) (*Switch, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	s, ok := inv.byIP[ip]
	if !ok {
		return nil, &imageerr.UnknownDeviceError{Op: "switches.Lookup", Identity: ip}
	}
	return s, nil
}

// List returns every switch sorted by address.
func (inv *Inventory) List() []*Switch {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	out := lo.Values(inv.byIP)
	sort.Slice(out, func(i, j int) bool { return out[i].IPAddress < out[j].IPAddress })
	return out
}
