package policy

import (
	"context"
	"encoding/json"
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

// Policy is one image policy from the controller catalog.
type Policy struct {
	Name        string   `json:"policyName"`
	Platform    string   `json:"platform"`
	Platforms   []string `json:"-"`
	ImageName   string   `json:"imageName"`
	NxosVersion string   `json:"nxosVersion"`
	PackageName string   `json:"packageName"`
	EpldImage   string   `json:"epldImgName"`
	Description string   `json:"policyDescr"`
	RefCount    int      `json:"ref_count"`
}

// Supports reports whether platform is one of the policy's platforms.
func (p *Policy) Supports(platform string) bool {
	return lo.Contains(p.Platforms, platform)
}

// splitPlatforms turns the controller's "N9K/N3K" form into a list.
func splitPlatforms(raw string) []string {
	parts := strings.Split(raw, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Catalog caches the controller's image policies. Read-only between refreshes.
type Catalog struct {
	sender controller.Sender

	mu       sync.RWMutex
	policies map[string]*Policy
}

// NewCatalog builds an empty catalog; call Refresh before lookups.
func NewCatalog(sender controller.Sender) *Catalog {
	return &Catalog{sender: sender, policies: make(map[string]*Policy)}
}

// Refresh re-reads every policy from the controller.
func (c *Catalog) Refresh(ctx context.Context) error {
	const op = "policy.Catalog.Refresh"
	ep := controller.PoliciesEndpoint
	resp, err := c.sender.Send(ctx, ep.Verb, ep.Path, nil)
	if err != nil {
		return err
	}
	if err := controller.Check(op, http.MethodGet, resp); err != nil {
		return err
	}
	var data struct {
		LastOperDataObject []*Policy `json:"lastOperDataObject"`
	}
	if err := resp.DecodeData(&data); err != nil {
		return &imageerr.TransportError{
			Op: op, Verb: ep.Verb, Path: ep.Path, ReturnCode: resp.ReturnCode,
			Err: errors.Wrap(err, "decode policies"),
		}
	}
	policies := make(map[string]*Policy, len(data.LastOperDataObject))
	for _, p := range data.LastOperDataObject {
		if p == nil || p.Name == "" {
			continue
		}
		p.Platforms = splitPlatforms(p.Platform)
		policies[p.Name] = p
	}
	c.mu.Lock()
	c.policies = policies
	c.mu.Unlock()
	log.Debug().Int("policies", len(policies)).Msg("image policies refreshed")
	return nil
}

// Policy returns the named policy.
func (c *Catalog) Policy(name string) (*Policy, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.policies[name]
	return p, ok
}

// Names returns every policy name, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := lo.Keys(c.policies)
	sort.Strings(names)
	return names
}

// MarshalPolicies renders the catalog for CLI output.
func (c *Catalog) MarshalPolicies() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	list := make([]*Policy, 0, len(c.policies))
	for _, name := range lo.Keys(c.policies) {
		list = append(list, c.policies[name])
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return json.MarshalIndent(list, "", "  ")
}
