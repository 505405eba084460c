package imageagent

import (
	_ "embed"
	"os"
	"strconv"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/httprunner/ImageAgent/internal/params"
	"github.com/httprunner/ImageAgent/pkg/image"
)

//go:embed plan_spec.yaml
var planSpecYAML []byte

var planSpec = func() params.Spec {
	spec, err := params.ParseSpec(planSpecYAML)
	if err != nil {
		panic(err)
	}
	return spec
}()

// SwitchPlan is the resolved work for one switch. Unset keys are inherited
// from the plan's global section.
type SwitchPlan struct {
	IPAddress string               `mapstructure:"ip_address"`
	Policy    string               `mapstructure:"policy"`
	Stage     bool                 `mapstructure:"stage"`
	Validate  bool                 `mapstructure:"validate"`
	Upgrade   bool                 `mapstructure:"upgrade"`
	Options   image.UpgradeOptions `mapstructure:"options"`
}

// NonDisruptive reports whether validation should check for a non-disruptive upgrade.
func (s SwitchPlan) NonDisruptive() bool {
	return s.Options.NxosMode != image.ModeDisruptive
}

// Plan is an upgrade plan for a set of switches.
type Plan struct {
	Switches []SwitchPlan
}

// LoadPlanFile reads a YAML plan from path.
func LoadPlanFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read plan %s", path)
	}
	return ParsePlan(data)
}

// ParsePlan decodes a YAML plan, fills defaults and resolves per-switch
// inheritance.
func ParsePlan(data []byte) (*Plan, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "decode plan yaml")
	}
	normalizeModules(raw)
	merged := params.MergeDefaults(planSpec, raw)
	if err := params.Validate(planSpec, merged); err != nil {
		return nil, errors.Wrap(err, "invalid plan")
	}

	global := lo.OmitByKeys(merged, []string{"switches"})
	entries, _ := merged["switches"].([]any)
	if len(entries) == 0 {
		return nil, errors.New("invalid plan: switches must list at least one switch")
	}
	plan := &Plan{Switches: make([]SwitchPlan, 0, len(entries))}
	seen := make(map[string]bool, len(entries))
	for i, entry := range entries {
		sw, ok := entry.(map[string]any)
		if !ok {
			return nil, errors.Errorf("invalid plan: switches[%d] must be a mapping", i)
		}
		var sp SwitchPlan
		if err := decodeSwitch(inherit(global, sw), &sp); err != nil {
			return nil, errors.Wrapf(err, "decode switches[%d]", i)
		}
		if sp.Policy == "" {
			return nil, errors.Errorf("invalid plan: switches[%d] (%s) has no policy and no global policy is set", i, sp.IPAddress)
		}
		if seen[sp.IPAddress] {
			return nil, errors.Errorf("invalid plan: switch %s is listed more than once", sp.IPAddress)
		}
		seen[sp.IPAddress] = true
		if sp.Upgrade {
			if err := sp.Options.Validate(); err != nil {
				return nil, errors.Wrapf(err, "invalid upgrade options for %s", sp.IPAddress)
			}
		}
		plan.Switches = append(plan.Switches, sp)
	}
	return plan, nil
}

// inherit overlays a switch entry on the global section; nested dicts merge
// key by key.
func inherit(global, sw map[string]any) map[string]any {
	out := make(map[string]any, len(global)+len(sw))
	for k, v := range global {
		out[k] = v
	}
	for k, v := range sw {
		base, baseIsMap := out[k].(map[string]any)
		over, overIsMap := v.(map[string]any)
		if baseIsMap && overIsMap {
			out[k] = inherit(base, over)
			continue
		}
		out[k] = v
	}
	return out
}

func decodeSwitch(input map[string]any, out *SwitchPlan) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out,
		ErrorUnused: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// epld_module is usually written as a bare number.
func normalizeModules(raw map[string]any) {
	fix := func(section any) {
		opts, ok := section.(map[string]any)
		if !ok {
			return
		}
		if n, ok := opts["epld_module"].(int); ok {
			opts["epld_module"] = strconv.Itoa(n)
		}
	}
	fix(raw["options"])
	if list, ok := raw["switches"].([]any); ok {
		for _, entry := range list {
			if sw, ok := entry.(map[string]any); ok {
				fix(sw["options"])
			}
		}
	}
}
