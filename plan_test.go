package imageagent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/httprunner/ImageAgent/pkg/image"
)

func TestParsePlanInheritsGlobalSection(t *testing.T) {
	plan, err := ParsePlan([]byte(`
policy: KR5M
validate: false
options:
  nxos_mode: non_disruptive
  epld: true
  epld_module: 1
switches:
  - ip_address: 172.22.150.102
  - ip_address: 172.22.150.103
    policy: NR3F
    stage: false
    options:
      epld: false
`))
	require.NoError(t, err)
	require.Len(t, plan.Switches, 2)

	first := plan.Switches[0]
	assert.Equal(t, "172.22.150.102", first.IPAddress)
	assert.Equal(t, "KR5M", first.Policy)
	assert.True(t, first.Stage)
	assert.False(t, first.Validate)
	assert.True(t, first.Upgrade)
	assert.True(t, first.Options.Nxos)
	assert.Equal(t, image.ModeNonDisruptive, first.Options.NxosMode)
	assert.True(t, first.Options.Epld)
	assert.Equal(t, "1", first.Options.EpldModule)
	assert.True(t, first.NonDisruptive())

	second := plan.Switches[1]
	assert.Equal(t, "NR3F", second.Policy)
	assert.False(t, second.Stage)
	assert.False(t, second.Options.Epld)
	// nested options merge key by key
	assert.Equal(t, image.ModeNonDisruptive, second.Options.NxosMode)
	assert.Equal(t, "1", second.Options.EpldModule)
}

func TestParsePlanDefaults(t *testing.T) {
	plan, err := ParsePlan([]byte("policy: KR5M\nswitches:\n  - ip_address: 10.1.1.1\n"))
	require.NoError(t, err)
	sw := plan.Switches[0]
	assert.True(t, sw.Stage)
	assert.True(t, sw.Validate)
	assert.True(t, sw.Upgrade)
	assert.Equal(t, image.DefaultUpgradeOptions(), sw.Options)
	assert.False(t, sw.NonDisruptive())
}

func TestParsePlanErrors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"no switches", "policy: KR5M\n", "switches"},
		{"empty switches", "policy: KR5M\nswitches: []\n", "at least one switch"},
		{"missing address", "policy: KR5M\nswitches:\n  - policy: NR3F\n", "ip_address"},
		{"no policy", "switches:\n  - ip_address: 10.1.1.1\n", "has no policy"},
		{"bad mode", "policy: P\noptions:\n  nxos_mode: sideways\nswitches:\n  - ip_address: 10.1.1.1\n", "nxos_mode"},
		{"bad module", "policy: P\nswitches:\n  - ip_address: 10.1.1.1\n    options:\n      epld_module: 12\n", "epld_module"},
		{"duplicate", "policy: P\nswitches:\n  - ip_address: 10.1.1.1\n  - ip_address: 10.1.1.1\n", "more than once"},
		{"unknown key", "policy: P\nswitches:\n  - ip_address: 10.1.1.1\n    colour: red\n", "colour"},
		{"golden needs all", "policy: P\noptions:\n  epld: true\n  epld_golden: true\n  epld_module: 2\nswitches:\n  - ip_address: 10.1.1.1\n", "must be ALL"},
		{"nothing to upgrade", "policy: P\noptions:\n  nxos: false\nswitches:\n  - ip_address: 10.1.1.1\n", "nothing to upgrade"},
		{"bad yaml", "policy: [\n", "decode plan yaml"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParsePlan([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParsePlanNothingToUpgradeIsFineWithoutUpgrade(t *testing.T) {
	_, err := ParsePlan([]byte("policy: P\nupgrade: false\noptions:\n  nxos: false\nswitches:\n  - ip_address: 10.1.1.1\n"))
	require.NoError(t, err)
}

func TestLoadPlanFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("policy: KR5M\nswitches:\n  - ip_address: 10.1.1.1\n"), 0o600))
	plan, err := LoadPlanFile(path)
	require.NoError(t, err)
	assert.Equal(t, "KR5M", plan.Switches[0].Policy)

	_, err = LoadPlanFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestExamplePlanParses(t *testing.T) {
	plan, err := LoadPlanFile(filepath.Join("examples", "upgrade-plan.yaml"))
	require.NoError(t, err)
	require.Len(t, plan.Switches, 3)

	first, second, third := plan.Switches[0], plan.Switches[1], plan.Switches[2]
	assert.Equal(t, "KR5M", first.Policy)
	assert.True(t, first.NonDisruptive())
	assert.True(t, first.Options.Epld)
	assert.True(t, first.Options.Nxos)

	assert.Equal(t, "NR3F", second.Policy)
	assert.False(t, second.NonDisruptive())
	assert.True(t, second.Options.Reboot)
	assert.True(t, second.Options.Epld)

	assert.True(t, third.Stage)
	assert.False(t, third.Upgrade)
}
