package params

import (
	"testing"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSpec = `
policy:
  type: str
  required: true
stage:
  type: bool
  default: true
options:
  type: dict
  default: {}
  nxos:
    type: dict
    default: {}
    mode:
      type: str
      default: disruptive
      choices: [disruptive, non_disruptive]
  epld:
    type: dict
    module:
      type: str
      default: ALL
retries:
  type: int
  range_min: 1
  range_max: 5
switches:
  type: list
  elements:
    type: dict
    ip_address:
      type: str
      required: true
    stage:
      type: bool
      default: false
`

func mustSpec(t *testing.T) Spec {
	t.Helper()
	spec, err := ParseSpec([]byte(testSpec))
	require.NoError(t, err)
	return spec
}

func TestParseSpecSeparatesReservedNames(t *testing.T) {
	spec := mustSpec(t)
	require.Contains(t, spec, "options")
	opts := spec["options"]
	assert.Equal(t, KindDict, opts.Type)
	assert.NotContains(t, opts.Children, "type")
	assert.NotContains(t, opts.Children, "default")
	require.Contains(t, opts.Children, "nxos")
	mode := opts.Children["nxos"].Children["mode"]
	assert.Equal(t, "disruptive", mode.Default)
	assert.Len(t, mode.Choices, 2)
	require.NotNil(t, spec["switches"].Elements)
	assert.True(t, spec["switches"].Elements.Children["ip_address"].Required)
}

func TestMergeDefaultsFillsMissingRecursively(t *testing.T) {
	spec := mustSpec(t)
	in := map[string]any{
		"policy": "NR3F",
		"switches": []any{
			map[string]any{"ip_address": "10.0.0.1"},
			map[string]any{"ip_address": "10.0.0.2", "stage": true},
		},
	}
	out := MergeDefaults(spec, in)

	assert.Equal(t, true, out["stage"])
	opts := out["options"].(map[string]any)
	assert.Equal(t, "disruptive", opts["nxos"].(map[string]any)["mode"])
	// epld has no default, so it is not created.
	assert.NotContains(t, opts, "epld")
	assert.NotContains(t, out, "retries")

	switches := out["switches"].([]any)
	assert.Equal(t, false, switches[0].(map[string]any)["stage"])
	assert.Equal(t, true, switches[1].(map[string]any)["stage"])

	// the caller's map is untouched.
	assert.NotContains(t, in, "stage")
	assert.NotContains(t, in["switches"].([]any)[0].(map[string]any), "stage")
}

func TestMergeDefaultsKeepsUserValues(t *testing.T) {
	spec := mustSpec(t)
	out := MergeDefaults(spec, map[string]any{
		"stage":   false,
		"options": map[string]any{"epld": map[string]any{}},
	})
	assert.Equal(t, false, out["stage"])
	epld := out["options"].(map[string]any)["epld"].(map[string]any)
	assert.Equal(t, "ALL", epld["module"])
}

func TestMergeDefaultsDoesNotShareDefaults(t *testing.T) {
	spec := mustSpec(t)
	first := MergeDefaults(spec, nil)
	first["options"].(map[string]any)["nxos"].(map[string]any)["mode"] = "non_disruptive"
	second := MergeDefaults(spec, nil)
	assert.Equal(t, "disruptive", second["options"].(map[string]any)["nxos"].(map[string]any)["mode"])
}

func TestValidate(t *testing.T) {
	spec := mustSpec(t)

	ok := MergeDefaults(spec, map[string]any{"policy": "NR3F", "retries": 3})
	require.NoError(t, Validate(spec, ok))

	bad := MergeDefaults(spec, map[string]any{
		"stage":   "yes",
		"retries": 9,
		"options": map[string]any{"nxos": map[string]any{"mode": "sideways"}},
		"switches": []any{
			map[string]any{"stage": true},
		},
	})
	err := Validate(spec, bad)
	require.Error(t, err)
	errs, isErrs := err.(validation.Errors)
	require.True(t, isErrs)
	assert.Contains(t, errs, "policy")
	assert.Contains(t, errs, "stage")
	assert.Contains(t, errs, "retries")
	assert.Contains(t, errs, "options.nxos.mode")
	assert.Contains(t, errs, "switches[0].ip_address")
}

func TestParseSpecRejectsScalarField(t *testing.T) {
	_, err := ParseSpec([]byte("policy: str\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "policy must be a mapping")
}
