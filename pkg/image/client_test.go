package image

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/httprunner/ImageAgent/pkg/controller"
	"github.com/httprunner/ImageAgent/pkg/controller/controllertest"
	"github.com/httprunner/ImageAgent/pkg/imageerr"
)

func TestStageBody(t *testing.T) {
	sender := controllertest.NewSender().
		Reply(http.MethodPost, controller.StageImageEndpoint.Path, 200, "OK", "[cvd-1313-leaf:Success]")
	_, err := NewClient(sender).Stage(context.Background(), []string{"FDO1", "FDO2", "FDO1"})
	require.NoError(t, err)

	calls := sender.CallsTo(http.MethodPost, controller.StageImageEndpoint.Path)
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{"sereialNum": []string{"FDO1", "FDO2"}}, calls[0].Body)
}

func TestStageRequiresSerials(t *testing.T) {
	_, err := NewClient(controllertest.NewSender()).Stage(context.Background(), nil)
	var precondition *imageerr.PreconditionError
	assert.True(t, errors.As(err, &precondition))
}

func TestValidateBody(t *testing.T) {
	sender := controllertest.NewSender().
		Reply(http.MethodPost, controller.ValidateImageEndpoint.Path, 200, "OK", nil)
	_, err := NewClient(sender).Validate(context.Background(), []string{"FDO1"}, true)
	require.NoError(t, err)
	calls := sender.CallsTo(http.MethodPost, controller.ValidateImageEndpoint.Path)
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{"serialNum": []string{"FDO1"}, "nonDisruptive": true}, calls[0].Body)
}

func TestValidateControllerError(t *testing.T) {
	sender := controllertest.NewSender().
		Reply(http.MethodPost, controller.ValidateImageEndpoint.Path, 500, "Internal Server Error", map[string]string{"error": "no image"})
	_, err := NewClient(sender).Validate(context.Background(), []string{"FDO1"}, false)
	var transport *imageerr.TransportError
	require.True(t, errors.As(err, &transport))
	assert.Contains(t, err.Error(), "FDO1")
}

func TestUpgradePayload(t *testing.T) {
	sender := controllertest.NewSender().
		Reply(http.MethodPost, controller.UpgradeImageEndpoint.Path, 200, "OK", nil)
	opts := DefaultUpgradeOptions()
	opts.NxosMode = ModeNonDisruptive
	opts.Epld = true
	opts.EpldModule = "3"
	_, err := NewClient(sender).Upgrade(context.Background(), "FDO1", "KR5M", opts)
	require.NoError(t, err)

	calls := sender.CallsTo(http.MethodPost, controller.UpgradeImageEndpoint.Path)
	require.Len(t, calls, 1)
	payload, ok := calls[0].Body.(upgradePayload)
	require.True(t, ok)
	assert.Equal(t, []deviceRef{{SerialNumber: "FDO1", PolicyName: "KR5M"}}, payload.Devices)
	assert.True(t, payload.IssuUpgrade)
	assert.True(t, payload.IssuUpgradeOptions1.NonDisruptive)
	assert.False(t, payload.IssuUpgradeOptions1.Disruptive)
	assert.True(t, payload.EpldUpgrade)
	assert.Equal(t, "3", payload.EpldOptions.ModuleNumber)
}

func TestUpgradeOptionsValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(o *UpgradeOptions)
		wantErr bool
	}{
		{"defaults", func(o *UpgradeOptions) {}, false},
		{"force non disruptive", func(o *UpgradeOptions) { o.NxosMode = ModeForceNonDisruptive }, false},
		{"bad mode", func(o *UpgradeOptions) { o.NxosMode = "FOO" }, true},
		{"module 9", func(o *UpgradeOptions) { o.EpldModule = "9" }, false},
		{"module 10", func(o *UpgradeOptions) { o.EpldModule = "10" }, true},
		{"golden needs ALL", func(o *UpgradeOptions) { o.EpldGolden = true; o.EpldModule = "1" }, true},
		{"golden with ALL", func(o *UpgradeOptions) { o.EpldGolden = true }, false},
		{"nothing to do", func(o *UpgradeOptions) { o.Nxos = false }, true},
		{"epld only", func(o *UpgradeOptions) { o.Nxos = false; o.Epld = true }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := DefaultUpgradeOptions()
			tc.mutate(&opts)
			err := opts.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestUpgradeRejectsInvalidOptions(t *testing.T) {
	sender := controllertest.NewSender()
	opts := DefaultUpgradeOptions()
	opts.NxosMode = "FOO"
	_, err := NewClient(sender).Upgrade(context.Background(), "FDO1", "KR5M", opts)
	var precondition *imageerr.PreconditionError
	require.True(t, errors.As(err, &precondition))
	assert.Contains(t, err.Error(), "FDO1")
	assert.Empty(t, sender.Calls())
}

func TestInstallOptions(t *testing.T) {
	sender := controllertest.NewSender().
		Reply(http.MethodPost, controller.InstallOptionsEndpoint.Path, 200, "OK", map[string]any{
			"compatibilityStatusList": []any{map[string]any{
				"deviceName":    "cvd-1312-leaf",
				"ipAddress":     "172.22.150.103",
				"policyName":    "KR5M",
				"status":        "Skipped",
				"installOption": "NA",
			}},
			"epldModules": map[string]any{"moduleList": []any{
				map[string]any{"module": 1, "moduleType": "IO FPGA", "oldVersion": "0x15", "newVersion": "0x15"},
				map[string]any{"module": 1, "moduleType": "MI FPGA", "oldVersion": "0x4", "newVersion": "0x04"},
			}},
			"errMessage": "",
		})
	out, err := NewClient(sender).InstallOptions(context.Background(), InstallOptionsRequest{
		Serial: "FDO211218GC", Policy: "KR5M", Issu: true, Epld: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "Skipped", out.Compatibility.Status)
	assert.Len(t, out.EpldModules, 2)
	assert.False(t, out.NeedsEpldUpgrade())

	body, ok := sender.Calls()[0].Body.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, body["epld"])
	assert.Equal(t, false, body["packageInstall"])
}

func TestInstallOptionsMissingPackage(t *testing.T) {
	sender := controllertest.NewSender().
		Reply(http.MethodPost, controller.InstallOptionsEndpoint.Path, 500, "Internal Server Error", map[string]any{
			"error": "Selected policy KR5M does not have package to continue.",
		})
	_, err := NewClient(sender).InstallOptions(context.Background(), InstallOptionsRequest{
		Serial: "FDO211218GC", Policy: "KR5M", PackageInstall: true,
	})
	var precondition *imageerr.PreconditionError
	require.True(t, errors.As(err, &precondition))
	assert.Contains(t, err.Error(), "Image policy KR5M does not have a package defined")
	assert.Contains(t, err.Error(), "FDO211218GC")
}

func TestInstallOptionsPreconditions(t *testing.T) {
	client := NewClient(controllertest.NewSender())
	_, err := client.InstallOptions(context.Background(), InstallOptionsRequest{Serial: "FDO1"})
	assert.ErrorContains(t, err, "policy_name must be set")
	_, err = client.InstallOptions(context.Background(), InstallOptionsRequest{Policy: "KR5M"})
	assert.ErrorContains(t, err, "serial_number must be set")
}

func TestNeedsEpldUpgrade(t *testing.T) {
	opts := &InstallOptions{EpldModules: []EpldModule{{OldVersion: "0x15", NewVersion: "0x16"}}}
	assert.True(t, opts.NeedsEpldUpgrade())
	assert.False(t, (&InstallOptions{}).NeedsEpldUpgrade())
}
