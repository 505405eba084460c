package image

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// NxosMode selects how an NX-OS upgrade treats traffic.
type NxosMode string

const (
	ModeDisruptive         NxosMode = "disruptive"
	ModeNonDisruptive      NxosMode = "non_disruptive"
	ModeForceNonDisruptive NxosMode = "force_non_disruptive"
)

// EpldModuleAll upgrades every EPLD module.
const EpldModuleAll = "ALL"

var (
	nxosModes   = []any{ModeDisruptive, ModeNonDisruptive, ModeForceNonDisruptive}
	epldModules = []any{EpldModuleAll, "1", "2", "3", "4", "5", "6", "7", "8", "9"}
)

// UpgradeOptions selects what an upgrade does on a switch.
type UpgradeOptions struct {
	Nxos             bool     `mapstructure:"nxos" yaml:"nxos"`
	NxosMode         NxosMode `mapstructure:"nxos_mode" yaml:"nxos_mode"`
	BiosForce        bool     `mapstructure:"bios_force" yaml:"bios_force"`
	Epld             bool     `mapstructure:"epld" yaml:"epld"`
	EpldModule       string   `mapstructure:"epld_module" yaml:"epld_module"`
	EpldGolden       bool     `mapstructure:"epld_golden" yaml:"epld_golden"`
	Reboot           bool     `mapstructure:"reboot" yaml:"reboot"`
	ConfigReload     bool     `mapstructure:"config_reload" yaml:"config_reload"`
	WriteErase       bool     `mapstructure:"write_erase" yaml:"write_erase"`
	PackageInstall   bool     `mapstructure:"package_install" yaml:"package_install"`
	PackageUninstall bool     `mapstructure:"package_uninstall" yaml:"package_uninstall"`
}

// DefaultUpgradeOptions upgrades NX-OS disruptively and leaves EPLD alone.
func DefaultUpgradeOptions() UpgradeOptions {
	return UpgradeOptions{
		Nxos:       true,
		NxosMode:   ModeDisruptive,
		EpldModule: EpldModuleAll,
	}
}

// Validate checks the closed value sets and cross-field rules.
func (o UpgradeOptions) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.NxosMode, validation.Required, validation.In(nxosModes...)),
		validation.Field(&o.EpldModule, validation.Required, validation.In(epldModules...),
			validation.When(o.EpldGolden, validation.In(EpldModuleAll).Error("must be ALL when epld_golden is set"))),
		validation.Field(&o.Nxos, validation.When(!o.Epld && !o.Nxos && !o.PackageInstall && !o.PackageUninstall,
			validation.Required.Error("nothing to upgrade: enable nxos, epld or a package operation"))),
	)
}

// upgradePayload is the upgrade-image request body. The package keys keep the
// controller's spelling.
type upgradePayload struct {
	Devices             []deviceRef   `json:"devices"`
	IssuUpgrade         bool          `json:"issuUpgrade"`
	IssuUpgradeOptions1 issuOptions1  `json:"issuUpgradeOptions1"`
	IssuUpgradeOptions2 issuOptions2  `json:"issuUpgradeOptions2"`
	EpldUpgrade         bool          `json:"epldUpgrade"`
	EpldOptions         epldOptions   `json:"epldOptions"`
	Reboot              bool          `json:"reboot"`
	RebootOptions       rebootOptions `json:"rebootOptions"`
	PackageInstall      bool          `json:"pacakgeInstall"`
	PackageUnInstall    bool          `json:"pacakgeUnInstall"`
}

type deviceRef struct {
	SerialNumber string `json:"serialNumber"`
	PolicyName   string `json:"policyName"`
}

type issuOptions1 struct {
	NonDisruptive      bool `json:"nonDisruptive"`
	ForceNonDisruptive bool `json:"forceNonDisruptive"`
	Disruptive         bool `json:"disruptive"`
}

type issuOptions2 struct {
	BiosForce bool `json:"biosForce"`
}

type epldOptions struct {
	ModuleNumber string `json:"moduleNumber"`
	Golden       bool   `json:"golden"`
}

type rebootOptions struct {
	ConfigReload bool `json:"configReload"`
	WriteErase   bool `json:"writeErase"`
}

func buildUpgradePayload(serial, policy string, o UpgradeOptions) upgradePayload {
	return upgradePayload{
		Devices:     []deviceRef{{SerialNumber: serial, PolicyName: policy}},
		IssuUpgrade: o.Nxos,
		IssuUpgradeOptions1: issuOptions1{
			NonDisruptive:      o.NxosMode == ModeNonDisruptive,
			ForceNonDisruptive: o.NxosMode == ModeForceNonDisruptive,
			Disruptive:         o.NxosMode == ModeDisruptive,
		},
		IssuUpgradeOptions2: issuOptions2{BiosForce: o.BiosForce},
		EpldUpgrade:         o.Epld,
		EpldOptions:         epldOptions{ModuleNumber: o.EpldModule, Golden: o.EpldGolden},
		Reboot:              o.Reboot,
		RebootOptions:       rebootOptions{ConfigReload: o.ConfigReload, WriteErase: o.WriteErase},
		PackageInstall:      o.PackageInstall,
		PackageUnInstall:    o.PackageUninstall,
	}
}
