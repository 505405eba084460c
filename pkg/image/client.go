// Package image submits stage, validate and upgrade requests and reads
// per-switch install options.
package image

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/httprunner/ImageAgent/pkg/controller"
	"github.com/httprunner/ImageAgent/pkg/imageerr"
)

// Client sends image actions to the controller. Submission is asynchronous on
// the controller side; callers track completion with a tracker.Waiter.
type Client struct {
	sender controller.Sender
}

// NewClient wraps sender.
func NewClient(sender controller.Sender) *Client {
	return &Client{sender: sender}
}

// Stage copies the attached policy's images onto serials.
func (c *Client) Stage(ctx context.Context, serials []string) (*controller.Response, error) {
	const op = "image.Stage"
	serials = lo.Uniq(serials)
	if len(serials) == 0 {
		return nil, &imageerr.PreconditionError{Op: op, Msg: "no serial numbers to stage"}
	}
	// "sereialNum" is the controller's key.
	body := map[string]any{"sereialNum": serials}
	return c.submit(ctx, op, controller.StageImageEndpoint, body, serials)
}

// Validate checks staged images on serials.
func (c *Client) Validate(ctx context.Context, serials []string, nonDisruptive bool) (*controller.Response, error) {
	const op = "image.Validate"
	serials = lo.Uniq(serials)
	if len(serials) == 0 {
		return nil, &imageerr.PreconditionError{Op: op, Msg: "no serial numbers to validate"}
	}
	body := map[string]any{"serialNum": serials, "nonDisruptive": nonDisruptive}
	return c.submit(ctx, op, controller.ValidateImageEndpoint, body, serials)
}

// Upgrade starts an upgrade of one switch to policy.
func (c *Client) Upgrade(ctx context.Context, serial, policy string, opts UpgradeOptions) (*controller.Response, error) {
	const op = "image.Upgrade"
	if serial == "" || policy == "" {
		return nil, &imageerr.PreconditionError{Op: op, Msg: "serial number and policy name must be set before upgrade"}
	}
	if err := opts.Validate(); err != nil {
		return nil, &imageerr.PreconditionError{Op: op, Msg: "switch " + serial + ": invalid upgrade options: " + err.Error()}
	}
	return c.submit(ctx, op, controller.UpgradeImageEndpoint, buildUpgradePayload(serial, policy, opts), []string{serial})
}

func (c *Client) submit(ctx context.Context, op string, ep controller.Endpoint, body any, serials []string) (*controller.Response, error) {
	resp, err := c.sender.Send(ctx, ep.Verb, ep.Path, body)
	if err != nil {
		return nil, err
	}
	if err := controller.Check(op, ep.Verb, resp); err != nil {
		return nil, errors.Wrapf(err, "serial numbers %s", strings.Join(serials, ","))
	}
	log.Info().Str("op", op).Strs("serials", serials).Msg("image action submitted")
	return resp, nil
}

// InstallOptionsRequest asks which install steps a switch/policy pair needs.
type InstallOptionsRequest struct {
	Serial         string
	Policy         string
	Issu           bool
	Epld           bool
	PackageInstall bool
}

// CompatibilityStatus is the controller's verdict for one switch.
type CompatibilityStatus struct {
	DeviceName    string `json:"deviceName"`
	IPAddress     string `json:"ipAddress"`
	PolicyName    string `json:"policyName"`
	Platform      string `json:"platform"`
	Version       string `json:"version"`
	OsType        string `json:"osType"`
	Status        string `json:"status"`
	InstallOption string `json:"installOption"`
	CompDisp      string `json:"compDisp"`
	VersionCheck  string `json:"versionCheck"`
	PreIssuLink   string `json:"preIssuLink"`
	RepStatus     string `json:"repStatus"`
	Timestamp     string `json:"timestamp"`
}

// EpldModule is one EPLD module with its current and target versions.
type EpldModule struct {
	DeviceName string `json:"deviceName"`
	IPAddress  string `json:"ipAddress"`
	PolicyName string `json:"policyName"`
	Module     int    `json:"module"`
	ModelName  string `json:"modelName"`
	ModuleType string `json:"moduleType"`
	OldVersion string `json:"oldVersion"`
	NewVersion string `json:"newVersion"`
}

// InstallOptions is the install-options reply for one switch.
type InstallOptions struct {
	Compatibility CompatibilityStatus
	EpldModules   []EpldModule
	ErrMessage    string
}

// NeedsEpldUpgrade reports whether any EPLD module would change version.
func (o *InstallOptions) NeedsEpldUpgrade() bool {
	return lo.SomeBy(o.EpldModules, func(m EpldModule) bool {
		return !sameVersion(m.OldVersion, m.NewVersion)
	})
}

// sameVersion compares EPLD versions, treating "0x4" and "0x04" as equal.
func sameVersion(a, b string) bool {
	av, aerr := strconv.ParseInt(strings.TrimSpace(a), 0, 64)
	bv, berr := strconv.ParseInt(strings.TrimSpace(b), 0, 64)
	if aerr == nil && berr == nil {
		return av == bv
	}
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

type installOptionsData struct {
	CompatibilityStatusList []CompatibilityStatus `json:"compatibilityStatusList"`
	EpldModules             *struct {
		ModuleList []EpldModule `json:"moduleList"`
	} `json:"epldModules"`
	ErrMessage string `json:"errMessage"`
	Error      string `json:"error"`
}

const missingPackageMsg = "does not have package to continue"

// InstallOptions queries install options for one switch.
func (c *Client) InstallOptions(ctx context.Context, req InstallOptionsRequest) (*InstallOptions, error) {
	const op = "image.InstallOptions"
	if req.Policy == "" {
		return nil, &imageerr.PreconditionError{Op: op, Msg: "instance.policy_name must be set before calling refresh()"}
	}
	if req.Serial == "" {
		return nil, &imageerr.PreconditionError{Op: op, Msg: "instance.serial_number must be set before calling refresh()"}
	}
	ep := controller.InstallOptionsEndpoint
	body := map[string]any{
		"devices":        []deviceRef{{SerialNumber: req.Serial, PolicyName: req.Policy}},
		"issu":           req.Issu,
		"epld":           req.Epld,
		"packageInstall": req.PackageInstall,
	}
	resp, err := c.sender.Send(ctx, ep.Verb, ep.Path, body)
	if err != nil {
		return nil, err
	}
	var data installOptionsData
	decodeErr := resp.DecodeData(&data)
	if checkErr := controller.Check(op, ep.Verb, resp); checkErr != nil {
		if decodeErr == nil && strings.Contains(data.Error, missingPackageMsg) {
			return nil, &imageerr.PreconditionError{
				Op: op,
				Msg: "Possible cause: Image policy " + req.Policy + " does not have a package defined, " +
					"and package_install is set to true for device " + req.Serial + ". " + data.Error,
			}
		}
		return nil, checkErr
	}
	if decodeErr != nil {
		return nil, &imageerr.TransportError{
			Op: op, Verb: ep.Verb, Path: ep.Path, ReturnCode: resp.ReturnCode,
			Err: errors.Wrap(decodeErr, "decode install options"),
		}
	}
	out := &InstallOptions{ErrMessage: data.ErrMessage}
	if len(data.CompatibilityStatusList) > 0 {
		out.Compatibility = data.CompatibilityStatusList[0]
	}
	if data.EpldModules != nil {
		out.EpldModules = data.EpldModules.ModuleList
	}
	log.Debug().
		Str("serial", req.Serial).
		Str("policy", req.Policy).
		Str("status", out.Compatibility.Status).
		Str("install_option", out.Compatibility.InstallOption).
		Int("epld_modules", len(out.EpldModules)).
		Msg("install options")
	return out, nil
}
