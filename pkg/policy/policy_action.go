// Package policy attaches, detaches and queries image policies on switches.
package policy

import (
	"context"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/httprunner/ImageAgent/pkg/controller"
	"github.com/httprunner/ImageAgent/pkg/imageerr"
	"github.com/httprunner/ImageAgent/pkg/issu"
)

// Payload is one attach-policy entry.
type Payload struct {
	PolicyName   string `json:"policyName"`
	HostName     string `json:"hostName"`
	IPAddr       string `json:"ipAddr"`
	Platform     string `json:"platform"`
	SerialNumber string `json:"serialNumber"`
}

// payloadFields is the order in which missing payload fields are reported.
var payloadFields = []string{"hostName", "ipAddr", "platform", "serialNumber", "policyName"}

// Validate checks that every field resolved to a value.
func (p Payload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.PolicyName, validation.Required),
		validation.Field(&p.HostName, validation.Required),
		validation.Field(&p.IPAddr, validation.Required),
		validation.Field(&p.Platform, validation.Required),
		validation.Field(&p.SerialNumber, validation.Required),
	)
}

// DeviceState is one switch's policy as reported by a query.
type DeviceState struct {
	SerialNumber string `json:"serialNumber"`
	IPAddress    string `json:"ipAddress"`
	DeviceName   string `json:"deviceName"`
	Platform     string `json:"platform"`
	Policy       string `json:"policy"`
}

// CommitResult is returned by Commit.
type CommitResult struct {
	Action   Action
	Response *controller.Response
	Result   controller.Result
	Devices  []DeviceState
}

// PolicyAction attaches, detaches or queries one policy for a set of switches
// addressed by serial number.
type PolicyAction struct {
	Action     Action
	PolicyName string
	Serials    []string

	sender  controller.Sender
	details *issu.Details
	catalog *Catalog
}

// NewPolicyAction builds an action using serial-keyed ISSU details and a policy catalog
// fetched through sender. details and catalog may be nil.
func NewPolicyAction(sender controller.Sender, details *issu.Details, catalog *Catalog) *PolicyAction {
	if details == nil {
		details = issu.NewDetails(sender, issu.BySerialNumber)
	}
	if catalog == nil {
		catalog = NewCatalog(sender)
	}
	return &PolicyAction{sender: sender, details: details, catalog: catalog}
}

// BuildPayloads returns one attach payload per serial from snap.
func (a *PolicyAction) BuildPayloads(snap *issu.Snapshot) ([]Payload, error) {
	const op = "policy.BuildPayloads"
	payloads := make([]Payload, 0, len(a.Serials))
	for _, serial := range lo.Uniq(a.Serials) {
		rec, err := snap.LookupBy(issu.BySerialNumber, serial)
		if err != nil {
			return nil, err
		}
		p := Payload{
			PolicyName:   a.PolicyName,
			HostName:     rec.DeviceName,
			IPAddr:       rec.IPAddress,
			Platform:     rec.Platform,
			SerialNumber: rec.SerialNumber,
		}
		if err := p.Validate(); err != nil {
			return nil, &imageerr.MissingFieldError{
				Op:         op,
				Field:      firstMissing(err),
				IPAddress:  rec.IPAddress,
				Serial:     rec.SerialNumber,
				DeviceName: rec.DeviceName,
			}
		}
		payloads = append(payloads, p)
	}
	return payloads, nil
}

func firstMissing(err error) string {
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for _, field := range payloadFields {
			if _, ok := verrs[field]; ok {
				return field
			}
		}
	}
	return "payload"
}

// ValidateRequest runs the ordered precondition checks and stops at the first
// failure. It refreshes the policy catalog and ISSU details as needed.
func (a *PolicyAction) ValidateRequest(ctx context.Context) error {
	const op = "policy.ValidateRequest"
	if a.Action == "" {
		return &imageerr.PreconditionError{Op: op, Msg: "instance.action must be set before calling commit()"}
	}
	if !a.Action.Valid() {
		return choiceError(op, string(a.Action))
	}
	if a.PolicyName == "" {
		return &imageerr.PreconditionError{Op: op, Msg: "instance.policy_name must be set before calling commit()"}
	}
	if a.Action.needsTargets() && len(a.Serials) == 0 {
		return &imageerr.PreconditionError{Op: op, Msg: "instance.serial_numbers must be set before calling commit()"}
	}
	if a.Action == ActionQuery && len(a.Serials) == 0 {
		return nil
	}

	if err := a.catalog.Refresh(ctx); err != nil {
		return err
	}
	policy, ok := a.catalog.Policy(a.PolicyName)
	if !ok {
		return &imageerr.PreconditionError{Op: op, Msg: "policy " + a.PolicyName + " does not exist on the controller"}
	}
	if len(a.Serials) == 0 {
		return nil
	}
	snap, err := a.details.Refresh(ctx)
	if err != nil {
		return err
	}
	for _, serial := range a.Serials {
		rec, err := snap.LookupBy(issu.BySerialNumber, serial)
		if err != nil {
			return err
		}
		if !policy.Supports(rec.Platform) {
			return &imageerr.IncompatibilityError{
				Op:        op,
				Policy:    policy.Name,
				Platform:  rec.Platform,
				Supported: policy.Platforms,
				Serial:    serial,
			}
		}
	}
	return nil
}

// Commit validates the request and sends it.
func (a *PolicyAction) Commit(ctx context.Context) (*CommitResult, error) {
	if err := a.ValidateRequest(ctx); err != nil {
		return nil, err
	}
	return a.dispatch(ctx)
}

func (a *PolicyAction) dispatch(ctx context.Context) (*CommitResult, error) {
	switch a.Action {
	case ActionAttach:
		return a.attach(ctx)
	case ActionDetach:
		return a.detach(ctx)
	case ActionQuery:
		return a.query(ctx)
	default:
		return nil, &imageerr.UnknownActionError{Op: "policy.Commit", Action: string(a.Action)}
	}
}

func (a *PolicyAction) attach(ctx context.Context) (*CommitResult, error) {
	const op = "policy.attach"
	snap := a.details.Snapshot()
	if snap == nil {
		var err error
		if snap, err = a.details.Refresh(ctx); err != nil {
			return nil, err
		}
	}
	payloads, err := a.BuildPayloads(snap)
	if err != nil {
		return nil, err
	}
	ep := controller.PolicyAttachEndpoint
	body := map[string]any{"mappingList": payloads}
	resp, err := a.sender.Send(ctx, ep.Verb, ep.Path, body)
	if err != nil {
		return nil, err
	}
	if err := controller.Check(op, ep.Verb, resp); err != nil {
		return nil, err
	}
	log.Info().Str("policy", a.PolicyName).Strs("serials", a.Serials).Msg("image policy attached")
	return &CommitResult{Action: a.Action, Response: resp, Result: resp.Result(ep.Verb)}, nil
}

func (a *PolicyAction) detach(ctx context.Context) (*CommitResult, error) {
	const op = "policy.detach"
	path := controller.DetachPath(lo.Uniq(a.Serials))
	resp, err := a.sender.Send(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return nil, err
	}
	if err := controller.Check(op, http.MethodDelete, resp); err != nil {
		return nil, err
	}
	log.Info().Str("policy", a.PolicyName).Strs("serials", a.Serials).Msg("image policy detached")
	return &CommitResult{Action: a.Action, Response: resp, Result: resp.Result(http.MethodDelete)}, nil
}

func (a *PolicyAction) query(ctx context.Context) (*CommitResult, error) {
	snap, err := a.details.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	serials := a.Serials
	if len(serials) == 0 {
		serials = snap.IDs()
		if snap.KeyBy() != issu.BySerialNumber {
			serials = lo.FilterMap(snap.IDs(), func(id string, _ int) (string, bool) {
				s, err := snap.SerialFor(id)
				return s, err == nil && s != ""
			})
		}
	}
	devices := make([]DeviceState, 0, len(serials))
	for _, serial := range serials {
		rec, err := snap.LookupBy(issu.BySerialNumber, serial)
		if err != nil {
			return nil, err
		}
		if len(a.Serials) == 0 && rec.Policy != a.PolicyName {
			continue
		}
		devices = append(devices, DeviceState{
			SerialNumber: rec.SerialNumber,
			IPAddress:    rec.IPAddress,
			DeviceName:   rec.DeviceName,
			Platform:     rec.Platform,
			Policy:       rec.Policy,
		})
	}
	return &CommitResult{Action: a.Action, Result: controller.Result{Found: true, Success: true}, Devices: devices}, nil
}
