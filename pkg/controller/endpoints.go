package controller

import (
	"net/http"
	"net/url"
	"strings"
)

const (
	basePath        = "/appcenter/cisco/ndfc/api/v1"
	imageManagement = basePath + "/imagemanagement/rest"
	lanFabric       = basePath + "/lan-fabric/rest"
)

// Endpoint pairs a controller path with its HTTP verb.
type Endpoint struct {
	Path string
	Verb string
}

var (
	// LoginEndpoint issues a session token.
	LoginEndpoint = Endpoint{Path: "/login", Verb: http.MethodPost}
	// IssuDetailsEndpoint lists per-switch stage/validate/upgrade status for the whole fleet.
	IssuDetailsEndpoint = Endpoint{Path: imageManagement + "/packagemgnt/issu", Verb: http.MethodGet}
	// SwitchesInfoEndpoint lists the switch inventory.
	SwitchesInfoEndpoint = Endpoint{Path: lanFabric + "/inventory/allswitches", Verb: http.MethodGet}
	// PoliciesEndpoint lists image policies.
	PoliciesEndpoint = Endpoint{Path: imageManagement + "/policymgnt/policies", Verb: http.MethodGet}
	// PolicyAttachEndpoint attaches a policy to switches.
	PolicyAttachEndpoint = Endpoint{Path: imageManagement + "/policymgnt/attach-policy", Verb: http.MethodPost}
	// PolicyDetachEndpoint detaches policies from switches; serial numbers go in the query string.
	PolicyDetachEndpoint = Endpoint{Path: imageManagement + "/policymgnt/detach-policy", Verb: http.MethodDelete}
	// StageImageEndpoint stages images onto switches.
	StageImageEndpoint = Endpoint{Path: imageManagement + "/stagingmanagement/stage-image", Verb: http.MethodPost}
	// ValidateImageEndpoint validates staged images.
	ValidateImageEndpoint = Endpoint{Path: imageManagement + "/stagingmanagement/validate-image", Verb: http.MethodPost}
	// UpgradeImageEndpoint upgrades a switch.
	UpgradeImageEndpoint = Endpoint{Path: imageManagement + "/imageupgrade/upgrade-image", Verb: http.MethodPost}
	// InstallOptionsEndpoint checks install compatibility for a switch/policy pair.
	InstallOptionsEndpoint = Endpoint{Path: imageManagement + "/imageupgrade/install-options", Verb: http.MethodPost}
)

// DetachPath returns the detach endpoint path for the given serial numbers.
func DetachPath(serials []string) string {
	q := url.Values{}
	q.Set("serialNumber", strings.Join(serials, ","))
	return PolicyDetachEndpoint.Path + "?" + q.Encode()
}
