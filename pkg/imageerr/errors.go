// Package imageerr holds the error kinds raised while tracking image actions.
// Every kind carries an Op tag such as "tracker.Wait" or "policy.ValidateRequest"
// and enough device identity for an operator to find the switch without another lookup.
package imageerr

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// PreconditionError reports an unset or invalid input discovered before a request is sent.
type PreconditionError struct {
	Op  string
	Msg string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

// ChoiceError reports a value outside a closed set of choices.
type ChoiceError struct {
	Op      string
	Field   string
	Value   string
	Choices []string
}

func (e *ChoiceError) Error() string {
	return fmt.Sprintf("%s: instance.%s must be one of %s. Got %s.",
		e.Op, e.Field, strings.Join(e.Choices, ","), e.Value)
}

// UnknownActionError is raised when dispatch meets an action it has no handler for.
type UnknownActionError struct {
	Op     string
	Action string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("%s: Unknown action %s.", e.Op, e.Action)
}

// IncompatibilityError reports a policy that does not support a device platform.
type IncompatibilityError struct {
	Op        string
	Policy    string
	Platform  string
	Supported []string
	Serial    string
}

func (e *IncompatibilityError) Error() string {
	return fmt.Sprintf("%s: policy %s does not support platform %s (switch %s). %s supports the following platform(s): %s",
		e.Op, e.Policy, e.Platform, e.Serial, e.Policy, strings.Join(e.Supported, "/"))
}

// UnknownDeviceError reports an identity absent from the latest snapshot.
type UnknownDeviceError struct {
	Op       string
	Identity string
}

func (e *UnknownDeviceError) Error() string {
	return fmt.Sprintf("%s: %s does not exist on the controller.", e.Op, e.Identity)
}

// UnknownFieldError reports a raw field lookup for a key the device record does not carry.
type UnknownFieldError struct {
	Op       string
	Identity string
	Field    string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("%s: %s unknown property name: %s", e.Op, e.Identity, e.Field)
}

// EmptyResultError reports a controller reply with no records.
type EmptyResultError struct {
	Op  string
	Msg string
}

func (e *EmptyResultError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

// MissingFieldError reports a required payload field that resolved to null.
// The controller returns null device fields for switches it does not manage.
type MissingFieldError struct {
	Op         string
	Field      string
	IPAddress  string
	Serial     string
	DeviceName string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: Unable to determine %s for switch %s, %s, %s. Please verify that the switch is managed by the controller.",
		e.Op, e.Field, orNone(e.IPAddress), orNone(e.Serial), orNone(e.DeviceName))
}

// ActionFailedError reports a device whose action reached "Failed".
type ActionFailedError struct {
	Op         string
	Action     string
	DeviceName string
	IPAddress  string
	Serial     string
	Percent    int
	Remaining  time.Duration
}

func (e *ActionFailedError) Error() string {
	return fmt.Sprintf("%s: Seconds remaining %d: %s Failed for %s, %s, %s, %s percent: %d. Check the switch e.g. show install log detail, or the controller image management view for more details.",
		e.Op, int(e.Remaining.Seconds()), e.Action, orNone(e.DeviceName), orNone(e.IPAddress), orNone(e.Serial), e.Action, e.Percent)
}

// TimeoutError reports a wait whose budget elapsed before every device finished.
// Done and Todo are reported sorted ascending.
type TimeoutError struct {
	Op      string
	Action  string
	Timeout time.Duration
	Done    []string
	Todo    []string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: Timed out waiting for %s to complete. done: %s, todo: %s",
		e.Op, e.Action, JoinSorted(e.Done), JoinSorted(e.Todo))
}

// TransportError reports a failed or malformed controller call.
type TransportError struct {
	Op         string
	Verb       string
	Path       string
	ReturnCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s %s failed: %v", e.Op, e.Verb, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: bad result from %s %s: RETURN_CODE %d, MESSAGE %s",
		e.Op, e.Verb, e.Path, e.ReturnCode, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// JoinSorted returns ids sorted ascending and comma-joined.
func JoinSorted(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return s
}
