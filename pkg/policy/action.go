package policy

import (
	"strings"

	"github.com/samber/lo"

	"github.com/httprunner/ImageAgent/pkg/imageerr"
)

// Action is a policy membership operation.
type Action string

const (
	ActionAttach Action = "attach"
	ActionDetach Action = "detach"
	ActionQuery  Action = "query"
)

// Actions lists the valid actions in display order.
var Actions = []Action{ActionAttach, ActionDetach, ActionQuery}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return lo.Contains(Actions, a)
}

// needsTargets reports whether the action requires explicit switches.
func (a Action) needsTargets() bool {
	return a != ActionQuery
}

// ParseAction converts s to an Action.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", choiceError("policy.ParseAction", s)
	}
	return a, nil
}

func choiceError(op, value string) error {
	return &imageerr.ChoiceError{
		Op:      op,
		Field:   "action",
		Value:   value,
		Choices: lo.Map(Actions, func(a Action, _ int) string { return string(a) }),
	}
}
