// Package backend describes build backends: the tools that turn a source
// checkout into packages, spoken to over the stdio protocol.
package backend

import (
	"fmt"

	"github.com/quarrypm/quarry/internal/solve"
)

// Spec is a tagged union over the ways a backend can be hosted. Exactly one
// field is set; dispatch is by case analysis, not virtual calls.
type Spec struct {
	// Isolated runs the backend from a dedicated tool environment that is
	// solved and installed on demand.
	Isolated *IsolatedSpec `yaml:"isolated,omitempty" json:"isolated,omitempty"`

	// System runs an executable assumed to already be present on PATH.
	// Mostly a development and testing affordance.
	System *SystemSpec `yaml:"system,omitempty" json:"system,omitempty"`
}

// IsolatedSpec names the installable backend and the command that starts it.
type IsolatedSpec struct {
	// Requirement is the match spec for the backend package itself.
	Requirement solve.MatchSpec `yaml:"requirement" json:"requirement"`

	// Extra are additional packages the backend needs in its environment.
	Extra []solve.MatchSpec `yaml:"extra,omitempty" json:"extra,omitempty"`

	// Command is the executable to invoke inside the instantiated prefix.
	// Defaults to the requirement name.
	Command string `yaml:"command,omitempty" json:"command,omitempty"`
}

// SystemSpec names an executable on PATH.
type SystemSpec struct {
	Command string `yaml:"command" json:"command"`
}

// Validate checks that exactly one variant is set and is well formed.
func (s Spec) Validate() error {
	switch {
	case s.Isolated != nil && s.System != nil:
		return fmt.Errorf("backend spec sets both isolated and system")
	case s.Isolated != nil:
		if s.Isolated.Requirement.Name == "" {
			return fmt.Errorf("isolated backend requirement has no name")
		}
		return nil
	case s.System != nil:
		if s.System.Command == "" {
			return fmt.Errorf("system backend has no command")
		}
		return nil
	default:
		return fmt.Errorf("backend spec is empty")
	}
}

// Name returns the backend's identifying name.
func (s Spec) Name() string {
	switch {
	case s.Isolated != nil:
		return s.Isolated.Requirement.Name
	case s.System != nil:
		return s.System.Command
	default:
		return ""
	}
}

// CommandName returns the executable that starts the backend.
func (s Spec) CommandName() string {
	switch {
	case s.Isolated != nil:
		if s.Isolated.Command != "" {
			return s.Isolated.Command
		}
		return s.Isolated.Requirement.Name
	case s.System != nil:
		return s.System.Command
	default:
		return ""
	}
}
