package history

import (
	"fmt"
	"strings"

	"github.com/hazyhaar/chatwatch/chatwatch/report"
)

// Role aliases the reported role type.
type Role = report.Role

const (
	RoleUser      = report.RoleUser
	RoleAssistant = report.RoleAssistant
	RoleUnknown   = report.RoleUnknown
)

// Scope says which class list a marker is looked for in.
type Scope string

const (
	ScopeOwn    Scope = "own"
	ScopeParent Scope = "parent"
	ScopeBoth   Scope = "both"
)

// RoleRule maps a class-name substring to a role.
type RoleRule struct {
	Marker string `yaml:"marker" json:"marker"`
	Role   Role   `yaml:"role" json:"role"`
	Scope  Scope  `yaml:"scope" json:"scope"`
}

// RoleRules is the marker table used to infer message authorship.
type RoleRules []RoleRule

// DefaultRoleRules returns the markers common chat front ends use.
func DefaultRoleRules() RoleRules {
	return RoleRules{
		{"user", RoleUser, ScopeBoth},
		{"human", RoleUser, ScopeBoth},
		{"end", RoleUser, ScopeBoth},
		{"assistant", RoleAssistant, ScopeOwn},
		{"bot", RoleAssistant, ScopeOwn},
		{"ai", RoleAssistant, ScopeOwn},
		{"start", RoleAssistant, ScopeBoth},
	}
}

// Validate rejects rules with an empty marker, an unknown role or scope.
func (rr RoleRules) Validate() error {
	for i, r := range rr {
		if r.Marker == "" {
			return fmt.Errorf("history: role rule %d: empty marker", i)
		}
		if r.Role != RoleUser && r.Role != RoleAssistant {
			return fmt.Errorf("history: role rule %d: role %q", i, r.Role)
		}
		switch r.Scope {
		case ScopeOwn, ScopeParent, ScopeBoth:
		default:
			return fmt.Errorf("history: role rule %d: scope %q", i, r.Scope)
		}
	}
	return nil
}

// Derive infers a role from the element's own and its parent's classes.
// Matching both roles, or neither, yields RoleUnknown.
func (rr RoleRules) Derive(own, parent []string) Role {
	ownS := strings.Join(own, " ")
	parentS := strings.Join(parent, " ")

	var user, assistant bool
	for _, r := range rr {
		hit := false
		if r.Scope != ScopeParent && strings.Contains(ownS, r.Marker) {
			hit = true
		}
		if r.Scope != ScopeOwn && strings.Contains(parentS, r.Marker) {
			hit = true
		}
		if !hit {
			continue
		}
		switch r.Role {
		case RoleUser:
			user = true
		case RoleAssistant:
			assistant = true
		}
	}

	switch {
	case user && !assistant:
		return RoleUser
	case assistant && !user:
		return RoleAssistant
	}
	return RoleUnknown
}
