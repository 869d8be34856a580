package domain

import (
	"fmt"
	"regexp"
)

var functionNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateFunctionName enforces the accepted function name format.
func ValidateFunctionName(name string) error {
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if !functionNamePattern.MatchString(name) {
		return fmt.Errorf("invalid name: must match %s", functionNamePattern.String())
	}
	return nil
}

// Privilege selects which credential is attached to an outbound call.
type Privilege int

const (
	// PrivilegeNone sends the application id only (plus the REST key when configured).
	PrivilegeNone Privilege = iota
	// PrivilegeMaster adds the master key and bypasses object-level access checks.
	PrivilegeMaster
)

func (p Privilege) String() string {
	switch p {
	case PrivilegeMaster:
		return "master"
	default:
		return "none"
	}
}
