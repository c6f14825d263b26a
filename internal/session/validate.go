package session

import "fmt"

const maxNameLen = 64

// ValidateName checks that name is usable as a session directory component:
// lowercase alphanumerics, underscore and hyphen, at most 64 characters.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("session name is empty")
	}
	if len(name) > maxNameLen {
		return fmt.Errorf("session name %q exceeds %d characters", name, maxNameLen)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return fmt.Errorf("session name %q contains %q: only [a-z0-9_-] allowed", name, r)
		}
	}
	return nil
}
