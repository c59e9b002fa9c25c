package session

import (
	"fmt"
	"regexp"
)

// Names start with a letter or digit so they can't be mistaken for flags,
// and stay short enough that the socket path fits in sun_path.
var nameRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)

// ValidateName checks that name conforms to session naming rules.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: use up to 32 of a-z, 0-9, '-' and '_', starting with a letter or digit", name)
	}
	return nil
}
