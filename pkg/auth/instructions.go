package auth

import (
	"fmt"
	"strings"
)

// SessionGuide explains where to find the session token of a source
func SessionGuide(source, baseURL string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "To sync your %s favorites, partysync needs your session cookie.\n\n", source)
	fmt.Fprintf(&b, "  1. Log in at %s in your browser\n", baseURL)
	b.WriteString("  2. Open Developer Tools (F12) and go to Storage/Application → Cookies\n")
	fmt.Fprintf(&b, "  3. Copy the value of the cookie named %q\n\n", "session")
	fmt.Fprintf(&b, "Alternatively set %s in the environment.\n", EnvVar(source))

	return b.String()
}
