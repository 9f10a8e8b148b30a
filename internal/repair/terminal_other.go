//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd

package repair

// IsTerminal always reports false where terminal detection is unavailable,
// so prompts fall back to default answers.
func IsTerminal(fd uintptr) bool {
	return false
}
