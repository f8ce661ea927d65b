package status

import "regexp"

// ansiRe matches CSI sequences (ESC [ ... final byte) and OSC sequences
// (ESC ] ... terminated by BEL or ST), plus bare two-byte escapes.
var ansiRe = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(\x07|\x1b\\)|\x1b[@-_]`)

// StripANSI removes terminal escape sequences so patterns match the
// visible text.
func StripANSI(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}
