package millionverifier

import "strings"

// StatusFromResult maps the API's result string onto our three-plus-one
// verdicts. Anything unrecognized is "unknown" rather than "invalid" so a
// partial or degraded API answer never burns a deliverable address.
//
//	ok / valid / deliverable -> valid
//	invalid / bad            -> invalid
//	catch_all / catchall     -> risky
//	everything else          -> unknown
func StatusFromResult(result string) string {
	switch strings.ToLower(strings.TrimSpace(result)) {
	case "ok", "valid", "deliverable":
		return "valid"
	case "invalid", "bad":
		return "invalid"
	case "catch_all", "catchall", "catch-all":
		return "risky"
	default:
		return "unknown"
	}
}
