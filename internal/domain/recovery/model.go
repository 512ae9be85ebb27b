package recovery

import (
	"net/url"
	"strings"
)

// Kind discriminates a Signal.
type Kind string

const (
	KindNone      Kind = "none"
	KindRequested Kind = "requested"
	KindError     Kind = "error"
)

// Hint names the marker that made a location look like a recovery visit.
type Hint string

const (
	HintTypeRecovery Hint = "type_recovery"
	HintAccessToken  Hint = "access_token"
	HintExchangeCode Hint = "exchange_code"
	HintResetPath    Hint = "reset_path"
)

// ResetPathMarker is the path fragment that denotes the reset page.
const ResetPathMarker = "reset-password"

// CodeOTPExpired is the provider error code for an expired or consumed link.
const CodeOTPExpired = "otp_expired"

// User-facing messages for recovery-link errors.
const (
	MessageExpired = "This recovery link has expired. Please request a new one."
	MessageInvalid = "This recovery link is invalid. Please request a new one."
)

// Signal is the classification of a page location.
// Hint is set only for KindRequested; Code and Message only for KindError.
type Signal struct {
	Kind    Kind
	Hint    Hint
	Code    string
	Message string
}

// IsRequested reports whether the location carries a recovery marker.
func (s Signal) IsRequested() bool { return s.Kind == KindRequested }

// IsError reports whether the provider reported a recovery-link error.
func (s Signal) IsError() bool { return s.Kind == KindError }

// parts is a location split into its path, query and fragment.
type parts struct {
	origin   string
	path     string
	query    url.Values
	fragment url.Values
}

// Classify derives the recovery signal from a location string.
// PRE: none; any string is accepted
// POST: Returns exactly one Signal; error fields win over recovery markers
// INVARIANT: Pure; classifying the same string twice yields the same Signal
func Classify(location string) Signal {
	p := split(location)

	if sig, ok := classifyError(p.fragment); ok {
		return sig
	}
	if sig, ok := classifyError(p.query); ok {
		return sig
	}

	switch {
	case p.fragment.Get("type") == "recovery":
		return Signal{Kind: KindRequested, Hint: HintTypeRecovery}
	case p.fragment.Has("access_token"):
		return Signal{Kind: KindRequested, Hint: HintAccessToken}
	case p.query.Has("code"):
		return Signal{Kind: KindRequested, Hint: HintExchangeCode}
	case isResetPath(p.path):
		return Signal{Kind: KindRequested, Hint: HintResetPath}
	}
	return Signal{Kind: KindNone}
}

// Scrub returns the location with all recovery material removed: the query and
// fragment are dropped, and a reset-page path collapses to the site root.
// POST: Classify(Scrub(x)).Kind == KindNone
func Scrub(location string) string {
	p := split(location)
	path := p.path
	if path == "" || isResetPath(path) {
		path = "/"
	}
	return p.origin + path
}

func classifyError(v url.Values) (Signal, bool) {
	code := v.Get("error_code")
	if !v.Has("error") && !v.Has("error_code") {
		return Signal{}, false
	}
	if code == "" {
		code = v.Get("error")
	}
	return Signal{Kind: KindError, Code: code, Message: errorMessage(code, v.Get("error_description"))}, true
}

func errorMessage(code, description string) string {
	if code == CodeOTPExpired {
		return MessageExpired
	}
	if d := strings.TrimSpace(description); d != "" {
		return d
	}
	return MessageInvalid
}

func isResetPath(path string) bool {
	return strings.Contains(path, ResetPathMarker)
}

// split breaks a location apart without url.Parse so that malformed
// escapes never hide a marker or an error field.
func split(location string) parts {
	rest, fragment, _ := strings.Cut(location, "#")
	rest, query, _ := strings.Cut(rest, "?")

	origin, path := "", rest
	if i := strings.Index(rest, "://"); i >= 0 {
		afterScheme := rest[i+3:]
		if j := strings.Index(afterScheme, "/"); j >= 0 {
			origin = rest[:i+3+j]
			path = afterScheme[j:]
		} else {
			origin = rest
			path = ""
		}
	}

	return parts{
		origin:   origin,
		path:     path,
		query:    parseValues(query),
		fragment: parseValues(strings.TrimPrefix(fragment, "?")),
	}
}

// parseValues keeps whatever url.ParseQuery managed to decode.
func parseValues(raw string) url.Values {
	v, _ := url.ParseQuery(raw)
	if v == nil {
		v = url.Values{}
	}
	return v
}
