// Package execmode negotiates synchronous vs asynchronous handling of an
// execution request from a client preference header and the target process's
// declared capabilities.
package execmode

import (
	"fmt"
	"strconv"
	"strings"
)

// Mode is the negotiated execution mode.
type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

// PreferenceAppliedHeader is the response header echoing honored preferences.
const PreferenceAppliedHeader = "Preference-Applied"

// Capabilities is the set of execution modes a process declares support for.
type Capabilities struct {
	Sync  bool
	Async bool
}

// Decision is the outcome of the negotiation. It is ephemeral, never
// persisted.
type Decision struct {
	Mode Mode

	// WaitSeconds is the bounded synchronous wait, nil for async handling.
	WaitSeconds *int

	// Applied holds the response header(s) echoing the honored preference
	// values. Empty when nothing was honored.
	Applied map[string]string
}

// MalformedPreferenceError reports an unusable preference value. The request
// is rejected before any job is created.
type MalformedPreferenceError struct {
	Raw    string
	Reason string
}

func (e *MalformedPreferenceError) Error() string {
	return fmt.Sprintf("malformed preference %q: %s", e.Raw, e.Reason)
}

// preference is a parsed client preference.
type preference struct {
	respondAsync bool
	wait         *int
}

// parsePreference parses a comma-separated preference list. Recognized
// tokens: the bare flag "respond-async" and "wait=<positive integer>".
// Unrecognized non-numeric tokens are advisory and ignored; a bare numeric
// token is treated as a comma-confused wait value and rejected.
func parsePreference(header string) (preference, error) {
	var p preference
	for _, tok := range strings.Split(header, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		switch {
		case strings.EqualFold(tok, "respond-async"):
			p.respondAsync = true
		case strings.HasPrefix(strings.ToLower(tok), "wait="):
			raw := tok[len("wait="):]
			if p.wait != nil {
				return preference{}, &MalformedPreferenceError{Raw: header, Reason: "wait specified more than once"}
			}
			n, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil || n <= 0 {
				return preference{}, &MalformedPreferenceError{Raw: raw, Reason: "wait must be a positive integer"}
			}
			w := n
			p.wait = &w
		default:
			if _, err := strconv.ParseFloat(tok, 64); err == nil {
				return preference{}, &MalformedPreferenceError{Raw: tok, Reason: "stray numeric token, wait must be a single positive integer"}
			}
			// Unrecognized preferences are advisory; ignore.
		}
	}
	return p, nil
}

// JoinHeaders folds repeated preference headers into the single-header form,
// per the header grammar (multiple headers are treated as if concatenated
// with commas).
func JoinHeaders(values []string) string {
	return strings.Join(values, ",")
}

// Decide computes the execution-mode decision for a process declaring caps,
// a raw preference header (empty means no preference) and the server's
// maximum synchronous wait in seconds.
func Decide(caps Capabilities, header string, maxWait int) (Decision, error) {
	if strings.TrimSpace(header) == "" {
		return decideDefault(caps, maxWait), nil
	}

	pref, err := parsePreference(header)
	if err != nil {
		return Decision{}, err
	}

	// An oversized wait cannot be honored: the whole preference is
	// discarded and handling reverts to the async default, except where a
	// single declared mode remains authoritative.
	if pref.wait != nil && *pref.wait > maxWait {
		if enforced, ok := singleMode(caps); ok {
			return enforce(enforced, maxWait), nil
		}
		return asyncDecision(), nil
	}

	desired := ModeSync
	if pref.respondAsync {
		desired = ModeAsync
	}

	if enforced, ok := singleMode(caps); ok {
		if desired != enforced {
			// Server mode is authoritative; the mismatched preference is
			// silently ignored, not echoed.
			return enforce(enforced, maxWait), nil
		}
		return honor(desired, pref, maxWait), nil
	}

	if !caps.Sync && !caps.Async {
		// Defensive default.
		return asyncDecision(), nil
	}

	// Both modes supported: the client's desired mode is honored outright.
	return honor(desired, pref, maxWait), nil
}

func decideDefault(caps Capabilities, maxWait int) Decision {
	switch {
	case caps.Sync && !caps.Async:
		return syncDecision(maxWait, nil)
	case caps.Async && !caps.Sync:
		return asyncDecision()
	case caps.Sync && caps.Async:
		// Server default preference is synchronous handling.
		return syncDecision(maxWait, nil)
	default:
		return asyncDecision()
	}
}

func singleMode(caps Capabilities) (Mode, bool) {
	if caps.Sync && !caps.Async {
		return ModeSync, true
	}
	if caps.Async && !caps.Sync {
		return ModeAsync, true
	}
	return "", false
}

// enforce returns the server-enforced mode without echoing any preference.
func enforce(mode Mode, maxWait int) Decision {
	if mode == ModeSync {
		return syncDecision(maxWait, nil)
	}
	return asyncDecision()
}

// honor returns the client's desired mode, echoing the matching
// Preference-Applied value(s).
func honor(mode Mode, pref preference, maxWait int) Decision {
	var applied []string
	if mode == ModeAsync {
		if pref.respondAsync {
			applied = append(applied, "respond-async")
		}
		d := asyncDecision()
		d.Applied = appliedMap(applied)
		return d
	}

	wait := maxWait
	if pref.wait != nil {
		wait = *pref.wait
		applied = append(applied, fmt.Sprintf("wait=%d", wait))
	}
	d := syncDecision(wait, nil)
	d.Applied = appliedMap(applied)
	return d
}

func appliedMap(values []string) map[string]string {
	if len(values) == 0 {
		return map[string]string{}
	}
	return map[string]string{PreferenceAppliedHeader: strings.Join(values, ", ")}
}

func syncDecision(wait int, applied map[string]string) Decision {
	if applied == nil {
		applied = map[string]string{}
	}
	w := wait
	return Decision{Mode: ModeSync, WaitSeconds: &w, Applied: applied}
}

func asyncDecision() Decision {
	return Decision{Mode: ModeAsync, Applied: map[string]string{}}
}
