package extractor

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an extraction outcome. The zero value is Unknown so
// an uninitialized error never masquerades as a specific condition.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindRateLimited
	KindForbidden
	KindNotAvailable
	KindPrivateVideo
	KindTimeout
	KindStrategyFailed
	KindProxyError
	KindAllFailed
	KindToolMissing
)

var kindNames = map[Kind]string{
	KindUnknown:        "unknown",
	KindValidation:     "validation",
	KindRateLimited:    "rate_limited",
	KindForbidden:      "forbidden",
	KindNotAvailable:   "not_available",
	KindPrivateVideo:   "private_video",
	KindTimeout:        "timeout",
	KindStrategyFailed: "strategy_failed",
	KindProxyError:     "proxy_error",
	KindAllFailed:      "all_strategies_failed",
	KindToolMissing:    "tool_missing",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether the kind aborts the remaining impersonation
// strategies of the current extraction attempt. These conditions are
// symptoms of the shared resource (the source throttling or refusing
// the video), not of the strategy that happened to surface them.
func (k Kind) Terminal() bool {
	switch k {
	case KindRateLimited, KindForbidden, KindNotAvailable, KindPrivateVideo:
		return true
	}
	return false
}

// Transient reports whether a whole invocation that failed with this
// kind is worth retrying at the request queue level. Rate limits and
// forbidden responses often clear once the egress proxy rotates;
// timeouts and proxy failures are network weather.
func (k Kind) Transient() bool {
	switch k {
	case KindRateLimited, KindForbidden, KindTimeout, KindProxyError:
		return true
	}
	return false
}

// Error is the typed failure every extraction path produces. Strategy
// names the impersonation profile that was active, when one was.
type Error struct {
	Kind     Kind
	Strategy string
	Detail   string
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString("extraction failed (")
	sb.WriteString(e.Kind.String())
	if e.Strategy != "" {
		sb.WriteString(", strategy ")
		sb.WriteString(e.Strategy)
	}
	sb.WriteString(")")
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	return sb.String()
}

// KindOf unpacks the kind from any error in the chain, or KindUnknown.
func KindOf(err error) Kind {
	var xerr *Error
	if errors.As(err, &xerr) {
		return xerr.Kind
	}
	return KindUnknown
}

// HasKind reports whether err carries the given extraction kind.
func HasKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func IsRateLimited(err error) bool { return HasKind(err, KindRateLimited) }
func IsForbidden(err error) bool   { return HasKind(err, KindForbidden) }
func IsTimeout(err error) bool     { return HasKind(err, KindTimeout) }

// classRule maps a stderr substring to an outcome kind. Rules are
// evaluated in declaration order; the first match wins.
type classRule struct {
	marker string
	kind   Kind
}

// classRules is the enumerable heuristic table for the extraction
// tool's text output. The tool is an uncontrolled external program, so
// this is deliberately one flat list that can be extended when its
// messages change, rather than logic spread across call sites.
var classRules = []classRule{
	{"429", KindRateLimited},
	{"too many requests", KindRateLimited},
	{"rate-limit", KindRateLimited},
	{"rate limit", KindRateLimited},

	{"403", KindForbidden},
	{"forbidden", KindForbidden},
	{"sign in to confirm", KindForbidden},
	{"access denied", KindForbidden},

	{"private video", KindPrivateVideo},
	{"video is private", KindPrivateVideo},

	{"video unavailable", KindNotAvailable},
	{"not available", KindNotAvailable},
	{"has been removed", KindNotAvailable},
	{"account associated with this video has been terminated", KindNotAvailable},

	{"unable to connect to proxy", KindProxyError},
	{"tunnel connection failed", KindProxyError},
	{"proxy", KindProxyError},
	{"connection refused", KindProxyError},
	{"connection reset", KindProxyError},

	{"timed out", KindTimeout},
	{"timeout", KindTimeout},
}

// Classify maps the tool's stderr to an outcome kind. Anything the
// table does not recognize is a plain strategy failure, which the
// invoker answers by moving on to the next impersonation profile.
func Classify(stderr string) Kind {
	lowered := strings.ToLower(stderr)
	for _, rule := range classRules {
		if strings.Contains(lowered, rule.marker) {
			return rule.kind
		}
	}
	return KindStrategyFailed
}

// classifyRun folds the subprocess error and its stderr into one kind.
// A context deadline always means the wall-clock budget expired,
// regardless of what the dying process managed to print.
func classifyRun(runErr error, stderr string) Kind {
	if errors.Is(runErr, context.DeadlineExceeded) {
		return KindTimeout
	}
	return Classify(stderr)
}

// stderrTail returns the most useful fragment of stderr for an error
// detail: the last non-blank line, capped so log lines stay readable.
func stderrTail(stderr []byte) string {
	const maxDetail = 300
	lines := strings.Split(strings.TrimSpace(string(stderr)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if len(line) > maxDetail {
			line = line[:maxDetail]
		}
		return line
	}
	return ""
}

func fmtToolMissing(detail string, args ...interface{}) *Error {
	return &Error{Kind: KindToolMissing, Detail: fmt.Sprintf(detail, args...)}
}
