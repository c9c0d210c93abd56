// Package policy implements the daemon's stateless command-authorization
// gate. It is pure: the same (sender, command) pair against the same
// Policy always yields the same Decision.
package policy

import (
	"strings"
)

// DenyReason names why a Decision is a deny. The zero value (ReasonNone)
// accompanies Allow=true and is never returned alongside a deny.
type DenyReason string

const (
	ReasonNone               DenyReason = ""
	ReasonUnknownSender      DenyReason = "UNKNOWN_SENDER"
	ReasonCommandTooLong     DenyReason = "COMMAND_TOO_LONG"
	ReasonDeniedSubstring    DenyReason = "DENIED_SUBSTRING"
	ReasonNoMatchingPrefix   DenyReason = "NO_MATCHING_ALLOW_PREFIX"
)

// Decision is the outcome of evaluating a command against a Policy.
type Decision struct {
	Allow  bool
	Reason DenyReason
	// Detail carries the specific substring or other context behind Reason,
	// so a REJECTED result can name exactly which rule fired.
	Detail string
}

func allow() Decision { return Decision{Allow: true} }

func deny(reason DenyReason, detail string) Decision {
	return Decision{Allow: false, Reason: reason, Detail: detail}
}

// String renders a human-readable error message, e.g. for Task.Result.ErrorMessage.
func (d Decision) String() string {
	if d.Allow {
		return "allow"
	}
	if d.Detail != "" {
		return string(d.Reason) + ": " + d.Detail
	}
	return string(d.Reason)
}

const defaultMaxCommandLength = 4096

// Policy is immutable after New — no field is mutated once built.
type Policy struct {
	senderAllowlist       map[string]struct{} // normalized lowercase
	commandAllowPrefixes  []string
	commandDenySubstrings []string
	maxCommandLength      int
}

// New builds a Policy from its declarative pieces. allowedSenders is
// normalized to lowercase for case-insensitive sender comparison.
func New(allowedSenders, allowPrefixes, denySubstrings []string, maxCommandLength int) *Policy {
	if maxCommandLength <= 0 {
		maxCommandLength = defaultMaxCommandLength
	}
	set := make(map[string]struct{}, len(allowedSenders))
	for _, s := range allowedSenders {
		set[strings.ToLower(s)] = struct{}{}
	}
	return &Policy{
		senderAllowlist:       set,
		commandAllowPrefixes:  append([]string(nil), allowPrefixes...),
		commandDenySubstrings: append([]string(nil), denySubstrings...),
		maxCommandLength:      maxCommandLength,
	}
}

// Decide evaluates (sender, command) in a fixed order:
// sender allowlist, then length, then deny-substrings, then allow-prefix.
// Deny short-circuits allow — a command that matches both a deny substring
// and an allow prefix is denied.
func (p *Policy) Decide(sender, command string) Decision {
	if _, ok := p.senderAllowlist[strings.ToLower(sender)]; !ok {
		return deny(ReasonUnknownSender, sender)
	}
	if len(command) > p.maxCommandLength {
		return deny(ReasonCommandTooLong, "")
	}
	for _, bad := range p.commandDenySubstrings {
		if strings.Contains(command, bad) {
			return deny(ReasonDeniedSubstring, bad)
		}
	}
	trimmed := strings.TrimSpace(command)
	for _, prefix := range p.commandAllowPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return allow()
		}
	}
	return deny(ReasonNoMatchingPrefix, "")
}
