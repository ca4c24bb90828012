// Package access implements the router's IP/CIDR + password access-control
// list, per spec §4.6.
package access

import (
	"fmt"
	"net"
)

// Level is the access level assigned to a session.
type Level string

const (
	LevelBlocked  Level = "blocked"
	LevelObserver Level = "observer"
	LevelFull     Level = "full"
)

// Rule is one ordered access-control entry, per spec §6's [[access]]
// section.
type Rule struct {
	DisplayName   string
	MatchIPv4     []string
	MatchPassword string
	Level         Level

	networks []*net.IPNet
	matchAny bool
}

// Compile parses MatchIPv4 into concrete IPNets, replacing any result of
// an earlier call. NewList calls it at config load and again whenever the
// runtime blocklist rebuilds the list; an invalid CIDR is a configuration
// error per spec §7 ("Invalid CIDR ... Fail at startup with a specific
// message"). "ANY" matches every remote, including one whose address is
// not an IP.
func (r *Rule) Compile() error {
	var networks []*net.IPNet
	matchAny := false
	for _, raw := range r.MatchIPv4 {
		if raw == "ANY" {
			_, all4, _ := net.ParseCIDR("0.0.0.0/0")
			_, all6, _ := net.ParseCIDR("::/0")
			networks = append(networks, all4, all6)
			matchAny = true
			continue
		}
		_, network, err := net.ParseCIDR(raw)
		if err != nil {
			return fmt.Errorf("access: invalid CIDR %q in rule %q: %w", raw, r.DisplayName, err)
		}
		networks = append(networks, network)
	}
	r.networks = networks
	r.matchAny = matchAny
	return nil
}

func (r *Rule) matchesIP(ip net.IP) bool {
	if r.matchAny {
		return true
	}
	for _, n := range r.networks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Matches reports whether remote/password satisfy this rule. password is
// only checked when MatchPassword is set; per spec §4.6, a session must
// have already sent that password via FRDP AUTH before the welcome
// begins for a password-protected rule to match.
func (r *Rule) Matches(remote net.IP, seenPassword string, passwordSeen bool) bool {
	if !r.matchesIP(remote) {
		return false
	}
	if r.MatchPassword == "" {
		return true
	}
	return passwordSeen && seenPassword == r.MatchPassword
}

// List is the ordered, first-match-wins rule list.
type List struct {
	rules []*Rule
}

// NewList compiles rules into a List, in the given order.
func NewList(rules []*Rule) (*List, error) {
	for _, r := range rules {
		if r.Level != LevelBlocked && r.Level != LevelObserver && r.Level != LevelFull {
			return nil, fmt.Errorf("access: unknown level %q in rule %q", r.Level, r.DisplayName)
		}
		if err := r.Compile(); err != nil {
			return nil, err
		}
	}
	return &List{rules: rules}, nil
}

// Evaluate returns the level of the first matching rule, or LevelBlocked
// if none match ("No match -> blocked", spec §4.6).
func (l *List) Evaluate(remote net.IP, seenPassword string, passwordSeen bool) (Level, string) {
	for _, r := range l.rules {
		if r.Matches(remote, seenPassword, passwordSeen) {
			return r.Level, r.DisplayName
		}
	}
	return LevelBlocked, ""
}
