package router

import (
	"regexp"

	"go.uber.org/zap"

	"github.com/aerowinx/frankenrouter/session"
)

// CheckRule is a compiled [[check]] connection sanity rule (spec §6):
// operators declare that the number of currently-connected clients
// matching a pattern should stay within [LimitMin, LimitMax], and get a
// warning logged whenever it doesn't. Ported from
// original_source/router/frankenrouter/config.py's _RouterConfigCheck,
// completing enforcement the original config format only ever declared.
type CheckRule struct {
	Type     string
	Pattern  *regexp.Regexp
	LimitMin int
	LimitMax int
	Comment  string
}

// evaluateChecks re-runs every configured CheckRule against the current
// client set, logging a warning per rule whose match count falls
// outside its configured band. Called whenever the connected-client set
// or a client's identity changes; never closes a connection.
func (r *Router) evaluateChecks() {
	if len(r.checks) == 0 {
		return
	}
	clients := r.registry.Snapshot()
	for _, check := range r.checks {
		count := 0
		for _, c := range clients {
			if checkMatches(check, c) {
				count++
			}
		}
		if check.LimitMin > 0 && count < check.LimitMin {
			r.log.Warn("connection sanity check below minimum",
				zap.String("type", check.Type), zap.String("comment", check.Comment),
				zap.Int("count", count), zap.Int("limit_min", check.LimitMin))
		}
		if check.LimitMax > 0 && count > check.LimitMax {
			r.log.Warn("connection sanity check above maximum",
				zap.String("type", check.Type), zap.String("comment", check.Comment),
				zap.Int("count", count), zap.Int("limit_max", check.LimitMax))
		}
	}
}

func checkMatches(check CheckRule, c *session.Client) bool {
	switch check.Type {
	case "is_frankenrouter":
		return c.IsPeerRouter
	case "name_regexp":
		return check.Pattern != nil && check.Pattern.MatchString(c.DisplayName)
	default:
		return false
	}
}
