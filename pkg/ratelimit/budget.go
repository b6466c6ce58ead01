// Package ratelimit enforces per-caller sliding-window quotas.
//
// A window is a set of timestamps, one per admitted request, held in a
// [WindowStore]. [Limiter.Admit] counts entries inside (now-window, now]
// without recording; [Limiter.Hit] records one. The window slides: an entry
// stops counting exactly window after it was recorded, with no fixed bucket
// boundaries.
package ratelimit

import (
	"strconv"
	"strings"
	"time"

	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
)

// Budget is a parsed rate budget.
type Budget struct {
	Count  int
	Window time.Duration
}

var periodUnits = map[string]time.Duration{
	"second": time.Second, "seconds": time.Second, "sec": time.Second, "s": time.Second,
	"minute": time.Minute, "minutes": time.Minute, "min": time.Minute, "m": time.Minute,
	"hour": time.Hour, "hours": time.Hour, "h": time.Hour,
	"day": 24 * time.Hour, "days": 24 * time.Hour, "d": 24 * time.Hour,
}

// ParseBudget parses "N" or "N/period". A bare count uses defaultWindow. A
// period may be a Go duration ("60s", "1m30s"), a bare number of seconds
// ("60"), a unit word ("minute", "h") or a multiple of one ("5min"). The
// period of a "count/period" budget replaces defaultWindow.
func ParseBudget(s string, defaultWindow time.Duration) (Budget, error) {
	s = strings.TrimSpace(s)
	countPart, period, hasPeriod := strings.Cut(s, "/")

	count, err := strconv.Atoi(strings.TrimSpace(countPart))
	if err != nil || count < 0 {
		return Budget{}, sserr.Newf(sserr.CodeInternalConfiguration, "ratelimit: invalid budget count in %q", s)
	}

	window := defaultWindow
	if hasPeriod {
		window, err = parsePeriod(strings.TrimSpace(period))
		if err != nil {
			return Budget{}, sserr.Wrapf(err, sserr.CodeInternalConfiguration, "ratelimit: invalid budget period in %q", s)
		}
	}
	if window <= 0 {
		return Budget{}, sserr.Newf(sserr.CodeInternalConfiguration, "ratelimit: budget %q has no positive window", s)
	}
	return Budget{Count: count, Window: window}, nil
}

func parsePeriod(p string) (time.Duration, error) {
	p = strings.ToLower(p)
	if secs, err := strconv.Atoi(p); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	if unit, ok := periodUnits[p]; ok {
		return unit, nil
	}

	i := strings.IndexFunc(p, func(r rune) bool { return r < '0' || r > '9' })
	if i > 0 {
		if unit, ok := periodUnits[strings.TrimSpace(p[i:])]; ok {
			n, _ := strconv.Atoi(p[:i])
			return time.Duration(n) * unit, nil
		}
	}
	return time.ParseDuration(p)
}
