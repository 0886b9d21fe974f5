/*
 * Datastream
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package scheduler

import (
	"strconv"
	"strings"
	"time"

	"github.com/gravitational/trace"
	"github.com/robfig/cron/v3"
)

// cronParser accepts the six field form "sec min hour dom month dow".
// The question mark is accepted in the day fields as an alias for "*".
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Schedule is a six field cron expression with an optional seventh year
// field, for example "0 0 6 ? * MON-FRI" or "0 0 0 1 1 ? 2026".
type Schedule struct {
	expr  string
	inner cron.Schedule
	years map[int]bool
}

// ParseSchedule parses expr. A seventh field restricts firing to the
// listed years; "*" in that position means every year.
func ParseSchedule(expr string) (*Schedule, error) {
	fields := strings.Fields(expr)
	switch {
	case len(fields) < 6:
		return nil, trace.BadParameter("cron expression %q needs at least 6 fields", expr)
	case len(fields) > 7:
		return nil, trace.BadParameter("cron expression %q has too many fields", expr)
	}

	var years map[int]bool
	if len(fields) == 7 {
		parsed, err := parseYearField(fields[6])
		if err != nil {
			return nil, trace.Wrap(err, "parsing year field of %q", expr)
		}
		years = parsed
		fields = fields[:6]
	}

	inner, err := cronParser.Parse(strings.Join(fields, " "))
	if err != nil {
		return nil, trace.BadParameter("parsing cron expression %q: %v", expr, err)
	}
	return &Schedule{expr: expr, inner: inner, years: years}, nil
}

// Next returns the first activation strictly after t, or the zero time
// when the year restriction leaves no future activation.
func (s *Schedule) Next(t time.Time) time.Time {
	next := s.inner.Next(t)
	if s.years == nil {
		return next
	}
	// The year field typically names a handful of concrete years, so the
	// scan horizon stays short.
	for !next.IsZero() && !s.years[next.Year()] {
		if next.Year() > maxYear(s.years) {
			return time.Time{}
		}
		next = s.inner.Next(next)
	}
	return next
}

// String returns the original expression.
func (s *Schedule) String() string { return s.expr }

// parseYearField parses "*", a year, a comma list, or ranges such as
// "2026-2028". Nil means unrestricted.
func parseYearField(field string) (map[int]bool, error) {
	if field == "*" || field == "?" {
		return nil, nil
	}
	years := make(map[int]bool)
	for _, part := range strings.Split(field, ",") {
		lo, hi, ok := strings.Cut(part, "-")
		from, err := strconv.Atoi(lo)
		if err != nil {
			return nil, trace.BadParameter("invalid year %q", part)
		}
		to := from
		if ok {
			if to, err = strconv.Atoi(hi); err != nil || to < from {
				return nil, trace.BadParameter("invalid year range %q", part)
			}
		}
		for y := from; y <= to; y++ {
			years[y] = true
		}
	}
	return years, nil
}

func maxYear(years map[int]bool) int {
	max := 0
	for y := range years {
		if y > max {
			max = y
		}
	}
	return max
}
