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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseSchedule(t *testing.T) {
	// Wednesday.
	from := time.Date(2025, 3, 12, 1, 7, 30, 0, time.UTC)

	tests := []struct {
		expr string
		next time.Time
	}{
		{
			expr: "0 0 2 * * ?",
			next: time.Date(2025, 3, 12, 2, 0, 0, 0, time.UTC),
		},
		{
			expr: "0 */15 * * * ?",
			next: time.Date(2025, 3, 12, 1, 15, 0, 0, time.UTC),
		},
		{
			expr: "0 0 6 ? * MON-FRI",
			next: time.Date(2025, 3, 12, 6, 0, 0, 0, time.UTC),
		},
		{
			expr: "0 0 0 1 * ?",
			next: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			expr: "30 10 14 * * * *",
			next: time.Date(2025, 3, 12, 14, 10, 30, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			s, err := ParseSchedule(tt.expr)
			require.NoError(t, err)
			require.Equal(t, tt.next, s.Next(from))
		})
	}
}

func TestParseScheduleYearField(t *testing.T) {
	from := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	s, err := ParseSchedule("0 0 0 1 1 ? 2027")
	require.NoError(t, err)
	require.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), s.Next(from))

	s, err = ParseSchedule("0 0 0 1 1 ? 2027-2029")
	require.NoError(t, err)
	first := s.Next(from)
	require.Equal(t, 2027, first.Year())
	require.Equal(t, 2028, s.Next(first).Year())

	// A schedule entirely in the past never fires again.
	s, err = ParseSchedule("0 0 0 1 1 ? 2020")
	require.NoError(t, err)
	require.True(t, s.Next(from).IsZero())
}

func TestParseScheduleErrors(t *testing.T) {
	for _, expr := range []string{
		"",
		"0 0 2 * *",
		"0 0 2 * * ? 2026 extra",
		"0 0 2 * * ? banana",
		"0 0 2 * * ? 2030-2020",
		"61 0 2 * * ?",
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := ParseSchedule(expr)
			require.Error(t, err)
		})
	}
}
