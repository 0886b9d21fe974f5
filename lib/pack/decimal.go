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

package pack

import (
	"strconv"
	"strings"

	"github.com/gravitational/trace"
)

// scaleDecimal converts a decimal string like "-12.345" to the scaled
// integer representation used by the parquet decimal physical type,
// truncating digits beyond the scale.
func scaleDecimal(text string, scale int) (int64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, trace.BadParameter("empty decimal value")
	}
	negative := false
	switch text[0] {
	case '-':
		negative = true
		text = text[1:]
	case '+':
		text = text[1:]
	}

	whole, frac := text, ""
	if dot := strings.IndexByte(text, '.'); dot >= 0 {
		whole, frac = text[:dot], text[dot+1:]
	}
	if len(frac) > scale {
		frac = frac[:scale]
	}
	for len(frac) < scale {
		frac += "0"
	}
	if whole == "" {
		whole = "0"
	}

	scaled, err := strconv.ParseInt(whole+frac, 10, 64)
	if err != nil {
		return 0, trace.BadParameter("invalid decimal value %q", text)
	}
	if negative {
		scaled = -scaled
	}
	return scaled, nil
}

// unscaleDecimal renders a scaled integer back to its decimal string form,
// the inverse of scaleDecimal up to trailing zero padding.
func unscaleDecimal(scaled int64, scale int) string {
	negative := scaled < 0
	if negative {
		scaled = -scaled
	}
	digits := strconv.FormatInt(scaled, 10)
	for len(digits) <= scale {
		digits = "0" + digits
	}
	out := digits[:len(digits)-scale] + "." + digits[len(digits)-scale:]
	if negative {
		out = "-" + out
	}
	return out
}
