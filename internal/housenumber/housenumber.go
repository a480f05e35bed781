// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

// Package housenumber expands house-number expressions and decides overlap
// between them.
//
// German nameplates and the customer master list carry house numbers as
// single values ("12"), ranges ("1-3"), lists ("1,2,3" or "23/24"), and
// letter-suffixed literals ("10a"). Overlap between two expressions drives
// both existing-customer filtering and the per-address edit-window check:
// a dataset stored as "1-3" blocks new datasets for 1, 2 and 3.
package housenumber

import (
	"regexp"
	"strconv"
	"strings"
)

// maxRangeSize bounds numeric range expansion. Larger ranges collapse to
// their endpoints so a typo like "1-5000" cannot blow up the token set.
const maxRangeSize = 50

var (
	rangePattern = regexp.MustCompile(`^(\d+)\s*-\s*(\d+)$`)
	digitPattern = regexp.MustCompile(`\d`)
)

// Expand returns the comparable tokens of a house-number expression, in
// encounter order and deduplicated. Expressions split on "," and "/";
// integer ranges expand to every value they cover; letter-suffixed parts
// and malformed ranges stay literal.
//
//	Expand("1-3")   = ["1" "2" "3"]
//	Expand("23/24") = ["23" "24"]
//	Expand("10a")   = ["10a"]
//	Expand("3-1")   = ["3-1"]
func Expand(expr string) []string {
	set := expandSet(expr)
	if len(set.order) == 0 {
		return nil
	}
	return set.order
}

// Matches reports whether two house-number expressions overlap, i.e.
// whether their expansions share at least one token. The relation is
// symmetric: Matches("2", "1-3") and Matches("1-3", "2") both hold.
func Matches(a, b string) bool {
	sa := expandSet(a)
	if len(sa.tokens) == 0 {
		return false
	}
	sb := expandSet(b)
	if len(sb.tokens) == 0 {
		return false
	}
	// Probe the smaller set against the larger.
	if len(sb.tokens) < len(sa.tokens) {
		sa, sb = sb, sa
	}
	for token := range sa.tokens {
		if _, ok := sb.tokens[token]; ok {
			return true
		}
	}
	return false
}

// IsValid reports whether the expression can identify at least one
// building: non-empty after trimming and carrying at least one digit.
func IsValid(expr string) bool {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return false
	}
	return digitPattern.MatchString(trimmed)
}

type tokenSet struct {
	tokens map[string]struct{}
	order  []string
}

func (s *tokenSet) add(token string) {
	if token == "" {
		return
	}
	if _, ok := s.tokens[token]; ok {
		return
	}
	s.tokens[token] = struct{}{}
	s.order = append(s.order, token)
}

func expandSet(expr string) tokenSet {
	set := tokenSet{tokens: make(map[string]struct{})}

	normalized := strings.ToLower(strings.TrimSpace(expr))
	if normalized == "" {
		return set
	}

	for _, part := range splitParts(normalized) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if m := rangePattern.FindStringSubmatch(part); m != nil {
			start, err1 := strconv.Atoi(m[1])
			end, err2 := strconv.Atoi(m[2])
			if err1 == nil && err2 == nil && start <= end {
				if end-start+1 > maxRangeSize {
					set.add(strconv.Itoa(start))
					set.add(strconv.Itoa(end))
				} else {
					for n := start; n <= end; n++ {
						set.add(strconv.Itoa(n))
					}
				}
				continue
			}
		}

		if n, err := strconv.Atoi(part); err == nil {
			// Re-render so "08" and "8" compare equal.
			set.add(strconv.Itoa(n))
			continue
		}

		set.add(strings.ReplaceAll(part, " ", ""))
	}

	return set
}

func splitParts(expr string) []string {
	return strings.FieldsFunc(expr, func(r rune) bool {
		return r == ',' || r == '/'
	})
}
