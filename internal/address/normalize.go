// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

// Package address normalizes German street names, postal codes and resident
// names for comparison.
//
// The customer master list is hand-maintained; the same street appears as
// "Hauptstraße", "Hauptstr.", "hauptstrasse" or "Hauptstrase" across rows.
// Normalization folds umlauts, collapses the street-suffix variants to
// "strasse" and strips punctuation so that equality and edit-distance
// comparisons see one canonical form. Originals are never rewritten; the
// canonical form exists only for matching.
package address

import (
	"regexp"
	"strings"

	"github.com/agext/levenshtein"
)

// Fuzzy street matching accepts similarity at or above this threshold.
// Below minExactLength runes the edit distance is meaningless and exact
// equality is required instead.
const (
	streetSimilarityThreshold = 0.90
	minExactLength            = 3
)

var umlautReplacer = strings.NewReplacer(
	"ä", "ae",
	"ö", "oe",
	"ü", "ue",
	"ß", "ss",
)

// suffixVariants lists the trailing street-suffix spellings collapsed to
// "strasse", checked longest-first. Dotted forms are matched before the
// final punctuation strip so that "st." does not swallow streets that
// genuinely end in "st".
var suffixVariants = []string{
	"strasse",
	"strase",
	"strsse",
	"strse",
	"street",
	"str.",
	"str",
	"st.",
}

var (
	nonStreetRunes = regexp.MustCompile(`[^a-z0-9.]+`)
	trailingNumber = regexp.MustCompile(`(?i)^(.*?)[\s,]+(\d+\s*[a-z]?(?:\s*[-/,]\s*\d+\s*[a-z]?)*)\s*$`)
	tokenSplit     = regexp.MustCompile(`[^a-z0-9]+`)
)

// FoldUmlauts lowercases s and folds ä→ae, ö→oe, ü→ue, ß→ss.
func FoldUmlauts(s string) string {
	return umlautReplacer.Replace(strings.ToLower(s))
}

// NormalizeStreet returns the canonical comparable form of a street name:
// lowercased, umlauts folded, punctuation and whitespace stripped, and any
// trailing suffix variant collapsed to "strasse".
//
//	NormalizeStreet("Kölner Str.") = "koelnerstrasse"
//	NormalizeStreet("Hauptstrase") = "hauptstrasse"
func NormalizeStreet(street string) string {
	s := FoldUmlauts(strings.TrimSpace(street))
	s = nonStreetRunes.ReplaceAllString(s, "")

	for _, variant := range suffixVariants {
		if strings.HasSuffix(s, variant) {
			s = strings.TrimSuffix(s, variant) + "strasse"
			break
		}
	}

	return strings.ReplaceAll(s, ".", "")
}

// StreetsSimilar reports whether two street names refer to the same street.
// Both are normalized first; short names require exact equality, longer
// names accept a Levenshtein similarity of at least 90%.
func StreetsSimilar(a, b string) bool {
	return SimilarNormalized(NormalizeStreet(a), NormalizeStreet(b))
}

// SimilarNormalized is StreetsSimilar over already-normalized forms, for
// callers that precompute NormalizeStreet at load time.
func SimilarNormalized(na, nb string) bool {
	if na == "" || nb == "" {
		return false
	}
	if len([]rune(na)) < minExactLength || len([]rune(nb)) < minExactLength {
		return na == nb
	}
	return levenshtein.Similarity(na, nb, nil) >= streetSimilarityThreshold
}

// ExtractHouseNumber splits a trailing house-number expression off a street
// value. Master-list rows sometimes carry "Hauptstraße 12" in the street
// column with an empty house-number column; the number moves, the street
// keeps its name.
//
// Returns the street without the number and the extracted expression, or
// the input street and "" when no trailing number exists.
func ExtractHouseNumber(street string) (string, string) {
	trimmed := strings.TrimSpace(street)
	m := trailingNumber.FindStringSubmatch(trimmed)
	if m == nil {
		return trimmed, ""
	}

	streetPart := strings.TrimRight(strings.TrimSpace(m[1]), ",")
	numberPart := strings.TrimSpace(m[2])
	if streetPart == "" {
		// A bare number is not a street.
		return trimmed, ""
	}
	return streetPart, numberPart
}

// NormalizePostal trims and lowercases a postal code for exact comparison.
func NormalizePostal(postal string) string {
	return strings.ToLower(strings.TrimSpace(postal))
}

// FoldName returns the folded comparable form of a resident or customer
// name.
func FoldName(name string) string {
	return FoldUmlauts(strings.TrimSpace(name))
}

// NameTokens returns the folded word tokens of a name with length >= 2.
// Single-letter tokens (initials, title residue) carry no signal.
func NameTokens(name string) []string {
	var tokens []string
	for _, token := range tokenSplit.Split(FoldName(name), -1) {
		if len(token) >= 2 {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

// NamesOverlap reports whether two names share at least one folded token.
//
//	NamesOverlap("Jürgen Müller", "Mueller") = true
func NamesOverlap(a, b string) bool {
	ta := NameTokens(a)
	if len(ta) == 0 {
		return false
	}
	tb := NameTokens(b)
	if len(tb) == 0 {
		return false
	}

	set := make(map[string]struct{}, len(ta))
	for _, token := range ta {
		set[token] = struct{}{}
	}
	for _, token := range tb {
		if _, ok := set[token]; ok {
			return true
		}
	}
	return false
}

// Surname returns the last folded token of a name, the component previous-
// tenant detection and conflict cleaning compare on. Empty when the name
// has no usable token.
func Surname(name string) string {
	tokens := NameTokens(name)
	if len(tokens) == 0 {
		return ""
	}
	return tokens[len(tokens)-1]
}
