// Package location converts free-form location settings into the query form
// WeatherAPI.com expects in its q parameter.
package location

import "strings"

// Normalize maps raw to a zip code, a "lat,lon" pair or a city_state token.
// Rules apply in order: empty stays empty; anything with a comma is split at the
// first comma and each half trimmed; all-digit input is returned as is; otherwise
// spaces become underscores. No range or existence checks are made.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}
	if first, rest, ok := strings.Cut(raw, ","); ok {
		return strings.TrimSpace(first) + "," + strings.TrimSpace(rest)
	}
	if isDigits(raw) {
		return raw
	}
	return strings.ReplaceAll(raw, " ", "_")
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
