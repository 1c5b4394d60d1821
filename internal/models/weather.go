package models

import "time"

// Document is a decoded JSON object as returned by the weather API.
type Document = map[string]any

// Reading is the merged result of one successful poll cycle. Current holds the
// "current" object of the current-conditions response; Forecast holds the first
// element of forecast.forecastday (empty when the forecast call failed).
type Reading struct {
	Current   Document  `json:"current"`
	Forecast  Document  `json:"forecast"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// Entry pairs a reading with the time it was stored.
type Entry struct {
	Reading  Reading   `json:"reading"`
	StoredAt time.Time `json:"storedAt"`
}

// Age returns how long ago the entry was stored, relative to now.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// MergeReading combines a current-conditions response and a forecast response
// into a Reading. Either document may be nil or lack the expected sections.
func MergeReading(current, forecast Document, fetchedAt time.Time) Reading {
	r := Reading{
		Current:   Document{},
		Forecast:  Document{},
		FetchedAt: fetchedAt,
	}
	if cur, ok := current["current"].(map[string]any); ok {
		r.Current = cur
	}
	fc, ok := forecast["forecast"].(map[string]any)
	if !ok {
		return r
	}
	days, ok := fc["forecastday"].([]any)
	if !ok || len(days) == 0 {
		return r
	}
	if day, ok := days[0].(map[string]any); ok {
		r.Forecast = day
	}
	return r
}
