package config

import "strings"

// Custom parameter keys. They double as notice keys.
const (
	ParamAPIKey   = "api_key"
	ParamLocation = "location"
)

// ParamDef describes a user-editable parameter and its placeholder default.
type ParamDef struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Default     string `json:"default"`
	Notice      string `json:"-"`
}

// Params lists the custom parameters in display order.
var Params = []ParamDef{
	{
		Key:         ParamAPIKey,
		Name:        "Weather API Key",
		Description: "Your API key from weatherapi.com",
		Default:     "Enter your Weather API key",
		Notice:      "Please enter your Weather API key",
	},
	{
		Key:         ParamLocation,
		Name:        "Location",
		Description: "Location as ZIP code, City,State, or Lat,Lon",
		Default:     "Enter location (ZIP, city,state, or lat,lon)",
		Notice:      "Please enter a valid location",
	},
}

// Source supplies custom parameter values by key.
type Source interface {
	Param(key string) string
}

// Placeholder returns the default shown for an unset parameter.
func Placeholder(key string) string {
	for _, p := range Params {
		if p.Key == key {
			return p.Default
		}
	}
	return ""
}

// Notice returns the message raised when key is unset.
func Notice(key string) string {
	for _, p := range Params {
		if p.Key == key {
			return p.Notice
		}
	}
	return ""
}

// IsUnset reports whether value is empty, whitespace or the placeholder for key.
func IsUnset(key, value string) bool {
	value = strings.TrimSpace(value)
	return value == "" || value == Placeholder(key)
}
