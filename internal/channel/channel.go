// Package channel maps merged weather readings onto the fixed, ordered set of
// typed driver channels exposed to the home-automation host.
package channel

import (
	"encoding/json"
	"fmt"
)

// Kind is the semantic type of a channel value.
type Kind int

const (
	KindFloat Kind = iota
	KindInt
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// Host unit-of-measure codes.
const (
	UOMFahrenheit   = 17
	UOMIndex        = 25
	UOMRainRate     = 46
	UOMMilesPerHour = 48
	UOMPercent      = 51
	UOMDegrees      = 76
	UOMInchesHg     = 117
)

// UnknownText is the default for text channels.
const UnknownText = "Unknown"

type section int

const (
	sectionCurrent section = iota
	sectionForecast
)

// Spec describes one channel: where its value comes from and how it is typed.
type Spec struct {
	ID   string
	Name string
	Kind Kind
	UOM  int
	// Min and Max bound numeric values when Bounded is set.
	Bounded  bool
	Min, Max float64

	section section
	path    []string
}

// Field returns the dotted source path, e.g. "current.temp_f".
func (s Spec) Field() string {
	out := "current"
	if s.section == sectionForecast {
		out = "forecastday[0]"
	}
	for _, p := range s.path {
		out += "." + p
	}
	return out
}

// Count is the number of channels in a Set.
const Count = 9

// Specs lists every channel in emission order.
var Specs = [Count]Spec{
	{ID: "ST", Name: "Temperature", Kind: KindFloat, UOM: UOMFahrenheit, section: sectionCurrent, path: []string{"temp_f"}},
	{ID: "CLITEMP", Name: "Temperature", Kind: KindFloat, UOM: UOMFahrenheit, section: sectionCurrent, path: []string{"temp_f"}},
	{ID: "CLIHUM", Name: "Humidity", Kind: KindInt, UOM: UOMPercent, Bounded: true, Min: 0, Max: 100, section: sectionCurrent, path: []string{"humidity"}},
	{ID: "BARPRES", Name: "Barometric Pressure", Kind: KindFloat, UOM: UOMInchesHg, section: sectionCurrent, path: []string{"pressure_in"}},
	{ID: "WINDDIR", Name: "Wind Direction", Kind: KindInt, UOM: UOMDegrees, Bounded: true, Min: 0, Max: 360, section: sectionCurrent, path: []string{"wind_degree"}},
	{ID: "WINDSPD", Name: "Wind Speed", Kind: KindFloat, UOM: UOMMilesPerHour, Bounded: true, Min: 0, Max: 500, section: sectionCurrent, path: []string{"wind_mph"}},
	{ID: "RAINRT", Name: "Rain Rate", Kind: KindFloat, UOM: UOMRainRate, Bounded: true, Min: 0, Max: 100, section: sectionCurrent, path: []string{"precip_in"}},
	{ID: "GV0", Name: "Chance of Rain", Kind: KindInt, UOM: UOMPercent, Bounded: true, Min: 0, Max: 100, section: sectionForecast, path: []string{"day", "daily_chance_of_rain"}},
	{ID: "GV1", Name: "Conditions", Kind: KindText, UOM: UOMIndex, section: sectionCurrent, path: []string{"condition", "text"}},
}

// Value is one emitted channel value. Number holds float and int channels
// (int channels are always integral); Text holds text channels.
type Value struct {
	ID     string
	Kind   Kind
	UOM    int
	Number float64
	Text   string
}

// Any returns the value typed by Kind: float64, int64 or string.
func (v Value) Any() any {
	switch v.Kind {
	case KindInt:
		return int64(v.Number)
	case KindText:
		return v.Text
	default:
		return v.Number
	}
}

func (v Value) String() string {
	return fmt.Sprintf("%s=%v", v.ID, v.Any())
}

// MarshalJSON renders the value in host driver form.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Driver string `json:"driver"`
		UOM    int    `json:"uom"`
		Value  any    `json:"value"`
	}{v.ID, v.UOM, v.Any()})
}

// Set is the fixed ordered list of channel values.
type Set [Count]Value

// Get returns the value for a channel id.
func (s Set) Get(id string) (Value, bool) {
	for _, v := range s {
		if v.ID == id {
			return v, true
		}
	}
	return Value{}, false
}

// Defaults returns a Set with every channel at its default value.
func Defaults() Set {
	var s Set
	for i, spec := range Specs {
		s[i] = defaultValue(spec)
	}
	return s
}

func defaultValue(spec Spec) Value {
	v := Value{ID: spec.ID, Kind: spec.Kind, UOM: spec.UOM}
	if spec.Kind == KindText {
		v.Text = UnknownText
	}
	return v
}
