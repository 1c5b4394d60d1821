package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kjstillabower/weather-node/internal/models"
)

var (
	// ErrMalformed is returned (wrapped in a Defect) when a field is present but cannot be coerced.
	ErrMalformed = errors.New("malformed field")
	// ErrOutOfRange is returned (wrapped in a Defect) when a numeric field was clamped to its bounds.
	ErrOutOfRange = errors.New("value out of range")

	errMissing = errors.New("missing field")
)

// Defect records one field that could not be used as-is. The channel still
// carries a value: the default for malformed fields, the clamped value for
// out-of-range ones.
type Defect struct {
	Channel string
	Field   string
	Err     error
}

func (d Defect) Error() string {
	return fmt.Sprintf("channel %s (%s): %v", d.Channel, d.Field, d.Err)
}

func (d Defect) Unwrap() error {
	return d.Err
}

// Map converts a reading into channel values. Absent or malformed fields take
// the channel default; Map never fails.
func Map(r models.Reading) Set {
	s, _ := MapWithDefects(r)
	return s
}

// MapWithDefects is Map plus the list of malformed or clamped fields.
// Absent fields are defaulted without a defect.
func MapWithDefects(r models.Reading) (Set, []Defect) {
	var (
		out     Set
		defects []Defect
	)
	for i, spec := range Specs {
		v, err := mapOne(spec, r)
		out[i] = v
		if err != nil && !errors.Is(err, errMissing) {
			defects = append(defects, Defect{Channel: spec.ID, Field: spec.Field(), Err: err})
		}
	}
	return out, defects
}

func mapOne(spec Spec, r models.Reading) (Value, error) {
	doc := r.Current
	if spec.section == sectionForecast {
		doc = r.Forecast
	}
	raw, ok := lookup(doc, spec.path)
	if !ok {
		return defaultValue(spec), errMissing
	}

	v := Value{ID: spec.ID, Kind: spec.Kind, UOM: spec.UOM}
	switch spec.Kind {
	case KindText:
		text, err := coerceText(raw)
		if err != nil {
			return defaultValue(spec), err
		}
		if text == "" {
			return defaultValue(spec), errMissing
		}
		v.Text = text
		return v, nil
	default:
		n, err := coerceNumber(raw)
		if err != nil {
			return defaultValue(spec), err
		}
		if spec.Kind == KindInt {
			n = math.Trunc(n)
		}
		var rangeErr error
		if spec.Bounded && (n < spec.Min || n > spec.Max) {
			rangeErr = fmt.Errorf("%w: %v not in [%v, %v]", ErrOutOfRange, n, spec.Min, spec.Max)
			n = math.Max(spec.Min, math.Min(spec.Max, n))
		}
		v.Number = n
		return v, rangeErr
	}
}

// lookup walks nested objects. JSON null counts as absent.
func lookup(doc map[string]any, path []string) (any, bool) {
	var cur any = doc
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

func coerceNumber(raw any) (float64, error) {
	var (
		n   float64
		err error
	)
	switch x := raw.(type) {
	case float64:
		n = x
	case float32:
		n = float64(x)
	case int:
		n = float64(x)
	case int64:
		n = float64(x)
	case json.Number:
		n, err = x.Float64()
	case string:
		n, err = strconv.ParseFloat(strings.TrimSpace(x), 64)
	default:
		return 0, fmt.Errorf("%w: unexpected %T", ErrMalformed, raw)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("%w: non-finite number", ErrMalformed)
	}
	return n, nil
}

func coerceText(raw any) (string, error) {
	switch x := raw.(type) {
	case string:
		return strings.TrimSpace(x), nil
	case json.Number:
		return x.String(), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(x), nil
	default:
		return "", fmt.Errorf("%w: unexpected %T", ErrMalformed, raw)
	}
}
