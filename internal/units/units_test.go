package units

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Unit
	}{
		{"°C", Celsius},
		{"celsius", Celsius},
		{" C ", Celsius},
		{"°F", Fahrenheit},
		{"%", Percent},
		{"W", Watt},
		{"kWh", KilowattHour},
		{"V", Volt},
		{"A", Ampere},
		{"lx", Lux},
		{"hPa", Hectopascal},
		{"dBm", DBm},
		{"mm", Millimeter},
		{"km/h", KilometersPerHour},
		{"", None},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseUnknown(t *testing.T) {
	if _, err := Parse("furlong"); !errors.Is(err, ErrUnknownUnit) {
		t.Errorf("err = %v, want ErrUnknownUnit", err)
	}
}

func TestSymbolsRoundTrip(t *testing.T) {
	for u := range info {
		got, err := Parse(u.String())
		if err != nil {
			t.Errorf("Parse(%q): %v", u.String(), err)
			continue
		}
		if got != u {
			t.Errorf("Parse(%q) = %v, want %v", u.String(), got, u)
		}
	}
}

func TestConvert(t *testing.T) {
	tests := []struct {
		v        float64
		from, to Unit
		want     float64
	}{
		{0, Celsius, Fahrenheit, 32},
		{100, Celsius, Fahrenheit, 212},
		{-40, Fahrenheit, Celsius, -40},
		{21.5, Celsius, Celsius, 21.5},
		{55, Percent, Percent, 55},
	}
	for _, tt := range tests {
		got, err := Convert(tt.v, tt.from, tt.to)
		if err != nil {
			t.Fatalf("Convert(%g %s -> %s): %v", tt.v, tt.from, tt.to, err)
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Convert(%g %s -> %s) = %g, want %g", tt.v, tt.from, tt.to, got, tt.want)
		}
	}
}

func TestConvertIncompatible(t *testing.T) {
	if _, err := Convert(1, Celsius, Percent); !errors.Is(err, ErrIncompatible) {
		t.Errorf("err = %v, want ErrIncompatible", err)
	}
}

func TestQuantityJSON(t *testing.T) {
	b, err := json.Marshal(Q(21.5, Celsius))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `{"value":21.5,"unit":"°C"}` {
		t.Errorf("json = %s", b)
	}

	var q Quantity
	if err := json.Unmarshal([]byte(`{"value":70,"unit":"°F"}`), &q); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	c, err := q.In(Celsius)
	if err != nil {
		t.Fatalf("In: %v", err)
	}
	if math.Abs(c.Value-21.1111) > 1e-3 || c.Unit != Celsius {
		t.Errorf("converted = %s", c)
	}
}
