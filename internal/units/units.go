// Package units maps configuration strings to a closed set of unit tags and
// converts between units of the same dimension.
package units

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownUnit  = errors.New("units: unknown unit")
	ErrIncompatible = errors.New("units: incompatible units")
)

// Unit is a physical unit tag.
type Unit int

const (
	None Unit = iota
	Celsius
	Fahrenheit
	Percent
	Watt
	KilowattHour
	Volt
	Ampere
	Lux
	Hectopascal
	DBm
	Millimeter
	KilometersPerHour
)

// Dimension groups units that can be converted into each other.
type Dimension int

const (
	Dimensionless Dimension = iota
	Temperature
	Ratio
	Power
	Energy
	Voltage
	Current
	Illuminance
	Pressure
	SignalStrength
	Length
	Speed
)

type unitInfo struct {
	symbol string
	dim    Dimension
}

var info = map[Unit]unitInfo{
	None:              {"", Dimensionless},
	Celsius:           {"°C", Temperature},
	Fahrenheit:        {"°F", Temperature},
	Percent:           {"%", Ratio},
	Watt:              {"W", Power},
	KilowattHour:      {"kWh", Energy},
	Volt:              {"V", Voltage},
	Ampere:            {"A", Current},
	Lux:               {"lx", Illuminance},
	Hectopascal:       {"hPa", Pressure},
	DBm:               {"dBm", SignalStrength},
	Millimeter:        {"mm", Length},
	KilometersPerHour: {"km/h", Speed},
}

// names holds every accepted spelling, lower-cased.
var names = map[string]Unit{
	"":           None,
	"none":       None,
	"°c":         Celsius,
	"c":          Celsius,
	"celsius":    Celsius,
	"°f":         Fahrenheit,
	"f":          Fahrenheit,
	"fahrenheit": Fahrenheit,
	"%":          Percent,
	"percent":    Percent,
	"w":          Watt,
	"watt":       Watt,
	"kwh":        KilowattHour,
	"v":          Volt,
	"volt":       Volt,
	"a":          Ampere,
	"ampere":     Ampere,
	"lx":         Lux,
	"lux":        Lux,
	"hpa":        Hectopascal,
	"dbm":        DBm,
	"mm":         Millimeter,
	"km/h":       KilometersPerHour,
	"kmh":        KilometersPerHour,
}

// Parse resolves a unit name or symbol, case-insensitively.
func Parse(s string) (Unit, error) {
	u, ok := names[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return None, fmt.Errorf("%w: %q", ErrUnknownUnit, s)
	}
	return u, nil
}

// String returns the unit symbol.
func (u Unit) String() string {
	if i, ok := info[u]; ok {
		return i.symbol
	}
	return fmt.Sprintf("unit(%d)", int(u))
}

func (u Unit) MarshalText() ([]byte, error) { return []byte(u.String()), nil }

func (u *Unit) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*u = v
	return nil
}

// Dimension returns the physical dimension of u.
func (u Unit) Dimension() Dimension { return info[u].dim }

// Convert converts v from one unit to another of the same dimension.
func Convert(v float64, from, to Unit) (float64, error) {
	if from == to {
		return v, nil
	}
	if from.Dimension() != to.Dimension() {
		return 0, fmt.Errorf("%w: %s to %s", ErrIncompatible, from, to)
	}
	switch {
	case from == Celsius && to == Fahrenheit:
		return v*9/5 + 32, nil
	case from == Fahrenheit && to == Celsius:
		return (v - 32) * 5 / 9, nil
	}
	return 0, fmt.Errorf("%w: %s to %s", ErrIncompatible, from, to)
}

// Quantity is a value with its unit.
type Quantity struct {
	Value float64 `json:"value"`
	Unit  Unit    `json:"unit"`
}

// Q is shorthand for Quantity{v, u}.
func Q(v float64, u Unit) Quantity { return Quantity{Value: v, Unit: u} }

// In returns q expressed in unit u.
func (q Quantity) In(u Unit) (Quantity, error) {
	v, err := Convert(q.Value, q.Unit, u)
	if err != nil {
		return q, err
	}
	return Quantity{Value: v, Unit: u}, nil
}

func (q Quantity) String() string {
	if q.Unit == None {
		return fmt.Sprintf("%g", q.Value)
	}
	return fmt.Sprintf("%g %s", q.Value, q.Unit)
}
