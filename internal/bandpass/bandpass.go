// Package bandpass normalizes wavelength, energy and frequency bands to
// angstrom.
package bandpass

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/across/model"
)

const (
	// HCKeVAngstrom is Planck's constant times the speed of light.
	HCKeVAngstrom = 12.398419843320026
	// CAngstromPerSecond is the speed of light.
	CAngstromPerSecond = 2.99792458e18
)

// Kind names the unit a bandpass was given in.
type Kind int

const (
	Wavelength Kind = iota
	Energy
	Frequency
)

// Unit is a band unit. Wavelength units are stored as their size in
// angstrom, energy units in keV and frequency units in Hz.
type Unit string

const (
	Angstrom   Unit = "angstrom"
	Nanometer  Unit = "nm"
	Micrometer Unit = "um"
	Millimeter Unit = "mm"
	Meter      Unit = "m"

	ElectronVolt     Unit = "eV"
	KiloElectronVolt Unit = "keV"
	MegaElectronVolt Unit = "MeV"
	GigaElectronVolt Unit = "GeV"
	TeraElectronVolt Unit = "TeV"

	Hertz     Unit = "Hz"
	Kilohertz Unit = "kHz"
	Megahertz Unit = "MHz"
	Gigahertz Unit = "GHz"
	Terahertz Unit = "THz"
)

type unitInfo struct {
	kind  Kind
	scale float64
}

var units = map[Unit]unitInfo{
	Angstrom:   {Wavelength, 1},
	Nanometer:  {Wavelength, 10},
	Micrometer: {Wavelength, 1e4},
	Millimeter: {Wavelength, 1e7},
	Meter:      {Wavelength, 1e10},

	ElectronVolt:     {Energy, 1e-3},
	KiloElectronVolt: {Energy, 1},
	MegaElectronVolt: {Energy, 1e3},
	GigaElectronVolt: {Energy, 1e6},
	TeraElectronVolt: {Energy, 1e9},

	Hertz:     {Frequency, 1},
	Kilohertz: {Frequency, 1e3},
	Megahertz: {Frequency, 1e6},
	Gigahertz: {Frequency, 1e9},
	Terahertz: {Frequency, 1e12},
}

// KindOf returns the kind of a unit.
func KindOf(u Unit) (Kind, bool) {
	info, ok := units[u]
	return info.kind, ok
}

// ToAngstrom converts a single value.
func ToAngstrom(v float64, u Unit) (float64, error) {
	info, ok := units[u]
	if !ok {
		return 0, fmt.Errorf("%w: unknown bandpass unit %q", model.ErrUnprocessableEntity, u)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: bandpass value %v is not finite", model.ErrUnprocessableEntity, v)
	}
	switch info.kind {
	case Energy:
		if v <= 0 {
			return 0, fmt.Errorf("%w: energy %v %s must be positive", model.ErrUnprocessableEntity, v, u)
		}
		return HCKeVAngstrom / (v * info.scale), nil
	case Frequency:
		if v <= 0 {
			return 0, fmt.Errorf("%w: frequency %v %s must be positive", model.ErrUnprocessableEntity, v, u)
		}
		return CAngstromPerSecond / (v * info.scale), nil
	default:
		return v * info.scale, nil
	}
}

// FromAngstrom is the inverse of ToAngstrom.
func FromAngstrom(a float64, u Unit) (float64, error) {
	info, ok := units[u]
	if !ok {
		return 0, fmt.Errorf("%w: unknown bandpass unit %q", model.ErrUnprocessableEntity, u)
	}
	switch info.kind {
	case Energy, Frequency:
		if a <= 0 {
			return 0, fmt.Errorf("%w: wavelength %v must be positive", model.ErrUnprocessableEntity, a)
		}
		if info.kind == Energy {
			return HCKeVAngstrom / a / info.scale, nil
		}
		return CAngstromPerSecond / a / info.scale, nil
	default:
		return a / info.scale, nil
	}
}

// Range converts [lo, hi] in unit u to an angstrom range. Energy and
// frequency bands invert, so their bounds swap.
func Range(lo, hi float64, u Unit) (model.WavelengthRange, error) {
	if lo > hi {
		return model.WavelengthRange{}, fmt.Errorf("%w: bandpass min %v exceeds max %v", model.ErrUnprocessableEntity, lo, hi)
	}
	a, err := ToAngstrom(lo, u)
	if err != nil {
		return model.WavelengthRange{}, err
	}
	b, err := ToAngstrom(hi, u)
	if err != nil {
		return model.WavelengthRange{}, err
	}
	if a > b {
		a, b = b, a
	}
	return model.WavelengthRange{Min: a, Max: b}, nil
}

// Input is a bandpass as submitted: either a min/max pair or a
// central value with a bandwidth, in Unit.
type Input struct {
	FilterName string   `json:"filter_name,omitempty"`
	Min        *float64 `json:"min,omitempty"`
	Max        *float64 `json:"max,omitempty"`
	Central    *float64 `json:"central_wavelength,omitempty"`
	Bandwidth  *float64 `json:"bandwidth,omitempty"`
	Peak       *float64 `json:"peak_wavelength,omitempty"`
	Unit       Unit     `json:"unit"`
}

// Convert normalizes the input to an angstrom bandpass.
func (in Input) Convert() (model.Bandpass, error) {
	if in.Unit == "" {
		return model.Bandpass{}, fmt.Errorf("%w: bandpass unit is required", model.ErrUnprocessableEntity)
	}

	var lo, hi float64
	peak := in.Peak
	switch {
	case in.Min != nil && in.Max != nil:
		lo, hi = *in.Min, *in.Max
	case in.Central != nil && in.Bandwidth != nil:
		if k, ok := KindOf(in.Unit); ok && k != Wavelength {
			return model.Bandpass{}, fmt.Errorf("%w: central_wavelength and bandwidth need a wavelength unit, got %s", model.ErrUnprocessableEntity, in.Unit)
		}
		if *in.Bandwidth < 0 {
			return model.Bandpass{}, fmt.Errorf("%w: bandwidth must not be negative", model.ErrUnprocessableEntity)
		}
		lo = *in.Central - *in.Bandwidth/2
		hi = *in.Central + *in.Bandwidth/2
		if peak == nil {
			peak = in.Central
		}
	default:
		return model.Bandpass{}, fmt.Errorf("%w: bandpass needs min and max or central_wavelength and bandwidth", model.ErrUnprocessableEntity)
	}

	r, err := Range(lo, hi, in.Unit)
	if err != nil {
		return model.Bandpass{}, err
	}
	out := model.Bandpass{FilterName: in.FilterName, MinWavelength: r.Min, MaxWavelength: r.Max}
	if peak != nil {
		p, err := ToAngstrom(*peak, in.Unit)
		if err != nil {
			return model.Bandpass{}, err
		}
		out.PeakWavelength = &p
	}
	return out, nil
}
