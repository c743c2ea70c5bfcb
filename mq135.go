// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mq135

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/physic"
)

// Datasheet defaults for the calibration values. Resistances are in kΩ, the
// atmospheric CO2 baseline is in ppm.
const (
	DefaultRZero   = 76.63
	DefaultRLoad   = 10.0
	DefaultAtmoCO2 = 397.13 // https://www.co2.earth
)

// Parameters of the power-law fit between the resistance ratio Rs/RZero and
// the CO2 concentration, from the datasheet response curve.
const (
	paramA = 116.6020682
	paramB = 2.769034857
)

// Coefficients of the temperature/humidity correction curves.
const (
	corA = 0.00035
	corB = 0.02718
	corC = 1.39538
	corD = 0.0018
	corE = -0.003333333
	corF = -0.001923077
	corG = 1.130128205
)

// Full-scale count assumed when the pin does not report a range. 10 bit ADC
// convention.
const defaultFullScale = 1023

// PPM=Parts Per Million. Units of measure for CO2 concentration.
type PPM int

func (ppm *PPM) String() string {
	return fmt.Sprintf("%d PPM", *ppm)
}

// The sensor reading. The estimated CO2 concentration, plus the ambient
// temperature and humidity when an ambient sensor is configured.
type Env struct {
	physic.Env
	CO2 PPM
}

// Return the sensor reading in string format.
func (e *Env) String() string {
	return fmt.Sprintf("Temperature: %s Humidity: %s CO2: %s", e.Temperature.String(), e.Humidity.String(), e.CO2.String())
}

// Opts holds the configuration options for the device.
type Opts struct {
	// RZero is the sensor resistance in known clean air, in kΩ. It is the
	// calibration anchor for the concentration estimate; obtain it with
	// MeasureRZero or Calibrate. Leave 0 to use the datasheet value.
	RZero float64
	// RLoad is the load resistor of the measurement voltage divider, in kΩ.
	// Leave 0 to use the datasheet value.
	RLoad float64
	// AtmoCO2 is the atmospheric CO2 concentration assumed during
	// calibration, in ppm. Leave 0 to use the datasheet value.
	AtmoCO2 float64
	// Ambient optionally supplies ambient temperature and relative humidity,
	// for example an AHT20 on the same board. When set, Sense compensates
	// the concentration estimate for both.
	Ambient physic.SenseEnv
}

// DefaultOpts holds the default configuration options for the device: the
// datasheet calibration values and no ambient compensation.
var DefaultOpts = Opts{}

// calValue is one calibration value that is either explicitly set or absent.
// When absent the datasheet default applies. Storing 0 clears the value, so
// the historical "set 0 to reset" contract of the setters is kept.
type calValue struct {
	set bool
	v   float64
}

func (c *calValue) store(v float64) {
	if v == 0 {
		*c = calValue{}
		return
	}
	c.set = true
	c.v = v
}

func (c calValue) or(def float64) float64 {
	if c.set {
		return c.v
	}
	return def
}

// Dev represents an MQ135 sensor wired to an ADC pin.
type Dev struct {
	p    analog.PinADC
	opts Opts

	mu      sync.Mutex
	rzero   calValue
	rload   calValue
	atmoco2 calValue
	stop    chan struct{}
	wg      sync.WaitGroup
}

// New returns a driver for an MQ135 whose analog output is wired to the
// given ADC pin. The Opts can be nil.
func New(p analog.PinADC, opts *Opts) (*Dev, error) {
	if p == nil {
		return nil, errors.New("mq135: an ADC pin is required")
	}
	if opts == nil {
		opts = &DefaultOpts
	}
	d := &Dev{p: p, opts: *opts}
	d.rzero.store(opts.RZero)
	d.rload.store(opts.RLoad)
	d.atmoco2.store(opts.AtmoCO2)
	return d, nil
}

// RZero returns the calibration resistance in kΩ, or the datasheet value if
// none was set.
func (d *Dev) RZero() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rzero.or(DefaultRZero)
}

// SetRZero sets the calibration resistance in kΩ, typically a value obtained
// from MeasureRZero. Passing 0 resets to the datasheet value.
func (d *Dev) SetRZero(r float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rzero.store(r)
}

// RLoad returns the load resistance in kΩ, or the datasheet value if none
// was set.
func (d *Dev) RLoad() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rload.or(DefaultRLoad)
}

// SetRLoad sets the load resistance of the voltage divider in kΩ. Passing 0
// resets to the datasheet value.
func (d *Dev) SetRLoad(r float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rload.store(r)
}

// AtmoCO2 returns the atmospheric CO2 baseline in ppm, or the datasheet
// value if none was set.
func (d *Dev) AtmoCO2() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.atmoco2.or(DefaultAtmoCO2)
}

// SetAtmoCO2 sets the atmospheric CO2 baseline used to interpret calibration
// readings, in ppm. To obtain the current value, visit:
//
// https://www.co2.earth/daily-co2
//
// Passing 0 resets to the datasheet value.
func (d *Dev) SetAtmoCO2(ppm float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.atmoco2.store(ppm)
}

// CorrectionFactor returns the factor by which the sensor resistance shifts
// at the given ambient temperature in °C and relative humidity in percent.
// The temperature dependency is quadratic below 20°C and linear above; the
// humidity dependency is assumed linear. Inputs are not range checked.
func CorrectionFactor(temperature, humidity float64) float64 {
	if temperature < 20 {
		return corA*temperature*temperature - corB*temperature + corC - (humidity-33.0)*corD
	}
	return corE*temperature + corF*humidity + corG
}

// fullScale returns the maximum count the pin can report.
func (d *Dev) fullScale() float64 {
	_, max := d.p.Range()
	if max.Raw <= 0 {
		return defaultFullScale
	}
	return float64(max.Raw)
}

// Resistance samples the ADC pin once and returns the sensor resistance in
// kΩ, computed from the voltage divider with RLoad.
//
// A raw count of 0 is a precondition violation: the divider formula divides
// by the count, so the result is +Inf. The value propagates rather than
// being reported as an error, matching what calibration tooling built around
// this sensor expects. Only a failed pin read returns an error.
func (d *Dev) Resistance() (float64, error) {
	s, err := d.p.Read()
	if err != nil {
		return 0, fmt.Errorf("mq135: reading %s: %w", d.p.Name(), err)
	}
	return (d.fullScale()/float64(s.Raw) - 1) * d.RLoad(), nil
}

// CorrectedResistance returns the sensor resistance in kΩ compensated for
// the ambient temperature in °C and relative humidity in percent.
func (d *Dev) CorrectedResistance(temperature, humidity float64) (float64, error) {
	r, err := d.Resistance()
	if err != nil {
		return 0, err
	}
	return r / CorrectionFactor(temperature, humidity), nil
}

// PPM returns the estimated CO2 concentration in ppm, assuming CO2 is the
// only gas the sensor responds to.
func (d *Dev) PPM() (float64, error) {
	r, err := d.Resistance()
	if err != nil {
		return 0, err
	}
	return paramA * math.Pow(r/d.RZero(), -paramB), nil
}

// CorrectedPPM returns the estimated CO2 concentration in ppm, compensated
// for the ambient temperature in °C and relative humidity in percent.
func (d *Dev) CorrectedPPM(temperature, humidity float64) (float64, error) {
	r, err := d.CorrectedResistance(temperature, humidity)
	if err != nil {
		return 0, err
	}
	return paramA * math.Pow(r/d.RZero(), -paramB), nil
}

// MeasureRZero derives the calibration resistance in kΩ from the current
// reading, assuming the sensor currently sits in clean air at the configured
// atmospheric CO2 baseline. Feed the result to SetRZero, or use Calibrate.
// Let the sensor heat up for several minutes before measuring.
func (d *Dev) MeasureRZero() (float64, error) {
	r, err := d.Resistance()
	if err != nil {
		return 0, err
	}
	return r * math.Pow(d.AtmoCO2()/paramA, 1/paramB), nil
}

// MeasureCorrectedRZero derives the calibration resistance in kΩ like
// MeasureRZero, compensated for the ambient temperature in °C and relative
// humidity in percent.
func (d *Dev) MeasureCorrectedRZero(temperature, humidity float64) (float64, error) {
	r, err := d.CorrectedResistance(temperature, humidity)
	if err != nil {
		return 0, err
	}
	return r * math.Pow(d.AtmoCO2()/paramA, 1/paramB), nil
}

// Calibrate measures the calibration resistance under presumed clean-air
// conditions and stores it as the new RZero. The measured value in kΩ is
// returned. The value is not persisted; store it and pass it through
// Opts.RZero on the next power-up.
func (d *Dev) Calibrate() (float64, error) {
	r, err := d.MeasureRZero()
	if err != nil {
		return 0, err
	}
	d.SetRZero(r)
	return r, nil
}

// CalibrateCorrected measures and stores RZero like Calibrate, compensated
// for the ambient temperature in °C and relative humidity in percent.
func (d *Dev) CalibrateCorrected(temperature, humidity float64) (float64, error) {
	r, err := d.MeasureCorrectedRZero(temperature, humidity)
	if err != nil {
		return 0, err
	}
	d.SetRZero(r)
	return r, nil
}

// Sense reads the sensor once and writes the estimated CO2 concentration to
// e. When an ambient sensor is configured through Opts, the estimate is
// compensated for temperature and humidity and both are copied into e;
// otherwise the temperature and humidity of e are left at zero.
func (d *Dev) Sense(e *Env) error {
	e.Temperature = 0
	e.Humidity = 0
	e.Pressure = 0
	e.CO2 = 0

	var ppm float64
	if d.opts.Ambient != nil {
		amb := physic.Env{}
		if err := d.opts.Ambient.Sense(&amb); err != nil {
			return fmt.Errorf("mq135: ambient reading: %w", err)
		}
		t := amb.Temperature.Celsius()
		h := float64(amb.Humidity) / float64(physic.PercentRH)
		p, err := d.CorrectedPPM(t, h)
		if err != nil {
			return err
		}
		ppm = p
		e.Temperature = amb.Temperature
		e.Humidity = amb.Humidity
	} else {
		p, err := d.PPM()
		if err != nil {
			return err
		}
		ppm = p
	}
	e.CO2 = PPM(math.Round(ppm))
	return nil
}

// SenseContinuous returns a channel that receives a reading every interval.
// Failed readings are skipped. To terminate the continuous sense, call
// Halt().
func (d *Dev) SenseContinuous(interval time.Duration) (<-chan Env, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return nil, errors.New("mq135: SenseContinuous() running already")
	}
	d.stop = make(chan struct{})
	d.wg.Add(1)

	sensing := make(chan Env, 16)
	go func(stop <-chan struct{}) {
		defer d.wg.Done()
		defer close(sensing)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				e := Env{}
				if err := d.Sense(&e); err == nil && len(sensing) < cap(sensing) {
					sensing <- e
				}
			}
		}
	}(d.stop)
	return sensing, nil
}

// Halt stops the MQ135 from acquiring measurements as initiated by
// SenseContinuous(). Implements conn.Resource.
func (d *Dev) Halt() error {
	d.mu.Lock()
	stop := d.stop
	d.stop = nil
	d.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	d.wg.Wait()
	return nil
}

// Precision returns the sensor's precision. A single ADC count does not map
// to a fixed concentration step, so CO2 precision is reported as 1 PPM. The
// temperature and humidity precision is that of the ambient sensor, if
// configured.
func (d *Dev) Precision(e *Env) {
	e.Temperature = 0
	e.Pressure = 0
	e.Humidity = 0
	e.CO2 = 1
	if d.opts.Ambient != nil {
		amb := physic.Env{}
		d.opts.Ambient.Precision(&amb)
		e.Temperature = amb.Temperature
		e.Humidity = amb.Humidity
	}
}

func (d *Dev) String() string {
	return fmt.Sprintf("mq135: %s", d.p.Name())
}

var _ conn.Resource = &Dev{}
