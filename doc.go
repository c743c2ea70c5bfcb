// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package mq135 controls an MQ135 resistive gas sensor through an ADC pin.
// The sensor changes resistance in the presence of CO2 and other gases; the
// driver converts a raw ADC count to the sensor resistance and, through a
// power-law fit of the datasheet response curve, to an estimated CO2
// concentration in ppm. Readings can be compensated for ambient temperature
// and humidity, and the driver supports deriving the clean-air reference
// resistance (RZero) for field calibration.
//
// The sensor itself has no digital interface. Wire its analog output through
// a load resistor to any ADC that exposes analog.PinADC, for example an
// ADS1115.
//
// **Datasheet:** https://www.olimex.com/Products/Components/Sensors/Gas/SNS-MQ135/resources/SNS-MQ135.pdf
package mq135
