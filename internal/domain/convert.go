package domain

import "math"

const kgToLb = 2.2046226218

// ConvertWeight converts a weight value between "kg" and "lb".
// Returns v unchanged if from == to or if the units are unrecognised.
func ConvertWeight(v float64, from, to string) float64 {
	if from == to {
		return v
	}
	if from == "kg" && to == "lb" {
		return v * kgToLb
	}
	if from == "lb" && to == "kg" {
		return v / kgToLb
	}
	return v
}

// RoundTo rounds v to the given number of decimal places.
func RoundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// ClampSleepHours limits h to [0, 24] and rounds it to one decimal.
func ClampSleepHours(h float64) float64 {
	if math.IsNaN(h) || h < 0 {
		return 0
	}
	if h > 24 {
		return 24
	}
	return RoundTo(h, 1)
}
