package utils

import "math"

// RoundMoney rounds to two decimal places, half away from zero.
func RoundMoney(amount float64) float64 {
	return math.Round(amount*100) / 100
}
