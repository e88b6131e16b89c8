package model

import "math"

// Round2 rounds to 2 decimal places (balances, pnl).
func Round2(v float64) float64 { return math.Round(v*100) / 100 }

// Round4 rounds to 4 decimal places (spread percentages, per-step profit).
func Round4(v float64) float64 { return math.Round(v*10000) / 10000 }

// Round8 rounds to 8 decimal places (position quantities).
func Round8(v float64) float64 { return math.Round(v*1e8) / 1e8 }
