package model

import "time"

// LiveState names for the live trading session state machine.
//
//	idle → running → {running, halted_by_guardrail, stopped, error}
//
// error is non-terminal: the schedule continues, only the tick outcome is
// recorded. halted_by_guardrail and stopped both stop scheduling and
// require an explicit restart.
const (
	StateIdle    = "idle"
	StateRunning = "running"
	StateHalted  = "halted_by_guardrail"
	StateStopped = "stopped"
	StateError   = "error"
)

// Guardrails are the risk limits enforced by the live loop.
type Guardrails struct {
	MaxDailyLoss float64 `json:"maxDailyLoss"` // absolute daily loss that halts trading
	MaxPosition  float64 `json:"maxPosition"`  // max cash committed to one position
	CooldownMs   int64   `json:"cooldownMs"`   // minimum gap between acted-on ticks
}

// LiveSnapshot is the immutable status view of a live trading session.
// It is swapped in whole at the end of each tick; two consecutive reads
// with no intervening tick return identical snapshots.
//
// Invariant: Position > 0 implies EntryPrice != nil; Position == 0 implies
// EntryPrice == nil.
type LiveSnapshot struct {
	Running bool   `json:"running"`
	State   string `json:"state"`

	IntervalMs   int64    `json:"intervalMs"`
	StartingCash float64  `json:"startingCash"`
	Balance      float64  `json:"balance"`
	Position     float64  `json:"position"`
	EntryPrice   *float64 `json:"entryPrice"`

	Cycles      int     `json:"cycles"`
	TradesToday int     `json:"tradesToday"`
	PnLToday    float64 `json:"pnlToday"`

	Guardrails    Guardrails `json:"guardrails"`
	NextAllowedTs int64      `json:"nextAllowedTs"` // ms epoch; 0 when no cooldown pending

	LastAction string     `json:"lastAction"`
	LastError  string     `json:"lastError,omitempty"`
	LastRun    *time.Time `json:"lastRun,omitempty"`

	// Context from the most recent successful tick.
	Price         float64      `json:"price,omitempty"`
	Indicators    IndicatorSet `json:"indicators,omitempty"`
	LastArbitrage *Trade       `json:"lastArbitrage,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// LiveConfig carries the parameters of a start command.
type LiveConfig struct {
	IntervalMs   int64      `json:"intervalMs"`
	StartingCash float64    `json:"startingCash"`
	Guardrails   Guardrails `json:"guardrails"`
}

// DefaultLiveConfig returns the boot defaults for a live session.
func DefaultLiveConfig() LiveConfig {
	return LiveConfig{
		IntervalMs:   60_000,
		StartingCash: 50,
		Guardrails: Guardrails{
			MaxDailyLoss: 5,
			MaxPosition:  50,
			CooldownMs:   0,
		},
	}
}
