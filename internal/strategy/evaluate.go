package strategy

import (
	"fmt"

	"sentinelsniper/internal/model"
)

// Decision is the outcome of evaluating a strategy's execution logic
// against one indicator mapping.
type Decision struct {
	Buy    bool   `json:"buy"`
	Sell   bool   `json:"sell"`
	Action string `json:"action"` // buy, sell, or hold (buy wins over sell)

	// Diagnostics from failed expression evaluations. A failed expression
	// contributes a false signal, never an error to the caller's pipeline.
	Diagnostics []string `json:"diagnostics,omitempty"`
}

// Evaluate runs the strategy's buy and sell expressions against the
// indicator set. Malformed or failing expressions are fail-safe: they count
// as false and surface in Decision.Diagnostics.
func Evaluate(s *model.Strategy, indicators model.IndicatorSet) Decision {
	var d Decision

	buyExpr, sellExpr, ok := s.ExecutionLogic()
	if !ok {
		d.Action = model.ActionHold
		d.Diagnostics = append(d.Diagnostics, "strategy has no ExecutionLogic module")
		return d
	}

	d.Buy = evalSafe(buyExpr, indicators, &d.Diagnostics)
	d.Sell = evalSafe(sellExpr, indicators, &d.Diagnostics)

	// Buy and sell are mutually exclusive per step: buy is checked first.
	switch {
	case d.Buy:
		d.Action = model.ActionBuy
	case d.Sell:
		d.Action = model.ActionSell
	default:
		d.Action = model.ActionHold
	}
	return d
}

func evalSafe(src string, indicators model.IndicatorSet, diags *[]string) bool {
	if src == "" {
		return false
	}
	expr, err := Compile(src)
	if err != nil {
		*diags = append(*diags, err.Error())
		return false
	}
	result, err := expr.Eval(indicators)
	if err != nil {
		*diags = append(*diags, err.Error())
		return false
	}
	return result
}

// Preview is the one-shot evaluation exposed to the HTTP layer: the current
// indicator mapping, the raw buy/sell expressions, and the resulting action.
type Preview struct {
	Indicators model.IndicatorSet `json:"indicators"`
	Logic      Logic              `json:"logic"`
	Action     string             `json:"action"`
	Decision   Decision           `json:"-"`
}

// Logic echoes the raw expressions a preview was evaluated with.
type Logic struct {
	Buy  string `json:"buy"`
	Sell string `json:"sell"`
}

// EvaluatePreview evaluates a strategy against a market snapshot for
// display purposes, without touching any portfolio state.
func EvaluatePreview(s *model.Strategy, snapshot model.MarketSnapshot) Preview {
	buy, sell, _ := s.ExecutionLogic()
	d := Evaluate(s, snapshot.Indicators)
	return Preview{
		Indicators: snapshot.Indicators,
		Logic:      Logic{Buy: buy, Sell: sell},
		Action:     d.Action,
		Decision:   d,
	}
}

// Validate compiles every expression in the strategy's ExecutionLogic and
// returns the first compile error. Used on strategy save so a broken
// expression is rejected at the door instead of silently holding forever.
func Validate(s *model.Strategy) error {
	buy, sell, ok := s.ExecutionLogic()
	if !ok {
		return fmt.Errorf("strategy: missing ExecutionLogic module")
	}
	if _, err := Compile(buy); err != nil {
		return fmt.Errorf("strategy: buy: %w", err)
	}
	if _, err := Compile(sell); err != nil {
		return fmt.Errorf("strategy: sell: %w", err)
	}
	return nil
}
