package model

// ModuleParams holds the parameters of a strategy module. Only the fields
// relevant to the module type are set.
type ModuleParams struct {
	Period int    `json:"period,omitempty"` // indicator modules (RSI, SMA, EMA)
	Buy    string `json:"buy,omitempty"`    // ExecutionLogic
	Sell   string `json:"sell,omitempty"`   // ExecutionLogic
}

// StrategyModule is one building block of a strategy. Known types:
// "RSI", "SentimentFilter", "ExecutionLogic".
type StrategyModule struct {
	Type   string       `json:"type"`
	Params ModuleParams `json:"params"`
}

// Strategy is an ordered list of modules. Exactly one module of type
// ExecutionLogic carries the buy/sell expressions over indicator names.
// Strategies are read-mostly and replaced wholesale on save.
type Strategy struct {
	Name    string           `json:"name,omitempty"`
	Modules []StrategyModule `json:"modules"`
}

// ExecutionLogicType is the module type carrying buy/sell expressions.
const ExecutionLogicType = "ExecutionLogic"

// ExecutionLogic returns the buy and sell expressions from the strategy's
// ExecutionLogic module. ok is false when no such module exists.
func (s *Strategy) ExecutionLogic() (buy, sell string, ok bool) {
	for _, m := range s.Modules {
		if m.Type == ExecutionLogicType {
			return m.Params.Buy, m.Params.Sell, true
		}
	}
	return "", "", false
}

// RSIPeriod returns the period of the strategy's RSI module, or def when
// the strategy has no RSI module or an unset period.
func (s *Strategy) RSIPeriod(def int) int {
	for _, m := range s.Modules {
		if m.Type == "RSI" && m.Params.Period > 0 {
			return m.Params.Period
		}
	}
	return def
}

// DefaultStrategy returns the strategy seeded on first boot: buy oversold
// with positive sentiment, sell overbought.
func DefaultStrategy() Strategy {
	return Strategy{
		Name: "rsi-sentiment",
		Modules: []StrategyModule{
			{Type: "RSI", Params: ModuleParams{Period: 14}},
			{Type: "SentimentFilter"},
			{Type: ExecutionLogicType, Params: ModuleParams{
				Buy:  "RSI < 30 && Sentiment > 0",
				Sell: "RSI > 70",
			}},
		},
	}
}
