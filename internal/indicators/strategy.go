package indicators

import (
	"fmt"
	"sync"

	"github.com/quantpane/marketsync/internal/domain"
)

// Signal actions.
const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
	ActionHold = "HOLD"
)

// Signal is the outcome of one strategy evaluation.
type Signal struct {
	Action     string                 `json:"action"`
	Confidence float64                `json:"confidence"` // 0..1
	Reason     string                 `json:"reason"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Strategy evaluates an indicator series plus the underlying bars and
// produces a signal. Implementations must be safe for concurrent use.
type Strategy interface {
	Name() string
	Evaluate(rows []domain.IndicatorRow, bars []domain.Bar) (Signal, error)
}

// StrategyRegistry holds the pluggable strategies by name.
type StrategyRegistry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewStrategyRegistry creates a registry pre-loaded with the built-in
// strategies.
func NewStrategyRegistry() *StrategyRegistry {
	r := &StrategyRegistry{strategies: make(map[string]Strategy)}
	r.Register(SwingTrend{})
	return r
}

// Register adds or replaces a strategy.
func (r *StrategyRegistry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

// Execute runs the named strategy.
func (r *StrategyRegistry) Execute(name string, rows []domain.IndicatorRow, bars []domain.Bar) (Signal, error) {
	r.mu.RLock()
	s, ok := r.strategies[name]
	r.mu.RUnlock()
	if !ok {
		return Signal{}, fmt.Errorf("unknown strategy %q", name)
	}
	return s.Evaluate(rows, bars)
}

// Names lists the registered strategies.
func (r *StrategyRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		out = append(out, name)
	}
	return out
}

// SwingTrend is the built-in medium-term trend-following strategy: buy
// when the fast EMA leads the slow EMA, price holds above the 200-day
// SMA, and RSI is not overbought; sell on the inverse.
type SwingTrend struct{}

// Name implements Strategy.
func (SwingTrend) Name() string { return "swing_trend" }

// Evaluate implements Strategy.
func (SwingTrend) Evaluate(rows []domain.IndicatorRow, _ []domain.Bar) (Signal, error) {
	if len(rows) == 0 {
		return Signal{}, fmt.Errorf("swing_trend requires indicator rows")
	}
	last := rows[len(rows)-1]
	if last.EMA20 == nil || last.EMA50 == nil || last.SMA200 == nil || last.RSI14 == nil {
		return Signal{
			Action: ActionHold,
			Reason: "insufficient indicator history",
		}, nil
	}

	meta := map[string]interface{}{
		"date":    last.Date,
		"ema_20":  *last.EMA20,
		"ema_50":  *last.EMA50,
		"sma_200": *last.SMA200,
		"rsi_14":  *last.RSI14,
	}

	switch {
	case last.TrendUp && last.AboveSMA && *last.RSI14 < 70:
		confidence := 0.6
		if *last.RSI14 > 40 && *last.RSI14 < 60 {
			confidence = 0.8
		}
		return Signal{
			Action:     ActionBuy,
			Confidence: confidence,
			Reason:     "uptrend with price above long-term average",
			Metadata:   meta,
		}, nil
	case !last.TrendUp && !last.AboveSMA:
		return Signal{
			Action:     ActionSell,
			Confidence: 0.7,
			Reason:     "downtrend with price below long-term average",
			Metadata:   meta,
		}, nil
	}
	return Signal{
		Action:     ActionHold,
		Confidence: 0.5,
		Reason:     "mixed trend signals",
		Metadata:   meta,
	}, nil
}
