package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceQuote is an oracle observation. Confidence is 0-1.
type PriceQuote struct {
	Asset      string          `json:"asset"`
	Price      decimal.Decimal `json:"price"`
	Confidence float64         `json:"confidence"`
	ObservedAt time.Time       `json:"observed_at"`
}

// EffectivePrice is a cached quote after the time-decay haircut.
type EffectivePrice struct {
	Quote    PriceQuote      `json:"quote"`
	Price    decimal.Decimal `json:"price"`
	Age      time.Duration   `json:"age"`
	Discount decimal.Decimal `json:"discount"`
}

// PriceTick is a streamed price update.
type PriceTick struct {
	Asset      string
	Price      float64
	Confidence float64
	Timestamp  int64 // unix ms
}

// SystemHealth is the protocol status sampled before each operation.
type SystemHealth struct {
	OracleLive  bool          `json:"oracle_live"`
	SequencerUp bool          `json:"sequencer_up"`
	BridgeDelay time.Duration `json:"bridge_delay"`
	SampledAt   time.Time     `json:"sampled_at"`
}
