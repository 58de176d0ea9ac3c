package types

import "time"

// MarketTick is one top-of-book update from the market-data stream.
type MarketTick struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Last      float64   `json:"last"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// Price returns the last trade price, or the mid when no trade price is known.
func (t MarketTick) Price() float64 {
	if t.Last > 0 {
		return t.Last
	}
	if t.Bid > 0 && t.Ask > 0 {
		return (t.Bid + t.Ask) / 2
	}
	if t.Bid > 0 {
		return t.Bid
	}
	return t.Ask
}

// Signal is an opaque trading signal produced upstream.
type Signal struct {
	Symbol     string    `json:"symbol"`
	Value      float64   `json:"signal"`     // in [-1, 1], sign gives direction
	Confidence float64   `json:"confidence"` // in [0, 1]
	Timestamp  time.Time `json:"timestamp"`
}

// Side returns the order side implied by the signal direction.
func (s Signal) Side() Side {
	if s.Value < 0 {
		return SideSell
	}
	return SideBuy
}

// ConnectionState describes a venue stream transition.
type ConnectionState string

const (
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionReconnecting ConnectionState = "reconnecting"
)

// ConnectionEvent is emitted by a venue whenever a stream changes state.
type ConnectionEvent struct {
	Venue     string          `json:"venue"`
	Stream    string          `json:"stream"`
	State     ConnectionState `json:"state"`
	Reason    string          `json:"reason,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
