package model

// Bundle is an immutable priced package of credits for one channel.
type Bundle struct {
	ID       string  `json:"id"`
	Channel  Channel `json:"channel"`
	Credits  int64   `json:"credits"`
	PriceGHS float64 `json:"priceGhs"`
}
