package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// MarketTick is a raw market data frame as pushed by the backend. Field names
// follow the backend wire schema.
type MarketTick struct {
	InstrumentID    string  `json:"instrumentId"`
	ExchangeID      string  `json:"exchangeId"`
	LastPrice       float64 `json:"lastPrice"`
	PreClosePrice   float64 `json:"preClosePrice"`
	OpenPrice       float64 `json:"openPrice"`
	HighestPrice    float64 `json:"highestPrice"`
	LowestPrice     float64 `json:"lowestPrice"`
	UpperLimitPrice float64 `json:"upperLimitPrice"`
	LowerLimitPrice float64 `json:"lowerLimitPrice"`
	Volume          int64   `json:"volume"`
	Turnover        float64 `json:"turnover"`
	OpenInterest    float64 `json:"openInterest"`
	UpdateTime      string  `json:"updateTime"`

	BidPrice1  float64 `json:"bidPrice1"`
	BidVolume1 int64   `json:"bidVolume1"`
	AskPrice1  float64 `json:"askPrice1"`
	AskVolume1 int64   `json:"askVolume1"`
	BidPrice2  float64 `json:"bidPrice2"`
	BidVolume2 int64   `json:"bidVolume2"`
	AskPrice2  float64 `json:"askPrice2"`
	AskVolume2 int64   `json:"askVolume2"`
	BidPrice3  float64 `json:"bidPrice3"`
	BidVolume3 int64   `json:"bidVolume3"`
	AskPrice3  float64 `json:"askPrice3"`
	AskVolume3 int64   `json:"askVolume3"`
}

// ParseMarketTick decodes and validates a market data frame body.
func ParseMarketTick(body []byte) (MarketTick, error) {
	var tick MarketTick
	if err := json.Unmarshal(body, &tick); err != nil {
		return MarketTick{}, fmt.Errorf("decode market tick: %w", err)
	}
	if tick.InstrumentID == "" {
		return MarketTick{}, fmt.Errorf("market tick missing instrumentId")
	}
	return tick, nil
}

// Level is one side of the book at one depth.
type Level struct {
	Price  float64 `json:"price"`
	Volume int64   `json:"volume"`
}

// Quote is the reconciled per-instrument record held in the snapshot. All
// derived fields are recomputed from the tick on every update; nothing is
// carried over from the previous record.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent string    `json:"changePercent"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	PreClose      float64   `json:"preClosePrice"`
	UpperLimit    float64   `json:"upperLimitPrice"`
	LowerLimit    float64   `json:"lowerLimitPrice"`
	Volume        int64     `json:"volume"`
	Amount        float64   `json:"amount"`
	OpenInterest  float64   `json:"openInterest"`
	Bids          [3]Level  `json:"bids"`
	Asks          [3]Level  `json:"asks"`
	UpdateTime    string    `json:"updateTime"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// QuoteFromTick builds the full replacement quote record for a tick.
func QuoteFromTick(tick MarketTick, now time.Time) Quote {
	change := tick.LastPrice - tick.PreClosePrice
	percent := "0.00"
	if tick.PreClosePrice > 0 {
		percent = strconv.FormatFloat(change/tick.PreClosePrice*100, 'f', 2, 64)
	}

	updateTime := tick.UpdateTime
	if updateTime == "" {
		updateTime = now.Format("15:04:05")
	}

	return Quote{
		Symbol:        tick.InstrumentID,
		Price:         tick.LastPrice,
		Change:        change,
		ChangePercent: percent,
		Open:          tick.OpenPrice,
		High:          tick.HighestPrice,
		Low:           tick.LowestPrice,
		PreClose:      tick.PreClosePrice,
		UpperLimit:    tick.UpperLimitPrice,
		LowerLimit:    tick.LowerLimitPrice,
		Volume:        tick.Volume,
		Amount:        tick.Turnover,
		OpenInterest:  tick.OpenInterest,
		Bids: [3]Level{
			{Price: tick.BidPrice1, Volume: tick.BidVolume1},
			{Price: tick.BidPrice2, Volume: tick.BidVolume2},
			{Price: tick.BidPrice3, Volume: tick.BidVolume3},
		},
		Asks: [3]Level{
			{Price: tick.AskPrice1, Volume: tick.AskVolume1},
			{Price: tick.AskPrice2, Volume: tick.AskVolume2},
			{Price: tick.AskPrice3, Volume: tick.AskVolume3},
		},
		UpdateTime: updateTime,
		UpdatedAt:  now,
	}
}
