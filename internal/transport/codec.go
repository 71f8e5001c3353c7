package transport

import (
	"encoding/json"

	"github.com/yanun0323/errors"

	"marketfeed/internal/model"
	"marketfeed/internal/model/enum"
	"marketfeed/pkg/exception"
)

// envelope is the inbound frame layout: a topic tag plus the raw payload.
type envelope struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// controlRequest is the outbound subscribe/unsubscribe frame.
type controlRequest struct {
	Op     string   `json:"op"`
	Topics []string `json:"topics"`
}

const (
	opSubscribe   = "subscribe"
	opUnsubscribe = "unsubscribe"
)

// DecodeFrame parses one inbound frame into a typed message, selecting the
// payload decoder from the topic's kind segment.
func DecodeFrame(raw []byte) (model.Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return model.Message{}, errors.Wrap(exception.ErrDecode, err.Error())
	}

	kind, symbol, timeframe, ok := ParseTopic(env.Topic)
	if !ok {
		return model.Message{}, errors.Wrapf(exception.ErrUnknownTopic, "topic: %s", env.Topic)
	}

	switch kind {
	case enum.DataKindTick:
		var tick model.Tick
		if err := json.Unmarshal(env.Data, &tick); err != nil {
			return model.Message{}, errors.Wrapf(exception.ErrDecode, "tick %s: %s", symbol, err.Error())
		}
		if tick.Symbol == "" {
			tick.Symbol = symbol
		}
		return model.Message{Kind: kind, Tick: &tick}, nil

	case enum.DataKindOrderBook:
		var book model.OrderBook
		if err := json.Unmarshal(env.Data, &book); err != nil {
			return model.Message{}, errors.Wrapf(exception.ErrDecode, "order book %s: %s", symbol, err.Error())
		}
		if book.Symbol == "" {
			book.Symbol = symbol
		}
		return model.Message{Kind: kind, Book: &book}, nil

	case enum.DataKindCandle:
		var candle model.Candle
		if err := json.Unmarshal(env.Data, &candle); err != nil {
			return model.Message{}, errors.Wrapf(exception.ErrDecode, "candle %s: %s", symbol, err.Error())
		}
		if candle.Symbol == "" {
			candle.Symbol = symbol
		}
		if candle.Timeframe == "" {
			candle.Timeframe = timeframe
		}
		return model.Message{Kind: kind, Candle: &candle}, nil

	case enum.DataKindEvent:
		var venue model.VenueEvent
		if err := json.Unmarshal(env.Data, &venue); err != nil {
			return model.Message{}, errors.Wrapf(exception.ErrDecode, "venue event %s: %s", symbol, err.Error())
		}
		if venue.Venue == "" {
			venue.Venue = symbol
		}
		return model.Message{Kind: kind, Event: &venue}, nil

	default:
		return model.Message{}, errors.Wrapf(exception.ErrUnknownTopic, "topic: %s", env.Topic)
	}
}
