package transport

import (
	"strings"

	"marketfeed/internal/model/enum"
)

// Topic strings are a pure function of (kind, symbol, timeframe):
// "tick:VNM", "order_book:VIC", "candle:VIC:1m", "event:HOSE". Identical
// inputs always produce the identical topic, which keeps subscribe calls
// idempotent and lets inbound frames dispatch on the topic alone.

const topicSep = ":"

// BuildTopic composes the wire topic for a subscription pair. The timeframe
// segment is only present for candle topics.
func BuildTopic(kind enum.DataKind, symbol, timeframe string) string {
	if kind == enum.DataKindCandle && timeframe != "" {
		return kind.String() + topicSep + symbol + topicSep + timeframe
	}
	return kind.String() + topicSep + symbol
}

// ParseTopic decomposes a wire topic. Returns false for anything that does
// not match a known kind pattern.
func ParseTopic(topic string) (kind enum.DataKind, symbol, timeframe string, ok bool) {
	parts := strings.SplitN(topic, topicSep, 3)
	if len(parts) < 2 || parts[1] == "" {
		return 0, "", "", false
	}
	kind, ok = enum.ParseDataKind(parts[0])
	if !ok {
		return 0, "", "", false
	}
	symbol = parts[1]
	if len(parts) == 3 {
		if kind != enum.DataKindCandle || parts[2] == "" {
			return 0, "", "", false
		}
		timeframe = parts[2]
	}
	return kind, symbol, timeframe, true
}
