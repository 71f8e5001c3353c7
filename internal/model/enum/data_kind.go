package enum

// DataKind identifies the kind of market data a subscription carries.
type DataKind uint8

const (
	_data_kind_beg DataKind = iota
	DataKindTick
	DataKindOrderBook
	DataKindCandle
	DataKindEvent
	_data_kind_end
)

func (k DataKind) IsAvailable() bool {
	return k > _data_kind_beg && k < _data_kind_end
}

// String returns the wire token, which is also the topic prefix.
func (k DataKind) String() string {
	switch k {
	case DataKindTick:
		return "tick"
	case DataKindOrderBook:
		return "order_book"
	case DataKindCandle:
		return "candle"
	case DataKindEvent:
		return "event"
	default:
		return "unknown"
	}
}

// ParseDataKind resolves a wire token back to its kind.
func ParseDataKind(token string) (DataKind, bool) {
	switch token {
	case "tick":
		return DataKindTick, true
	case "order_book":
		return DataKindOrderBook, true
	case "candle":
		return DataKindCandle, true
	case "event":
		return DataKindEvent, true
	default:
		return 0, false
	}
}
