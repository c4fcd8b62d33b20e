package normalization

// AliasTable lists, per logical attribute, the payload field names that may
// carry it. Order is priority: the first field present in a payload wins.
type AliasTable struct {
	Timestamp  []string
	Identifier []string
	Underlying []string
	Side       []string
	Strike     []string
	Expiry     []string
	Size       []string
	Price      []string
	Premium    []string
	Action     []string
	Exchange   []string
	Conditions []string
}

// DefaultAliases covers the push feed (short names), the pull feed (long
// names) and the fixture format.
var DefaultAliases = AliasTable{
	Timestamp:  []string{"sip_timestamp", "participant_timestamp", "t", "timestamp"},
	Identifier: []string{"option_symbol", "ticker", "sym", "symbol"},
	Underlying: []string{"underlying"},
	Side:       []string{"side", "type"},
	Strike:     []string{"strike", "strike_price"},
	Expiry:     []string{"expiry", "expiration_date"},
	Size:       []string{"size", "s"},
	Price:      []string{"price", "p"},
	Premium:    []string{"premium"},
	Action:     []string{"action"},
	Exchange:   []string{"exchange", "x"},
	Conditions: []string{"conditions", "c"},
}

// lookup returns the value of the first alias present with a non-null value.
func lookup(payload map[string]any, aliases []string) (any, bool) {
	for _, name := range aliases {
		v, ok := payload[name]
		if ok && v != nil {
			return v, true
		}
	}
	return nil, false
}
