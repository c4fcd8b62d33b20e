// Package normalization turns raw, shape-ambiguous trade payloads from any
// feed into canonical domain.Trade records.
package normalization

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"options-flow/internal/contract"
	"options-flow/internal/domain"
)

// ContractMultiplier is the standard number of shares per option contract.
const ContractMultiplier = 100

var contractMultiplier = decimal.NewFromInt(ContractMultiplier)

var (
	// ErrMissingIdentifier is returned when no identifier alias is present.
	// This is the only field whose absence rejects a payload.
	ErrMissingIdentifier = errors.New("payload has no contract identifier")

	// ErrMalformedPayload is returned when the payload is not a JSON object.
	ErrMalformedPayload = errors.New("malformed payload")
)

// Normalizer maps raw payloads to canonical trades using an ordered alias table.
type Normalizer struct {
	aliases AliasTable
	now     func() time.Time
}

// Options contains configuration for creating a Normalizer.
type Options struct {
	Aliases *AliasTable      // default: DefaultAliases
	Now     func() time.Time // default: time.Now
}

// NewNormalizer creates a new payload normalizer.
func NewNormalizer(opts Options) *Normalizer {
	aliases := DefaultAliases
	if opts.Aliases != nil {
		aliases = *opts.Aliases
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Normalizer{aliases: aliases, now: now}
}

// Option adjusts a single Normalize call.
type Option func(*normalizeParams)

type normalizeParams struct {
	fallbackIdentifier string
	fallbackUnderlying string
}

// WithFallbackIdentifier supplies the identifier to use when the payload has none,
// e.g. the contract a pull-feed page was requested for.
func WithFallbackIdentifier(id string) Option {
	return func(p *normalizeParams) {
		p.fallbackIdentifier = strings.TrimSpace(id)
	}
}

// WithFallbackUnderlying supplies the underlying when neither the payload nor the
// decoded identifier provides one, e.g. the underlying ticker a pull-feed page was
// requested for. It also accepts payloads with no identifier; their ContractSymbol
// stays empty.
func WithFallbackUnderlying(underlying string) Option {
	return func(p *normalizeParams) {
		p.fallbackUnderlying = strings.ToUpper(strings.TrimSpace(underlying))
	}
}

// Normalize converts one raw payload into a Trade.
// Undecodable fields stay nil; only a missing identifier or a payload that is
// not a JSON object is an error.
func (n *Normalizer) Normalize(raw []byte, source domain.Source, opts ...Option) (*domain.Trade, error) {
	var params normalizeParams
	for _, opt := range opts {
		opt(&params)
	}

	payload, err := decodePayload(raw)
	if err != nil {
		return nil, err
	}

	identifier := params.fallbackIdentifier
	if v, ok := lookup(payload, n.aliases.Identifier); ok {
		if s, ok := asString(v); ok {
			identifier = s
		}
	}
	if identifier == "" && params.fallbackUnderlying == "" {
		return nil, ErrMissingIdentifier
	}

	nowMs := n.now().UnixMilli()
	t := &domain.Trade{
		ContractSymbol: identifier,
		Action:         domain.ActionTrade,
		Source:         source,
		RawPayload:     string(raw),
		IngestedAt:     nowMs,
		Timestamp:      nowMs,
	}

	decoded := contract.Decode(identifier)
	if c, ok := decoded.Decoded(); ok {
		strike := c.Strike
		expiry := c.Expiry
		t.Underlying = c.Underlying
		t.Side = c.Side
		t.Strike = &strike
		t.Expiry = &expiry
	} else {
		t.Underlying = decoded.Root
	}
	if t.Underlying == "" {
		t.Underlying = params.fallbackUnderlying
	}

	n.applyTimestamp(t, payload)
	n.applyOverrides(t, payload)
	n.applyQuantities(t, payload)

	if v, ok := lookup(payload, n.aliases.Action); ok {
		if s, ok := asString(v); ok {
			t.Action = s
		}
	}
	if v, ok := lookup(payload, n.aliases.Exchange); ok {
		if x, ok := asInt64(v); ok {
			ex := int(x)
			t.Exchange = &ex
		}
	}
	if v, ok := lookup(payload, n.aliases.Conditions); ok {
		t.Conditions = asIntSlice(v)
	}

	return t, nil
}

func (n *Normalizer) applyTimestamp(t *domain.Trade, payload map[string]any) {
	v, ok := lookup(payload, n.aliases.Timestamp)
	if !ok {
		return
	}
	if ms, ok := asTimestampMs(v); ok {
		t.Timestamp = ms
	}
}

// applyOverrides lets explicit payload fields replace decoded contract values.
func (n *Normalizer) applyOverrides(t *domain.Trade, payload map[string]any) {
	if v, ok := lookup(payload, n.aliases.Underlying); ok {
		if s, ok := asString(v); ok {
			t.Underlying = strings.ToUpper(s)
		}
	}
	if v, ok := lookup(payload, n.aliases.Side); ok {
		if s, ok := asString(v); ok {
			if side := domain.ParseSide(s); side.IsKnown() {
				t.Side = side
			}
		}
	}
	if v, ok := lookup(payload, n.aliases.Strike); ok {
		if d, ok := asDecimal(v); ok {
			t.Strike = &d
		}
	}
	if v, ok := lookup(payload, n.aliases.Expiry); ok {
		if d, ok := asDate(v); ok {
			t.Expiry = &d
		}
	}
}

// applyQuantities resolves size, price and premium.
// Premium prefers price x size x multiplier, then an explicit premium field.
func (n *Normalizer) applyQuantities(t *domain.Trade, payload map[string]any) {
	if v, ok := lookup(payload, n.aliases.Size); ok {
		if size, ok := asInt64(v); ok {
			t.Size = &size
		}
	}
	if v, ok := lookup(payload, n.aliases.Price); ok {
		if price, ok := asDecimal(v); ok {
			t.Price = &price
		}
	}

	if t.Price != nil && t.Size != nil {
		premium := t.Price.Mul(decimal.NewFromInt(*t.Size)).Mul(contractMultiplier)
		t.Premium = &premium
		return
	}
	if v, ok := lookup(payload, n.aliases.Premium); ok {
		if premium, ok := asDecimal(v); ok {
			t.Premium = &premium
		}
	}
}

func decodePayload(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedPayload)
	}
	return payload, nil
}
