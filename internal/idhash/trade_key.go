package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/shopspring/decimal"
)

// ComputeTradeKey computes a deterministic content key for a trade observation.
// Formula: SHA256(identifier|timestamp_ms|size|price)
// Missing size or price hash as empty fields. Price is normalized so 2.5 and 2.50 agree.
// Returns hex-encoded hash (64 characters).
func ComputeTradeKey(
	identifier string,
	timestampMs int64,
	size *int64,
	price *decimal.Decimal,
) string {
	sizeField := ""
	if size != nil {
		sizeField = fmt.Sprintf("%d", *size)
	}
	priceField := ""
	if price != nil {
		priceField = price.String()
	}

	data := fmt.Sprintf("%s|%d|%s|%s",
		identifier,
		timestampMs,
		sizeField,
		priceField,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
