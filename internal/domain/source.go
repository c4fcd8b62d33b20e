package domain

// Source represents the provenance of an ingested trade.
type Source string

const (
	SourceStream   Source = "stream"
	SourceBackfill Source = "backfill"
	SourceFixture  Source = "fixture"
)

// String returns the string representation of Source.
func (s Source) String() string {
	return string(s)
}

// IsValid checks if the source is a valid value.
func (s Source) IsValid() bool {
	return s == SourceStream || s == SourceBackfill || s == SourceFixture
}
