package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"options-flow/internal/domain"
)

// ReadPayloads reads recorded payloads from r. The input is either one JSON
// array of payloads or newline-delimited JSON objects; blank lines are skipped.
func ReadPayloads(r io.Reader) ([]json.RawMessage, error) {
	br := bufio.NewReader(r)

	first, err := peekNonSpace(br)
	if err == io.EOF {
		return []json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read payloads: %w", err)
	}

	if first == '[' {
		var payloads []json.RawMessage
		if err := json.NewDecoder(br).Decode(&payloads); err != nil {
			return nil, fmt.Errorf("decode payload array: %w", err)
		}
		return payloads, nil
	}

	var payloads []json.RawMessage
	scanner := bufio.NewScanner(br)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		payloads = append(payloads, json.RawMessage(append([]byte(nil), line...)))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan payload lines: %w", err)
	}
	return payloads, nil
}

// Replay ingests recorded payloads as fixture trades.
func (i *Ingestor) Replay(ctx context.Context, r io.Reader) (BatchResult, error) {
	payloads, err := ReadPayloads(r)
	if err != nil {
		return BatchResult{}, err
	}

	result, err := i.IngestBatch(ctx, payloads, domain.SourceFixture)
	i.logger.Info().
		Int("payloads", len(payloads)).
		Int("stored", result.Stored).
		Int("rejected", result.Rejected).
		Int("duplicates", result.Duplicates).
		Int("errors", result.Errors).
		Msg("fixture replay complete")
	return result, err
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}
