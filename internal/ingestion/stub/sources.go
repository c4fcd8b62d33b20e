// Package stub provides in-memory feeds for ingestion tests.
package stub

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"options-flow/internal/polygon"
)

// StubPullFeed serves fixed pages per ticker, chained by index cursors.
// Implements ingestion.PullFeed interface.
type StubPullFeed struct {
	mu       sync.Mutex
	pages    map[string][]*polygon.TradesPage
	errs     map[string]error
	stalls   map[string]bool
	loop     map[string]bool
	requests []polygon.TradesRequest
}

// NewStubPullFeed creates an empty pull feed.
func NewStubPullFeed() *StubPullFeed {
	return &StubPullFeed{
		pages:  make(map[string][]*polygon.TradesPage),
		errs:   make(map[string]error),
		stalls: make(map[string]bool),
		loop:   make(map[string]bool),
	}
}

// AddPage appends an OK page of payloads for ticker.
func (s *StubPullFeed) AddPage(ticker string, payloads ...string) *StubPullFeed {
	results := make([]json.RawMessage, len(payloads))
	for i, p := range payloads {
		results[i] = json.RawMessage(p)
	}
	return s.AddRawPage(ticker, &polygon.TradesPage{Status: polygon.StatusOK, Results: results})
}

// AddRawPage appends a page as-is. NextCursor is filled in on fetch.
func (s *StubPullFeed) AddRawPage(ticker string, page *polygon.TradesPage) *StubPullFeed {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[ticker] = append(s.pages[ticker], page)
	return s
}

// FailWith makes every request for ticker return err.
func (s *StubPullFeed) FailWith(ticker string, err error) *StubPullFeed {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[ticker] = err
	return s
}

// Stall makes requests for ticker block until their context is done.
func (s *StubPullFeed) Stall(ticker string) *StubPullFeed {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stalls[ticker] = true
	return s
}

// Loop makes the last page of ticker always point back to itself.
func (s *StubPullFeed) Loop(ticker string) *StubPullFeed {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loop[ticker] = true
	return s
}

// Requests returns the requests received so far.
func (s *StubPullFeed) Requests() []polygon.TradesRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]polygon.TradesRequest(nil), s.requests...)
}

// ListTrades returns the page addressed by the request cursor.
func (s *StubPullFeed) ListTrades(ctx context.Context, req polygon.TradesRequest) (*polygon.TradesPage, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	stall := s.stalls[req.Ticker]
	err := s.errs[req.Ticker]
	pages := s.pages[req.Ticker]
	loop := s.loop[req.Ticker]
	s.mu.Unlock()

	if stall {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}

	idx := 0
	if req.Cursor != "" {
		n, err := strconv.Atoi(req.Cursor)
		if err != nil {
			return nil, err
		}
		idx = n
	}
	if idx >= len(pages) {
		return &polygon.TradesPage{Status: polygon.StatusOK}, nil
	}

	page := *pages[idx]
	switch {
	case idx+1 < len(pages):
		page.NextCursor = strconv.Itoa(idx + 1)
	case loop:
		page.NextCursor = strconv.Itoa(idx)
	}
	return &page, nil
}

// StubPushFeed delivers payloads pushed by the test.
// Implements ingestion.PushFeed interface.
type StubPushFeed struct {
	ch chan json.RawMessage
}

// NewStubPushFeed creates a push feed with the given buffer.
func NewStubPushFeed(buffer int) *StubPushFeed {
	return &StubPushFeed{ch: make(chan json.RawMessage, buffer)}
}

// Push sends a payload.
func (s *StubPushFeed) Push(payload string) {
	s.ch <- json.RawMessage(payload)
}

// Close closes the feed channel.
func (s *StubPushFeed) Close() {
	close(s.ch)
}

// Trades returns the feed channel.
func (s *StubPushFeed) Trades() <-chan json.RawMessage {
	return s.ch
}
