// Package testing provides test utilities for xstream pipelines: a mock
// processor, a chaos processor, stream assertions and stream generators.
//
// Example usage:
//
//	func TestMyPipeline(t *testing.T) {
//		mock := xtesting.NewMockProcessor(t, "mock-processor")
//		mock.WithReturn(`db:host="localhost"`, nil)
//
//		seq := xstream.NewSequence("test-pipeline", mock)
//		result, err := seq.Process(context.Background(), `host="x"`)
//
//		require.NoError(t, err)
//		xtesting.AssertTokens(t, result, `db:host="localhost"`)
//		xtesting.AssertProcessed(t, mock, 1)
//	}
package testing

import (
	"context"
	"errors"
	"fmt"
	mathrand "math/rand"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/xstream"
)

// MockProcessor is a configurable xstream.Chainable. It records calls and
// returns whatever it was configured with.
type MockProcessor struct { //nolint:govet // fieldalignment: Test helper struct optimized for functionality over memory efficiency
	t           *testing.T
	name        string
	callCount   int64
	lastInput   string
	returnVal   string
	returnErr   error
	passThrough bool
	delay       time.Duration
	panicMsg    string
	mu          sync.RWMutex
	callHistory []MockCall
	maxHistory  int
}

// MockCall represents a single call to the mock processor.
type MockCall struct {
	Timestamp time.Time
	Context   context.Context
	Input     string
}

// NewMockProcessor creates a mock that returns "" until configured.
func NewMockProcessor(t *testing.T, name string) *MockProcessor {
	return &MockProcessor{
		t:          t,
		name:       name,
		maxHistory: 100,
	}
}

// WithReturn configures the value and error returned by every call.
func (m *MockProcessor) WithReturn(val string, err error) *MockProcessor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.returnVal = val
	m.returnErr = err
	m.passThrough = false
	return m
}

// WithPassThrough makes the mock return its input unchanged.
func (m *MockProcessor) WithPassThrough() *MockProcessor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passThrough = true
	m.returnErr = nil
	return m
}

// WithDelay delays every call, honoring context cancellation.
func (m *MockProcessor) WithDelay(d time.Duration) *MockProcessor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithPanic makes every call panic with msg.
func (m *MockProcessor) WithPanic(msg string) *MockProcessor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panicMsg = msg
	return m
}

// WithHistorySize configures how many calls to keep in history.
// Set to 0 to disable history tracking.
func (m *MockProcessor) WithHistorySize(size int) *MockProcessor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxHistory = size
	if size == 0 {
		m.callHistory = nil
	} else if len(m.callHistory) > size {
		m.callHistory = m.callHistory[len(m.callHistory)-size:]
	}
	return m
}

// Name returns the name of the mock processor.
func (m *MockProcessor) Name() xstream.Name {
	return m.name
}

// Process implements xstream.Chainable.
func (m *MockProcessor) Process(ctx context.Context, input string) (string, error) {
	atomic.AddInt64(&m.callCount, 1)

	m.mu.Lock()
	m.lastInput = input
	if m.maxHistory > 0 {
		m.callHistory = append(m.callHistory, MockCall{Input: input, Timestamp: time.Now(), Context: ctx})
		if len(m.callHistory) > m.maxHistory {
			m.callHistory = m.callHistory[1:]
		}
	}
	delay := m.delay
	returnVal := m.returnVal
	returnErr := m.returnErr
	passThrough := m.passThrough
	panicMsg := m.panicMsg
	m.mu.Unlock()

	if panicMsg != "" {
		panic(panicMsg)
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return input, ctx.Err()
		}
	}

	if passThrough {
		return input, nil
	}
	return returnVal, returnErr
}

// CallCount returns the number of times Process has been called.
func (m *MockProcessor) CallCount() int {
	return int(atomic.LoadInt64(&m.callCount))
}

// LastInput returns the input from the most recent call.
func (m *MockProcessor) LastInput() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastInput
}

// CallHistory returns a copy of the recorded calls.
func (m *MockProcessor) CallHistory() []MockCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.maxHistory == 0 {
		return nil
	}
	return slices.Clone(m.callHistory)
}

// Reset clears all call tracking.
func (m *MockProcessor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	atomic.StoreInt64(&m.callCount, 0)
	m.lastInput = ""
	m.callHistory = nil
}

// Assertion Helpers

// AssertProcessed verifies that a mock processor was called exactly n times.
func AssertProcessed(t *testing.T, mock *MockProcessor, expectedCalls int) {
	t.Helper()
	if actual := mock.CallCount(); actual != expectedCalls {
		t.Errorf("expected mock processor %s to be called %d times, but was called %d times",
			mock.name, expectedCalls, actual)
	}
}

// AssertNotProcessed verifies that a mock processor was never called.
func AssertNotProcessed(t *testing.T, mock *MockProcessor) {
	t.Helper()
	AssertProcessed(t, mock, 0)
}

// AssertProcessedWith verifies the input of the most recent call.
func AssertProcessedWith(t *testing.T, mock *MockProcessor, expectedInput string) {
	t.Helper()
	if mock.CallCount() == 0 {
		t.Errorf("expected mock processor %s to be called with input %q, but it was never called",
			mock.name, expectedInput)
		return
	}
	if actual := mock.LastInput(); actual != expectedInput {
		t.Errorf("expected mock processor %s to be called with input %q, but was called with %q",
			mock.name, expectedInput, actual)
	}
}

// AssertTokens verifies that stream holds exactly the given raw tokens, in
// order, after splitting on ';' and trimming.
func AssertTokens(t *testing.T, stream string, want ...string) {
	t.Helper()
	var got []string
	for _, piece := range strings.Split(stream, ";") {
		if piece = strings.TrimSpace(piece); piece != "" {
			got = append(got, piece)
		}
	}
	if !slices.Equal(got, want) {
		t.Errorf("expected tokens %q, got %q", want, got)
	}
}

// AssertBlocked verifies that an operator produced the empty stream.
func AssertBlocked(t *testing.T, stream string) {
	t.Helper()
	if stream != "" {
		t.Errorf("expected blocked stream, got %q", stream)
	}
}

// AssertStreamable verifies that stream satisfies the token grammar.
func AssertStreamable(t *testing.T, stream string) {
	t.Helper()
	if _, err := xstream.Tokenize(stream); err != nil {
		t.Errorf("expected streamable input, got %v", err)
	}
}

// AssertValue verifies that stream parses and stores value under
// namespace and key.
func AssertValue(t *testing.T, stream, namespace, key, value string) {
	t.Helper()
	b, err := xstream.Parse(stream, xstream.Hybrid)
	if err != nil {
		t.Errorf("expected %s:%s=%q, stream did not parse: %v", namespace, key, value, err)
		return
	}
	got, ok := b.Get(namespace, key)
	if !ok {
		t.Errorf("expected %s:%s=%q, key not found", namespace, key, value)
		return
	}
	if got != value {
		t.Errorf("expected %s:%s=%q, got %q", namespace, key, value, got)
	}
}

// ChaosProcessor wraps another processor and injects failures and panics at
// configured rates. A fixed seed makes the injection sequence repeatable.
type ChaosProcessor struct { //nolint:govet // fieldalignment: Test helper struct optimized for functionality over memory efficiency
	name        string
	wrapped     xstream.Chainable
	failureRate float64
	panicRate   float64
	rng         *mathrand.Rand
	mu          sync.Mutex
	totalCalls  int64
	failedCalls int64
	panicCalls  int64
}

// ChaosConfig holds configuration for chaos testing.
type ChaosConfig struct {
	FailureRate float64 // Probability of returning an error (0.0 to 1.0)
	PanicRate   float64 // Probability of panicking (0.0 to 1.0)
	Seed        int64   // Random seed for reproducible chaos
}

// ErrChaos is the error injected by ChaosProcessor.
var ErrChaos = errors.New("chaos processor induced failure")

// NewChaosProcessor creates a chaos processor that wraps another processor.
func NewChaosProcessor(name string, wrapped xstream.Chainable, config ChaosConfig) *ChaosProcessor {
	return &ChaosProcessor{
		name:        name,
		wrapped:     wrapped,
		failureRate: config.FailureRate,
		panicRate:   config.PanicRate,
		rng:         mathrand.New(mathrand.NewSource(config.Seed)), //nolint:gosec // G404: deterministic chaos
	}
}

// Name returns the name of the chaos processor.
func (c *ChaosProcessor) Name() xstream.Name {
	return c.name
}

// Process implements xstream.Chainable with chaos injection.
func (c *ChaosProcessor) Process(ctx context.Context, input string) (string, error) {
	atomic.AddInt64(&c.totalCalls, 1)

	c.mu.Lock()
	doPanic := c.rng.Float64() < c.panicRate
	doFail := c.rng.Float64() < c.failureRate
	c.mu.Unlock()

	if doPanic {
		atomic.AddInt64(&c.panicCalls, 1)
		panic("chaos processor induced panic")
	}

	result, err := c.wrapped.Process(ctx, input)
	if doFail && err == nil {
		atomic.AddInt64(&c.failedCalls, 1)
		return input, ErrChaos
	}
	return result, err
}

// Stats returns statistics about chaos injection.
func (c *ChaosProcessor) Stats() ChaosStats {
	return ChaosStats{
		TotalCalls:  atomic.LoadInt64(&c.totalCalls),
		FailedCalls: atomic.LoadInt64(&c.failedCalls),
		PanicCalls:  atomic.LoadInt64(&c.panicCalls),
	}
}

// ChaosStats holds statistics about chaos injection.
type ChaosStats struct {
	TotalCalls  int64
	FailedCalls int64
	PanicCalls  int64
}

// String returns a human-readable representation of the stats.
func (s ChaosStats) String() string {
	return fmt.Sprintf("ChaosStats{Total: %d, Failed: %d, Panics: %d}", s.TotalCalls, s.FailedCalls, s.PanicCalls)
}

// Generators

// Prefixes, KeyNames and ValueWords are the vocabularies RandomStream draws
// from.
var (
	Prefixes = []string{
		"meta", "sec", "admin", "data", "tmpl", "config", "db", "auth", "user", "sys",
		"app", "api", "cache", "log", "debug", "prod", "dev", "test", "temp", "local",
	}
	KeyNames = []string{
		"key", "user", "colors", "slot", "host", "port", "name", "value", "id", "token",
		"pass", "secret", "url", "path", "file", "dir", "mode", "type", "format", "size",
		"count", "max", "min", "limit", "timeout", "retry", "version", "status", "state",
	}
	ValueWords = []string{
		"localhost", "admin", "enabled", "disabled", "active", "inactive", "primary", "secondary",
		"production", "development", "staging", "test", "default", "custom", "auto", "manual",
		"true", "false", "yes", "no", "on", "off", "high", "medium", "low", "normal",
	}
)

const (
	alnum = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	alpha = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	hex   = "0123456789abcdef"
)

// GenerateStreams builds one stream per namespace, each holding
// perNamespace tokens of the form ns:key<i>="value<n>" where n counts up
// across all streams.
func GenerateStreams(namespaces []string, perNamespace int) []string {
	streams := make([]string, len(namespaces))
	for idx, ns := range namespaces {
		tokens := make([]string, perNamespace)
		for i := range tokens {
			tokens[i] = fmt.Sprintf(`%s:key%d="value%d"`, ns, i, idx*perNamespace+i)
		}
		streams[idx] = strings.Join(tokens, "; ")
	}
	return streams
}

// RandomStream builds count random tokens. Each token is unprefixed with
// probability flatRatio and prefixed with a random namespace otherwise.
func RandomStream(rng *mathrand.Rand, count int, flatRatio float64) string {
	tokens := make([]string, count)
	for i := range tokens {
		key := pick(rng, KeyNames)
		value := randomValue(rng)
		if rng.Float64() < flatRatio {
			tokens[i] = fmt.Sprintf(`%s="%s"`, key, value)
		} else {
			tokens[i] = fmt.Sprintf(`%s:%s="%s"`, pick(rng, Prefixes), key, value)
		}
	}
	return strings.Join(tokens, "; ")
}

// ConfigStream builds a realistic configuration stream with global, db and
// auth sections switched with ns= tokens.
func ConfigStream(rng *mathrand.Rand) string {
	tokens := []string{
		`host="localhost"`,
		fmt.Sprintf(`port="%d"`, 8000+rng.Intn(1001)),
		fmt.Sprintf(`debug="%s"`, pick(rng, ValueWords)),
		"ns=db",
		`host="db.example.com"`,
		fmt.Sprintf(`user="%s"`, randomString(rng, alpha, 8)),
		fmt.Sprintf(`pass="%s"`, randomString(rng, hex, 32)),
		"ns=auth",
		fmt.Sprintf(`secret="%s"`, randomString(rng, hex, 64)),
		fmt.Sprintf(`timeout="%d"`, 300+rng.Intn(3301)),
	}
	return strings.Join(tokens, "; ")
}

func pick(rng *mathrand.Rand, words []string) string {
	return words[rng.Intn(len(words))]
}

func randomString(rng *mathrand.Rand, charset string, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = charset[rng.Intn(len(charset))]
	}
	return string(b)
}

func randomValue(rng *mathrand.Rand) string {
	switch rng.Intn(4) {
	case 0:
		return randomString(rng, alnum, 6+rng.Intn(10))
	case 1:
		return randomString(rng, hex, 8+rng.Intn(16))
	case 2:
		return pick(rng, ValueWords)
	default:
		return strconv.Itoa(1 + rng.Intn(9999))
	}
}

// Helper Functions

// WaitForCalls waits for a mock processor to be called at least n times,
// with a timeout. Returns true if the expected calls were reached.
func WaitForCalls(mock *MockProcessor, expectedCalls int, timeout time.Duration) bool {
	start := time.Now()
	for time.Since(start) < timeout {
		if mock.CallCount() >= expectedCalls {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// ParallelTest runs testFunc on the given number of goroutines and waits
// for all of them.
func ParallelTest(t *testing.T, goroutines int, testFunc func(int)) {
	t.Helper()

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			testFunc(id)
		}(i)
	}
	wg.Wait()
}
