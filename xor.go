package xstream

// The XOR family interleaves raw token substrings. Streams are only checked
// against the grammar, never parsed into a Bucket, so values keep whatever
// decoration they carried.

// SourceSwitch records which input supplied one output position.
type SourceSwitch struct {
	Source   string
	Position int
}

// GateState is the audit trail produced by XorWithState.
type GateState struct {
	Switches []SourceSwitch
}

// Sources returns the source label of every output position in order.
func (s GateState) Sources() []string {
	out := make([]string, len(s.Switches))
	for i, sw := range s.Switches {
		out[i] = sw.Source
	}
	return out
}

// Xor alternates between a and b: a[0], b[0], a[1], b[1], ... A stream that
// runs out is simply skipped. Either input failing the grammar yields "".
func Xor(a, b string) string {
	out, _ := XorWithState(a, b)
	return out
}

// XorWithState is Xor plus a record of which input, "A" or "B", supplied
// each output position.
func XorWithState(a, b string) (string, GateState) {
	var state GateState
	left, okA := rawTokens(a)
	right, okB := rawTokens(b)
	if !okA || !okB {
		return "", state
	}

	out := make([]string, 0, len(left)+len(right))
	for k := 0; k < max(len(left), len(right)); k++ {
		if k < len(left) {
			state.Switches = append(state.Switches, SourceSwitch{Position: len(out), Source: "A"})
			out = append(out, left[k])
		}
		if k < len(right) {
			state.Switches = append(state.Switches, SourceSwitch{Position: len(out), Source: "B"})
			out = append(out, right[k])
		}
	}
	return join(out), state
}

// validStreams drops streams that fail the grammar and splits the rest.
func validStreams(streams []string) ([][]string, int) {
	var out [][]string
	total := 0
	for _, s := range streams {
		tokens, ok := rawTokens(s)
		if !ok {
			continue
		}
		out = append(out, tokens)
		total += len(tokens)
	}
	return out, total
}

// nextActive returns the first stream at or after from, wrapping, that still
// has tokens left. Callers guarantee one exists.
func nextActive(streams [][]string, pos []int, from int) int {
	for i := 0; i < len(streams); i++ {
		s := (from + i) % len(streams)
		if pos[s] < len(streams[s]) {
			return s
		}
	}
	return from
}

// MultiXor round-robins one token per stream per turn. When the scheduled
// stream is exhausted the next stream with tokens left, wrapping, takes its
// turn. Every token of every valid stream is emitted exactly once.
func MultiXor(streams ...string) string {
	valid, total := validStreams(streams)
	if len(valid) == 0 {
		return ""
	}

	pos := make([]int, len(valid))
	out := make([]string, 0, total)
	for turn := 0; len(out) < total; turn = (turn + 1) % len(valid) {
		s := nextActive(valid, pos, turn)
		out = append(out, valid[s][pos[s]])
		pos[s]++
	}
	return join(out)
}

// Timed takes up to switchEvery tokens from the current stream before moving
// to the next, wrapping. Each stream resumes where it left off and exhausted
// streams are skipped, so the output always holds every token. switchEvery
// of zero, or no valid stream, yields "".
func Timed(switchEvery int, streams ...string) string {
	valid, total := validStreams(streams)
	if len(valid) == 0 || switchEvery <= 0 {
		return ""
	}

	pos := make([]int, len(valid))
	out := make([]string, 0, total)
	current, taken := 0, 0
	for len(out) < total {
		if taken == switchEvery {
			current, taken = nextActive(valid, pos, (current+1)%len(valid)), 0
		} else if pos[current] == len(valid[current]) {
			current, taken = nextActive(valid, pos, current), 0
		}
		out = append(out, valid[current][pos[current]])
		pos[current]++
		taken++
	}
	return join(out)
}
