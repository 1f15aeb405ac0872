package ssh

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

// scriptedReader replays one step per TryRead, then keeps returning the
// final step.
type scriptedReader struct {
	steps []step
	calls int
}

type step struct {
	data string
	err  error
}

func (r *scriptedReader) TryRead(p []byte) (int, error) {
	i := r.calls
	if i >= len(r.steps) {
		i = len(r.steps) - 1
	}
	r.calls++
	s := r.steps[i]
	return copy(p, s.data), s.err
}

func newTestDrainer(clk *clocktesting.FakeClock) Drainer {
	return Drainer{
		Budget:    50 * time.Millisecond,
		Poll:      time.Millisecond,
		Trail:     5 * time.Millisecond,
		ChunkSize: 16,
		Clock:     clk,
	}
}

func TestDrainEmptyReturnsWithinBudget(t *testing.T) {
	start := time.Unix(1700000000, 0)
	clk := clocktesting.NewFakeClock(start)
	r := &scriptedReader{steps: []step{{}}}

	out, err := newTestDrainer(clk).Drain(r)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, 50*time.Millisecond, clk.Since(start), "polls until the budget is spent, no trailing read")
	assert.Equal(t, 50, r.calls)
}

func TestDrainStopsOnWouldBlock(t *testing.T) {
	start := time.Unix(1700000000, 0)
	clk := clocktesting.NewFakeClock(start)
	r := &scriptedReader{steps: []step{
		{data: "hello "},
		{data: "world"},
		{err: ErrWouldBlock},
		{data: "!"},
		{err: ErrWouldBlock},
	}}

	out, err := newTestDrainer(clk).Drain(r)
	require.NoError(t, err)
	assert.Equal(t, "hello world!", string(out), "trailing read picks up the remainder")
	assert.Equal(t, 5*time.Millisecond, clk.Since(start), "only the trailing delay elapsed")
	assert.Equal(t, 4, r.calls)
}

func TestDrainRetriesZeroByteReads(t *testing.T) {
	start := time.Unix(1700000000, 0)
	clk := clocktesting.NewFakeClock(start)
	r := &scriptedReader{steps: []step{
		{}, {}, {},
		{data: "prompt$ "},
		{err: ErrWouldBlock},
	}}

	out, err := newTestDrainer(clk).Drain(r)
	require.NoError(t, err)
	assert.Equal(t, "prompt$ ", string(out))
	assert.Equal(t, 3*time.Millisecond+5*time.Millisecond, clk.Since(start))
}

func TestDrainSplitsLargeOutputIntoChunks(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Unix(0, 0))
	r := &scriptedReader{steps: []step{
		{data: "0123456789abcdef"},
		{data: "0123456789abcdef"},
		{data: "tail"},
		{err: ErrWouldBlock},
	}}

	out, err := newTestDrainer(clk).Drain(r)
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef0123456789abcdeftail", string(out))
}

func TestDrainFatalError(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Unix(0, 0))
	r := &scriptedReader{steps: []step{
		{err: io.ErrClosedPipe},
	}}

	out, err := newTestDrainer(clk).Drain(r)
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.ErrClosedPipe))
	assert.Nil(t, out)
}

func TestDrainDeliversDataBeforeFatalError(t *testing.T) {
	start := time.Unix(0, 0)
	clk := clocktesting.NewFakeClock(start)
	r := &scriptedReader{steps: []step{
		{data: "exit\r\n"},
		{err: io.ErrClosedPipe},
	}}
	d := newTestDrainer(clk)

	out, err := d.Drain(r)
	require.NoError(t, err)
	assert.Equal(t, "exit\r\n", string(out))
	assert.Equal(t, time.Duration(0), clk.Since(start), "no trailing delay after a failure")

	out, err = d.Drain(r)
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.ErrClosedPipe))
	assert.Nil(t, out)
}

func TestDrainTrailingErrorIsDeferred(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Unix(0, 0))
	r := &scriptedReader{steps: []step{
		{data: "bye"},
		{err: ErrWouldBlock},
		{err: io.EOF},
	}}

	out, err := newTestDrainer(clk).Drain(r)
	require.NoError(t, err)
	assert.Equal(t, "bye", string(out))
}

func TestSplitIncompleteRune(t *testing.T) {
	euro := []byte("€") // e2 82 ac
	tests := []struct {
		name     string
		in       []byte
		complete string
		rest     []byte
	}{
		{"ascii", []byte("abc"), "abc", nil},
		{"full rune", append([]byte("a"), euro...), "a€", nil},
		{"one byte short", append([]byte("a"), euro[:2]...), "a", euro[:2]},
		{"lead byte only", append([]byte("ab"), euro[0]), "ab", euro[:1]},
		{"empty", nil, "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			complete, rest := splitIncompleteRune(tt.in)
			assert.Equal(t, tt.complete, string(complete))
			assert.Equal(t, tt.rest, rest)
		})
	}
}
