package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunState_ValidAndTerminal(t *testing.T) {
	for _, s := range []RunState{RunNotStarted, RunReady, RunRunning, RunFinished, RunError} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, RunState("PAUSED").Valid())
	assert.True(t, RunFinished.Terminal())
	assert.True(t, RunError.Terminal())
	assert.False(t, RunRunning.Terminal())
}

func TestParseParameters(t *testing.T) {
	params, err := ParseParameters([]string{"agents=4", " rate = 0.5 ", "verbose=true", "agents=6", "empty="})
	require.NoError(t, err)
	assert.Equal(t, Parameters{"agents": "6", "rate": "0.5", "verbose": "true", "empty": ""}, params)
	assert.Equal(t, []string{"agents=6", "empty=", "rate=0.5", "verbose=true"}, params.Pairs())

	_, err = ParseParameters([]string{"novalue"})
	assert.Error(t, err)
	_, err = ParseParameters([]string{"=x"})
	assert.Error(t, err)
}

func TestParameters_TypedLookups(t *testing.T) {
	p := Parameters{"n": "12", "f": "2.5", "b": "false", "bad": "x"}

	n, err := p.Int("n", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)

	def, err := p.Int("missing", 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), def)

	f, err := p.Float("f", 0)
	require.NoError(t, err)
	assert.Equal(t, 2.5, f)

	b, err := p.Bool("b", true)
	require.NoError(t, err)
	assert.False(t, b)

	assert.Equal(t, "x", p.String("bad", ""))
	assert.Equal(t, "d", p.String("missing", "d"))

	_, err = p.Int("bad", 0)
	assert.ErrorContains(t, err, "parameter bad")
	_, err = p.Float("bad", 0)
	assert.Error(t, err)
	_, err = p.Bool("bad", false)
	assert.Error(t, err)
}
