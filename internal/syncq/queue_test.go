package syncq

import (
	"context"
	"errors"
	"net"
	"testing"

	"nexus/internal/cli"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedDispatcher struct {
	errs  map[string]error
	calls []string
}

func (d *scriptedDispatcher) Action(_ context.Context, _ string, name string, _, _ any) error {
	d.calls = append(d.calls, name)
	return d.errs[name]
}

func TestPushLoadRoundTrip(t *testing.T) {
	t.Setenv("NXS_HOME", t.TempDir())

	empty, err := Load()
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, Push(Command{Action: "addTaxToKingdomTreasury", Payload: map[string]any{"taxAmount": 5}}))
	require.NoError(t, Push(Command{Action: "setKingdomDoctrine"}))

	got, err := Load()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "addTaxToKingdomTreasury", got[0].Action)
	assert.EqualValues(t, 5, got[0].Payload["taxAmount"])
	assert.False(t, got[0].QueuedAt.IsZero())
}

func TestUnreachable(t *testing.T) {
	dial := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	read := &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset")}

	assert.True(t, Unreachable(dial))
	assert.True(t, Unreachable(&net.DNSError{Err: "no such host", Name: "realm.invalid"}))
	assert.False(t, Unreachable(read))
	assert.False(t, Unreachable(&cli.APIError{Status: 400, Message: "nope"}))
}

func TestReplayStopsAtFirstUnreachable(t *testing.T) {
	d := &scriptedDispatcher{errs: map[string]error{
		"b": &cli.APIError{Status: 400, Message: "rejected"},
		"c": &net.OpError{Op: "dial", Err: errors.New("refused")},
	}}
	queue := []Command{{Action: "a"}, {Action: "b"}, {Action: "c"}, {Action: "d"}}

	results, remaining := Replay(context.Background(), d, "tok", queue)

	assert.Equal(t, []string{"a", "b", "c"}, d.calls)
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.Equal(t, []Command{{Action: "c"}, {Action: "d"}}, remaining)
}
