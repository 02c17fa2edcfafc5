package protocol

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/mcphub/internal/errors"
	"github.com/wagiedev/mcphub/internal/jsonrpc"
)

func response(id jsonrpc.ID, result string) jsonrpc.Envelope {
	return jsonrpc.Envelope{Kind: jsonrpc.KindResponse, ID: id, Result: json.RawMessage(result)}
}

func TestPending_ResolvesOnlyMatchingID(t *testing.T) {
	pending := NewPending()

	idA := jsonrpc.NewID()
	idB := jsonrpc.NewID()

	chA, err := pending.Register(idA)
	require.NoError(t, err)

	chB, err := pending.Register(idB)
	require.NoError(t, err)

	require.True(t, pending.Resolve(response(idB, `{"b":true}`)))

	select {
	case out := <-chB:
		require.NoError(t, out.Err)
		require.JSONEq(t, `{"b":true}`, string(out.Result))
	default:
		t.Fatal("entry B was not resolved")
	}

	select {
	case <-chA:
		t.Fatal("entry A must not be resolved by B's response")
	default:
	}

	require.Equal(t, 1, pending.Len())
}

func TestPending_AtMostOneResolution(t *testing.T) {
	pending := NewPending()
	id := jsonrpc.NewID()

	_, err := pending.Register(id)
	require.NoError(t, err)

	require.True(t, pending.Resolve(response(id, `1`)))
	require.False(t, pending.Resolve(response(id, `2`)))
	require.False(t, pending.Cancel(id))
	require.Equal(t, 0, pending.Len())
}

func TestPending_DuplicateRegister(t *testing.T) {
	pending := NewPending()
	id := jsonrpc.NewID()

	_, err := pending.Register(id)
	require.NoError(t, err)

	_, err = pending.Register(id)
	require.ErrorIs(t, err, errors.ErrDuplicateResolution)
}

func TestPending_RegisterMissingID(t *testing.T) {
	_, err := NewPending().Register(jsonrpc.ID{})
	require.Error(t, err)
}

func TestPending_ErrorResponse(t *testing.T) {
	pending := NewPending()
	id := jsonrpc.NewID()

	ch, err := pending.Register(id)
	require.NoError(t, err)

	require.True(t, pending.Resolve(jsonrpc.Envelope{
		Kind:  jsonrpc.KindErrorResponse,
		ID:    id,
		Error: &jsonrpc.WireError{Code: jsonrpc.CodeMethodNotFound, Message: "nope"},
	}))

	out := <-ch
	rpcErr, ok := stderrors.AsType[*errors.RPCError](out.Err)
	require.True(t, ok)
	require.Equal(t, int64(jsonrpc.CodeMethodNotFound), rpcErr.Code)
	require.Equal(t, "nope", rpcErr.Message)
}

func TestPending_IgnoresNonResponses(t *testing.T) {
	pending := NewPending()
	id := jsonrpc.NewID()

	_, err := pending.Register(id)
	require.NoError(t, err)

	require.False(t, pending.Resolve(jsonrpc.Envelope{Kind: jsonrpc.KindRequest, ID: id, Method: "ping"}))
	require.False(t, pending.Resolve(jsonrpc.Envelope{Kind: jsonrpc.KindMalformed}))
	require.Equal(t, 1, pending.Len())
}

func TestPending_NumericAndStringIDsDoNotCollide(t *testing.T) {
	pending := NewPending()

	num, err := jsonrpc.MakeID(float64(7))
	require.NoError(t, err)

	str, err := jsonrpc.MakeID("7")
	require.NoError(t, err)

	chNum, err := pending.Register(num)
	require.NoError(t, err)

	_, err = pending.Register(str)
	require.NoError(t, err)

	require.True(t, pending.Resolve(response(num, `"num"`)))

	out := <-chNum
	require.JSONEq(t, `"num"`, string(out.Result))
	require.Equal(t, 1, pending.Len())
}

func TestPending_FailAll(t *testing.T) {
	pending := NewPending()

	channels := make([]<-chan Outcome, 0, 5)

	for range 5 {
		ch, err := pending.Register(jsonrpc.NewID())
		require.NoError(t, err)

		channels = append(channels, ch)
	}

	require.Equal(t, 5, pending.FailAll(errors.ErrTransportDisconnected))
	require.Equal(t, 0, pending.Len())

	for _, ch := range channels {
		out := <-ch
		require.ErrorIs(t, out.Err, errors.ErrTransportDisconnected)
	}

	_, err := pending.Register(jsonrpc.NewID())
	require.ErrorIs(t, err, errors.ErrTransportDisconnected)
}

func TestPending_ConcurrentResolveAndCancel(t *testing.T) {
	for range 100 {
		pending := NewPending()
		id := jsonrpc.NewID()

		ch, err := pending.Register(id)
		require.NoError(t, err)

		var (
			wg       sync.WaitGroup
			resolved bool
			canceled bool
		)

		wg.Go(func() { resolved = pending.Resolve(response(id, `{}`)) })
		wg.Go(func() { canceled = pending.Cancel(id) })
		wg.Wait()

		require.NotEqual(t, resolved, canceled, "exactly one of resolve/cancel must win")

		if resolved {
			<-ch
		}
	}
}

// fakeTransport answers requests written to it by resolving pending entries
// from another goroutine, the way a stdout pump would.
type fakeTransport struct {
	pending *Pending
	respond func(req jsonrpc.Envelope) (jsonrpc.Envelope, bool)

	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeTransport) write(_ context.Context, frame []byte) error {
	f.mu.Lock()
	f.frames = append(f.frames, frame)
	f.mu.Unlock()

	env := jsonrpc.ParseEnvelope(frame)
	if resp, ok := f.respond(env); ok {
		go f.pending.Resolve(resp)
	}

	return nil
}

func TestCall_RoundTrip(t *testing.T) {
	pending := NewPending()
	transport := &fakeTransport{
		pending: pending,
		respond: func(req jsonrpc.Envelope) (jsonrpc.Envelope, bool) {
			return response(req.ID, `{"tools":[]}`), true
		},
	}

	req, err := jsonrpc.BuildRequest("tools/list", nil)
	require.NoError(t, err)

	result, err := Call(context.Background(), pending, transport.write, req, time.Second)
	require.NoError(t, err)
	require.JSONEq(t, `{"tools":[]}`, string(result))

	require.Len(t, transport.frames, 1)
	require.Equal(t, byte('\n'), transport.frames[0][len(transport.frames[0])-1])
	require.Equal(t, 0, pending.Len())
}

func TestCall_TimeoutRemovesOnlyItsEntry(t *testing.T) {
	pending := NewPending()
	transport := &fakeTransport{
		pending: pending,
		respond: func(jsonrpc.Envelope) (jsonrpc.Envelope, bool) { return jsonrpc.Envelope{}, false },
	}

	other := jsonrpc.NewID()
	_, err := pending.Register(other)
	require.NoError(t, err)

	req, err := jsonrpc.BuildRequest("slow", nil)
	require.NoError(t, err)

	_, err = Call(context.Background(), pending, transport.write, req, 20*time.Millisecond)
	require.ErrorIs(t, err, errors.ErrRequestTimeout)
	require.Contains(t, err.Error(), "slow")

	require.Equal(t, 1, pending.Len())
	require.True(t, pending.Cancel(other))
}

func TestCall_TimeoutCoversBlockedWrite(t *testing.T) {
	pending := NewPending()

	req, err := jsonrpc.BuildRequest("tools/call", nil)
	require.NoError(t, err)

	write := func(ctx context.Context, _ []byte) error {
		<-ctx.Done()

		return ctx.Err()
	}

	start := time.Now()

	_, err = Call(context.Background(), pending, write, req, 50*time.Millisecond)
	require.ErrorIs(t, err, errors.ErrRequestTimeout)
	require.Less(t, time.Since(start), 5*time.Second)
	require.Equal(t, 0, pending.Len())
}

func TestCall_ContextCancellation(t *testing.T) {
	pending := NewPending()
	transport := &fakeTransport{
		pending: pending,
		respond: func(jsonrpc.Envelope) (jsonrpc.Envelope, bool) { return jsonrpc.Envelope{}, false },
	}

	req, err := jsonrpc.BuildRequest("slow", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = Call(ctx, pending, transport.write, req, time.Minute)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 0, pending.Len())
}

func TestCall_WriteFailureCancelsEntry(t *testing.T) {
	pending := NewPending()

	req, err := jsonrpc.BuildRequest("tools/list", nil)
	require.NoError(t, err)

	write := func(context.Context, []byte) error { return errors.ErrTransportDisconnected }

	_, err = Call(context.Background(), pending, write, req, time.Second)
	require.ErrorIs(t, err, errors.ErrTransportDisconnected)
	require.Equal(t, 0, pending.Len())
}

func TestCall_FailedTransport(t *testing.T) {
	pending := NewPending()
	pending.FailAll(errors.ErrTransportDisconnected)

	req, err := jsonrpc.BuildRequest("tools/list", nil)
	require.NoError(t, err)

	write := func(context.Context, []byte) error {
		t.Fatal("write must not be attempted on a failed transport")

		return nil
	}

	_, err = Call(context.Background(), pending, write, req, time.Second)
	require.ErrorIs(t, err, errors.ErrTransportDisconnected)
}

func TestCall_ConcurrentCallsCorrelate(t *testing.T) {
	pending := NewPending()
	transport := &fakeTransport{
		pending: pending,
		respond: func(req jsonrpc.Envelope) (jsonrpc.Envelope, bool) {
			return response(req.ID, string(req.Params)), true
		},
	}

	var wg sync.WaitGroup

	for i := range 50 {
		wg.Go(func() {
			req, err := jsonrpc.BuildRequest("echo", map[string]int{"n": i})
			require.NoError(t, err)

			result, err := Call(context.Background(), pending, transport.write, req, 5*time.Second)
			require.NoError(t, err)
			require.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i), string(result))
		})
	}

	wg.Wait()
	require.Equal(t, 0, pending.Len())
}

func TestNotify_WritesFrameWithoutID(t *testing.T) {
	var frame []byte

	write := func(_ context.Context, data []byte) error {
		frame = data

		return nil
	}

	note, err := jsonrpc.BuildNotification("notifications/initialized", nil)
	require.NoError(t, err)
	require.NoError(t, Notify(context.Background(), write, note))

	env := jsonrpc.ParseEnvelope(frame)
	require.Equal(t, jsonrpc.KindNotification, env.Kind)
	require.Equal(t, "notifications/initialized", env.Method)
}
