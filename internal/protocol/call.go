package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wagiedev/mcphub/internal/errors"
	"github.com/wagiedev/mcphub/internal/jsonrpc"
)

// WriteFunc writes one complete frame to the transport.
type WriteFunc func(ctx context.Context, frame []byte) error

// Call registers req in pending, writes it as one newline-terminated frame
// and waits for the matching response. The timeout bounds the write and the
// wait together, so a peer that stops reading cannot stall the caller.
//
// On timeout or cancellation only this request's entry is removed. A
// JSON-RPC error response is returned as *errors.RPCError.
func Call(
	ctx context.Context,
	pending *Pending,
	write WriteFunc,
	req *jsonrpc.Request,
	timeout time.Duration,
) (json.RawMessage, error) {
	data, err := jsonrpc.Encode(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", req.Method, err)
	}

	outcome, err := pending.Register(req.ID)
	if err != nil {
		return nil, err
	}

	callCtx := ctx

	if timeout > 0 {
		var cancel context.CancelFunc

		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := write(callCtx, append(data, '\n')); err != nil {
		pending.Cancel(req.ID)

		if callCtx.Err() != nil {
			return nil, expired(ctx, req.Method, timeout)
		}

		return nil, fmt.Errorf("send %s request: %w", req.Method, err)
	}

	select {
	case out := <-outcome:
		return out.Result, out.Err

	case <-callCtx.Done():
		pending.Cancel(req.ID)

		return nil, expired(ctx, req.Method, timeout)
	}
}

// expired reports why a call ended early: the caller's own context, or the
// call timeout.
func expired(ctx context.Context, method string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return fmt.Errorf("%s: %w after %s", method, errors.ErrRequestTimeout, timeout)
}

// Notify writes a notification frame. No response is awaited.
func Notify(ctx context.Context, write WriteFunc, note *jsonrpc.Request) error {
	data, err := jsonrpc.Encode(note)
	if err != nil {
		return fmt.Errorf("encode %s notification: %w", note.Method, err)
	}

	if err := write(ctx, append(data, '\n')); err != nil {
		return fmt.Errorf("send %s notification: %w", note.Method, err)
	}

	return nil
}
