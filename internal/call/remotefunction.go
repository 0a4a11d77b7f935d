// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package call

import (
	"context"

	"github.com/fibre-rpc/fibre/internal/codec"
	"github.com/fibre-rpc/fibre/internal/remotenode"
)

// RemoteFunction is a callable handle for a function exposed by a peer's
// object tree: a name (for diagnostics), an endpoint handle, and the input
// and output codecs negotiated from the peer's interface description
// (spec §4.8). Argument/return dynamic typing from the original is
// replaced here with this static per-function codec table, resolved once
// when the interface is parsed rather than per call.
type RemoteFunction struct {
	Name    string
	Handle  codec.ObjectRef
	Inputs  []codec.Codec
	Outputs []codec.Codec
}

// Invoke opens a Call, writes the function handle followed by each input
// argument (each ended with a frame boundary), closes the request, then
// reads back one value per output codec. A single output is returned
// unwrapped; multiple outputs are returned as a slice in declaration
// order; zero outputs returns nil.
func (f *RemoteFunction) Invoke(ctx context.Context, node *remotenode.Node, args []any) (any, error) {
	if len(args) != len(f.Inputs) {
		return nil, errArgumentCount(len(f.Inputs), len(args))
	}

	c := Start(node, true)
	defer c.Close()

	if err := c.WriteArgument(codec.ObjectReference, f.Handle); err != nil {
		c.Abort(err)
		return nil, err
	}
	for i, in := range f.Inputs {
		if err := c.WriteArgument(in, args[i]); err != nil {
			c.Abort(err)
			return nil, err
		}
	}
	c.CloseRequest()

	outputs := make([]any, len(f.Outputs))
	for i, out := range f.Outputs {
		value, err := c.ReadOutput(ctx, out)
		if err != nil {
			c.Abort(err)
			return nil, err
		}
		outputs[i] = value
	}

	switch len(outputs) {
	case 0:
		return nil, nil
	case 1:
		return outputs[0], nil
	default:
		return outputs, nil
	}
}
