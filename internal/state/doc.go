// Package state extracts per-layer recurrent state tensors from a checkpoint
// and arranges them in the layout the inference runtime loads.
//
// Each layer of a state file holds three tensors:
//
//	[0] zero vector of length n_embd            (float32)
//	[1] time_state with axes 1 and 2 swapped     (float32, [heads, dim1, dim0])
//	[2] zero vector of length n_embd            (float32)
//
// where n_embd = shape[0] * shape[1] of blocks.0.att.time_state.
//
// Example:
//
//	ckpt, err := checkpoint.Open("rwkv-state.pth")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ckpt.Close()
//
//	file, err := state.Extract(ckpt, state.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(len(file.Layers), file.EmbeddingWidth)
package state
