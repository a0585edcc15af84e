// Package statefile encodes and decodes recurrent state files.
//
// A state file is a msgpack document:
//
//	array(n_layer) of
//	  array(3) of
//	    map{
//	      "dtype": str   // "torch.float32" (or "float32" with DTypeStylePlain)
//	      "data":  bin   // little-endian elements, logical row-major order
//	      "shape": array of uint
//	    }
//
// The encoder is generic over a closed set of values (see Value): lists,
// tensors and msgpack scalars. Encoding is deterministic; map keys are always
// written in the order dtype, data, shape.
//
// Example usage:
//
//	file, _ := state.Extract(ckpt, state.DefaultOptions())
//	result, err := statefile.WriteFile("out.st", statefile.EncodeState(file), statefile.DefaultWriteOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	doc, err := statefile.ReadFile("out.st", statefile.DefaultReadOptions())
package statefile
