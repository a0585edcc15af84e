// Package checkpoint loads trained checkpoints as a mapping from parameter
// names to CPU-resident tensors.
//
// Supported formats:
//   - SafeTensors (.safetensors)
//   - PyTorch pickles written by torch.save (.pt, .pth, .ckpt, .bin), both the
//     zip container and the legacy tar-less pickle layout
//
// Tensors are exposed as tensor.RawTensor views. A PyTorch tensor keeps its
// storage strides, so a checkpoint that saved a transposed or sliced tensor is
// read back in its logical order.
//
// Example:
//
//	ckpt, err := checkpoint.Open("state.pth")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ckpt.Close()
//
//	raw, err := ckpt.Tensor("blocks.0.att.time_state")
package checkpoint
