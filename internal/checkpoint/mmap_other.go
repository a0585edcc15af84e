//go:build !unix

package checkpoint

import "os"

func mmapFile(_ *os.File, _ int64) ([]byte, error) {
	return nil, errMmapUnsupported
}

func munmapFile(_ []byte) error {
	return nil
}
