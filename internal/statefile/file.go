package statefile

import (
	"bufio"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const defaultFileMode os.FileMode = 0o644

// WriteResult describes a written state file.
type WriteResult struct {
	Path     string
	Bytes    int64
	Checksum [32]byte // SHA-256 of the file contents
}

// WriteOptions configures WriteFile.
type WriteOptions struct {
	Options
	FileMode os.FileMode // Permissions of the final file; 0 means 0644
}

// DefaultWriteOptions returns torch dtype names and mode 0644.
func DefaultWriteOptions() WriteOptions {
	return WriteOptions{Options: DefaultOptions(), FileMode: defaultFileMode}
}

// WriteFile encodes v into path atomically: the document is written to a
// temporary file in the same directory, synced and renamed over path. On
// failure the temporary file is removed and path is left untouched.
func WriteFile(path string, v Value, opts WriteOptions) (*WriteResult, error) {
	mode := opts.FileMode
	if mode == 0 {
		mode = defaultFileMode
	}

	dir := filepath.Dir(path)
	tempFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, &IOError{Op: "create", Path: path, Err: err}
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = tempFile.Close()
			_ = os.Remove(tempName)
		}
	}()

	hasher := sha256.New()
	counter := &countingWriter{w: io.MultiWriter(tempFile, hasher)}
	buffered := bufio.NewWriterSize(counter, 1<<20)

	if err := Encode(buffered, v, opts.Options); err != nil {
		if counter.err != nil {
			return nil, &IOError{Op: "write", Path: path, Err: counter.err}
		}
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	if err := buffered.Flush(); err != nil {
		return nil, &IOError{Op: "write", Path: path, Err: err}
	}
	if err := tempFile.Sync(); err != nil {
		return nil, &IOError{Op: "sync", Path: path, Err: err}
	}
	if err := tempFile.Chmod(mode); err != nil {
		return nil, &IOError{Op: "chmod", Path: path, Err: err}
	}
	if err := tempFile.Close(); err != nil {
		return nil, &IOError{Op: "close", Path: path, Err: err}
	}
	if err := os.Rename(tempName, path); err != nil {
		return nil, &IOError{Op: "rename", Path: path, Err: err}
	}
	cleanup = false
	// Best effort; the rename has already happened.
	_ = syncDir(dir)

	result := &WriteResult{Path: path, Bytes: counter.n}
	copy(result.Checksum[:], hasher.Sum(nil))
	return result, nil
}

// syncDir flushes the directory entry of a rename to disk.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	if err := d.Sync(); err != nil {
		_ = d.Close()
		return err
	}
	return d.Close()
}

// countingWriter counts bytes and remembers the first write error so that
// it can be told apart from encoding errors.
type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	if err != nil && c.err == nil {
		c.err = err
	}
	return n, err
}

// ComputeChecksum computes the SHA-256 checksum of data.
func ComputeChecksum(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// ComputeChecksumReader computes the SHA-256 checksum of everything in r.
func ComputeChecksumReader(r io.Reader) ([32]byte, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return [32]byte{}, err
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

// ReadFile decodes and validates the state file at path.
func ReadFile(path string, opts ReadOptions) (*Document, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for state loading
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &IOError{Op: "read", Path: path, Err: err}
	}

	v, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}

	doc, err := NewDocument(v, opts)
	if err != nil {
		return nil, err
	}
	doc.Size = int64(len(data))
	doc.Checksum = ComputeChecksum(data)
	return doc, nil
}
