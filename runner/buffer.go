package runner

import (
	"bytes"
	"sync"
)

// streamWriter feeds one stream into both its own buffer and the combined one
// under a single lock, so the combined buffer keeps arrival order.
type streamWriter struct {
	mu       *sync.Mutex
	own      *bytes.Buffer
	combined *bytes.Buffer
}

func (w *streamWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.own.Write(p)
	w.combined.Write(p)
	return len(p), nil
}

// capture owns the stdout, stderr and combined buffers of one process.
// Nothing is dropped: the downstream parser and fingerprint need every byte.
type capture struct {
	mu       sync.Mutex
	stdout   bytes.Buffer
	stderr   bytes.Buffer
	combined bytes.Buffer
}

func (c *capture) stdoutWriter() *streamWriter {
	return &streamWriter{mu: &c.mu, own: &c.stdout, combined: &c.combined}
}

func (c *capture) stderrWriter() *streamWriter {
	return &streamWriter{mu: &c.mu, own: &c.stderr, combined: &c.combined}
}

func (c *capture) snapshot() (stdout, stderr, combined []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.stdout.Bytes()), bytes.Clone(c.stderr.Bytes()), bytes.Clone(c.combined.Bytes())
}
