package document

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

// Document is the replicated-document collaborator owned by a room. The
// relay never inspects update contents; it only asks for snapshots, diffs
// against a peer's state vector, and applies opaque binary updates.
type Document interface {
	// EncodeState returns the full document state, suitable for a peer
	// that has nothing yet.
	EncodeState() []byte

	// Diff returns the updates the peer identified by stateVector is
	// missing. An unparseable state vector is an error.
	Diff(stateVector []byte) ([]byte, error)

	// ApplyUpdate merges a binary update into the document.
	ApplyUpdate(update []byte) error

	// Close releases the document's memory. The document must not be
	// used afterwards.
	Close()
}

// Factory constructs a fresh empty document for a new room.
type Factory func() Document

var ErrBadStateVector = errors.New("document: malformed state vector")

// UpdateLog is a log-backed Document. Its state vector is a uvarint
// watermark (how many updates the peer has seen) and its encoded state is
// the length-prefixed concatenation of every update past that watermark.
// It performs no merging; convergence comes from every peer applying the
// same updates, which is all the relay's own tests and the default
// standalone deployment need. A real CRDT port drops in via Factory.
type UpdateLog struct {
	mu      sync.Mutex
	updates [][]byte
	closed  bool
}

func NewUpdateLog() Document {
	return &UpdateLog{}
}

func (d *UpdateLog) EncodeState() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.encodeFrom(0)
}

func (d *UpdateLog) Diff(stateVector []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(stateVector) == 0 {
		return d.encodeFrom(0), nil
	}
	seen, n := binary.Uvarint(stateVector)
	if n <= 0 {
		return nil, ErrBadStateVector
	}
	if seen > uint64(len(d.updates)) {
		// Peer claims more than we hold; send nothing rather than guess.
		seen = uint64(len(d.updates))
	}
	return d.encodeFrom(int(seen)), nil
}

func (d *UpdateLog) ApplyUpdate(update []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return fmt.Errorf("document: apply on closed document")
	}
	cp := make([]byte, len(update))
	copy(cp, update)
	d.updates = append(d.updates, cp)
	return nil
}

// StateVector returns the watermark a peer would present after applying
// everything currently in the log.
func (d *UpdateLog) StateVector() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(buf, uint64(len(d.updates)))
	return buf[:n]
}

// UpdateCount reports how many updates have been applied.
func (d *UpdateLog) UpdateCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.updates)
}

func (d *UpdateLog) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updates = nil
	d.closed = true
}

// encodeFrom serializes updates[from:] as uvarint-length-prefixed chunks.
// Caller holds d.mu.
func (d *UpdateLog) encodeFrom(from int) []byte {
	var out []byte
	lenBuf := make([]byte, binary.MaxVarintLen64)
	for _, u := range d.updates[from:] {
		n := binary.PutUvarint(lenBuf, uint64(len(u)))
		out = append(out, lenBuf[:n]...)
		out = append(out, u...)
	}
	if out == nil {
		out = []byte{}
	}
	return out
}

// DecodeChunks splits an encoded state or diff back into individual
// updates. Receiving peers apply each chunk in order.
func DecodeChunks(data []byte) ([][]byte, error) {
	var chunks [][]byte
	for len(data) > 0 {
		size, n := binary.Uvarint(data)
		if n <= 0 || uint64(len(data)-n) < size {
			return nil, fmt.Errorf("document: truncated update chunk")
		}
		data = data[n:]
		chunks = append(chunks, data[:size])
		data = data[size:]
	}
	return chunks, nil
}
