package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/pierrec/lz4/v4"

	"github.com/piramidhq/piramid/internal/hash"
)

// Entry locates one document record inside the data file. Slot is the dense
// internal id the ANN indexes are keyed by; Seq preserves first-insertion
// order across updates for deterministic tie-breaking.
type Entry struct {
	Offset uint64
	Length uint32
	Slot   uint32
	Seq    uint64
}

// OffsetMap is the in-memory id → (offset, length) authority. It also owns
// the id ↔ slot bijection. Not safe for concurrent use; the collection lock
// serializes access.
type OffsetMap struct {
	entries map[uuid.UUID]Entry
	bySlot  []uuid.UUID // slot → id; uuid.Nil marks a free slot
	free    []uint32
	order   []uuid.UUID // insertion order, may contain dead ids
	deadOrd int         // dead entries in order, triggers compaction
	nextSeq uint64
}

// NewOffsetMap creates an empty offset map.
func NewOffsetMap() *OffsetMap {
	return &OffsetMap{entries: make(map[uuid.UUID]Entry)}
}

// Len returns the number of live documents.
func (o *OffsetMap) Len() int { return len(o.entries) }

// Get returns the entry for id.
func (o *OffsetMap) Get(id uuid.UUID) (Entry, bool) {
	e, ok := o.entries[id]
	return e, ok
}

// Put inserts or atomically replaces the location of id. An existing id
// keeps its slot; a new id gets a fresh (or recycled) one. It returns the
// entry as stored and whether the id was new.
func (o *OffsetMap) Put(id uuid.UUID, offset uint64, length uint32) (Entry, bool) {
	if prev, ok := o.entries[id]; ok {
		e := Entry{Offset: offset, Length: length, Slot: prev.Slot, Seq: prev.Seq}
		o.entries[id] = e
		return e, false
	}

	var slot uint32
	if n := len(o.free); n > 0 {
		slot = o.free[n-1]
		o.free = o.free[:n-1]
		o.bySlot[slot] = id
	} else {
		slot = uint32(len(o.bySlot))
		o.bySlot = append(o.bySlot, id)
	}

	o.nextSeq++
	e := Entry{Offset: offset, Length: length, Slot: slot, Seq: o.nextSeq}
	o.entries[id] = e
	o.order = append(o.order, id)
	return e, true
}

// Delete removes id and recycles its slot.
func (o *OffsetMap) Delete(id uuid.UUID) (Entry, bool) {
	e, ok := o.entries[id]
	if !ok {
		return Entry{}, false
	}
	delete(o.entries, id)
	o.bySlot[e.Slot] = uuid.Nil
	o.free = append(o.free, e.Slot)
	o.deadOrd++
	if o.deadOrd > len(o.order)/2 && o.deadOrd > 64 {
		o.compactOrder()
	}
	return e, true
}

// IDForSlot resolves a slot back to its document id.
func (o *OffsetMap) IDForSlot(slot uint32) (uuid.UUID, bool) {
	if int(slot) >= len(o.bySlot) {
		return uuid.Nil, false
	}
	id := o.bySlot[slot]
	if id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// IDs returns the live ids in insertion order.
func (o *OffsetMap) IDs() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(o.entries))
	for _, id := range o.order {
		if _, ok := o.entries[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// HighWater returns the end offset of the highest record, or DataHeaderLen
// for an empty map.
func (o *OffsetMap) HighWater() uint64 {
	var hw uint64 = DataHeaderLen
	for _, e := range o.entries {
		if end := e.Offset + uint64(e.Length); end > hw {
			hw = end
		}
	}
	return hw
}

func (o *OffsetMap) compactOrder() {
	live := o.order[:0]
	seen := make(map[uuid.UUID]struct{}, len(o.entries))
	for _, id := range o.order {
		if _, ok := o.entries[id]; ok {
			if _, dup := seen[id]; !dup {
				live = append(live, id)
				seen[id] = struct{}{}
			}
		}
	}
	o.order = live
	o.deadOrd = 0
}

// Sidecar framing: [magic u32][version u8][payload len u32][crc32c u32]
// [lz4-compressed payload]. The payload is the uncompressed entry dump; the
// digest covers it so the WAL checkpoint can cross-check the sidecar.
const (
	offsetsMagic   = 0x504f4646 // "POFF"
	offsetsVersion = 1
)

// ErrBadSidecar is returned for unreadable offset map sidecars.
var ErrBadSidecar = errors.New("storage: bad offsets sidecar")

func (o *OffsetMap) payload() []byte {
	ids := o.IDs()
	buf := make([]byte, 0, 8+len(ids)*32)
	buf = binary.AppendUvarint(buf, uint64(len(ids)))
	for _, id := range ids {
		e := o.entries[id]
		buf = append(buf, id[:]...)
		buf = binary.LittleEndian.AppendUint64(buf, e.Offset)
		buf = binary.LittleEndian.AppendUint32(buf, e.Length)
		buf = binary.LittleEndian.AppendUint32(buf, e.Slot)
		buf = binary.LittleEndian.AppendUint64(buf, e.Seq)
	}
	return buf
}

// Digest returns the CRC32C of the serialized payload. Recorded in WAL
// checkpoint records.
func (o *OffsetMap) Digest() uint32 {
	return hash.CRC32C(o.payload())
}

// Save writes the framed, compressed sidecar to w.
func (o *OffsetMap) Save(w io.Writer) error {
	payload := o.payload()

	var compressed bytes.Buffer
	zw := lz4.NewWriter(&compressed)
	if _, err := zw.Write(payload); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}

	hdr := make([]byte, 13)
	binary.LittleEndian.PutUint32(hdr[0:], offsetsMagic)
	hdr[4] = offsetsVersion
	binary.LittleEndian.PutUint32(hdr[5:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(hdr[9:], hash.CRC32C(payload))

	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err := w.Write(compressed.Bytes())
	return err
}

// Load replaces the map contents from a sidecar written by Save.
func (o *OffsetMap) Load(r io.Reader) error {
	hdr := make([]byte, 13)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSidecar, err)
	}
	if binary.LittleEndian.Uint32(hdr[0:]) != offsetsMagic {
		return ErrBadSidecar
	}
	if hdr[4] != offsetsVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrBadSidecar, hdr[4])
	}
	payloadLen := binary.LittleEndian.Uint32(hdr[5:])
	wantCRC := binary.LittleEndian.Uint32(hdr[9:])

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(lz4.NewReader(r), payload); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSidecar, err)
	}
	if hash.CRC32C(payload) != wantCRC {
		return fmt.Errorf("%w: checksum mismatch", ErrBadSidecar)
	}

	count, n := binary.Uvarint(payload)
	if n <= 0 {
		return ErrBadSidecar
	}
	payload = payload[n:]

	o.entries = make(map[uuid.UUID]Entry, count)
	o.bySlot = nil
	o.free = nil
	o.order = make([]uuid.UUID, 0, count)
	o.deadOrd = 0

	var maxSlot int = -1
	type rec struct {
		id uuid.UUID
		e  Entry
	}
	recs := make([]rec, 0, count)

	var maxSeq uint64
	for range count {
		if len(payload) < 40 {
			return ErrBadSidecar
		}
		id := uuid.UUID(payload[:16])
		e := Entry{
			Offset: binary.LittleEndian.Uint64(payload[16:]),
			Length: binary.LittleEndian.Uint32(payload[24:]),
			Slot:   binary.LittleEndian.Uint32(payload[28:]),
			Seq:    binary.LittleEndian.Uint64(payload[32:]),
		}
		payload = payload[40:]
		recs = append(recs, rec{id: id, e: e})
		if int(e.Slot) > maxSlot {
			maxSlot = int(e.Slot)
		}
		if e.Seq > maxSeq {
			maxSeq = e.Seq
		}
	}
	o.nextSeq = maxSeq

	o.bySlot = make([]uuid.UUID, maxSlot+1)
	for _, r := range recs {
		o.entries[r.id] = r.e
		o.bySlot[r.e.Slot] = r.id
		o.order = append(o.order, r.id)
	}
	for slot, id := range o.bySlot {
		if id == uuid.Nil {
			o.free = append(o.free, uint32(slot))
		}
	}
	return nil
}
