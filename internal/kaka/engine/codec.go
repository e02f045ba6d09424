package engine

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc64"
	"io"

	"github.com/pkg/errors"

	"kaka.lopezb.com/internal/kaka/bloom"
	"kaka.lopezb.com/internal/kaka/kakaerr"
	"kaka.lopezb.com/internal/kaka/lshbloom"
)

// Snapshot file layout. Every byte before the checksum feeds a CRC-64 (ISO).
//
//	+----------+--------------------------------------+-----+-----------+
//	| KAKA0001 | sections ...                         | EOF | CRC64 (8) |
//	+----------+--------------------------------------+-----+-----------+
//
//	OpParams: simhash(1) width(4) seed(8)
//	OpExact:  len(8) bloom-encoding(len)
//	OpIndex:  bands(4) rows(4) then per band: len(8) bloom-encoding(len)
const (
	SnapshotMagic = "KAKA0001"

	OpParams byte = 0x01
	OpExact  byte = 0x02
	OpIndex  byte = 0x03
	OpEOF    byte = 0xFF

	// maxFilterBits bounds m read from an untrusted header.
	maxFilterBits = 1 << 40
)

var crcTable = crc64.MakeTable(crc64.ISO)

// WriteSnapshot encodes the engine's current state to w.
func (e *Engine) WriteSnapshot(w io.Writer) error {
	return EncodeSnapshot(w, e.Snapshot())
}

// EncodeSnapshot writes s to w in the snapshot file format.
func EncodeSnapshot(w io.Writer, s Snapshot) error {
	crc := crc64.New(crcTable)
	bw := bufio.NewWriterSize(io.MultiWriter(w, crc), 64*1024)
	var scratch [8]byte

	put := func(b []byte) error {
		_, err := bw.Write(b)
		return err
	}
	putU32 := func(v uint32) error {
		binary.LittleEndian.PutUint32(scratch[:4], v)
		return put(scratch[:4])
	}
	putU64 := func(v uint64) error {
		binary.LittleEndian.PutUint64(scratch[:], v)
		return put(scratch[:])
	}
	putFilter := func(fs bloom.Snapshot) error {
		data, err := fs.MarshalBinary()
		if err != nil {
			return err
		}
		if err := putU64(uint64(len(data))); err != nil {
			return err
		}
		return put(data)
	}

	if err := put([]byte(SnapshotMagic)); err != nil {
		return err
	}

	enabled := byte(0)
	if s.SimHashEnabled {
		enabled = 1
	}
	if err := put([]byte{OpParams, enabled}); err != nil {
		return err
	}
	if err := putU32(uint32(s.FingerprintWidth)); err != nil {
		return err
	}
	if err := putU64(s.SimHashSeed); err != nil {
		return err
	}

	if err := put([]byte{OpExact}); err != nil {
		return err
	}
	if err := putFilter(s.Exact); err != nil {
		return err
	}

	for _, idx := range s.Indexes {
		if err := put([]byte{OpIndex}); err != nil {
			return err
		}
		if err := putU32(uint32(idx.Bands)); err != nil {
			return err
		}
		if err := putU32(uint32(idx.Rows)); err != nil {
			return err
		}
		for _, fs := range idx.Filters {
			if err := putFilter(fs); err != nil {
				return err
			}
		}
	}

	if err := put([]byte{OpEOF}); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	// The checksum itself bypasses the hasher.
	binary.LittleEndian.PutUint64(scratch[:], crc.Sum64())
	_, err := w.Write(scratch[:])
	return err
}

// countReader tracks the byte offset for error messages.
type countReader struct {
	r     io.Reader
	count int64
}

func (cr *countReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.count += int64(n)
	return n, err
}

type decoder struct {
	cr  *countReader
	r   *bufio.Reader
	crc hash.Hash64
	buf [8]byte
}

func (d *decoder) offset() int64 {
	return d.cr.count - int64(d.r.Buffered())
}

func (d *decoder) fail(what string, err error) error {
	if err == nil {
		return kakaerr.Corrupt("engine: offset %d: %s", d.offset(), what)
	}
	if errors.Is(err, kakaerr.ErrCorrupt) {
		return err
	}
	return kakaerr.Corrupt("engine: offset %d: %s: %v", d.offset(), what, err)
}

func (d *decoder) read(p []byte) error {
	if _, err := io.ReadFull(d.r, p); err != nil {
		return err
	}
	d.crc.Write(p)
	return nil
}

func (d *decoder) byte1() (byte, error) {
	err := d.read(d.buf[:1])
	return d.buf[0], err
}

func (d *decoder) u32() (uint32, error) {
	err := d.read(d.buf[:4])
	return binary.LittleEndian.Uint32(d.buf[:4]), err
}

func (d *decoder) u64() (uint64, error) {
	err := d.read(d.buf[:])
	return binary.LittleEndian.Uint64(d.buf[:]), err
}

// filter reads one length-prefixed bloom encoding. The header is checked
// against the length prefix before the body is read, and the body is streamed
// into a growing buffer, so a forged length cannot force a large allocation.
func (d *decoder) filter() (bloom.Snapshot, error) {
	n, err := d.u64()
	if err != nil {
		return bloom.Snapshot{}, d.fail("filter length", err)
	}
	if n < bloom.HeaderSize {
		return bloom.Snapshot{}, d.fail(fmt.Sprintf("filter length %d is shorter than header", n), nil)
	}
	head := make([]byte, bloom.HeaderSize)
	if err := d.read(head); err != nil {
		return bloom.Snapshot{}, d.fail("filter header", err)
	}
	h := bloom.Header(head)
	if h.Magic() != bloom.Magic {
		return bloom.Snapshot{}, d.fail(fmt.Sprintf("filter magic %#x", h.Magic()), nil)
	}
	m := h.Bits()
	if m == 0 || m > maxFilterBits {
		return bloom.Snapshot{}, d.fail(fmt.Sprintf("filter size m=%d out of range", m), nil)
	}
	if n != bloom.EncodedLen(m) {
		return bloom.Snapshot{}, d.fail(fmt.Sprintf("filter length %d does not match m=%d", n, m), nil)
	}

	var data bytes.Buffer
	data.Write(head)
	if _, err := io.CopyN(&data, io.TeeReader(d.r, d.crc), int64(n-bloom.HeaderSize)); err != nil {
		return bloom.Snapshot{}, d.fail("filter body", err)
	}
	fs, err := bloom.DecodeSnapshot(data.Bytes())
	if err != nil {
		return bloom.Snapshot{}, d.fail("filter", err)
	}
	return fs, nil
}

// DecodeSnapshot reads a snapshot written by EncodeSnapshot and verifies its
// checksum. Any structural problem is reported as kakaerr.ErrCorrupt with the
// byte offset at which it was found.
func DecodeSnapshot(r io.Reader) (Snapshot, error) {
	cr := &countReader{r: r}
	d := &decoder{cr: cr, r: bufio.NewReaderSize(cr, 64*1024), crc: crc64.New(crcTable)}

	magic := make([]byte, len(SnapshotMagic))
	if err := d.read(magic); err != nil {
		return Snapshot{}, d.fail("magic", err)
	}
	if string(magic) != SnapshotMagic {
		return Snapshot{}, d.fail("bad magic "+string(magic), nil)
	}

	var s Snapshot
	var sawExact bool
	for {
		op, err := d.byte1()
		if err != nil {
			return Snapshot{}, d.fail("opcode", err)
		}
		switch op {
		case OpParams:
			enabled, err := d.byte1()
			if err != nil {
				return Snapshot{}, d.fail("params", err)
			}
			width, err := d.u32()
			if err != nil {
				return Snapshot{}, d.fail("params", err)
			}
			seed, err := d.u64()
			if err != nil {
				return Snapshot{}, d.fail("params", err)
			}
			s.SimHashEnabled, s.FingerprintWidth, s.SimHashSeed = enabled == 1, int(width), seed

		case OpExact:
			if s.Exact, err = d.filter(); err != nil {
				return Snapshot{}, err
			}
			sawExact = true

		case OpIndex:
			bands, err := d.u32()
			if err != nil {
				return Snapshot{}, d.fail("index bands", err)
			}
			rows, err := d.u32()
			if err != nil {
				return Snapshot{}, d.fail("index rows", err)
			}
			if bands == 0 || bands > 1<<16 || rows == 0 || rows > 64 {
				return Snapshot{}, d.fail("index geometry out of range", nil)
			}
			idx := lshbloom.Snapshot{Width: int(bands * rows), Bands: int(bands), Rows: int(rows)}
			for i := uint32(0); i < bands; i++ {
				fs, err := d.filter()
				if err != nil {
					return Snapshot{}, err
				}
				idx.Filters = append(idx.Filters, fs)
			}
			s.Indexes = append(s.Indexes, idx)

		case OpEOF:
			if !sawExact {
				return Snapshot{}, d.fail("missing exact filter section", nil)
			}
			want := d.crc.Sum64()
			if _, err := io.ReadFull(d.r, d.buf[:]); err != nil {
				return Snapshot{}, d.fail("checksum", err)
			}
			if got := binary.LittleEndian.Uint64(d.buf[:]); got != want {
				return Snapshot{}, kakaerr.Corrupt("engine: checksum mismatch: file %016x, calculated %016x", got, want)
			}
			return s, nil

		default:
			return Snapshot{}, d.fail("unexpected opcode", nil)
		}
	}
}

// LoadSnapshot decodes a snapshot from r and merges it into e.
func (e *Engine) LoadSnapshot(r io.Reader) error {
	s, err := DecodeSnapshot(r)
	if err != nil {
		return err
	}
	return e.Merge(s)
}
