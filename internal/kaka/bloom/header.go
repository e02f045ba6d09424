package bloom

import "encoding/binary"

// Header is a flyweight view over the first HeaderSize bytes of an encoded
// filter. Accessors read and write the backing slice directly in little
// endian order; no copy is made.
type Header []byte

const (
	// Magic is the signature "KBLOOM01" in hex.
	Magic = 0x4B424C4F4F4D3031

	// HeaderSize is the encoded header length in bytes.
	HeaderSize = 48
)

func (h Header) Magic() uint64     { return binary.LittleEndian.Uint64(h[0:8]) }
func (h Header) SetMagic(v uint64) { binary.LittleEndian.PutUint64(h[0:8], v) }

// Bits returns m, the number of addressable bits.
func (h Header) Bits() uint64     { return binary.LittleEndian.Uint64(h[8:16]) }
func (h Header) SetBits(v uint64) { binary.LittleEndian.PutUint64(h[8:16], v) }

// Probes returns k.
func (h Header) Probes() uint32     { return uint32(binary.LittleEndian.Uint64(h[16:24])) }
func (h Header) SetProbes(v uint32) { binary.LittleEndian.PutUint64(h[16:24], uint64(v)) }

func (h Header) Seed1() uint64     { return binary.LittleEndian.Uint64(h[24:32]) }
func (h Header) SetSeed1(v uint64) { binary.LittleEndian.PutUint64(h[24:32], v) }

func (h Header) Seed2() uint32     { return uint32(binary.LittleEndian.Uint64(h[32:40])) }
func (h Header) SetSeed2(v uint32) { binary.LittleEndian.PutUint64(h[32:40], uint64(v)) }

// Count returns the number of insertions that changed at least one bit.
func (h Header) Count() uint64     { return binary.LittleEndian.Uint64(h[40:48]) }
func (h Header) SetCount(v uint64) { binary.LittleEndian.PutUint64(h[40:48], v) }
