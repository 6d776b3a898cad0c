package asm

import (
	"encoding/binary"
	"fmt"
	"os"
)

// MaxStoreEntries is the planner's maximum queue length.
const MaxStoreEntries = 20

// StoreEntry is one queued STORE directive: a region of the memory image
// and the filename it should be written to.
type StoreEntry struct {
	Start    int
	Length   int
	Filename string
	WithLoad bool // prefix the 2-byte little-endian load address
}

// storagePlanner collects STORE directives during the emission pass and
// drains them afterward.
type storagePlanner struct {
	entries []StoreEntry
}

func (p *storagePlanner) add(e StoreEntry) error {
	if len(p.entries) >= MaxStoreEntries {
		return fmt.Errorf("too many STORE directives (> %d)", MaxStoreEntries)
	}
	p.entries = append(p.entries, e)
	return nil
}

// WriteAll emits every queued region as its own file: exactly the bytes of
// the memory image over [start, start+len), optionally prefixed by two
// bytes of little-endian start address.
func (p *storagePlanner) WriteAll(image []byte) error {
	for _, e := range p.entries {
		if err := writeStoreFile(image, e); err != nil {
			return err
		}
	}
	return nil
}

func writeStoreFile(image []byte, e StoreEntry) error {
	buf := make([]byte, 0, e.Length+2)
	if e.WithLoad {
		var lo [2]byte
		binary.LittleEndian.PutUint16(lo[:], uint16(e.Start))
		buf = append(buf, lo[:]...)
	}
	buf = append(buf, image[e.Start:e.Start+e.Length]...)
	return os.WriteFile(e.Filename, buf, 0o644) // #nosec G306 -- assembler output, not sensitive
}
