package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"sort"
)

// Encoder turns a Payload into the canonical byte form both ends of the
// link checksum. The zero value keeps insertion order.
type Encoder struct {
	SortKeys bool
}

// Sealed is a payload ready for the wire.
type Sealed struct {
	Canonical []byte
	Checksum  string
	// Line is the JSON object with the checksum appended, without the
	// terminating newline.
	Line []byte
}

// Canonical returns compact JSON without spaces, HTML escaping or \u escapes
// for non-ASCII text. The crc32 entry is never part of it.
func (e Encoder) Canonical(p *Payload) []byte {
	var buf bytes.Buffer
	buf.WriteByte('{')
	e.writeEntries(&buf, p)
	buf.WriteByte('}')
	return buf.Bytes()
}

func (e Encoder) Checksum(p *Payload) string {
	return ChecksumBytes(e.Canonical(p))
}

func (e Encoder) Seal(p *Payload) Sealed {
	canonical := e.Canonical(p)
	sum := ChecksumBytes(canonical)

	var line bytes.Buffer
	line.WriteByte('{')
	if e.writeEntries(&line, p) > 0 {
		line.WriteByte(',')
	}
	writeJSON(&line, ChecksumKey)
	line.WriteByte(':')
	writeJSON(&line, sum)
	line.WriteByte('}')

	return Sealed{
		Canonical: canonical,
		Checksum:  sum,
		Line:      line.Bytes(),
	}
}

// ChecksumBytes is CRC32 (IEEE 802.3) formatted as 8 uppercase hex digits.
func ChecksumBytes(data []byte) string {
	return fmt.Sprintf("%08X", crc32.ChecksumIEEE(data))
}

func (e Encoder) writeEntries(buf *bytes.Buffer, p *Payload) int {
	entries := make([]entry, 0, len(p.entries))
	for _, item := range p.entries {
		if item.key == ChecksumKey {
			continue
		}
		entries = append(entries, item)
	}

	if e.SortKeys {
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].key < entries[j].key
		})
	}

	for i, item := range entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeJSON(buf, item.key)
		buf.WriteByte(':')
		writeJSON(buf, item.value)
	}

	return len(entries)
}

func writeJSON(buf *bytes.Buffer, v any) {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		panic(fmt.Sprintf("payload: encode %T: %v", v, err))
	}
	// Encode always terminates with a newline.
	buf.Truncate(buf.Len() - 1)
}
