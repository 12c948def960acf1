package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

var ErrMissingChecksum = errors.New("message has no crc32 field")

type MismatchError struct {
	Received string
	Expected string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("crc mismatch: received=%s, expected=%s", e.Received, e.Expected)
}

// Decode parses one wire object, keeping the key order of the line.
func Decode(line []byte) (*Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimSpace(line)))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected JSON object, got %v", tok)
	}

	p := New()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := keyTok.(string)

		valueTok, err := dec.Token()
		if err != nil {
			return nil, err
		}

		switch v := valueTok.(type) {
		case string, bool:
			p.Set(key, v)
		case json.Number:
			n, convErr := v.Int64()
			if convErr != nil {
				return nil, fmt.Errorf("field %q: only integer numbers are supported: %w", key, convErr)
			}
			p.Set(key, n)
		default:
			return nil, fmt.Errorf("field %q: unsupported value %v", key, valueTok)
		}
	}

	if _, err = dec.Token(); err != nil {
		return nil, err
	}
	if _, err = dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON object")
	}

	return p, nil
}

// Verify decodes a wire line and checks its crc32 against the canonical
// form of the remaining entries. Comparison ignores hex case. The returned
// payload no longer carries the crc32 entry.
func (e Encoder) Verify(line []byte) (*Payload, error) {
	p, err := Decode(line)
	if err != nil {
		return nil, err
	}

	raw, ok := p.Get(ChecksumKey)
	if !ok {
		return p, ErrMissingChecksum
	}
	received, ok := raw.(string)
	if !ok {
		return p, fmt.Errorf("crc32 must be a string, got %T", raw)
	}

	p.Delete(ChecksumKey)
	expected := e.Checksum(p)
	if !strings.EqualFold(received, expected) {
		return p, &MismatchError{Received: received, Expected: expected}
	}

	return p, nil
}
