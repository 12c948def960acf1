package payload

import (
	"fmt"
)

// ChecksumKey is the reserved entry appended to every outgoing message.
const ChecksumKey = "crc32"

type entry struct {
	key   string
	value any
}

// Payload is an insertion-ordered mapping of field name to a string, int64
// or bool value.
type Payload struct {
	entries []entry
	index   map[string]int
}

func New() *Payload {
	return &Payload{
		index: map[string]int{},
	}
}

// Set stores value under key. Replacing an existing key keeps its position.
// Values other than string, bool and Go integer kinds panic.
func (p *Payload) Set(key string, value any) *Payload {
	normalized, err := normalize(value)
	if err != nil {
		panic(fmt.Sprintf("payload: field %q: %v", key, err))
	}

	if i, ok := p.index[key]; ok {
		p.entries[i].value = normalized
		return p
	}

	p.index[key] = len(p.entries)
	p.entries = append(p.entries, entry{key: key, value: normalized})
	return p
}

func (p *Payload) Get(key string) (any, bool) {
	i, ok := p.index[key]
	if !ok {
		return nil, false
	}
	return p.entries[i].value, true
}

func (p *Payload) Delete(key string) {
	i, ok := p.index[key]
	if !ok {
		return
	}

	p.entries = append(p.entries[:i], p.entries[i+1:]...)
	delete(p.index, key)
	for j := i; j < len(p.entries); j++ {
		p.index[p.entries[j].key] = j
	}
}

func (p *Payload) Keys() []string {
	keys := make([]string, 0, len(p.entries))
	for _, e := range p.entries {
		keys = append(keys, e.key)
	}
	return keys
}

func (p *Payload) Len() int {
	return len(p.entries)
}

func normalize(value any) (any, error) {
	switch v := value.(type) {
	case string, bool, int64:
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", value)
	}
}
