package fields

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/NowakAdmin/BoardConfigurator/internal/payload"
)

type Type string

const (
	TypeString Type = "str"
	TypeInt    Type = "int"
	TypeBool   Type = "bool"
)

func ParseType(raw string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(raw))); t {
	case TypeString, TypeInt, TypeBool:
		return t, nil
	default:
		return "", fmt.Errorf("unknown field type %q", raw)
	}
}

// Field describes one form entry. Size is informational only.
type Field struct {
	Name    string
	Size    int
	Default string
	Type    Type
}

// Set is an ordered collection of fields; its order is the payload order.
type Set struct {
	fields []Field
}

func NewSet(fields ...Field) *Set {
	s := &Set{}
	for _, f := range fields {
		_ = s.Add(f)
	}
	return s
}

// Defaults is the Wi-Fi provisioning form the board firmware expects.
func Defaults() *Set {
	return NewSet(
		Field{Name: "SSID", Size: 32, Type: TypeString},
		Field{Name: "pass", Size: 64, Type: TypeString},
		Field{Name: "key", Size: 256, Type: TypeString},
	)
}

func (s *Set) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

func (s *Set) Len() int {
	return len(s.fields)
}

func (s *Set) Find(name string) (Field, bool) {
	for _, f := range s.fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (s *Set) Add(f Field) error {
	f.Name = strings.TrimSpace(f.Name)
	if f.Name == "" {
		return &ValidationError{Message: "field name cannot be empty"}
	}
	if f.Name == payload.ChecksumKey {
		return &ValidationError{Field: f.Name, Message: "name is reserved for the checksum"}
	}
	if strings.ContainsAny(f.Name, ";\n") {
		return &ValidationError{Field: f.Name, Message: "name cannot contain ';' or newlines"}
	}
	if strings.Contains(f.Default, ";") {
		return &ValidationError{Field: f.Name, Message: "default cannot contain ';'"}
	}
	if _, ok := s.Find(f.Name); ok {
		return &ValidationError{Field: f.Name, Message: "field already exists"}
	}
	if f.Type == "" {
		f.Type = TypeString
	}
	if _, err := ParseType(string(f.Type)); err != nil {
		return &ValidationError{Field: f.Name, Message: err.Error()}
	}
	if f.Default != "" {
		if _, err := convert(f, f.Default); err != nil {
			return err
		}
	}

	s.fields = append(s.fields, f)
	return nil
}

func (s *Set) Remove(name string) bool {
	for i, f := range s.fields {
		if f.Name == name {
			s.fields = append(s.fields[:i], s.fields[i+1:]...)
			return true
		}
	}
	return false
}

// Build turns raw form values into a payload in definition order. Empty
// values fall back to the field default; a field still empty is an error.
// A set without fields never builds.
func (s *Set) Build(values map[string]string) (*payload.Payload, error) {
	if len(s.fields) == 0 {
		return nil, &ValidationError{Message: "no fields defined, add fields to the definition file first"}
	}

	p := payload.New()
	for _, f := range s.fields {
		raw := strings.TrimSpace(values[f.Name])
		if raw == "" {
			raw = f.Default
		}
		if raw == "" {
			return nil, &ValidationError{Field: f.Name, Message: "please fill in this field"}
		}

		value, err := convert(f, raw)
		if err != nil {
			return nil, err
		}
		p.Set(f.Name, value)
	}

	return p, nil
}

func convert(f Field, raw string) (any, error) {
	switch f.Type {
	case TypeInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, &ValidationError{Field: f.Name, Message: fmt.Sprintf("%q is not an integer", raw)}
		}
		return n, nil
	case TypeBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, &ValidationError{Field: f.Name, Message: fmt.Sprintf("%q is not true/false", raw)}
		}
		return b, nil
	default:
		return raw, nil
	}
}

// Load reads a definition file of "name;size;default;type" lines.
func Load(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &FileError{Path: path, Err: err}
	}
	defer func() {
		_ = f.Close()
	}()

	return Parse(path, f)
}

func Parse(name string, r io.Reader) (*Set, error) {
	set := &Set{}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, ";")
		if len(parts) < 4 {
			return nil, &FileError{Path: name, Line: lineNo, Err: fmt.Errorf("expected name;size;default;type, got %q", line)}
		}

		size, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, &FileError{Path: name, Line: lineNo, Err: fmt.Errorf("invalid size %q", parts[1])}
		}

		fieldType, err := ParseType(parts[3])
		if err != nil {
			return nil, &FileError{Path: name, Line: lineNo, Err: err}
		}

		field := Field{
			Name:    strings.TrimSpace(parts[0]),
			Size:    size,
			Default: strings.TrimSpace(parts[2]),
			Type:    fieldType,
		}
		if err = set.Add(field); err != nil {
			return nil, &FileError{Path: name, Line: lineNo, Err: err}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, &FileError{Path: name, Err: err}
	}

	return set, nil
}

func Save(path string, set *Set) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &FileError{Path: path, Err: err}
	}

	var b strings.Builder
	b.WriteString("# name;size;default;type (str, int, bool)\n")
	for _, f := range set.fields {
		fmt.Fprintf(&b, "%s;%d;%s;%s\n", f.Name, f.Size, f.Default, f.Type)
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return &FileError{Path: path, Err: err}
	}
	return nil
}

// LoadOrCreateDefault writes the default field set when path does not exist.
func LoadOrCreateDefault(path string) (*Set, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		set := Defaults()
		if errSave := Save(path, set); errSave != nil {
			return nil, errSave
		}
		return set, nil
	}

	return Load(path)
}
