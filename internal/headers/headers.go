package headers

import (
	"bytes"
	"fmt"
	"strings"
)

// Headers is an ordered header block. Lookups are case-insensitive, output
// keeps the casing the header was first set with.
type Headers struct {
	names  map[string]string // lowercase -> display name
	values map[string][]string
	order  []string // lowercase keys in insertion order
}

func NewHeaders() *Headers {
	return &Headers{
		names:  make(map[string]string),
		values: make(map[string][]string),
	}
}

// Get returns the first value for a header
func (h *Headers) Get(key string) (string, bool) {
	values := h.values[strings.ToLower(key)]
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// Set replaces all values for a header
func (h *Headers) Set(key, value string) {
	lower := strings.ToLower(key)
	if _, ok := h.values[lower]; !ok {
		h.names[lower] = key
		h.order = append(h.order, lower)
	}
	h.values[lower] = []string{value}
}

// Add appends a value to a header
func (h *Headers) Add(key, value string) {
	lower := strings.ToLower(key)
	if _, ok := h.values[lower]; !ok {
		h.names[lower] = key
		h.order = append(h.order, lower)
	}
	h.values[lower] = append(h.values[lower], value)
}

// Each calls fn for every header line in insertion order.
func (h *Headers) Each(fn func(name, value string)) {
	for _, lower := range h.order {
		for _, v := range h.values[lower] {
			fn(h.names[lower], v)
		}
	}
}

// String returns the newline-joined header block without a trailing newline.
func (h *Headers) String() string {
	var b strings.Builder
	h.Each(func(name, value string) {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(value)
	})
	return b.String()
}

// Parse parses CRLF-terminated header lines from raw bytes. It returns the
// number of bytes consumed and whether the terminating empty line was seen.
func (h *Headers) Parse(data []byte) (int, bool, error) {
	read := 0
	done := false

	for {
		idx := bytes.Index(data[read:], []byte("\r\n"))
		if idx == -1 {
			// Need more data
			break
		}

		if idx == 0 {
			done = true
			read += 2
			break
		}

		line := data[read : read+idx]

		if line[0] == ' ' || line[0] == '\t' {
			return read, false, fmt.Errorf("obsolete line folding not supported")
		}

		name, value, err := parseHeader(line)
		if err != nil {
			return read, done, err
		}

		h.Add(name, value)

		read += idx + 2
	}

	return read, done, nil
}

func parseHeader(line []byte) (string, string, error) {
	colonIdx := bytes.IndexByte(line, ':')
	if colonIdx == -1 {
		return "", "", fmt.Errorf("malformed header: no colon")
	}

	name := line[:colonIdx]
	value := line[colonIdx+1:]

	if bytes.ContainsAny(name, " \t") {
		return "", "", fmt.Errorf("malformed header: whitespace in name")
	}

	for _, b := range name {
		if !isValidHeaderChar(b) {
			return "", "", fmt.Errorf("invalid character in header name: %c", b)
		}
	}

	return string(name), string(bytes.TrimSpace(value)), nil
}

func isValidHeaderChar(b byte) bool {
	return (b >= 'A' && b <= 'Z') ||
		(b >= 'a' && b <= 'z') ||
		(b >= '0' && b <= '9') ||
		b == '!' || b == '#' || b == '$' || b == '%' || b == '&' ||
		b == '\'' || b == '*' || b == '+' || b == '-' || b == '.' ||
		b == '^' || b == '_' || b == '`' || b == '|' || b == '~'
}
