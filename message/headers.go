package message

import "strings"

// canonicalOrder lists the header keys that get a fixed rendering position,
// per spec.md 4.2: Via first, then Route, From, To, Call-ID, CSeq,
// Max-Forwards, Contact, Content-Length, Content-Type, others after.
var canonicalOrder = []string{
	"via", "route", "from", "to", "call-id", "cseq", "max-forwards",
	"contact", "content-length", "content-type",
}

var canonicalRank = func() map[string]int {
	m := make(map[string]int, len(canonicalOrder))
	for i, k := range canonicalOrder {
		m[k] = i
	}
	return m
}()

// headerMap is an ordered, case-insensitive, multi-valued header container.
// Insertion order of distinct header names is preserved for re-serialization
// of headers with no canonical rank (spec.md 4.2's "unknown headers are
// preserved verbatim").
type headerMap struct {
	order []string // distinct keys, in first-seen order
	m     map[string][]Header
}

func newHeaders() *headerMap {
	return &headerMap{m: make(map[string][]Header)}
}

// Add appends a header, preserving any existing values under the same name.
func (h *headerMap) Add(name, value string) {
	key := canonKey(name)
	if _, ok := h.m[key]; !ok {
		h.order = append(h.order, key)
	}
	h.m[key] = append(h.m[key], NewHeader(name, value))
}

// AddHeader appends an already-built Header value.
func (h *headerMap) AddHeader(hdr Header) {
	key := hdr.Key()
	if _, ok := h.m[key]; !ok {
		h.order = append(h.order, key)
	}
	h.m[key] = append(h.m[key], hdr)
}

// Set replaces all existing values for name with a single value.
func (h *headerMap) Set(name, value string) {
	key := canonKey(name)
	if _, ok := h.m[key]; !ok {
		h.order = append(h.order, key)
	}
	h.m[key] = []Header{NewHeader(name, value)}
}

// Prepend inserts a header value before any existing ones under name,
// used when pushing a new Via hop onto the front of the stack.
func (h *headerMap) Prepend(name, value string) {
	key := canonKey(name)
	if _, ok := h.m[key]; !ok {
		h.order = append([]string{key}, h.order...)
		h.m[key] = []Header{NewHeader(name, value)}
		return
	}
	h.m[key] = append([]Header{NewHeader(name, value)}, h.m[key]...)
}

// Get returns the first header value for name.
func (h *headerMap) Get(name string) (string, bool) {
	key := canonKey(name)
	vals, ok := h.m[key]
	if !ok || len(vals) == 0 {
		return "", false
	}
	return vals[0].Value(), true
}

// GetHeader returns the first Header for name.
func (h *headerMap) GetHeader(name string) (Header, bool) {
	key := canonKey(name)
	vals, ok := h.m[key]
	if !ok || len(vals) == 0 {
		return Header{}, false
	}
	return vals[0], true
}

// GetAll returns every header line stored under name, in insertion order.
func (h *headerMap) GetAll(name string) []Header {
	return h.m[canonKey(name)]
}

// Has reports whether at least one header with this name is present.
func (h *headerMap) Has(name string) bool {
	_, ok := h.m[canonKey(name)]
	return ok
}

// Remove deletes every header stored under name.
func (h *headerMap) Remove(name string) {
	key := canonKey(name)
	if _, ok := h.m[key]; !ok {
		return
	}
	delete(h.m, key)
	for i, k := range h.order {
		if k == key {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// Clone returns a deep copy safe for independent mutation.
func (h *headerMap) Clone() *headerMap {
	out := &headerMap{
		order: append([]string(nil), h.order...),
		m:     make(map[string][]Header, len(h.m)),
	}
	for k, v := range h.m {
		out.m[k] = append([]Header(nil), v...)
	}
	return out
}

// renderOrder returns the keys to render, canonical-ranked ones first in
// their fixed order, then everything else in first-seen order.
func (h *headerMap) renderOrder() []string {
	ranked := make([]string, 0, len(h.order))
	rest := make([]string, 0, len(h.order))
	for _, k := range h.order {
		if _, ok := canonicalRank[k]; ok {
			ranked = append(ranked, k)
		} else {
			rest = append(rest, k)
		}
	}
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && canonicalRank[ranked[j-1]] > canonicalRank[ranked[j]]; j-- {
			ranked[j-1], ranked[j] = ranked[j], ranked[j-1]
		}
	}
	return append(ranked, rest...)
}

// writeTo serializes every header line in canonical order, CRLF-terminated.
func (h *headerMap) writeTo(sb *strings.Builder) {
	for _, key := range h.renderOrder() {
		for _, hdr := range h.m[key] {
			sb.WriteString(hdr.String())
			sb.WriteString("\r\n")
		}
	}
}
