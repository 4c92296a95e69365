package message

import "strings"

// HeaderName is a canonicalized (long-form, title-cased) header name.
// Comparison and map-keying always happens on the lower-cased form via
// canonKey; HeaderName is kept around for rendering.
type HeaderName string

// compactForms maps the RFC 3261 compact header forms to their long name,
// per Table at RFC 3261 7.3.3, restricted to the headers this engine uses.
var compactForms = map[string]string{
	"i": "call-id",
	"m": "contact",
	"f": "from",
	"t": "to",
	"v": "via",
	"l": "content-length",
	"c": "content-type",
	"k": "supported",
	"s": "subject",
	"e": "content-encoding",
	"o": "event",
	"u": "allow-events",
}

// canonNames maps the lower-case long form back to its canonical title-cased
// rendering, for the headers the dispatcher names explicitly; anything not
// listed is title-cased word-by-word on '-'.
var canonNames = map[string]string{
	"via":                "Via",
	"from":               "From",
	"to":                 "To",
	"call-id":            "Call-ID",
	"cseq":               "CSeq",
	"max-forwards":       "Max-Forwards",
	"contact":            "Contact",
	"content-length":     "Content-Length",
	"content-type":       "Content-Type",
	"authorization":      "Authorization",
	"www-authenticate":   "WWW-Authenticate",
	"proxy-authenticate": "Proxy-Authenticate",
	"proxy-authorization": "Proxy-Authorization",
	"expires":            "Expires",
	"allow":              "Allow",
	"supported":          "Supported",
	"event":              "Event",
	"subscription-state": "Subscription-State",
	"refer-to":           "Refer-To",
	"referred-by":        "Referred-By",
	"route":              "Route",
	"record-route":       "Record-Route",
	"user-agent":         "User-Agent",
	"retry-after":        "Retry-After",
}

// canonKey lower-cases and expands a compact header name to its long form,
// used as the internal map key so "i" and "Call-ID" refer to the same slot.
func canonKey(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	if long, ok := compactForms[lower]; ok {
		return long
	}
	return lower
}

// CanonicalName renders name in its canonical title-cased wire form.
func CanonicalName(name string) HeaderName {
	key := canonKey(name)
	if canon, ok := canonNames[key]; ok {
		return HeaderName(canon)
	}
	parts := strings.Split(key, "-")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return HeaderName(strings.Join(parts, "-"))
}

// Header is a single header line: a canonical name plus its raw value.
// Typed accessors (Via, From, To, CSeq, ...) parse the value lazily on
// demand rather than eagerly at parse time.
type Header struct {
	name  HeaderName
	key   string // lower-case canonical key, used for lookups
	value string
}

// NewHeader constructs a header with the given name and already-rendered value.
func NewHeader(name, value string) Header {
	return Header{name: CanonicalName(name), key: canonKey(name), value: value}
}

// Name returns the canonical (title-cased) header name.
func (h Header) Name() HeaderName { return h.name }

// Key returns the lower-cased, compact-expanded lookup key.
func (h Header) Key() string { return h.key }

// Value returns the raw, unparsed header value.
func (h Header) Value() string { return h.value }

// String renders the header as a wire line without the trailing CRLF.
func (h Header) String() string {
	return string(h.name) + ": " + h.value
}
