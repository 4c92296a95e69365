package message

import (
	"strconv"
	"strings"

	"github.com/openpbx/sipcore/internal/errs"
)

// ErrMalformedMessage is returned when the wire bytes cannot be split into
// a start line, headers, and body at all.
const ErrMalformedMessage errs.Error = "malformed message"

// Parse parses raw wire bytes into a Request or a Response, per spec.md 4.2:
//  1. split at the first CRLFCRLF into header block and body,
//  2. parse the start line,
//  3. parse each header line, folding continuations, preserving order,
//  4. read exactly Content-Length bytes as body.
func Parse(raw []byte) (Message, error) {
	text := string(raw)

	sepIdx := strings.Index(text, "\r\n\r\n")
	if sepIdx < 0 {
		return nil, errs.Wrapf(ErrMalformedMessage, "no header/body separator found")
	}
	headerBlock := text[:sepIdx]
	rest := text[sepIdx+4:]

	lines := foldContinuations(strings.Split(headerBlock, "\r\n"))
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return nil, errs.Wrapf(ErrMalformedMessage, "empty start line")
	}

	msg, err := parseStartLine(lines[0])
	if err != nil {
		return nil, err
	}

	var hdrs *headerMap
	switch m := msg.(type) {
	case *Request:
		hdrs = m.hdrs
	case *Response:
		hdrs = m.hdrs
	}

	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return nil, errs.Wrapf(ErrMalformedMessage, "malformed header line %q", line)
		}
		name := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		hdrs.Add(name, value)
	}

	contentLength := len(rest)
	if v, ok := hdrs.Get("content-length"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			contentLength = n
		}
	}
	if contentLength > len(rest) {
		return nil, errs.Wrapf(ErrMalformedMessage, "content-length %d exceeds available body %d", contentLength, len(rest))
	}
	body := []byte(rest[:contentLength])

	switch m := msg.(type) {
	case *Request:
		m.body = body
	case *Response:
		m.body = body
	}

	return msg, nil
}

// foldContinuations joins header continuation lines (leading SP/HTAB) onto
// the previous line, per RFC 3261 7.3.1's line-folding grammar.
func foldContinuations(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if len(out) > 0 && len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
			out[len(out)-1] += " " + strings.TrimSpace(line)
			continue
		}
		out = append(out, line)
	}
	return out
}

func parseStartLine(line string) (Message, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return nil, errs.Wrapf(ErrMalformedMessage, "invalid start line %q", line)
	}

	if strings.HasPrefix(fields[0], "SIP/") {
		status, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, errs.Wrapf(ErrMalformedMessage, "invalid status code %q", fields[1])
		}
		reason := strings.Join(fields[2:], " ")
		resp := NewResponse(status, reason)
		resp.version = fields[0]
		return resp, nil
	}

	u, err := ParseURI(fields[1])
	if err != nil {
		return nil, errs.Wrap(ErrMalformedMessage, err)
	}
	req := NewRequest(ParseMethod(fields[0]), u)
	req.version = fields[2]
	return req, nil
}
