package sniff

import (
	"bytes"
	"strconv"

	"github.com/irctrakz/tunsnoop/pkg/core"
)

// DefaultMaxHeaders is the header field limit per HTTP message.
const DefaultMaxHeaders = 64

// maxMethodLen bounds the request method; registered methods are far shorter.
const maxMethodLen = 24

// ParseHTTP recognizes an HTTP/1.x request or response at the start of b.
// A request is tried first. The returned summary owns all of its strings.
func ParseHTTP(b []byte, maxHeaders int) core.AppSummary {
	if maxHeaders <= 0 {
		maxHeaders = DefaultMaxHeaders
	}

	req, err := parseRequest(b, maxHeaders)
	if err != core.ErrNotHTTP {
		req.Kind = core.AppHTTPRequest
		return finish(req, err)
	}

	resp, err := parseResponse(b, maxHeaders)
	if err != core.ErrNotHTTP {
		resp.Kind = core.AppHTTPResponse
		return finish(resp, err)
	}

	return core.AppSummary{Kind: core.AppHTTP, Status: core.StatusError, Err: core.ErrNotHTTP}
}

func finish(s core.AppSummary, err error) core.AppSummary {
	switch err {
	case nil:
		s.Status = core.StatusComplete
	case core.ErrIncomplete:
		s.Status = core.StatusIncomplete
	default:
		s.Status = core.StatusError
		s.Err = err
	}
	return s
}

// parseRequest parses "METHOD SP target SP HTTP/x.y CRLF headers CRLF".
func parseRequest(b []byte, maxHeaders int) (core.AppSummary, error) {
	var s core.AppSummary

	method, rest, err := readToken(b)
	if err != nil {
		return s, err
	}
	s.Method = method

	target, rest, err := readTarget(rest)
	if err != nil {
		return s, err
	}
	s.Path = target

	version, rest, err := readVersion(rest)
	if err != nil {
		return s, err
	}
	s.Version = version

	rest, err = readNewline(rest)
	if err != nil {
		return s, err
	}

	s.Headers, err = readHeaders(rest, maxHeaders)
	return s, err
}

// parseResponse parses "HTTP/x.y SP code [SP reason] CRLF headers CRLF".
func parseResponse(b []byte, maxHeaders int) (core.AppSummary, error) {
	var s core.AppSummary

	version, rest, err := readVersion(b)
	if err != nil {
		return s, err
	}
	s.Version = version

	if len(rest) == 0 {
		return s, core.ErrIncomplete
	}
	if rest[0] != ' ' {
		return s, core.ErrNotHTTP
	}
	rest = rest[1:]

	code, rest, err := readStatusCode(rest)
	if err != nil {
		return s, err
	}
	s.Code = code

	reason, rest, err := readReason(rest)
	if err != nil {
		return s, err
	}
	s.Reason = reason

	s.Headers, err = readHeaders(rest, maxHeaders)
	return s, err
}

// readToken reads a method token terminated by a single space.
func readToken(b []byte) (string, []byte, error) {
	for i, c := range b {
		if i > maxMethodLen {
			return "", nil, core.ErrNotHTTP
		}
		if c == ' ' {
			if i == 0 {
				return "", nil, core.ErrNotHTTP
			}
			return string(b[:i]), b[i+1:], nil
		}
		if !isTokenChar(c) {
			return "", nil, core.ErrNotHTTP
		}
	}
	return "", nil, core.ErrIncomplete
}

// readTarget reads a request target terminated by a single space.
func readTarget(b []byte) (string, []byte, error) {
	for i, c := range b {
		if c == ' ' {
			if i == 0 {
				return "", nil, core.ErrNotHTTP
			}
			return string(b[:i]), b[i+1:], nil
		}
		if c < 0x21 || c == 0x7f {
			return "", nil, core.ErrNotHTTP
		}
	}
	return "", nil, core.ErrIncomplete
}

var httpPrefix = []byte("HTTP/")

// readVersion reads "HTTP/d.d". A valid prefix of it is incomplete.
func readVersion(b []byte) (string, []byte, error) {
	const n = len("HTTP/1.1")
	if len(b) < n {
		if !versionPrefix(b) {
			return "", nil, core.ErrNotHTTP
		}
		return "", nil, core.ErrIncomplete
	}
	if !bytes.HasPrefix(b, httpPrefix) || !isDigit(b[5]) || b[6] != '.' || !isDigit(b[7]) {
		return "", nil, core.ErrNotHTTP
	}
	return string(b[:n]), b[n:], nil
}

func versionPrefix(b []byte) bool {
	for i, c := range b {
		switch {
		case i < len(httpPrefix):
			if c != httpPrefix[i] {
				return false
			}
		case i == 6:
			if c != '.' {
				return false
			}
		default:
			if !isDigit(c) {
				return false
			}
		}
	}
	return true
}

// readNewline consumes CRLF or a bare LF.
func readNewline(b []byte) ([]byte, error) {
	switch {
	case len(b) == 0:
		return nil, core.ErrIncomplete
	case b[0] == '\n':
		return b[1:], nil
	case b[0] != '\r':
		return nil, core.ErrNotHTTP
	case len(b) == 1:
		return nil, core.ErrIncomplete
	case b[1] == '\n':
		return b[2:], nil
	default:
		return nil, core.ErrNotHTTP
	}
}

func readStatusCode(b []byte) (int, []byte, error) {
	for i := 0; i < 3; i++ {
		if i == len(b) {
			return 0, nil, core.ErrIncomplete
		}
		if !isDigit(b[i]) {
			return 0, nil, core.ErrNotHTTP
		}
	}
	code, _ := strconv.Atoi(string(b[:3]))
	return code, b[3:], nil
}

// readReason reads the optional " reason" and the line terminator.
func readReason(b []byte) (string, []byte, error) {
	if len(b) == 0 {
		return "", nil, core.ErrIncomplete
	}
	if b[0] != ' ' {
		rest, err := readNewline(b)
		return "", rest, err
	}
	b = b[1:]
	for i, c := range b {
		switch {
		case c == '\r' || c == '\n':
			rest, err := readNewline(b[i:])
			return string(b[:i]), rest, err
		case c < 0x20 && c != '\t', c == 0x7f:
			return "", nil, core.ErrNotHTTP
		}
	}
	return "", nil, core.ErrIncomplete
}

// readHeaders reads header fields up to and including the blank line.
func readHeaders(b []byte, max int) ([]core.Header, error) {
	var headers []core.Header
	for {
		if len(b) == 0 {
			return headers, core.ErrIncomplete
		}
		if b[0] == '\r' || b[0] == '\n' {
			_, err := readNewline(b)
			return headers, err
		}
		if len(headers) == max {
			return headers, core.ErrTooManyHeaders
		}

		colon := -1
		for i, c := range b {
			if c == ':' {
				colon = i
				break
			}
			if !isTokenChar(c) {
				return headers, core.ErrNotHTTP
			}
		}
		if colon < 0 {
			return headers, core.ErrIncomplete
		}
		if colon == 0 {
			return headers, core.ErrNotHTTP
		}

		eol := bytes.IndexByte(b[colon+1:], '\n')
		if eol < 0 {
			for _, c := range b[colon+1:] {
				if !isValueChar(c) && c != '\r' {
					return headers, core.ErrNotHTTP
				}
			}
			return headers, core.ErrIncomplete
		}
		eol += colon + 1

		value := b[colon+1 : eol]
		if n := len(value); n > 0 && value[n-1] == '\r' {
			value = value[:n-1]
		}
		for _, c := range value {
			if !isValueChar(c) {
				return headers, core.ErrNotHTTP
			}
		}

		headers = append(headers, core.Header{
			Name:  string(b[:colon]),
			Value: string(bytes.Trim(value, " \t")),
		})
		b = b[eol+1:]
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// isTokenChar reports whether c is an RFC 9110 tchar.
func isTokenChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', isDigit(c):
		return true
	}
	switch c {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}

func isValueChar(c byte) bool {
	return c == '\t' || (c >= 0x20 && c != 0x7f)
}
