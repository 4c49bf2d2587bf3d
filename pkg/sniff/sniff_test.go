package sniff

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/dns/dnsmessage"

	"github.com/irctrakz/tunsnoop/pkg/core"
)

func TestParseHTTP_Request(t *testing.T) {
	app := ParseHTTP([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"), 0)

	assert.Equal(t, core.AppHTTPRequest, app.Kind)
	assert.Equal(t, core.StatusComplete, app.Status)
	assert.NoError(t, app.Err)
	assert.Equal(t, "GET", app.Method)
	assert.Equal(t, "/", app.Path)
	assert.Equal(t, "HTTP/1.1", app.Version)
	assert.Equal(t, []core.Header{{Name: "Host", Value: "x"}}, app.Headers)
}

func TestParseHTTP_RequestHeaderOrder(t *testing.T) {
	raw := "POST /api/v1/items?id=3 HTTP/1.0\r\n" +
		"User-Agent: curl/8.0\r\n" +
		"Host: example.com\r\n" +
		"Content-Length:  5 \r\n" +
		"\r\n" +
		"hello"
	app := ParseHTTP([]byte(raw), 0)

	require.Equal(t, core.StatusComplete, app.Status)
	assert.Equal(t, "POST", app.Method)
	assert.Equal(t, "/api/v1/items?id=3", app.Path)
	assert.Equal(t, "HTTP/1.0", app.Version)
	assert.Equal(t, []core.Header{
		{Name: "User-Agent", Value: "curl/8.0"},
		{Name: "Host", Value: "example.com"},
		{Name: "Content-Length", Value: "5"},
	}, app.Headers)
}

func TestParseHTTP_Response(t *testing.T) {
	app := ParseHTTP([]byte("HTTP/1.1 404 Not Found\r\nServer: test\r\nContent-Length: 0\r\n\r\n"), 0)

	assert.Equal(t, core.AppHTTPResponse, app.Kind)
	assert.Equal(t, core.StatusComplete, app.Status)
	assert.Equal(t, "HTTP/1.1", app.Version)
	assert.Equal(t, 404, app.Code)
	assert.Equal(t, "Not Found", app.Reason)
	assert.Len(t, app.Headers, 2)
	assert.Equal(t, "Server", app.Headers[0].Name)
}

func TestParseHTTP_ResponseWithoutReason(t *testing.T) {
	app := ParseHTTP([]byte("HTTP/1.1 204\r\n\r\n"), 0)

	assert.Equal(t, core.StatusComplete, app.Status)
	assert.Equal(t, 204, app.Code)
	assert.Empty(t, app.Reason)
}

func TestParseHTTP_Incomplete(t *testing.T) {
	cases := []string{
		"GET / HTTP/",
		"G",
		"GET",
		"GET /index.ht",
		"GET / HTTP/1.1",
		"GET / HTTP/1.1\r",
		"GET / HTTP/1.1\r\nHost: x\r\n",
		"GET / HTTP/1.1\r\nHost: x\r\nAcc",
		"GET / HTTP/1.1\r\nHost: exa",
		"HTTP/1.",
		"HTTP/1.1 20",
		"HTTP/1.1 200 O",
		"HTTP/1.1 200 OK\r\nServer: x\r\n",
	}
	for _, raw := range cases {
		t.Run(raw, func(t *testing.T) {
			app := ParseHTTP([]byte(raw), 0)
			assert.Equal(t, core.StatusIncomplete, app.Status)
			assert.NoError(t, app.Err)
		})
	}
}

func TestParseHTTP_NotHTTP(t *testing.T) {
	cases := [][]byte{
		{0x16, 0x03, 0x01, 0x02, 0x00},
		[]byte("hello world\r\n\r\n"),
		[]byte("GET / FTP/1.1\r\n\r\n"),
		[]byte("GET  / HTTP/1.1\r\n\r\n"),
		[]byte("GET / HTTP/1.1\r\nBad Header: x\r\n\r\n"),
		[]byte("GET / HTTP/1.1\r\n: empty\r\n\r\n"),
		[]byte("HTTP/1.1 2x0 OK\r\n\r\n"),
		[]byte("GET / HTTP/1.1\rX"),
	}
	for i, raw := range cases {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			app := ParseHTTP(raw, 0)
			assert.Equal(t, core.StatusError, app.Status)
			assert.True(t, errors.Is(app.Err, core.ErrNotHTTP))
		})
	}
}

func TestParseHTTP_MethodLength(t *testing.T) {
	long := strings.Repeat("a", maxMethodLen+1)
	app := ParseHTTP([]byte(long), 0)
	assert.Equal(t, core.StatusError, app.Status)
	assert.ErrorIs(t, app.Err, core.ErrNotHTTP)

	app = ParseHTTP([]byte(long+" / HTTP/1.1\r\n\r\n"), 0)
	assert.ErrorIs(t, app.Err, core.ErrNotHTTP)

	app = ParseHTTP([]byte("abcdefghij"), 0)
	assert.Equal(t, core.StatusIncomplete, app.Status)

	method := strings.Repeat("M", maxMethodLen)
	app = ParseHTTP([]byte(method+" / HTTP/1.1\r\n\r\n"), 0)
	require.Equal(t, core.StatusComplete, app.Status)
	assert.Equal(t, method, app.Method)
}

func TestParseHTTP_TooManyHeaders(t *testing.T) {
	var b strings.Builder
	b.WriteString("GET / HTTP/1.1\r\n")
	for i := 0; i < 5; i++ {
		fmt.Fprintf(&b, "X-H%d: v\r\n", i)
	}
	b.WriteString("\r\n")

	app := ParseHTTP([]byte(b.String()), 4)
	assert.Equal(t, core.StatusError, app.Status)
	assert.True(t, errors.Is(app.Err, core.ErrTooManyHeaders))
	assert.Len(t, app.Headers, 4)

	app = ParseHTTP([]byte(b.String()), 5)
	assert.Equal(t, core.StatusComplete, app.Status)
}

func TestParseHTTP_OwnsStrings(t *testing.T) {
	raw := []byte("GET /a HTTP/1.1\r\nHost: x\r\n\r\n")
	app := ParseHTTP(raw, 0)
	for i := range raw {
		raw[i] = 'z'
	}
	assert.Equal(t, "GET", app.Method)
	assert.Equal(t, "x", app.Headers[0].Value)
}

func buildDNSQuery(t *testing.T, id uint16, name string) []byte {
	t.Helper()
	b := dnsmessage.NewBuilder(nil, dnsmessage.Header{ID: id, RecursionDesired: true})
	require.NoError(t, b.StartQuestions())
	require.NoError(t, b.Question(dnsmessage.Question{
		Name:  dnsmessage.MustNewName(name),
		Type:  dnsmessage.TypeA,
		Class: dnsmessage.ClassINET,
	}))
	msg, err := b.Finish()
	require.NoError(t, err)
	return msg
}

func buildDNSResponse(t *testing.T, id uint16, name string, answers int) []byte {
	t.Helper()
	b := dnsmessage.NewBuilder(nil, dnsmessage.Header{ID: id, Response: true, RCode: dnsmessage.RCodeSuccess})
	q := dnsmessage.Question{Name: dnsmessage.MustNewName(name), Type: dnsmessage.TypeA, Class: dnsmessage.ClassINET}
	require.NoError(t, b.StartQuestions())
	require.NoError(t, b.Question(q))
	require.NoError(t, b.StartAnswers())
	for i := 0; i < answers; i++ {
		require.NoError(t, b.AResource(
			dnsmessage.ResourceHeader{Name: q.Name, Class: dnsmessage.ClassINET, TTL: 60},
			dnsmessage.AResource{A: [4]byte{93, 184, 216, byte(i)}},
		))
	}
	msg, err := b.Finish()
	require.NoError(t, err)
	return msg
}

func TestParseDNS_Query(t *testing.T) {
	app := ParseDNS(buildDNSQuery(t, 0xbeef, "example.com."))

	require.Equal(t, core.StatusComplete, app.Status)
	require.NotNil(t, app.DNS)
	assert.Equal(t, core.AppDNS, app.Kind)
	assert.Equal(t, uint16(0xbeef), app.DNS.ID)
	assert.False(t, app.DNS.Response)
	assert.Equal(t, []string{"example.com. A"}, app.DNS.Questions)
	assert.Equal(t, 0, app.DNS.Answers)
}

func TestParseDNS_Response(t *testing.T) {
	app := ParseDNS(buildDNSResponse(t, 7, "example.org.", 2))

	require.Equal(t, core.StatusComplete, app.Status)
	assert.True(t, app.DNS.Response)
	assert.Equal(t, "Success", app.DNS.RCode)
	assert.Equal(t, 2, app.DNS.Answers)
}

func TestParseDNS_Garbage(t *testing.T) {
	app := ParseDNS([]byte{1, 2, 3})

	assert.Equal(t, core.StatusError, app.Status)
	assert.True(t, errors.Is(app.Err, core.ErrNotDNS))
	assert.Nil(t, app.DNS)
}

func TestSniffer_PortSelection(t *testing.T) {
	s := New(DefaultConfig())
	req := []byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n")

	assert.Equal(t, core.StatusComplete, s.Inspect(req, core.TransportTCP, 50000, 80).Status)
	assert.Equal(t, core.StatusComplete, s.Inspect(req, core.TransportTCP, 8080, 50000).Status)
	assert.Equal(t, core.StatusNone, s.Inspect(req, core.TransportTCP, 50000, 443).Status)
	assert.Equal(t, core.StatusNone, s.Inspect(req, core.TransportUDP, 50000, 80).Status)
	assert.Equal(t, core.StatusNone, s.Inspect(nil, core.TransportTCP, 50000, 80).Status)

	dns := buildDNSQuery(t, 1, "a.example.")
	assert.Equal(t, core.AppDNS, s.Inspect(dns, core.TransportUDP, 40000, 53).Kind)
	assert.Equal(t, core.StatusNone, s.Inspect(dns, core.TransportTCP, 40000, 53).Status)

	m := s.Metrics()
	assert.Equal(t, uint64(2), m["http_complete"])
	assert.Equal(t, uint64(1), m["dns_messages"])
}

func TestSniffer_CustomPorts(t *testing.T) {
	s := New(core.SnifferConfig{HTTPPorts: []uint16{3000}, DNSPorts: []uint16{}})
	req := []byte("GET / HTTP/1.1\r\n\r\n")

	assert.Equal(t, core.StatusComplete, s.Inspect(req, core.TransportTCP, 3000, 1).Status)
	assert.Equal(t, core.StatusNone, s.Inspect(req, core.TransportTCP, 80, 1).Status)
	assert.Equal(t, core.StatusNone, s.Inspect(buildDNSQuery(t, 1, "x."), core.TransportUDP, 1, 53).Status)
}

func TestSniffer_MaxInspect(t *testing.T) {
	s := New(core.SnifferConfig{MaxInspect: 16})
	req := []byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n")

	app := s.Inspect(req, core.TransportTCP, 1, 80)
	assert.Equal(t, core.StatusIncomplete, app.Status)
	assert.Equal(t, uint64(1), s.Metrics()["http_incomplete"])
}

func TestSniffer_ErrorsAreSoft(t *testing.T) {
	s := New(DefaultConfig())

	app := s.Inspect([]byte{0x16, 0x03, 0x01}, core.TransportTCP, 1, 8888)
	assert.Equal(t, core.StatusError, app.Status)

	app = s.Inspect([]byte{0xff}, core.TransportUDP, 53, 1)
	assert.Equal(t, core.StatusError, app.Status)

	m := s.Metrics()
	assert.Equal(t, uint64(1), m["http_errors"])
	assert.Equal(t, uint64(1), m["dns_errors"])
}
