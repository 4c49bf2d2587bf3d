package sniff

import (
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/dns/dnsmessage"

	"github.com/irctrakz/tunsnoop/pkg/core"
)

// ParseDNS decodes the header, question section and answer count of a DNS
// message.
func ParseDNS(b []byte) core.AppSummary {
	s := core.AppSummary{Kind: core.AppDNS}

	var p dnsmessage.Parser
	h, err := p.Start(b)
	if err != nil {
		return dnsError(s, err)
	}

	qs, err := p.AllQuestions()
	if err != nil {
		return dnsError(s, err)
	}

	d := &core.DNSSummary{
		ID:       h.ID,
		Response: h.Response,
		OpCode:   int(h.OpCode),
		RCode:    strings.TrimPrefix(h.RCode.String(), "RCode"),
	}
	for _, q := range qs {
		d.Questions = append(d.Questions, q.Name.String()+" "+strings.TrimPrefix(q.Type.String(), "Type"))
	}

	for {
		if _, err := p.AnswerHeader(); err != nil {
			if err != dnsmessage.ErrSectionDone {
				// Answers past a malformed record are not counted.
				s.Err = errors.Wrap(err, "dns answers")
			}
			break
		}
		if err := p.SkipAnswer(); err != nil {
			s.Err = errors.Wrap(err, "dns answers")
			break
		}
		d.Answers++
	}

	s.DNS = d
	s.Status = core.StatusComplete
	return s
}

func dnsError(s core.AppSummary, err error) core.AppSummary {
	s.Status = core.StatusError
	s.Err = errors.Wrap(core.ErrNotDNS, err.Error())
	return s
}
