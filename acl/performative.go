package acl

import "fmt"

// Performative is the communicative act of a message.
type Performative string

// The FIPA communicative acts.
const (
	AcceptProposal  Performative = "accept-proposal"
	Agree           Performative = "agree"
	Cancel          Performative = "cancel"
	CFP             Performative = "cfp"
	Confirm         Performative = "confirm"
	Disconfirm      Performative = "disconfirm"
	Failure         Performative = "failure"
	Inform          Performative = "inform"
	InformIf        Performative = "inform-if"
	InformRef       Performative = "inform-ref"
	NotUnderstood   Performative = "not-understood"
	Propagate       Performative = "propagate"
	Propose         Performative = "propose"
	Proxy           Performative = "proxy"
	QueryIf         Performative = "query-if"
	QueryRef        Performative = "query-ref"
	Refuse          Performative = "refuse"
	RejectProposal  Performative = "reject-proposal"
	Request         Performative = "request"
	RequestWhen     Performative = "request-when"
	RequestWhenever Performative = "request-whenever"
	Subscribe       Performative = "subscribe"
)

var performatives = map[Performative]bool{
	AcceptProposal: true, Agree: true, Cancel: true, CFP: true, Confirm: true,
	Disconfirm: true, Failure: true, Inform: true, InformIf: true, InformRef: true,
	NotUnderstood: true, Propagate: true, Propose: true, Proxy: true, QueryIf: true,
	QueryRef: true, Refuse: true, RejectProposal: true, Request: true,
	RequestWhen: true, RequestWhenever: true, Subscribe: true,
}

// ParsePerformative validates a wire string.
func ParsePerformative(s string) (Performative, error) {
	p := Performative(s)
	if !performatives[p] {
		return "", fmt.Errorf("unknown performative %q", s)
	}
	return p, nil
}

// Valid reports whether p is one of the FIPA communicative acts.
func (p Performative) Valid() bool {
	return performatives[p]
}

func (p Performative) String() string {
	return string(p)
}
