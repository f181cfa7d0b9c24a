package acl

import "testing"

func TestTemplates(t *testing.T) {
	sender := MustAID("s@p")
	replyTo := MustAID("r@p")
	msg := &Message{
		Performative:   Inform,
		Sender:         &sender,
		ReplyTo:        &replyTo,
		Receiver:       ToAll(MustAID("a@p"), MustAID("b@p")),
		Language:       "fipa-sl",
		Encoding:       "utf-8",
		Ontology:       "demo",
		Protocol:       "fipa-request",
		ConversationID: "c-1",
		ReplyWith:      "rw",
		InReplyTo:      "irt",
		Custom:         map[string]any{"X-n": []int{1, 2}},
	}

	tests := []struct {
		name string
		tmpl Template
		want bool
	}{
		{"all", All(), true},
		{"performative", ByPerformative(Inform), true},
		{"performative_miss", ByPerformative(Request), false},
		{"sender", BySender(MustAID("s@p", "ws://x/s")), true},
		{"sender_miss", BySender(MustAID("x@p")), false},
		{"reply_to", ByReplyTo(replyTo), true},
		{"receiver", ByReceiver(MustAID("b@p")), true},
		{"receiver_miss", ByReceiver(MustAID("c@p")), false},
		{"conversation", ByConversationID("c-1"), true},
		{"encoding", ByEncoding("utf-8"), true},
		{"in_reply_to", ByInReplyTo("irt"), true},
		{"language", ByLanguage("fipa-sl"), true},
		{"ontology", ByOntology("demo"), true},
		{"protocol", ByProtocol("fipa-request"), true},
		{"reply_with", ByReplyWith("rw"), true},
		{"custom", ByCustom("n", []int{1, 2}), true},
		{"custom_prefixed", ByCustom("X-n", []int{1, 2}), true},
		{"custom_miss", ByCustom("n", []int{1}), false},
		{"custom_absent", ByCustom("missing", nil), false},
		{"and", And(ByPerformative(Inform), ByOntology("demo")), true},
		{"and_miss", And(ByPerformative(Inform), ByOntology("x"), All()), false},
		{"or", Or(ByPerformative(Request), ByOntology("demo")), true},
		{"or_miss", Or(ByPerformative(Request), ByOntology("x")), false},
		{"not", Not(ByPerformative(Request)), true},
		{"func", TemplateFunc(func(m *Message) bool { return m.Language != "" }), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tmpl.Apply(msg); got != tt.want {
				t.Errorf("Apply() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBySender_NoSender(t *testing.T) {
	if BySender(MustAID("s@p")).Apply(&Message{Performative: Inform}) {
		t.Error("BySender should not match a message without sender")
	}
}
