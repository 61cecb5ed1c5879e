package messenger

import (
	"encoding/json"
	"time"

	"github.com/thanhhuynhk17/messenger-agent/internal/domain"
)

// Payload is the Messenger webhook envelope: a platform discriminator plus a
// list of page entries, each carrying messaging events.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID        string  `json:"id"`
	Time      int64   `json:"time"`
	Messaging []Event `json:"messaging"`
}

// Event is one raw messaging event. Delivery and read receipts arrive on the
// same webhook as user messages and are told apart by which field is set.
type Event struct {
	Sender    *Party          `json:"sender,omitempty"`
	Recipient *Party          `json:"recipient,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Message   *Message        `json:"message,omitempty"`
	Delivery  json.RawMessage `json:"delivery,omitempty"`
	Read      json.RawMessage `json:"read,omitempty"`
}

type Party struct {
	ID string `json:"id"`
}

type Message struct {
	MID         string       `json:"mid,omitempty"`
	Text        string       `json:"text,omitempty"`
	IsEcho      bool         `json:"is_echo,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type Attachment struct {
	Type string `json:"type,omitempty"`
}

// Events flattens the envelope into normalized inbound events. Raw events
// that carry neither a message nor a delivery/read marker have nothing to
// route and are dropped here.
func (p *Payload) Events() []domain.InboundEvent {
	var out []domain.InboundEvent
	for _, entry := range p.Entry {
		for _, raw := range entry.Messaging {
			ev, ok := normalize(raw)
			if !ok {
				continue
			}
			out = append(out, ev)
		}
	}
	return out
}

func normalize(raw Event) (domain.InboundEvent, bool) {
	ev := domain.InboundEvent{}
	if raw.Sender != nil {
		ev.SenderID = raw.Sender.ID
	}
	if raw.Timestamp > 0 {
		ev.Timestamp = time.UnixMilli(raw.Timestamp)
	}

	if raw.Delivery != nil || raw.Read != nil {
		ev.Notification = true
		return ev, true
	}
	if raw.Message == nil {
		return domain.InboundEvent{}, false
	}

	ev.MessageID = raw.Message.MID
	ev.Echo = raw.Message.IsEcho
	if raw.Message.Text != "" {
		ev.Kind = domain.KindText
		ev.Text = raw.Message.Text
	} else {
		ev.Kind = domain.KindUnsupported
	}
	return ev, true
}
