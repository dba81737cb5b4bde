package gateway

import (
	"encoding/json"

	"github.com/matheus3301/courier/internal/api"
	"github.com/matheus3301/courier/internal/hub"
	"github.com/matheus3301/courier/internal/identity"
	"github.com/matheus3301/courier/internal/store"
	"github.com/matheus3301/courier/internal/view"
)

// Client frame types.
const (
	frameOpen  = "open"
	frameBack  = "back"
	frameSend  = "send"
	frameStart = "start"
)

// Server frame types.
const (
	frameState           = "state"
	frameSummaries       = "summaries"
	frameSummaryChanged  = "summary_changed"
	frameMessages        = "messages"
	frameMessageAppended = "message_appended"
	frameSent            = "sent"
	frameConversation    = "conversation"
	frameError           = "error"
)

type inboundFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Content        string `json:"content,omitempty"`
	PeerID         string `json:"peer_id,omitempty"`
}

type outboundFrame struct {
	Type           string            `json:"type"`
	State          string            `json:"state,omitempty"`
	From           string            `json:"from,omitempty"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Summaries      []api.Summary     `json:"summaries,omitempty"`
	Summary        *api.Summary      `json:"summary,omitempty"`
	Messages       []api.Message     `json:"messages,omitempty"`
	Message        *api.Message      `json:"message,omitempty"`
	Conversation   *api.Conversation `json:"conversation,omitempty"`
	Request        string            `json:"request,omitempty"`
	Code           string            `json:"code,omitempty"`
	Error          string            `json:"error,omitempty"`
}

func (c *Connection) sendFrame(f outboundFrame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return c.Send(payload)
}

// frameWriter renders view.Session output as websocket frames.
type frameWriter struct {
	conn *Connection
	dir  *identity.Directory
}

func (w *frameWriter) StateChanged(ch view.Change) error {
	return w.conn.sendFrame(outboundFrame{
		Type:           frameState,
		State:          string(ch.To),
		From:           string(ch.From),
		ConversationID: ch.ConversationID,
	})
}

func (w *frameWriter) Summaries(sums []store.Summary) error {
	return w.conn.sendFrame(outboundFrame{
		Type:      frameSummaries,
		Summaries: api.SummariesFrom(sums, w.dir),
	})
}

func (w *frameWriter) SummaryChanged(e hub.SummaryChanged) error {
	s := api.SummaryFrom(e.Summary, w.dir)
	return w.conn.sendFrame(outboundFrame{
		Type:           frameSummaryChanged,
		ConversationID: s.ConversationID,
		Summary:        &s,
	})
}

func (w *frameWriter) Thread(conversationID string, msgs []store.Message) error {
	return w.conn.sendFrame(outboundFrame{
		Type:           frameMessages,
		ConversationID: conversationID,
		Messages:       api.MessagesFrom(msgs),
	})
}

func (w *frameWriter) MessageAppended(e hub.MessageAppended) error {
	m := api.MessageFrom(e.Message)
	return w.conn.sendFrame(outboundFrame{
		Type:           frameMessageAppended,
		ConversationID: e.ConversationID,
		Message:        &m,
	})
}
