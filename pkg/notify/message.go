package notify

import (
	"encoding/json"
	"fmt"
)

// StatusConnected is the only connection_status value the server sends.
const StatusConnected = "connected"

// Message is the JSON wire shape of every server-to-client frame.
type Message struct {
	Type         Kind   `json:"type"`
	Status       string `json:"status,omitempty"`
	Message      string `json:"message,omitempty"`
	Notification any    `json:"notification,omitempty"`
}

// notificationFrame always carries the notification key, null included.
type notificationFrame struct {
	Type         Kind `json:"type"`
	Notification any  `json:"notification"`
}

// MarshalJSON writes the notification key for every notification message,
// so clients can rely on it being present.
func (m Message) MarshalJSON() ([]byte, error) {
	if m.Type == KindNotification {
		return json.Marshal(notificationFrame{Type: m.Type, Notification: m.Notification})
	}
	type plain Message
	return json.Marshal(plain(m))
}

// ConnectedMessage builds the handshake confirmation sent once after admission.
func ConnectedMessage(text string) Message {
	return Message{Type: KindConnectionStatus, Status: StatusConnected, Message: text}
}

// MessageFor maps an Event onto its wire message.
func MessageFor(e Event) (Message, error) {
	switch e.Kind {
	case KindNotification:
		return Message{Type: KindNotification, Notification: e.Payload}, nil
	case KindRefresh:
		// Refresh carries no body even if a payload was attached.
		return Message{Type: KindRefresh}, nil
	case KindConnectionStatus:
		text, _ := e.Payload.(string)
		return ConnectedMessage(text), nil
	default:
		return Message{}, fmt.Errorf("unknown event kind %q", e.Kind)
	}
}

// Encode serializes an Event into its JSON wire frame.
func Encode(e Event) ([]byte, error) {
	msg, err := MessageFor(e)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", e.Kind, err)
	}
	return data, nil
}
