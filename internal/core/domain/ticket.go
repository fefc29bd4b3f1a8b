package domain

import "time"

type TicketState string

const (
	TicketOpen   TicketState = "OPEN"
	TicketClosed TicketState = "CLOSED"
)

// ChannelSpec describes a restricted channel to create for a ticket.
type ChannelSpec struct {
	Name       string   `json:"name"`
	CategoryID string   `json:"categoryId,omitempty"`
	Members    []string `json:"members"`
	Roles      []string `json:"roles,omitempty"`
}

type Ticket struct {
	ID          string      `json:"id"`
	ItemName    string      `json:"itemName"`
	Initiator   string      `json:"initiator"`
	ChannelID   string      `json:"channelId"`
	Notice      MessageRef  `json:"notice"`
	State       TicketState `json:"state"`
	DeleteEmoji string      `json:"deleteEmoji"`
	OpenedAt    time.Time   `json:"openedAt"`
	ClosedAt    time.Time   `json:"closedAt,omitempty"`
	ClosedBy    string      `json:"closedBy,omitempty"`
	Deadline    time.Time   `json:"deadline"`
	// Watching is false once the workflow stopped waiting, either because the
	// ticket closed or because the deadline passed with the channel left open.
	Watching bool `json:"watching"`
}
