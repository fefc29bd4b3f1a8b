package domain

import "time"

type ChangeKind string

const (
	ChangeTransaction ChangeKind = "transaction"
	ChangeTicket      ChangeKind = "ticket"
)

// Change is emitted whenever a transaction or ticket record is updated.
type Change struct {
	Kind        ChangeKind   `json:"kind"`
	Transaction *Transaction `json:"transaction,omitempty"`
	Ticket      *Ticket      `json:"ticket,omitempty"`
	At          time.Time    `json:"at"`
}
