package domain

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidTransition = errors.New("invalid state transition")

// TransactionState is the lifecycle state of a warranty transaction.
type TransactionState string

const (
	StateCreated                TransactionState = "CREATED"
	StateAwaitingProof          TransactionState = "AWAITING_PROOF"
	StateAwaitingAcknowledgment TransactionState = "AWAITING_ACKNOWLEDGMENT"
	StateActivated              TransactionState = "ACTIVATED" // terminal, success
	StateVoided                 TransactionState = "VOIDED"    // terminal, failure
)

var transitions = map[TransactionState][]TransactionState{
	StateCreated:                {StateAwaitingProof, StateVoided},
	StateAwaitingProof:          {StateAwaitingAcknowledgment, StateVoided},
	StateAwaitingAcknowledgment: {StateActivated, StateVoided},
}

// Terminal reports whether no further transition is possible.
func (s TransactionState) Terminal() bool {
	return s == StateActivated || s == StateVoided
}

// CanTransition reports whether s -> to is part of the warranty state machine.
func (s TransactionState) CanTransition(to TransactionState) bool {
	for _, dst := range transitions[s] {
		if dst == to {
			return true
		}
	}
	return false
}

// Terms are the settings captured when a transaction is created. They are
// never refreshed, so a settings change does not touch a running transaction.
type Terms struct {
	ProofWindow    time.Duration `json:"proofWindow"`
	InboundChannel string        `json:"inboundChannel"`
	ReviewChannel  string        `json:"reviewChannel"`
	SupervisorRole string        `json:"supervisorRole"`
	LockEmoji      string        `json:"lockEmoji"`
}

// Transaction is one reservation-to-resolution run of the warranty workflow.
type Transaction struct {
	ReferenceCode string           `json:"referenceCode"`
	ItemName      string           `json:"itemName"`
	Quantity      int              `json:"quantity"`
	Initiator     string           `json:"initiator"`
	Counterparty  string           `json:"counterparty"`
	Links         []string         `json:"links,omitempty"`
	State         TransactionState `json:"state"`
	Terms         Terms            `json:"terms"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
	Deadline      time.Time        `json:"deadline"`

	// Message references used to edit or correlate notices.
	ActivationNotice MessageRef `json:"activationNotice,omitempty"`
	StatusNotice     MessageRef `json:"statusNotice,omitempty"`
	ReviewNotice     MessageRef `json:"reviewNotice,omitempty"`
	ProofLink        string     `json:"proofLink,omitempty"`
	AcknowledgedBy   string     `json:"acknowledgedBy,omitempty"`

	// Stalled is set when a notice was rejected and the workflow stopped
	// without advancing. Only an operator can move it on.
	Stalled   bool   `json:"stalled"`
	LastError string `json:"lastError,omitempty"`
}

// Transition moves the transaction to the next state.
func (t *Transaction) Transition(to TransactionState, at time.Time) error {
	if !t.State.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.State, to)
	}
	t.State = to
	t.UpdatedAt = at
	return nil
}

// Clone returns a copy that shares no mutable memory with t.
func (t *Transaction) Clone() Transaction {
	c := *t
	if t.Links != nil {
		c.Links = append([]string(nil), t.Links...)
	}
	return c
}
