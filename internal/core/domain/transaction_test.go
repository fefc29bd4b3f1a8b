package domain

import (
	"errors"
	"testing"
	"time"
)

func TestTransaction_Transition(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name    string
		from    TransactionState
		to      TransactionState
		wantErr bool
	}{
		{"created to awaiting proof", StateCreated, StateAwaitingProof, false},
		{"proof to acknowledgment", StateAwaitingProof, StateAwaitingAcknowledgment, false},
		{"acknowledgment to activated", StateAwaitingAcknowledgment, StateActivated, false},
		{"proof timeout voids", StateAwaitingProof, StateVoided, false},
		{"created voids", StateCreated, StateVoided, false},
		{"skip acknowledgment", StateAwaitingProof, StateActivated, true},
		{"created straight to activated", StateCreated, StateActivated, true},
		{"activated is terminal", StateActivated, StateVoided, true},
		{"voided is terminal", StateVoided, StateAwaitingProof, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txn := &Transaction{State: tt.from}
			err := txn.Transition(tt.to, at)

			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("expected ErrInvalidTransition, got %v", err)
				}
				if txn.State != tt.from {
					t.Errorf("state changed to %s on a rejected transition", txn.State)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if txn.State != tt.to || !txn.UpdatedAt.Equal(at) {
				t.Errorf("got state %s updated %v", txn.State, txn.UpdatedAt)
			}
		})
	}
}

func TestTransactionState_Terminal(t *testing.T) {
	for _, s := range []TransactionState{StateCreated, StateAwaitingProof, StateAwaitingAcknowledgment} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	if !StateActivated.Terminal() || !StateVoided.Terminal() {
		t.Error("activated and voided must be terminal")
	}
}

func TestTransaction_CloneCopiesLinks(t *testing.T) {
	txn := &Transaction{Links: []string{"a", "b"}}
	c := txn.Clone()
	c.Links[0] = "changed"

	if txn.Links[0] != "a" {
		t.Errorf("clone shares links with the original")
	}
}
