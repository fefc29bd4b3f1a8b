package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rl1809/vouch-desk/internal/core/domain"
	"github.com/rl1809/vouch-desk/internal/port"
)

// Schema creates the outcome tables. Executed statement by statement by
// Migrate.
const Schema = `
CREATE TABLE IF NOT EXISTS warranty_transactions (
	reference_code  VARCHAR(32)  NOT NULL PRIMARY KEY,
	item_name       VARCHAR(255) NOT NULL,
	quantity        INT          NOT NULL,
	initiator       VARCHAR(64)  NOT NULL,
	counterparty    VARCHAR(64)  NOT NULL,
	links           TEXT         NOT NULL,
	state           VARCHAR(32)  NOT NULL,
	deadline        DATETIME(3)  NOT NULL,
	proof_link      TEXT         NOT NULL,
	acknowledged_by VARCHAR(64)  NOT NULL,
	stalled         BOOLEAN      NOT NULL DEFAULT FALSE,
	last_error      TEXT         NOT NULL,
	created_at      DATETIME(3)  NOT NULL,
	updated_at      DATETIME(3)  NOT NULL
);
CREATE TABLE IF NOT EXISTS tickets (
	id         VARCHAR(64)  NOT NULL PRIMARY KEY,
	item_name  VARCHAR(255) NOT NULL,
	initiator  VARCHAR(64)  NOT NULL,
	channel_id VARCHAR(64)  NOT NULL,
	state      VARCHAR(16)  NOT NULL,
	watching   BOOLEAN      NOT NULL,
	closed_by  VARCHAR(64)  NOT NULL,
	opened_at  DATETIME(3)  NOT NULL,
	closed_at  DATETIME(3)  NULL,
	deadline   DATETIME(3)  NOT NULL
)`

// MySQLAdapter records transaction and ticket outcomes.
type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(Schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) SaveTransaction(ctx context.Context, txn domain.Transaction) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO warranty_transactions (
			reference_code, item_name, quantity, initiator, counterparty, links, state,
			deadline, proof_link, acknowledged_by, stalled, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			state = VALUES(state),
			proof_link = VALUES(proof_link),
			acknowledged_by = VALUES(acknowledged_by),
			stalled = VALUES(stalled),
			last_error = VALUES(last_error),
			updated_at = VALUES(updated_at)`,
		txn.ReferenceCode, txn.ItemName, txn.Quantity, txn.Initiator, txn.Counterparty,
		strings.Join(txn.Links, "\n"), string(txn.State), txn.Deadline, txn.ProofLink,
		txn.AcknowledgedBy, txn.Stalled, txn.LastError, txn.CreatedAt, txn.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save transaction %s: %w", txn.ReferenceCode, err)
	}
	return nil
}

func (m *MySQLAdapter) FindTransaction(ctx context.Context, referenceCode string) (domain.Transaction, error) {
	var (
		txn   domain.Transaction
		links string
		state string
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT reference_code, item_name, quantity, initiator, counterparty, links, state,
			deadline, proof_link, acknowledged_by, stalled, last_error, created_at, updated_at
		FROM warranty_transactions WHERE reference_code = ?`, referenceCode,
	).Scan(&txn.ReferenceCode, &txn.ItemName, &txn.Quantity, &txn.Initiator, &txn.Counterparty,
		&links, &state, &txn.Deadline, &txn.ProofLink, &txn.AcknowledgedBy, &txn.Stalled,
		&txn.LastError, &txn.CreatedAt, &txn.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return domain.Transaction{}, port.ErrRecordNotFound
	}
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("query transaction: %w", err)
	}

	txn.State = domain.TransactionState(state)
	if links != "" {
		txn.Links = strings.Split(links, "\n")
	}
	return txn, nil
}

func (m *MySQLAdapter) SaveTicket(ctx context.Context, ticket domain.Ticket) error {
	var closedAt sql.NullTime
	if !ticket.ClosedAt.IsZero() {
		closedAt = sql.NullTime{Time: ticket.ClosedAt, Valid: true}
	}

	_, err := m.db.ExecContext(ctx, `
		INSERT INTO tickets (
			id, item_name, initiator, channel_id, state, watching, closed_by, opened_at, closed_at, deadline)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			state = VALUES(state),
			watching = VALUES(watching),
			closed_by = VALUES(closed_by),
			closed_at = VALUES(closed_at)`,
		ticket.ID, ticket.ItemName, ticket.Initiator, ticket.ChannelID, string(ticket.State),
		ticket.Watching, ticket.ClosedBy, ticket.OpenedAt, closedAt, ticket.Deadline,
	)
	if err != nil {
		return fmt.Errorf("save ticket %s: %w", ticket.ID, err)
	}
	return nil
}

func (m *MySQLAdapter) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}
