package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/rl1809/vouch-desk/internal/core/domain"
)

// HumanHours renders a duration in whole hours, e.g. "24 HOURS".
func HumanHours(d time.Duration) string {
	return fmt.Sprintf("%d HOURS", int64(d/time.Hour))
}

// FormatDeadline renders t as "2006-01-02 03:04 PM" in loc.
func FormatDeadline(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02 03:04 PM")
}

func orderFields(txn domain.Transaction) []domain.Field {
	return []domain.Field{
		{Name: "Item", Value: txn.ItemName},
		{Name: "Quantity", Value: fmt.Sprintf("%d", txn.Quantity)},
		{Name: "Reference Code", Value: txn.ReferenceCode},
	}
}

func activationNotice(txn domain.Transaction) domain.Notice {
	var b strings.Builder
	fmt.Fprintf(&b, "%s - x%d\n", txn.ItemName, txn.Quantity)
	fmt.Fprintf(&b, "Reference Code: %s\n\n", txn.ReferenceCode)
	fmt.Fprintf(&b, "Vouch in the vouch channel within %s to activate your warranty.\n", HumanHours(txn.Terms.ProofWindow))
	b.WriteString("No vouch = no warranty.")
	if len(txn.Links) > 0 {
		b.WriteString("\n\n(links)\n")
		for _, link := range txn.Links {
			fmt.Fprintf(&b, "||`%s`||\n", link)
		}
	}

	return domain.Notice{
		Kind:   domain.NoticeActivation,
		Title:  "A message has been received",
		Body:   b.String(),
		Status: domain.StatusInfo,
	}
}

func statusNotice(txn domain.Transaction, status domain.Status, loc *time.Location) domain.Notice {
	body := fmt.Sprintf(
		"The warranty activation has been sent to %s.\n\n"+
			"The warranty will be AUTOMATICALLY voided if %s doesn't vouch in %s within %s.",
		txn.Counterparty, txn.Counterparty, txn.Terms.InboundChannel, HumanHours(txn.Terms.ProofWindow),
	)

	fields := append(orderFields(txn),
		domain.Field{Name: "Due Date", Value: FormatDeadline(txn.Deadline, loc)},
		domain.Field{Name: "Verifier", Value: txn.Initiator},
	)

	return domain.Notice{
		Kind:   domain.NoticeStatus,
		Title:  "Warranty Activation",
		Body:   body,
		Status: status,
		Fields: fields,
	}
}

func reviewNotice(txn domain.Transaction) domain.Notice {
	body := fmt.Sprintf(
		"The user %s has sent an image in the vouch channel.\n\n"+
			"Before locking the order, check that the reference code is visible in the screenshot.",
		txn.Counterparty,
	)
	if txn.ProofLink != "" {
		body += "\n\nView Image: " + txn.ProofLink
	}

	var mentions []string
	if txn.Terms.SupervisorRole != "" {
		mentions = []string{txn.Terms.SupervisorRole}
	}

	return domain.Notice{
		Kind:     domain.NoticeReview,
		Title:    "Vouch Notification",
		Body:     body,
		Status:   domain.StatusReview,
		Fields:   orderFields(txn),
		Mentions: mentions,
		Affordances: []domain.Affordance{{
			Emoji:   txn.Terms.LockEmoji,
			Action:  domain.ActionAcknowledge,
			Payload: txn.ReferenceCode,
		}},
	}
}

func activatedNotice(txn domain.Transaction) domain.Notice {
	body := fmt.Sprintf("The user %s has successfully vouched.", txn.Counterparty)
	if txn.ProofLink != "" {
		body += "\n\nView Image: " + txn.ProofLink
	}

	return domain.Notice{
		Kind:   domain.NoticeActivated,
		Title:  "Warranty Activated",
		Body:   body,
		Status: domain.StatusSuccess,
		Fields: append(orderFields(txn), domain.Field{Name: "Verified by", Value: txn.AcknowledgedBy}),
	}
}

func voidedNotice(txn domain.Transaction, verifier string) domain.Notice {
	return domain.Notice{
		Kind:  domain.NoticeVoided,
		Title: "Warranty Voided",
		Body: fmt.Sprintf("The user %s did not submit a vouch or image within the provided %s time.",
			txn.Counterparty, HumanHours(txn.Terms.ProofWindow)),
		Status: domain.StatusFailure,
		Fields: []domain.Field{
			{Name: "Reference Code", Value: txn.ReferenceCode},
			{Name: "Verified by", Value: verifier},
		},
	}
}

func ticketWelcomeNotice(ticket domain.Ticket, supervisorRole string) domain.Notice {
	mentions := []string{ticket.Initiator}
	if supervisorRole != "" {
		mentions = append(mentions, supervisorRole)
	}

	return domain.Notice{
		Kind:  domain.NoticeTicketWelcome,
		Title: "Welcome to your ticket!",
		Body: fmt.Sprintf(
			"Hey there %s! One of our moderators will be with you shortly.\n\n"+
				"If you change your mind and want to delete this ticket, react with the `%s` emoji.",
			ticket.Initiator, ticket.DeleteEmoji,
		),
		Status:   domain.StatusInfo,
		Fields:   []domain.Field{{Name: "Order", Value: ticket.ItemName}},
		Mentions: mentions,
		Affordances: []domain.Affordance{{
			Emoji:   ticket.DeleteEmoji,
			Action:  domain.ActionCloseTicket,
			Payload: ticket.ID,
		}},
	}
}

// TicketChannelName follows the "<initiator>-<item>-ticket" convention.
func TicketChannelName(initiator, item string) string {
	return fmt.Sprintf("%s-%s-ticket", initiator, item)
}
