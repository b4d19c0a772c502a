package domain

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// SeatReservation is the durable uniqueness lock for one seat within a
// (event, ticket type) scope. The row is created only by the atomic
// seat-assignment batch and never updated afterwards.
type SeatReservation struct {
	SeatKey    string
	EventID    string
	TicketType string
	SeatNumber string
	TicketID   string
	OrderID    string
	ReservedAt time.Time
}

// NewSeatReservation builds the lock row for a claimed seat.
func NewSeatReservation(eventID, ticketType, seatNumber, ticketID, orderID string, now time.Time) SeatReservation {
	return SeatReservation{
		SeatKey:    SeatKey(eventID, ticketType, seatNumber),
		EventID:    eventID,
		TicketType: ticketType,
		SeatNumber: seatNumber,
		TicketID:   ticketID,
		OrderID:    orderID,
		ReservedAt: now,
	}
}

// TicketStateTransitionAudit records one attempted ticket transition,
// successful or not. Rows are append-only.
type TicketStateTransitionAudit struct {
	ID          string
	TicketID    string
	FromStatus  string
	ToStatus    string
	At          time.Time
	PerformedBy string
	Reason      string
	Successful  bool
	Error       string
}

// NewTransitionAudit records a successful transition.
func NewTransitionAudit(ticketID string, from, to TicketStatus, by, reason string, now time.Time) TicketStateTransitionAudit {
	return TicketStateTransitionAudit{
		ID:          uuid.NewString(),
		TicketID:    ticketID,
		FromStatus:  string(from),
		ToStatus:    string(to),
		At:          now,
		PerformedBy: by,
		Reason:      reason,
		Successful:  true,
	}
}

// NewFailedTransitionAudit records a transition attempt that was rejected.
func NewFailedTransitionAudit(ticketID string, from, to TicketStatus, by, reason string, cause error, now time.Time) TicketStateTransitionAudit {
	a := NewTransitionAudit(ticketID, from, to, by, reason, now)
	a.Successful = false
	if cause != nil {
		a.Error = cause.Error()
	}
	return a
}

// DomainEvent is one entry of the per-aggregate journal. The (AggregateID,
// Version) pair is unique; appends race on it and lose cleanly.
type DomainEvent struct {
	AggregateID string
	Version     int64
	Type        string
	Payload     []byte
	At          time.Time
}

// JournalKey is the storage key of the entry.
func (e DomainEvent) JournalKey() string {
	return JournalKey(e.AggregateID, e.Version)
}

// JournalKey builds the journal storage key "{aggregate_id}#{version}".
func JournalKey(aggregateID string, version int64) string {
	return aggregateID + "#" + strconv.FormatInt(version, 10)
}
