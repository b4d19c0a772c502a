package repository

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ticketops/boxoffice/internal/domain"
	"github.com/ticketops/boxoffice/internal/kv"
)

// Stored record shapes. The wire format is fixed for interop with existing
// rows: timestamps are unsigned Unix epoch seconds, money is a decimal string
// plus an ISO 4217 code, statuses are upper-snake strings. Optional fields
// are omitted when empty.

type moneyRecord struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func encodeMoney(m domain.Money) moneyRecord {
	return moneyRecord{Amount: m.AmountString(), Currency: m.Currency}
}

func decodeMoney(r moneyRecord) (domain.Money, error) {
	return domain.NewMoney(r.Amount, r.Currency)
}

func encodeTime(t time.Time) uint64 {
	if t.IsZero() || t.Unix() < 0 {
		return 0
	}
	return uint64(t.Unix())
}

func decodeTime(sec uint64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(int64(sec), 0).UTC()
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

type eventRecord struct {
	EventID       string `json:"event_id"`
	Name          string `json:"name"`
	Venue         string `json:"venue"`
	EventDate     uint64 `json:"event_date"`
	TotalCapacity int    `json:"total_capacity"`
	Available     int    `json:"available"`
	Reserved      int    `json:"reserved"`
	Sold          int    `json:"sold"`
	Status        string `json:"status"`
	Version       int64  `json:"version"`
}

func eventItem(e domain.Event) (kv.Item, error) {
	doc, err := json.Marshal(eventRecord{
		EventID:       e.ID,
		Name:          e.Name,
		Venue:         e.Venue,
		EventDate:     encodeTime(e.EventDate),
		TotalCapacity: e.TotalCapacity,
		Available:     e.Available,
		Reserved:      e.Reserved,
		Sold:          e.Sold,
		Status:        string(e.Status),
		Version:       e.Version,
	})
	if err != nil {
		return kv.Item{}, fmt.Errorf("marshal event: %w", err)
	}
	return kv.Item{
		Key: e.ID,
		Doc: doc,
		Attrs: map[string]string{
			kv.AttrVersion: formatInt(e.Version),
		},
	}, nil
}

func decodeEvent(doc []byte) (domain.Event, error) {
	var r eventRecord
	if err := json.Unmarshal(doc, &r); err != nil {
		return domain.Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return domain.Event{
		ID:            r.EventID,
		Name:          r.Name,
		Venue:         r.Venue,
		EventDate:     decodeTime(r.EventDate),
		TotalCapacity: r.TotalCapacity,
		Available:     r.Available,
		Reserved:      r.Reserved,
		Sold:          r.Sold,
		Status:        domain.EventStatus(r.Status),
		Version:       r.Version,
	}, nil
}

type inventoryRecord struct {
	EventID    string      `json:"event_id"`
	TicketType string      `json:"ticket_type"`
	EventName  string      `json:"event_name"`
	Total      int         `json:"total"`
	Available  int         `json:"available"`
	Reserved   int         `json:"reserved"`
	Sold       int         `json:"sold"`
	Price      moneyRecord `json:"price"`
	Version    int64       `json:"version"`
}

// InventoryKey builds the composite storage key of an inventory row.
func InventoryKey(eventID, ticketType string) string {
	return eventID + "#" + ticketType
}

func inventoryItem(inv domain.TicketInventory) (kv.Item, error) {
	doc, err := json.Marshal(inventoryRecord{
		EventID:    inv.EventID,
		TicketType: inv.TicketType,
		EventName:  inv.EventName,
		Total:      inv.Total,
		Available:  inv.Available,
		Reserved:   inv.Reserved,
		Sold:       inv.Sold,
		Price:      encodeMoney(inv.Price),
		Version:    inv.Version,
	})
	if err != nil {
		return kv.Item{}, fmt.Errorf("marshal inventory: %w", err)
	}
	return kv.Item{
		Key: InventoryKey(inv.EventID, inv.TicketType),
		Doc: doc,
		Attrs: map[string]string{
			kv.AttrVersion: formatInt(inv.Version),
			attrEventID:    inv.EventID,
		},
	}, nil
}

func decodeInventory(doc []byte) (domain.TicketInventory, error) {
	var r inventoryRecord
	if err := json.Unmarshal(doc, &r); err != nil {
		return domain.TicketInventory{}, fmt.Errorf("unmarshal inventory: %w", err)
	}
	price, err := decodeMoney(r.Price)
	if err != nil {
		return domain.TicketInventory{}, fmt.Errorf("unmarshal inventory price: %w", err)
	}
	return domain.TicketInventory{
		EventID:    r.EventID,
		TicketType: r.TicketType,
		EventName:  r.EventName,
		Total:      r.Total,
		Available:  r.Available,
		Reserved:   r.Reserved,
		Sold:       r.Sold,
		Price:      price,
		Version:    r.Version,
	}, nil
}

type orderRecord struct {
	OrderID     string      `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	CustomerID  string      `json:"customer_id"`
	EventID     string      `json:"event_id"`
	EventName   string      `json:"event_name"`
	Status      string      `json:"status"`
	TotalAmount moneyRecord `json:"total_amount"`
	CreatedAt   uint64      `json:"created_at"`
	UpdatedAt   uint64      `json:"updated_at"`
	Version     int64       `json:"version"`
}

func orderItem(o domain.TicketOrder) (kv.Item, error) {
	doc, err := json.Marshal(orderRecord{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		CustomerID:  o.CustomerID,
		EventID:     o.EventID,
		EventName:   o.EventName,
		Status:      string(o.Status),
		TotalAmount: encodeMoney(o.TotalAmount),
		CreatedAt:   encodeTime(o.CreatedAt),
		UpdatedAt:   encodeTime(o.UpdatedAt),
		Version:     o.Version,
	})
	if err != nil {
		return kv.Item{}, fmt.Errorf("marshal order: %w", err)
	}
	return kv.Item{
		Key: o.ID,
		Doc: doc,
		Attrs: map[string]string{
			kv.AttrVersion: formatInt(o.Version),
			attrCustomerID: o.CustomerID,
			attrCreatedAt:  formatInt(int64(encodeTime(o.CreatedAt))),
		},
	}, nil
}

func decodeOrder(doc []byte) (domain.TicketOrder, error) {
	var r orderRecord
	if err := json.Unmarshal(doc, &r); err != nil {
		return domain.TicketOrder{}, fmt.Errorf("unmarshal order: %w", err)
	}
	total, err := decodeMoney(r.TotalAmount)
	if err != nil {
		return domain.TicketOrder{}, fmt.Errorf("unmarshal order total: %w", err)
	}
	return domain.TicketOrder{
		ID:          r.OrderID,
		OrderNumber: r.OrderNumber,
		CustomerID:  r.CustomerID,
		EventID:     r.EventID,
		EventName:   r.EventName,
		Status:      domain.OrderStatus(r.Status),
		TotalAmount: total,
		CreatedAt:   decodeTime(r.CreatedAt),
		UpdatedAt:   decodeTime(r.UpdatedAt),
		Version:     r.Version,
	}, nil
}

type ticketRecord struct {
	TicketID        string      `json:"ticket_id"`
	OrderID         string      `json:"order_id,omitempty"`
	ReservationID   string      `json:"reservation_id,omitempty"`
	EventID         string      `json:"event_id"`
	TicketType      string      `json:"ticket_type"`
	SeatNumber      string      `json:"seat_number,omitempty"`
	Price           moneyRecord `json:"price"`
	Status          string      `json:"status"`
	StatusChangedAt uint64      `json:"status_changed_at"`
	StatusChangedBy string      `json:"status_changed_by"`
}

func ticketItem(t domain.TicketItem) (kv.Item, error) {
	doc, err := json.Marshal(ticketRecord{
		TicketID:        t.ID,
		OrderID:         t.OrderID,
		ReservationID:   t.ReservationID,
		EventID:         t.EventID,
		TicketType:      t.TicketType,
		SeatNumber:      t.SeatNumber,
		Price:           encodeMoney(t.Price),
		Status:          string(t.Status),
		StatusChangedAt: encodeTime(t.StatusChangedAt),
		StatusChangedBy: t.StatusChangedBy,
	})
	if err != nil {
		return kv.Item{}, fmt.Errorf("marshal ticket: %w", err)
	}

	attrs := map[string]string{
		attrOrderID:     t.OrderID,
		attrReservation: t.ReservationID,
		attrScope:       domain.SeatScope(t.EventID, t.TicketType),
		attrStatus:      string(t.Status),
	}
	// Present only once assigned, so conditions on its absence work.
	if t.SeatNumber != "" {
		attrs[attrSeatNumber] = t.SeatNumber
	}
	return kv.Item{Key: t.ID, Doc: doc, Attrs: attrs}, nil
}

func decodeTicket(doc []byte) (domain.TicketItem, error) {
	var r ticketRecord
	if err := json.Unmarshal(doc, &r); err != nil {
		return domain.TicketItem{}, fmt.Errorf("unmarshal ticket: %w", err)
	}
	price, err := decodeMoney(r.Price)
	if err != nil {
		return domain.TicketItem{}, fmt.Errorf("unmarshal ticket price: %w", err)
	}
	return domain.TicketItem{
		ID:              r.TicketID,
		OrderID:         r.OrderID,
		ReservationID:   r.ReservationID,
		EventID:         r.EventID,
		TicketType:      r.TicketType,
		SeatNumber:      r.SeatNumber,
		Price:           price,
		Status:          domain.TicketStatus(r.Status),
		StatusChangedAt: decodeTime(r.StatusChangedAt),
		StatusChangedBy: r.StatusChangedBy,
	}, nil
}

type reservationRecord struct {
	ReservationID string `json:"reservation_id"`
	OrderID       string `json:"order_id"`
	EventID       string `json:"event_id"`
	TicketType    string `json:"ticket_type"`
	Quantity      int    `json:"quantity"`
	Status        string `json:"status"`
	ExpiresAt     uint64 `json:"expires_at"`
	CreatedAt     uint64 `json:"created_at"`
}

func reservationItem(r domain.TicketReservation) (kv.Item, error) {
	doc, err := json.Marshal(reservationRecord{
		ReservationID: r.ID,
		OrderID:       r.OrderID,
		EventID:       r.EventID,
		TicketType:    r.TicketType,
		Quantity:      r.Quantity,
		Status:        string(r.Status),
		ExpiresAt:     encodeTime(r.ExpiresAt),
		CreatedAt:     encodeTime(r.CreatedAt),
	})
	if err != nil {
		return kv.Item{}, fmt.Errorf("marshal reservation: %w", err)
	}
	return kv.Item{
		Key: r.ID,
		Doc: doc,
		Attrs: map[string]string{
			attrOrderID:   r.OrderID,
			attrStatus:    string(r.Status),
			attrExpiresAt: formatInt(int64(encodeTime(r.ExpiresAt))),
		},
	}, nil
}

func decodeReservation(doc []byte) (domain.TicketReservation, error) {
	var r reservationRecord
	if err := json.Unmarshal(doc, &r); err != nil {
		return domain.TicketReservation{}, fmt.Errorf("unmarshal reservation: %w", err)
	}
	return domain.TicketReservation{
		ID:         r.ReservationID,
		OrderID:    r.OrderID,
		EventID:    r.EventID,
		TicketType: r.TicketType,
		Quantity:   r.Quantity,
		Status:     domain.ReservationStatus(r.Status),
		ExpiresAt:  decodeTime(r.ExpiresAt),
		CreatedAt:  decodeTime(r.CreatedAt),
	}, nil
}

type seatRecord struct {
	SeatKey    string `json:"seat_key"`
	EventID    string `json:"event_id"`
	TicketType string `json:"ticket_type"`
	SeatNumber string `json:"seat_number"`
	TicketID   string `json:"ticket_id"`
	OrderID    string `json:"order_id"`
	ReservedAt uint64 `json:"reserved_at"`
}

func seatItem(s domain.SeatReservation) (kv.Item, error) {
	doc, err := json.Marshal(seatRecord{
		SeatKey:    s.SeatKey,
		EventID:    s.EventID,
		TicketType: s.TicketType,
		SeatNumber: s.SeatNumber,
		TicketID:   s.TicketID,
		OrderID:    s.OrderID,
		ReservedAt: encodeTime(s.ReservedAt),
	})
	if err != nil {
		return kv.Item{}, fmt.Errorf("marshal seat reservation: %w", err)
	}
	return kv.Item{
		Key: s.SeatKey,
		Doc: doc,
		Attrs: map[string]string{
			attrScope: domain.SeatScope(s.EventID, s.TicketType),
		},
	}, nil
}

func decodeSeat(doc []byte) (domain.SeatReservation, error) {
	var r seatRecord
	if err := json.Unmarshal(doc, &r); err != nil {
		return domain.SeatReservation{}, fmt.Errorf("unmarshal seat reservation: %w", err)
	}
	return domain.SeatReservation{
		SeatKey:    r.SeatKey,
		EventID:    r.EventID,
		TicketType: r.TicketType,
		SeatNumber: r.SeatNumber,
		TicketID:   r.TicketID,
		OrderID:    r.OrderID,
		ReservedAt: decodeTime(r.ReservedAt),
	}, nil
}

type customerRecord struct {
	OrderID       string `json:"order_id"`
	CustomerID    string `json:"customer_id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone,omitempty"`
	Address       string `json:"address,omitempty"`
	City          string `json:"city,omitempty"`
	Country       string `json:"country,omitempty"`
	PaymentMethod string `json:"payment_method"`
	CreatedAt     uint64 `json:"created_at"`
	UpdatedAt     uint64 `json:"updated_at"`
}

func customerItem(c domain.CustomerInfo) (kv.Item, error) {
	doc, err := json.Marshal(customerRecord{
		OrderID:       c.OrderID,
		CustomerID:    c.CustomerID,
		Name:          c.Name,
		Email:         c.Email,
		Phone:         c.Phone,
		Address:       c.Address,
		City:          c.City,
		Country:       c.Country,
		PaymentMethod: c.PaymentMethod,
		CreatedAt:     encodeTime(c.CreatedAt),
		UpdatedAt:     encodeTime(c.UpdatedAt),
	})
	if err != nil {
		return kv.Item{}, fmt.Errorf("marshal customer info: %w", err)
	}
	return kv.Item{Key: c.OrderID, Doc: doc}, nil
}

func decodeCustomer(doc []byte) (domain.CustomerInfo, error) {
	var r customerRecord
	if err := json.Unmarshal(doc, &r); err != nil {
		return domain.CustomerInfo{}, fmt.Errorf("unmarshal customer info: %w", err)
	}
	return domain.CustomerInfo{
		OrderID:       r.OrderID,
		CustomerID:    r.CustomerID,
		Name:          r.Name,
		Email:         r.Email,
		Phone:         r.Phone,
		Address:       r.Address,
		City:          r.City,
		Country:       r.Country,
		PaymentMethod: r.PaymentMethod,
		CreatedAt:     decodeTime(r.CreatedAt),
		UpdatedAt:     decodeTime(r.UpdatedAt),
	}, nil
}

type auditRecord struct {
	AuditID     string `json:"audit_id"`
	TicketID    string `json:"ticket_id"`
	FromStatus  string `json:"from_status"`
	ToStatus    string `json:"to_status"`
	At          uint64 `json:"at"`
	PerformedBy string `json:"performed_by"`
	Reason      string `json:"reason,omitempty"`
	Successful  bool   `json:"successful"`
	Error       string `json:"error,omitempty"`
}

func auditItem(a domain.TicketStateTransitionAudit) (kv.Item, error) {
	doc, err := json.Marshal(auditRecord{
		AuditID:     a.ID,
		TicketID:    a.TicketID,
		FromStatus:  a.FromStatus,
		ToStatus:    a.ToStatus,
		At:          encodeTime(a.At),
		PerformedBy: a.PerformedBy,
		Reason:      a.Reason,
		Successful:  a.Successful,
		Error:       a.Error,
	})
	if err != nil {
		return kv.Item{}, fmt.Errorf("marshal audit: %w", err)
	}
	return kv.Item{
		Key: a.ID,
		Doc: doc,
		Attrs: map[string]string{
			attrTicketID: a.TicketID,
			attrAt:       formatInt(int64(encodeTime(a.At))),
		},
	}, nil
}

func decodeAudit(doc []byte) (domain.TicketStateTransitionAudit, error) {
	var r auditRecord
	if err := json.Unmarshal(doc, &r); err != nil {
		return domain.TicketStateTransitionAudit{}, fmt.Errorf("unmarshal audit: %w", err)
	}
	return domain.TicketStateTransitionAudit{
		ID:          r.AuditID,
		TicketID:    r.TicketID,
		FromStatus:  r.FromStatus,
		ToStatus:    r.ToStatus,
		At:          decodeTime(r.At),
		PerformedBy: r.PerformedBy,
		Reason:      r.Reason,
		Successful:  r.Successful,
		Error:       r.Error,
	}, nil
}

type journalRecord struct {
	AggregateID string          `json:"aggregate_id"`
	Version     int64           `json:"version"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	At          uint64          `json:"at"`
}

func journalItem(e domain.DomainEvent) (kv.Item, error) {
	doc, err := json.Marshal(journalRecord{
		AggregateID: e.AggregateID,
		Version:     e.Version,
		Type:        e.Type,
		Payload:     e.Payload,
		At:          encodeTime(e.At),
	})
	if err != nil {
		return kv.Item{}, fmt.Errorf("marshal journal entry: %w", err)
	}
	return kv.Item{
		Key: e.JournalKey(),
		Doc: doc,
		Attrs: map[string]string{
			attrAggregateID: e.AggregateID,
			kv.AttrVersion:  formatInt(e.Version),
		},
	}, nil
}

func decodeJournal(doc []byte) (domain.DomainEvent, error) {
	var r journalRecord
	if err := json.Unmarshal(doc, &r); err != nil {
		return domain.DomainEvent{}, fmt.Errorf("unmarshal journal entry: %w", err)
	}
	return domain.DomainEvent{
		AggregateID: r.AggregateID,
		Version:     r.Version,
		Type:        r.Type,
		Payload:     r.Payload,
		At:          decodeTime(r.At),
	}, nil
}
