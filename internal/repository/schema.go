package repository

import "github.com/ticketops/boxoffice/internal/kv"

// Table names.
const (
	TableEvents       = "events"
	TableInventory    = "ticket_inventory"
	TableOrders       = "ticket_orders"
	TableTickets      = "tickets"
	TableReservations = "ticket_reservations"
	TableSeats        = "seat_reservations"
	TableCustomers    = "customer_info"
	TableAudit        = "transition_audit"
	TableJournal      = "journal"
)

// Index names.
const (
	IndexOrdersByCustomer     = "customer-index"
	IndexInventoryByEvent     = "event-index"
	IndexTicketsByOrder       = "order-index"
	IndexTicketsByReservation = "reservation-index"
	IndexTicketsByScope       = "scope-index"
	IndexReservationsByOrder  = "order-index"
	IndexReservationsByExpiry = "expiration-index"
	IndexSeatsByScope         = "scope-index"
	IndexAuditByTicket        = "ticket-index"
	IndexJournalByAggregate   = "aggregate-index"
)

// Attr names projected into indexes and conditions.
const (
	attrEventID     = "event_id"
	attrCustomerID  = "customer_id"
	attrOrderID     = "order_id"
	attrReservation = "reservation_id"
	attrScope       = "scope"
	attrStatus      = "status"
	attrSeatNumber  = "seat_number"
	attrExpiresAt   = "expires_at"
	attrCreatedAt   = "created_at"
	attrTicketID    = "ticket_id"
	attrAt          = "at"
	attrAggregateID = "aggregate_id"
)

// Tables is the full storage schema. Driver constructors take it so writes
// can maintain the declared indexes.
func Tables() []kv.TableSpec {
	return []kv.TableSpec{
		{Name: TableEvents},
		{Name: TableInventory, Indexes: []kv.IndexSpec{
			{Name: IndexInventoryByEvent, HashAttr: attrEventID},
		}},
		{Name: TableOrders, Indexes: []kv.IndexSpec{
			{Name: IndexOrdersByCustomer, HashAttr: attrCustomerID, RangeAttr: attrCreatedAt},
		}},
		{Name: TableTickets, Indexes: []kv.IndexSpec{
			{Name: IndexTicketsByOrder, HashAttr: attrOrderID},
			{Name: IndexTicketsByReservation, HashAttr: attrReservation},
			{Name: IndexTicketsByScope, HashAttr: attrScope},
		}},
		{Name: TableReservations, Indexes: []kv.IndexSpec{
			{Name: IndexReservationsByOrder, HashAttr: attrOrderID},
			{Name: IndexReservationsByExpiry, HashAttr: attrStatus, RangeAttr: attrExpiresAt},
		}},
		{Name: TableSeats, Indexes: []kv.IndexSpec{
			{Name: IndexSeatsByScope, HashAttr: attrScope},
		}},
		{Name: TableCustomers},
		{Name: TableAudit, Indexes: []kv.IndexSpec{
			{Name: IndexAuditByTicket, HashAttr: attrTicketID, RangeAttr: attrAt},
		}},
		{Name: TableJournal, Indexes: []kv.IndexSpec{
			{Name: IndexJournalByAggregate, HashAttr: attrAggregateID, RangeAttr: kv.AttrVersion},
		}},
	}
}
