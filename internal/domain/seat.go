package domain

import "strconv"

// Seats are dense "row-seat" labels, ten seats per row: index 0 is "A-1",
// index 9 is "A-10", index 10 is "B-1" and so on. Stored seat numbers are
// compared byte for byte, so this encoding must never change.

const seatsPerRow = 10

// SeatNumberAt returns the seat label for a zero-based seat index.
func SeatNumberAt(i int) string {
	row := rune('A' + i/seatsPerRow)
	seat := i%seatsPerRow + 1
	return string(row) + "-" + strconv.Itoa(seat)
}

// SeatKey builds the uniqueness-lock key for a seat within one
// (event, ticket type) scope: "{event_id}#{ticket_type}#{seat_number}".
func SeatKey(eventID, ticketType, seatNumber string) string {
	return eventID + "#" + ticketType + "#" + seatNumber
}

// SeatScope is the key prefix shared by every seat of one
// (event, ticket type) pair, including the trailing separator.
func SeatScope(eventID, ticketType string) string {
	return eventID + "#" + ticketType + "#"
}
