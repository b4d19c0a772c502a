package redis

import "fmt"

// ns versions the cache key schema. Bump it when a cached payload changes
// shape so stale entries from the previous deploy are never decoded.
const ns = "boxoffice:v1"

func KeyEventSummary(eventID string) string {
	return fmt.Sprintf("%s:event:%s:summary", ns, eventID)
}

func KeyEventAvailability(eventID string) string {
	return fmt.Sprintf("%s:event:%s:availability", ns, eventID)
}

func KeySeatMap(eventID, ticketType string) string {
	return fmt.Sprintf("%s:event:%s:seatmap:%s", ns, eventID, ticketType)
}

func RateLimitPrefix() string {
	return ns + ":rl"
}
