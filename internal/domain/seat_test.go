package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ticketops/boxoffice/internal/domain"
)

func TestSeatNumberAt(t *testing.T) {
	tests := []struct {
		index int
		want  string
	}{
		{0, "A-1"},
		{1, "A-2"},
		{9, "A-10"},
		{10, "B-1"},
		{19, "B-10"},
		{25, "C-6"},
		{259, "Z-10"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, domain.SeatNumberAt(tt.index), "index %d", tt.index)
	}
}

func TestSeatKey(t *testing.T) {
	key := domain.SeatKey("evt-1", "VIP", "A-1")
	assert.Equal(t, "evt-1#VIP#A-1", key)

	scope := domain.SeatScope("evt-1", "VIP")
	assert.Equal(t, "evt-1#VIP#", scope)
}
