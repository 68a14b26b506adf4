package purchase

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickethub/models"
)

type fakeTicketStore struct {
	tickets []*models.Ticket
	failAt  int
}

func (f *fakeTicketStore) InsertTicket(_ context.Context, t *models.Ticket) error {
	if f.failAt > 0 && len(f.tickets)+1 == f.failAt {
		return fmt.Errorf("insert failed")
	}
	t.ID = fmt.Sprintf("t%d", len(f.tickets)+1)
	f.tickets = append(f.tickets, t)
	return nil
}

func TestIssueMintsOneTicketPerUnit(t *testing.T) {
	store := &fakeTicketStore{}
	issuer := NewIssuer(store)

	price := decimal.RequireFromString("49.99")
	summaries, err := issuer.Issue(context.Background(), "p1", "e1", "buyer1", "Standard", 3, price)
	require.NoError(t, err)
	require.Len(t, summaries, 3)
	require.Len(t, store.tickets, 3)

	seen := make(map[string]bool)
	for _, s := range summaries {
		assert.Equal(t, "e1", s.EventID)
		assert.Equal(t, "Standard", s.TicketType)
		assert.Equal(t, 1, s.Quantity)
		assert.True(t, s.UnitPrice.Equal(price))

		// 32-byte digest, hex encoded.
		assert.Len(t, s.QRPayload, 64)
		assert.False(t, seen[s.QRPayload], "duplicate payload %s", s.QRPayload)
		seen[s.QRPayload] = true
	}
}

func TestIssueReturnsPartialBatchOnFailure(t *testing.T) {
	store := &fakeTicketStore{failAt: 3}
	issuer := NewIssuer(store)

	summaries, err := issuer.Issue(context.Background(), "p1", "e1", "buyer1", "VIP", 5, decimal.NewFromInt(100))
	require.Error(t, err)
	assert.Len(t, summaries, 2)
}

func TestMintQRPayloadIsUnpredictable(t *testing.T) {
	a, err := mintQRPayload("b", "e", "VIP")
	require.NoError(t, err)
	b, err := mintQRPayload("b", "e", "VIP")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "identical inputs must still mint distinct payloads")
}
