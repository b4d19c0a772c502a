package repository

import (
	"context"

	"github.com/ticketops/boxoffice/internal/domain"
	"github.com/ticketops/boxoffice/internal/kv"
)

type JournalRepo struct {
	store kv.Store
}

// List returns an aggregate's journal entries in version order.
func (r *JournalRepo) List(ctx context.Context, aggregateID string) ([]domain.DomainEvent, error) {
	const op = "repository.JournalRepo.List"

	var out []domain.DomainEvent
	cursor := ""
	for {
		page, err := r.store.Query(ctx, TableJournal, IndexJournalByAggregate, kv.QueryOpts{Eq: aggregateID, Cursor: cursor})
		if err != nil {
			return nil, wrapKVErr(op, err)
		}
		for _, item := range page.Items {
			e, err := decodeJournal(item.Doc)
			if err != nil {
				return nil, wrapKVErr(op, err)
			}
			out = append(out, e)
		}
		if page.Cursor == "" {
			return out, nil
		}
		cursor = page.Cursor
	}
}

// AppendOp builds the transactional op that appends one journal entry. The
// absent-key condition on (aggregate_id, version) keeps the journal
// append-only; a lost race cancels the transaction.
func (r *JournalRepo) AppendOp(e domain.DomainEvent) (kv.Op, error) {
	item, err := journalItem(e)
	if err != nil {
		return kv.Op{}, err
	}
	return kv.Op{Kind: kv.OpPut, Table: TableJournal, Item: item, Cond: kv.IfAbsent()}, nil
}
