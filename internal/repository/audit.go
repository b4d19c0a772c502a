package repository

import (
	"context"

	"github.com/ticketops/boxoffice/internal/domain"
	"github.com/ticketops/boxoffice/internal/kv"
)

type AuditRepo struct {
	store kv.Store
}

// Append writes one audit row. Failed transition attempts are recorded
// outside the failing transaction, so this is a direct put.
func (r *AuditRepo) Append(ctx context.Context, a domain.TicketStateTransitionAudit) error {
	const op = "repository.AuditRepo.Append"

	item, err := auditItem(a)
	if err != nil {
		return wrapKVErr(op, err)
	}
	return wrapKVErr(op, r.store.Put(ctx, TableAudit, item))
}

// ListByTicket returns a ticket's transition history, oldest first.
func (r *AuditRepo) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketStateTransitionAudit, error) {
	const op = "repository.AuditRepo.ListByTicket"

	var out []domain.TicketStateTransitionAudit
	cursor := ""
	for {
		page, err := r.store.Query(ctx, TableAudit, IndexAuditByTicket, kv.QueryOpts{Eq: ticketID, Cursor: cursor})
		if err != nil {
			return nil, wrapKVErr(op, err)
		}
		for _, item := range page.Items {
			a, err := decodeAudit(item.Doc)
			if err != nil {
				return nil, wrapKVErr(op, err)
			}
			out = append(out, a)
		}
		if page.Cursor == "" {
			return out, nil
		}
		cursor = page.Cursor
	}
}

// AppendOp builds the transactional op that writes the audit row together
// with the transition it documents.
func (r *AuditRepo) AppendOp(a domain.TicketStateTransitionAudit) (kv.Op, error) {
	item, err := auditItem(a)
	if err != nil {
		return kv.Op{}, err
	}
	return kv.Op{Kind: kv.OpPut, Table: TableAudit, Item: item}, nil
}
