package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"caseline/internal/domain"
	"caseline/internal/engine/auth"
	"caseline/internal/entity"
	"caseline/internal/events"
	"caseline/internal/repo"
)

// TransactionView is a transaction with its data already projected through
// the caller's field filter.
type TransactionView struct {
	Transaction domain.Transaction
	Data        map[string]any
}

// TransactionCreateOptions are parameters for creating a transaction.
type TransactionCreateOptions struct {
	DefinitionKey     string
	ProcessInstanceID string
	Status            string
	Data              map[string]any
}

func (e Engine) CreateTransaction(ctx context.Context, p auth.Principal, opts TransactionCreateOptions) (TransactionView, error) {
	def, ok := e.Config.TransactionDefinition(opts.DefinitionKey)
	if !ok {
		return TransactionView{}, MissingDependencyError{Resource: "transaction definition", Key: opts.DefinitionKey}
	}
	s, err := e.Schemas.Resolve(def.SchemaKey)
	if err != nil {
		return TransactionView{}, err
	}
	if !e.Auth.IsAllowed(p, "create", ResourceTransaction) {
		return TransactionView{}, auth.ForbiddenError{Action: "create", Resource: ResourceTransaction}
	}
	ent, err := entity.FromFlatMap(s, opts.Data)
	if err != nil {
		return TransactionView{}, err
	}
	dataJSON, err := encodeData(ent)
	if err != nil {
		return TransactionView{}, err
	}
	status := opts.Status
	if status == "" {
		status = DefaultTransactionStatus
	}
	now := e.nowString()
	txn := domain.Transaction{
		ID:                       uuid.NewString(),
		TransactionDefinitionID:  def.ID,
		TransactionDefinitionKey: def.Key,
		ProcessInstanceID:        opts.ProcessInstanceID,
		Status:                   status,
		CreatedBy:                p.ID,
		LastUpdatedBy:            p.ID,
		CreatedAt:                now,
		UpdatedAt:                now,
		DataJSON:                 dataJSON,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TransactionView{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTransaction(ctx, tx, txn); err != nil {
		return TransactionView{}, fmt.Errorf("insert transaction: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "transaction.create", ResourceTransaction, txn.ID, p.ID, events.EventPayload{"definition": def.Key}); err != nil {
		return TransactionView{}, err
	}
	if err := tx.Commit(); err != nil {
		return TransactionView{}, err
	}
	return e.transactionView(p, txn, ent), nil
}

func (e Engine) transactionView(p auth.Principal, txn domain.Transaction, ent *entity.Entity) TransactionView {
	filter := e.Auth.FieldFilter(p, "view", ResourceTransaction)
	return TransactionView{Transaction: txn, Data: project(ent, filter)}
}

func (e Engine) GetTransaction(ctx context.Context, p auth.Principal, id string) (TransactionView, error) {
	txn, err := e.Repo.GetTransaction(ctx, id)
	if err != nil {
		return TransactionView{}, err
	}
	if !e.Auth.IsAllowedForInstance(p, "view", ResourceTransaction, txn.CreatedBy) {
		return TransactionView{}, auth.ForbiddenError{Action: "view", Resource: ResourceTransaction,
			Reason: fmt.Sprintf("no view permission on transaction %s", id)}
	}
	ent, err := e.transactionEntity(txn)
	if err != nil {
		return TransactionView{}, err
	}
	return e.transactionView(p, txn, ent), nil
}

// transactionEntity rehydrates a transaction's data against its definition's
// schema. A definition removed from configuration after rows were written
// surfaces as a dependency failure, not as NotFound.
func (e Engine) transactionEntity(txn domain.Transaction) (*entity.Entity, error) {
	def, ok := e.Config.TransactionDefinition(txn.TransactionDefinitionKey)
	if !ok {
		return nil, MissingDependencyError{Resource: "transaction definition", Key: txn.TransactionDefinitionKey}
	}
	return e.decodeData(def.SchemaKey, txn.DataJSON)
}

// TransactionUpdateOptions are parameters for a partial transaction update.
// Nil fields and absent patch keys leave the stored value untouched.
type TransactionUpdateOptions struct {
	Data              entity.Patch
	Status            *string
	ProcessInstanceID *string
	// AdminUpdate is computed from the caller's role by the transport
	// layer; it gates patches that touch admin-restricted attributes.
	AdminUpdate bool
}

func (e Engine) UpdateTransaction(ctx context.Context, p auth.Principal, id string, opts TransactionUpdateOptions) (TransactionView, error) {
	txn, err := e.Repo.GetTransaction(ctx, id)
	if err != nil {
		return TransactionView{}, err
	}
	if !e.Auth.IsAllowedForInstance(p, "update", ResourceTransaction, txn.CreatedBy) {
		return TransactionView{}, auth.ForbiddenError{Action: "update", Resource: ResourceTransaction,
			Reason: fmt.Sprintf("no update permission on transaction %s", id)}
	}
	ent, err := e.transactionEntity(txn)
	if err != nil {
		return TransactionView{}, err
	}
	if err := guardAdminPatch(ent.Schema(), opts.Data, opts.AdminUpdate); err != nil {
		return TransactionView{}, err
	}
	if err := ent.Apply(opts.Data); err != nil {
		return TransactionView{}, err
	}
	if txn.DataJSON, err = encodeData(ent); err != nil {
		return TransactionView{}, err
	}
	if opts.Status != nil {
		txn.Status = *opts.Status
	}
	if opts.ProcessInstanceID != nil {
		txn.ProcessInstanceID = *opts.ProcessInstanceID
	}
	txn.LastUpdatedBy = p.ID
	txn.UpdatedAt = e.nowString()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TransactionView{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTransaction(ctx, tx, txn); err != nil {
		return TransactionView{}, err
	}
	if err := e.Events.Append(ctx, tx, "transaction.update", ResourceTransaction, txn.ID, p.ID, nil); err != nil {
		return TransactionView{}, err
	}
	if err := tx.Commit(); err != nil {
		return TransactionView{}, err
	}
	txn.Version++
	return e.transactionView(p, txn, ent), nil
}

// TransactionPageView is one page of projected transactions.
type TransactionPageView struct {
	Items         []TransactionView
	TotalElements int64
	PageNumber    int
	PageSize      int
}

func (e Engine) ListTransactions(ctx context.Context, p auth.Principal, f repo.TransactionFilters) (TransactionPageView, error) {
	if !e.Auth.IsAllowed(p, "view", ResourceTransaction) {
		return TransactionPageView{}, auth.ForbiddenError{Action: "view", Resource: ResourceTransaction}
	}
	page, err := e.Repo.ListTransactions(ctx, f)
	if err != nil {
		return TransactionPageView{}, err
	}
	out := TransactionPageView{
		Items:         make([]TransactionView, 0, len(page.Items)),
		TotalElements: page.TotalElements,
		PageNumber:    page.PageNumber,
		PageSize:      page.PageSize,
	}
	for _, txn := range page.Items {
		ent, err := e.transactionEntity(txn)
		if err != nil {
			return TransactionPageView{}, err
		}
		out.Items = append(out.Items, e.transactionView(p, txn, ent))
	}
	return out, nil
}
