package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"caseline/internal/domain"
	"caseline/internal/engine/auth"
	"caseline/internal/entity"
	"caseline/internal/events"
	"caseline/internal/repo"
)

// RecordView is a record with its data already projected through the
// caller's field filter. Status carries the derived value: a record past
// its expiration reads as expired regardless of the stored status.
type RecordView struct {
	Record domain.Record
	Status string
	Data   map[string]any
}

// RecordCreateOptions are parameters for creating a record from a
// transaction.
type RecordCreateOptions struct {
	DefinitionKey string
	TransactionID string
	ExternalID    string
	Status        string
	Data          map[string]any
}

func (e Engine) CreateRecord(ctx context.Context, p auth.Principal, opts RecordCreateOptions) (RecordView, error) {
	def, ok := e.Config.RecordDefinition(opts.DefinitionKey)
	if !ok {
		return RecordView{}, MissingDependencyError{Resource: "record definition", Key: opts.DefinitionKey}
	}
	s, err := e.Schemas.Resolve(def.SchemaKey)
	if err != nil {
		return RecordView{}, err
	}
	txn, err := e.Repo.GetTransaction(ctx, opts.TransactionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return RecordView{}, MissingDependencyError{Resource: "transaction", Key: opts.TransactionID}
		}
		return RecordView{}, err
	}
	if !e.Auth.IsAllowed(p, "create", ResourceRecord) {
		return RecordView{}, auth.ForbiddenError{Action: "create", Resource: ResourceRecord}
	}
	if !e.Auth.IsAllowedForInstance(p, "view", ResourceTransaction, txn.CreatedBy) ||
		!e.Auth.IsAllowedForInstance(p, "update", ResourceTransaction, txn.CreatedBy) {
		return RecordView{}, auth.ForbiddenError{Action: "create", Resource: ResourceRecord,
			Reason: fmt.Sprintf("no view/update permission on referenced transaction %s", txn.ID)}
	}
	// the parent transaction must itself carry resolvable, decodable data
	if _, err := e.transactionEntity(txn); err != nil {
		return RecordView{}, err
	}
	ent, err := entity.FromFlatMap(s, opts.Data)
	if err != nil {
		return RecordView{}, err
	}
	dataJSON, err := encodeData(ent)
	if err != nil {
		return RecordView{}, err
	}
	status := opts.Status
	if status == "" {
		status = DefaultRecordStatus
	}
	now := e.now().UTC()
	rec := domain.Record{
		ID:                  uuid.NewString(),
		RecordDefinitionID:  def.ID,
		RecordDefinitionKey: def.Key,
		ExternalID:          opts.ExternalID,
		Status:              status,
		CreatedFrom:         txn.ID,
		CreatedBy:           p.ID,
		LastUpdatedBy:       p.ID,
		CreatedAt:           now.Format(time.RFC3339),
		UpdatedAt:           now.Format(time.RFC3339),
		DataJSON:            dataJSON,
	}
	// Expires is derived exactly once, here. Updates never recompute it.
	if def.Expiration != "" {
		dur, err := time.ParseDuration(def.Expiration)
		if err != nil {
			return RecordView{}, fmt.Errorf("record definition %s: bad expiration: %w", def.Key, err)
		}
		rec.Expires = now.Add(dur).Format(time.RFC3339)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return RecordView{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRecord(ctx, tx, rec); err != nil {
		return RecordView{}, fmt.Errorf("insert record: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "record.create", ResourceRecord, rec.ID, p.ID, events.EventPayload{
		"definition":  def.Key,
		"transaction": txn.ID,
	}); err != nil {
		return RecordView{}, err
	}
	if err := tx.Commit(); err != nil {
		return RecordView{}, err
	}
	return e.recordView(p, rec, ent), nil
}

func (e Engine) recordView(p auth.Principal, rec domain.Record, ent *entity.Entity) RecordView {
	filter := e.Auth.FieldFilter(p, "view", ResourceRecord)
	return RecordView{Record: rec, Status: e.derivedStatus(rec), Data: project(ent, filter)}
}

// derivedStatus reports expired once now passes the expiration instant. The
// stored status is not rewritten; expiration is a read-time concept.
func (e Engine) derivedStatus(rec domain.Record) string {
	if rec.Expires == "" {
		return rec.Status
	}
	expires, err := time.Parse(time.RFC3339, rec.Expires)
	if err != nil {
		return rec.Status
	}
	if e.now().UTC().After(expires) {
		return StatusExpired
	}
	return rec.Status
}

func (e Engine) recordEntity(rec domain.Record) (*entity.Entity, error) {
	def, ok := e.Config.RecordDefinition(rec.RecordDefinitionKey)
	if !ok {
		return nil, MissingDependencyError{Resource: "record definition", Key: rec.RecordDefinitionKey}
	}
	return e.decodeData(def.SchemaKey, rec.DataJSON)
}

func (e Engine) GetRecord(ctx context.Context, p auth.Principal, id string) (RecordView, error) {
	rec, err := e.Repo.GetRecord(ctx, id)
	if err != nil {
		return RecordView{}, err
	}
	if !e.Auth.IsAllowedForInstance(p, "view", ResourceRecord, rec.CreatedBy) {
		return RecordView{}, auth.ForbiddenError{Action: "view", Resource: ResourceRecord,
			Reason: fmt.Sprintf("no view permission on record %s", id)}
	}
	ent, err := e.recordEntity(rec)
	if err != nil {
		return RecordView{}, err
	}
	return e.recordView(p, rec, ent), nil
}

// RecordUpdateOptions are parameters for a partial record update. Only
// fields present in the payload are merged; absent fields stay untouched.
type RecordUpdateOptions struct {
	Data          entity.Patch
	Status        *string
	ExternalID    *string
	TransactionID *string // transaction driving this update, if any
	// AdminUpdate is computed from the caller's role by the transport
	// layer and honored here as an additional gate.
	AdminUpdate bool
}

func (e Engine) UpdateRecord(ctx context.Context, p auth.Principal, id string, opts RecordUpdateOptions) (RecordView, error) {
	rec, err := e.Repo.GetRecord(ctx, id)
	if err != nil {
		return RecordView{}, err
	}
	if !e.Auth.IsAllowedForInstance(p, "update", ResourceRecord, rec.CreatedBy) {
		return RecordView{}, auth.ForbiddenError{Action: "update", Resource: ResourceRecord,
			Reason: fmt.Sprintf("no update permission on record %s", id)}
	}
	ent, err := e.recordEntity(rec)
	if err != nil {
		return RecordView{}, err
	}
	if err := guardAdminPatch(ent.Schema(), opts.Data, opts.AdminUpdate); err != nil {
		return RecordView{}, err
	}
	if err := ent.Apply(opts.Data); err != nil {
		return RecordView{}, err
	}
	if rec.DataJSON, err = encodeData(ent); err != nil {
		return RecordView{}, err
	}
	if opts.Status != nil {
		rec.Status = *opts.Status
	}
	if opts.ExternalID != nil {
		rec.ExternalID = *opts.ExternalID
	}
	if opts.TransactionID != nil {
		if _, err := e.Repo.GetTransaction(ctx, *opts.TransactionID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return RecordView{}, MissingDependencyError{Resource: "transaction", Key: *opts.TransactionID}
			}
			return RecordView{}, err
		}
		rec.LastUpdatedFrom = opts.TransactionID
	}
	rec.LastUpdatedBy = p.ID
	rec.UpdatedAt = e.nowString()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return RecordView{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateRecord(ctx, tx, rec); err != nil {
		return RecordView{}, err
	}
	if err := e.Events.Append(ctx, tx, "record.update", ResourceRecord, rec.ID, p.ID, nil); err != nil {
		return RecordView{}, err
	}
	if err := tx.Commit(); err != nil {
		return RecordView{}, err
	}
	rec.Version++
	return e.recordView(p, rec, ent), nil
}

// RecordPageView is one page of projected records.
type RecordPageView struct {
	Items         []RecordView
	TotalElements int64
	PageNumber    int
	PageSize      int
}

func (e Engine) ListRecords(ctx context.Context, p auth.Principal, f repo.RecordFilters) (RecordPageView, error) {
	if !e.Auth.IsAllowed(p, "view", ResourceRecord) {
		return RecordPageView{}, auth.ForbiddenError{Action: "view", Resource: ResourceRecord}
	}
	page, err := e.Repo.ListRecords(ctx, f)
	if err != nil {
		return RecordPageView{}, err
	}
	out := RecordPageView{
		Items:         make([]RecordView, 0, len(page.Items)),
		TotalElements: page.TotalElements,
		PageNumber:    page.PageNumber,
		PageSize:      page.PageSize,
	}
	for _, rec := range page.Items {
		ent, err := e.recordEntity(rec)
		if err != nil {
			return RecordPageView{}, err
		}
		out.Items = append(out.Items, e.recordView(p, rec, ent))
	}
	return out, nil
}
