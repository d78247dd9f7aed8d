// Package repo is the persistence layer over SQLite. Queries are built from
// bounded filter sets; updates use an optimistic version check and surface
// stale writes as ErrConflict rather than overwriting.
package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"caseline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflicting concurrent update")
)

// SortOrder values accepted by the list queries.
const (
	SortAsc  = "ASC"
	SortDesc = "DESC"
)

const recordColumns = `id,record_definition_id,record_definition_key,external_id,status,expires,created_from,last_updated_from,created_by,last_updated_by,created_at,updated_at,version,data_json`

func scanRecord(scan func(dest ...any) error) (domain.Record, error) {
	var rec domain.Record
	var externalID, expires, lastUpdatedFrom sql.NullString
	err := scan(&rec.ID, &rec.RecordDefinitionID, &rec.RecordDefinitionKey, &externalID, &rec.Status, &expires,
		&rec.CreatedFrom, &lastUpdatedFrom, &rec.CreatedBy, &rec.LastUpdatedBy, &rec.CreatedAt, &rec.UpdatedAt,
		&rec.Version, &rec.DataJSON)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	if externalID.Valid {
		rec.ExternalID = externalID.String
	}
	if expires.Valid {
		rec.Expires = expires.String
	}
	if lastUpdatedFrom.Valid {
		rec.LastUpdatedFrom = &lastUpdatedFrom.String
	}
	return rec, nil
}

func (r Repo) InsertRecord(ctx context.Context, tx *sql.Tx, rec domain.Record) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO records(`+recordColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.RecordDefinitionID, rec.RecordDefinitionKey, nullable(rec.ExternalID), rec.Status, nullable(rec.Expires),
		rec.CreatedFrom, nullableStringPtr(rec.LastUpdatedFrom), rec.CreatedBy, rec.LastUpdatedBy, rec.CreatedAt, rec.UpdatedAt,
		rec.Version, rec.DataJSON)
	return err
}

func (r Repo) GetRecord(ctx context.Context, id string) (domain.Record, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id=?`, id)
	return scanRecord(row.Scan)
}

// UpdateRecord writes back a mutated record, guarded by the version the
// caller read. A version mismatch on an existing row is ErrConflict; a
// missing row is ErrNotFound. Expires and creation fields are never touched.
func (r Repo) UpdateRecord(ctx context.Context, tx *sql.Tx, rec domain.Record) error {
	res, err := tx.ExecContext(ctx, `UPDATE records SET external_id=?, status=?, last_updated_from=?, last_updated_by=?, updated_at=?, version=version+1, data_json=? WHERE id=? AND version=?`,
		nullable(rec.ExternalID), rec.Status, nullableStringPtr(rec.LastUpdatedFrom), rec.LastUpdatedBy, rec.UpdatedAt,
		rec.DataJSON, rec.ID, rec.Version)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected > 0 {
		return nil
	}
	var n int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM records WHERE id=?`, rec.ID).Scan(&n)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrConflict
}

// RecordFilters is the bounded parameter set accepted by ListRecords.
// Zero-valued filters are no-ops.
type RecordFilters struct {
	Status              string
	RecordDefinitionKey string
	ExternalID          string
	TransactionID       string
	SortOrder           string // SortAsc or SortDesc; default ascending
	PageNumber          int    // 0-based
	PageSize            int
}

// RecordPage is one page of records plus the unfiltered total.
type RecordPage struct {
	Items         []domain.Record
	TotalElements int64
	PageNumber    int
	PageSize      int
}

func (f RecordFilters) clauses() ([]string, []any) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.RecordDefinitionKey != "" {
		clauses = append(clauses, "record_definition_key=?")
		args = append(args, f.RecordDefinitionKey)
	}
	if f.ExternalID != "" {
		clauses = append(clauses, "external_id=?")
		args = append(args, f.ExternalID)
	}
	if f.TransactionID != "" {
		clauses = append(clauses, "created_from=?")
		args = append(args, f.TransactionID)
	}
	return clauses, args
}

// ListRecords applies the filters, orders by creation timestamp with id as
// tie-break for stable pagination, and returns the requested page.
func (r Repo) ListRecords(ctx context.Context, f RecordFilters) (RecordPage, error) {
	if f.PageSize <= 0 {
		return RecordPage{}, fmt.Errorf("page size must be positive")
	}
	if f.PageNumber < 0 {
		return RecordPage{}, fmt.Errorf("page number must not be negative")
	}
	clauses, args := f.clauses()
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	page := RecordPage{PageNumber: f.PageNumber, PageSize: f.PageSize}
	if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM records `+where, args...).Scan(&page.TotalElements); err != nil {
		return RecordPage{}, err
	}
	dir := SortAsc
	if strings.EqualFold(f.SortOrder, SortDesc) {
		dir = SortDesc
	}
	query := fmt.Sprintf(`SELECT %s FROM records %s ORDER BY created_at %s, id %s LIMIT ? OFFSET ?`, recordColumns, where, dir, dir)
	args = append(args, f.PageSize, f.PageNumber*f.PageSize)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return RecordPage{}, err
	}
	defer rows.Close()
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return RecordPage{}, err
		}
		page.Items = append(page.Items, rec)
	}
	return page, rows.Err()
}

// LatestEvents returns audit events, newest first, optionally scoped to one
// entity and bounded by a cursor id for paging backwards.
func (r Repo) LatestEvents(ctx context.Context, limit int, cursor int64, entityKind, entityID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
