package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"caseline/internal/domain"
)

const transactionColumns = `id,transaction_definition_id,transaction_definition_key,process_instance_id,status,created_by,last_updated_by,created_at,updated_at,version,data_json`

func scanTransaction(scan func(dest ...any) error) (domain.Transaction, error) {
	var txn domain.Transaction
	var processInstanceID sql.NullString
	err := scan(&txn.ID, &txn.TransactionDefinitionID, &txn.TransactionDefinitionKey, &processInstanceID, &txn.Status,
		&txn.CreatedBy, &txn.LastUpdatedBy, &txn.CreatedAt, &txn.UpdatedAt, &txn.Version, &txn.DataJSON)
	if err == sql.ErrNoRows {
		return txn, ErrNotFound
	}
	if err != nil {
		return txn, err
	}
	if processInstanceID.Valid {
		txn.ProcessInstanceID = processInstanceID.String
	}
	return txn, nil
}

func (r Repo) InsertTransaction(ctx context.Context, tx *sql.Tx, txn domain.Transaction) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO transactions(`+transactionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		txn.ID, txn.TransactionDefinitionID, txn.TransactionDefinitionKey, nullable(txn.ProcessInstanceID), txn.Status,
		txn.CreatedBy, txn.LastUpdatedBy, txn.CreatedAt, txn.UpdatedAt, txn.Version, txn.DataJSON)
	return err
}

func (r Repo) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id=?`, id)
	return scanTransaction(row.Scan)
}

// UpdateTransaction writes back a mutated transaction with the same version
// guard as UpdateRecord.
func (r Repo) UpdateTransaction(ctx context.Context, tx *sql.Tx, txn domain.Transaction) error {
	res, err := tx.ExecContext(ctx, `UPDATE transactions SET process_instance_id=?, status=?, last_updated_by=?, updated_at=?, version=version+1, data_json=? WHERE id=? AND version=?`,
		nullable(txn.ProcessInstanceID), txn.Status, txn.LastUpdatedBy, txn.UpdatedAt, txn.DataJSON, txn.ID, txn.Version)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected > 0 {
		return nil
	}
	var n int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM transactions WHERE id=?`, txn.ID).Scan(&n)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrConflict
}

// TransactionFilters is the bounded parameter set accepted by
// ListTransactions. Zero-valued filters are no-ops.
type TransactionFilters struct {
	Status                   string
	TransactionDefinitionKey string
	ProcessInstanceID        string
	CreatedBy                string
	SortOrder                string
	PageNumber               int
	PageSize                 int
}

type TransactionPage struct {
	Items         []domain.Transaction
	TotalElements int64
	PageNumber    int
	PageSize      int
}

func (f TransactionFilters) clauses() ([]string, []any) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.TransactionDefinitionKey != "" {
		clauses = append(clauses, "transaction_definition_key=?")
		args = append(args, f.TransactionDefinitionKey)
	}
	if f.ProcessInstanceID != "" {
		clauses = append(clauses, "process_instance_id=?")
		args = append(args, f.ProcessInstanceID)
	}
	if f.CreatedBy != "" {
		clauses = append(clauses, "created_by=?")
		args = append(args, f.CreatedBy)
	}
	return clauses, args
}

func (r Repo) ListTransactions(ctx context.Context, f TransactionFilters) (TransactionPage, error) {
	if f.PageSize <= 0 {
		return TransactionPage{}, fmt.Errorf("page size must be positive")
	}
	if f.PageNumber < 0 {
		return TransactionPage{}, fmt.Errorf("page number must not be negative")
	}
	clauses, args := f.clauses()
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	page := TransactionPage{PageNumber: f.PageNumber, PageSize: f.PageSize}
	if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM transactions `+where, args...).Scan(&page.TotalElements); err != nil {
		return TransactionPage{}, err
	}
	dir := SortAsc
	if strings.EqualFold(f.SortOrder, SortDesc) {
		dir = SortDesc
	}
	query := fmt.Sprintf(`SELECT %s FROM transactions %s ORDER BY created_at %s, id %s LIMIT ? OFFSET ?`, transactionColumns, where, dir, dir)
	args = append(args, f.PageSize, f.PageNumber*f.PageSize)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return TransactionPage{}, err
	}
	defer rows.Close()
	for rows.Next() {
		txn, err := scanTransaction(rows.Scan)
		if err != nil {
			return TransactionPage{}, err
		}
		page.Items = append(page.Items, txn)
	}
	return page, rows.Err()
}
