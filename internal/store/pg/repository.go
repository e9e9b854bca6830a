package pg

import (
	"context"
	"fmt"
	"strings"
)

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// Table describes how one entity maps onto its table. Columns lists the
// selected columns in the order Scan expects them; the first is the primary key.
type Table[T any] struct {
	Name    string
	Columns []string
	// Owner is the column holding the owning user id, empty when the
	// entity has no owner.
	Owner string
	Scan  func(scanner, *T) error
}

func (t Table[T]) selectList() string { return strings.Join(t.Columns, ", ") }

func (t Table[T]) key() string { return t.Columns[0] }

// ListFilter narrows List. An empty OwnerID means every owner.
type ListFilter struct {
	OwnerID string
	Limit   int
	Offset  int
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (f ListFilter) bounds() (limit, offset int) {
	limit = f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset = f.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// Repository is the shared read and delete path for one table. Inserts and
// updates stay with the entity repositories since their columns differ.
type Repository[T any] struct {
	q     querier
	table Table[T]
}

func newRepository[T any](q querier, table Table[T]) Repository[T] {
	return Repository[T]{q: q, table: table}
}

// Get loads one row by primary key.
func (r Repository[T]) Get(ctx context.Context, id string) (T, error) {
	var out T
	query := fmt.Sprintf(`select %s from %s where %s = $1`, r.table.selectList(), r.table.Name, r.table.key())
	if err := r.table.Scan(r.q.QueryRowContext(ctx, query, id), &out); err != nil {
		return out, Classify(err)
	}
	return out, nil
}

// List returns rows ordered by creation, restricted to one owner when the
// filter names one.
func (r Repository[T]) List(ctx context.Context, f ListFilter) ([]T, error) {
	limit, offset := f.bounds()
	var (
		where string
		args  []any
	)
	if f.OwnerID != "" {
		if r.table.Owner == "" {
			return nil, fmt.Errorf("pg: %s has no owner column", r.table.Name)
		}
		where = fmt.Sprintf(" where %s = $1", r.table.Owner)
		args = append(args, f.OwnerID)
	}
	args = append(args, limit, offset)
	query := fmt.Sprintf(`select %s from %s%s order by created_at, %s limit $%d offset $%d`,
		r.table.selectList(), r.table.Name, where, r.table.key(), len(args)-1, len(args))

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Classify(err)
	}
	defer rows.Close()
	out := make([]T, 0)
	for rows.Next() {
		var item T
		if err := r.table.Scan(rows, &item); err != nil {
			return nil, Classify(err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, Classify(err)
	}
	return out, nil
}

// OwnerOf returns the owning user id of one row.
func (r Repository[T]) OwnerOf(ctx context.Context, id string) (string, error) {
	if r.table.Owner == "" {
		return "", fmt.Errorf("pg: %s has no owner column", r.table.Name)
	}
	var owner string
	query := fmt.Sprintf(`select %s from %s where %s = $1`, r.table.Owner, r.table.Name, r.table.key())
	if err := r.q.QueryRowContext(ctx, query, id).Scan(&owner); err != nil {
		return "", Classify(err)
	}
	return owner, nil
}

// Delete removes one row. A missing row is ErrNotFound.
func (r Repository[T]) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`delete from %s where %s = $1`, r.table.Name, r.table.key())
	res, err := r.q.ExecContext(ctx, query, id)
	if err != nil {
		return Classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Classify(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
