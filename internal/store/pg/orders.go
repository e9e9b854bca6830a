package pg

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Order is the owned entity every guarded CRUD route operates on.
type Order struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	IsPaid    bool      `json:"is_paid"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OrderPatch holds the fields an update may change. Nil fields are kept.
type OrderPatch struct {
	Quantity *int
	IsPaid   *bool
}

var orderTable = Table[Order]{
	Name:    "orders",
	Columns: []string{"id", "user_id", "product_id", "quantity", "is_paid", "created_at", "updated_at"},
	Owner:   "user_id",
	Scan: func(row scanner, o *Order) error {
		return row.Scan(&o.ID, &o.UserID, &o.ProductID, &o.Quantity, &o.IsPaid, &o.CreatedAt, &o.UpdatedAt)
	},
}

// OrderRepo is the orders table bound to one session.
type OrderRepo struct {
	Repository[Order]
}

func newOrderRepo(q querier) *OrderRepo {
	return &OrderRepo{Repository: newRepository(q, orderTable)}
}

// Create inserts o owned by o.UserID and fills the generated fields.
func (r *OrderRepo) Create(ctx context.Context, o *Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	row := r.q.QueryRowContext(ctx, `
		insert into orders (id, user_id, product_id, quantity, is_paid)
		values ($1, $2, $3, $4, $5)
		returning created_at, updated_at
	`, o.ID, o.UserID, o.ProductID, o.Quantity, o.IsPaid)
	if err := row.Scan(&o.CreatedAt, &o.UpdatedAt); err != nil {
		return Classify(err)
	}
	return nil
}

// Update applies p to one order and returns the stored row.
func (r *OrderRepo) Update(ctx context.Context, id string, p OrderPatch) (Order, error) {
	var o Order
	row := r.q.QueryRowContext(ctx, `
		update orders
		set quantity = coalesce($2, quantity),
		    is_paid = coalesce($3, is_paid),
		    updated_at = now()
		where id = $1
		returning `+orderTable.selectList(), id, p.Quantity, p.IsPaid)
	if err := orderTable.Scan(row, &o); err != nil {
		return Order{}, Classify(err)
	}
	return o, nil
}
