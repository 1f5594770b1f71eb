package db

import (
	"context"
	"fmt"

	"github.com/openclob/exchange/internal/exchange"
	"github.com/openclob/exchange/internal/models"

	"github.com/google/uuid"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool. Every connection
// registers the shopspring decimal codec so numeric columns scan
// directly into decimal.Decimal.
func NewDB(ctx context.Context, connString string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// CreateUser inserts a new user
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id, username, password_hash, created_at",
		username, passwordHash).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// CreateOrder inserts the durable record of a submitted order. The
// engine assigns order ids, so the caller supplies the id.
func (db *DB) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	if order.ID == uuid.Nil {
		return nil, fmt.Errorf("order id required")
	}

	newOrder := &models.Order{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO orders (id, user_id, side, type, price, quantity, status) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, user_id, side, type, price, quantity, status, created_at",
		order.ID, order.UserID, order.Side, order.Type, order.Price, order.Quantity, order.Status).Scan(
		&newOrder.ID, &newOrder.UserID, &newOrder.Side, &newOrder.Type, &newOrder.Price, &newOrder.Quantity, &newOrder.Status, &newOrder.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return newOrder, nil
}

// GetOrder retrieves a single order by id
func (db *DB) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order := &models.Order{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, user_id, side, type, price, quantity, status, created_at FROM orders WHERE id = $1",
		orderID).Scan(&order.ID, &order.UserID, &order.Side, &order.Type, &order.Price, &order.Quantity, &order.Status, &order.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("order not found")
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// UpdateOrderStatus updates an order's status
func (db *DB) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status string) error {
	_, err := db.Pool.Exec(ctx, "UPDATE orders SET status = $1 WHERE id = $2", status, orderID)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	return nil
}

// AmendOrder rewrites an order's price and quantity after the engine
// accepted an amendment.
func (db *DB) AmendOrder(ctx context.Context, orderID uuid.UUID, price, quantity decimal.Decimal) error {
	_, err := db.Pool.Exec(ctx,
		"UPDATE orders SET price = $1, quantity = $2 WHERE id = $3",
		price, quantity, orderID)
	if err != nil {
		return fmt.Errorf("failed to amend order: %w", err)
	}
	return nil
}

// GetUserOrders retrieves all orders for a user
func (db *DB) GetUserOrders(ctx context.Context, userID int) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT id, user_id, side, type, price, quantity, status, created_at FROM orders WHERE user_id = $1 ORDER BY created_at",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var order models.Order
		if err := rows.Scan(&order.ID, &order.UserID, &order.Side, &order.Type, &order.Price, &order.Quantity, &order.Status, &order.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// CreateFill inserts one execution record
func (db *DB) CreateFill(ctx context.Context, fill *models.Fill) (*models.Fill, error) {
	newFill := &models.Fill{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO fills (order_id, side, kind, price, quantity) VALUES ($1, $2, $3, $4, $5) RETURNING id, order_id, side, kind, price, quantity, executed_at",
		fill.OrderID, fill.Side, fill.Kind, fill.Price, fill.Quantity).Scan(
		&newFill.ID, &newFill.OrderID, &newFill.Side, &newFill.Kind, &newFill.Price, &newFill.Quantity, &newFill.ExecutedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create fill: %w", err)
	}
	return newFill, nil
}

// GetUserFills retrieves all executions against a user's orders
func (db *DB) GetUserFills(ctx context.Context, userID int) ([]models.Fill, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT f.id, f.order_id, f.side, f.kind, f.price, f.quantity, f.executed_at "+
			"FROM fills f JOIN orders o ON f.order_id = o.id "+
			"WHERE o.user_id = $1 ORDER BY f.executed_at",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user fills: %w", err)
	}
	defer rows.Close()

	var fills []models.Fill
	for rows.Next() {
		var fill models.Fill
		if err := rows.Scan(&fill.ID, &fill.OrderID, &fill.Side, &fill.Kind, &fill.Price, &fill.Quantity, &fill.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fill: %w", err)
		}
		fills = append(fills, fill)
	}
	return fills, rows.Err()
}

// GetAllFills retrieves every execution record
func (db *DB) GetAllFills(ctx context.Context) ([]models.Fill, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT id, order_id, side, kind, price, quantity, executed_at FROM fills ORDER BY executed_at")
	if err != nil {
		return nil, fmt.Errorf("failed to get fills: %w", err)
	}
	defer rows.Close()

	var fills []models.Fill
	for rows.Next() {
		var fill models.Fill
		if err := rows.Scan(&fill.ID, &fill.OrderID, &fill.Side, &fill.Kind, &fill.Price, &fill.Quantity, &fill.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fill: %w", err)
		}
		fills = append(fills, fill)
	}
	return fills, rows.Err()
}

// RecordOutcomes durably records the success outcomes of one processed
// request, keyed by order id. The order rows for the aggressor and all
// resting counterparties must already exist. Failed and Accepted
// outcomes carry nothing to record here: rejections have no effect and
// acceptance is the order row itself.
func (db *DB) RecordOutcomes(ctx context.Context, outcomes []exchange.Outcome[models.Asset]) error {
	for _, out := range outcomes {
		switch out.Kind {
		case exchange.Filled, exchange.PartiallyFilled:
			_, err := db.CreateFill(ctx, &models.Fill{
				OrderID:  out.OrderID,
				Side:     out.Side.String(),
				Kind:     out.Kind.String(),
				Price:    out.Price,
				Quantity: out.Qty,
			})
			if err != nil {
				return err
			}
			if out.Kind == exchange.Filled {
				if err := db.UpdateOrderStatus(ctx, out.OrderID, "filled"); err != nil {
					return err
				}
			}
		case exchange.Amended:
			if err := db.AmendOrder(ctx, out.OrderID, out.Price, out.Qty); err != nil {
				return err
			}
		case exchange.Cancelled:
			if err := db.UpdateOrderStatus(ctx, out.OrderID, "canceled"); err != nil {
				return err
			}
		}
	}
	return nil
}

// CancelOrder cancels an order if it belongs to the user and is open
func (db *DB) CancelOrder(ctx context.Context, orderID uuid.UUID, userID int) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the row for update to prevent concurrent modifications
	var status string
	err = tx.QueryRow(ctx,
		"SELECT status FROM orders WHERE id = $1 AND user_id = $2 FOR UPDATE",
		orderID, userID).Scan(&status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return fmt.Errorf("order not found or not owned by user")
		}
		return fmt.Errorf("failed to get order: %w", err)
	}

	if status != "open" {
		return fmt.Errorf("order not open")
	}

	tag, err := tx.Exec(ctx,
		"UPDATE orders SET status = 'canceled' WHERE id = $1 AND user_id = $2 AND status = 'open'",
		orderID, userID)
	if err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order not found, not owned by user, or not open")
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetOpenOrders retrieves all open orders in arrival order, for
// rebuilding the resting book at startup.
func (db *DB) GetOpenOrders(ctx context.Context) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, user_id, side, type, price, quantity, status, created_at
		FROM orders
		WHERE status = 'open'
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var order models.Order
		err := rows.Scan(
			&order.ID,
			&order.UserID,
			&order.Side,
			&order.Type,
			&order.Price,
			&order.Quantity,
			&order.Status,
			&order.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}
