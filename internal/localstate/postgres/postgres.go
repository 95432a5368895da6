// Package postgres persists terminal state in a local PostgreSQL database,
// for terminals provisioned with one. Snapshots are singleton-keyed JSON rows
// so schema evolution never breaks old state.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/millerdave152-droid/quotation-app-sub010/internal/domain"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/localstate"
)

const (
	keyActiveCart = "active_cart"
	keyHeldCarts  = "held_carts"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS terminal_state (
			key        TEXT PRIMARY KEY,
			payload    JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS favorite_counts (
			product_id TEXT PRIMARY KEY,
			count      BIGINT NOT NULL DEFAULT 0
		);
	`)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SaveCartSnapshot(ctx context.Context, cart domain.CartState) error {
	return s.savePayload(ctx, keyActiveCart, cart)
}

func (s *Store) LoadCartSnapshot(ctx context.Context) (domain.CartState, error) {
	var cart domain.CartState
	if err := s.loadPayload(ctx, keyActiveCart, &cart); err != nil {
		return domain.CartState{}, err
	}
	return cart, nil
}

func (s *Store) SaveHeldCarts(ctx context.Context, carts []domain.HeldCart) error {
	if carts == nil {
		carts = []domain.HeldCart{}
	}
	return s.savePayload(ctx, keyHeldCarts, carts)
}

func (s *Store) LoadHeldCarts(ctx context.Context) ([]domain.HeldCart, error) {
	var carts []domain.HeldCart
	err := s.loadPayload(ctx, keyHeldCarts, &carts)
	if errors.Is(err, localstate.ErrNotFound) {
		return []domain.HeldCart{}, nil
	}
	if err != nil {
		return nil, err
	}
	return carts, nil
}

func (s *Store) IncrementFavorite(ctx context.Context, productID string, by int64) error {
	if productID == "" || by == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO favorite_counts (product_id, count)
		VALUES ($1, $2)
		ON CONFLICT (product_id) DO UPDATE SET count = favorite_counts.count + $2
	`, productID, by)
	return err
}

func (s *Store) TopFavorites(ctx context.Context, limit int) ([]domain.Favorite, error) {
	if limit < 1 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, count
		FROM favorite_counts
		ORDER BY count DESC, product_id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	favorites := make([]domain.Favorite, 0, limit)
	for rows.Next() {
		var favorite domain.Favorite
		if err := rows.Scan(&favorite.ProductID, &favorite.Count); err != nil {
			return nil, err
		}
		favorites = append(favorites, favorite)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return favorites, nil
}

func (s *Store) savePayload(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO terminal_state (key, payload, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET payload = $2, updated_at = now()
	`, key, payload)
	return err
}

func (s *Store) loadPayload(ctx context.Context, key string, dest any) error {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM terminal_state WHERE key = $1
	`, key).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return localstate.ErrNotFound
		}
		return err
	}
	return json.Unmarshal(payload, dest)
}
