package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/millerdave152-droid/quotation-app-sub010/internal/domain"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/localstate"
)

// Store keeps session state in process memory. Used when no local database
// is provisioned; state then lives only as long as the process.
type Store struct {
	mu        sync.RWMutex
	cart      *domain.CartState
	held      []domain.HeldCart
	favorites map[string]int64
}

func New() *Store {
	return &Store{favorites: make(map[string]int64)}
}

func (s *Store) SaveCartSnapshot(_ context.Context, cart domain.CartState) error {
	snapshot := cart.Clone()

	s.mu.Lock()
	s.cart = &snapshot
	s.mu.Unlock()
	return nil
}

func (s *Store) LoadCartSnapshot(_ context.Context) (domain.CartState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cart == nil {
		return domain.CartState{}, localstate.ErrNotFound
	}
	return s.cart.Clone(), nil
}

func (s *Store) SaveHeldCarts(_ context.Context, carts []domain.HeldCart) error {
	copied := make([]domain.HeldCart, len(carts))
	for i, held := range carts {
		copied[i] = held
		copied[i].Cart = held.Cart.Clone()
	}

	s.mu.Lock()
	s.held = copied
	s.mu.Unlock()
	return nil
}

func (s *Store) LoadHeldCarts(_ context.Context) ([]domain.HeldCart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.HeldCart, len(s.held))
	for i, held := range s.held {
		out[i] = held
		out[i].Cart = held.Cart.Clone()
	}
	return out, nil
}

func (s *Store) IncrementFavorite(_ context.Context, productID string, by int64) error {
	if productID == "" || by == 0 {
		return nil
	}

	s.mu.Lock()
	s.favorites[productID] += by
	s.mu.Unlock()
	return nil
}

func (s *Store) TopFavorites(_ context.Context, limit int) ([]domain.Favorite, error) {
	s.mu.RLock()
	favorites := make([]domain.Favorite, 0, len(s.favorites))
	for productID, count := range s.favorites {
		favorites = append(favorites, domain.Favorite{ProductID: productID, Count: count})
	}
	s.mu.RUnlock()

	sort.Slice(favorites, func(i, j int) bool {
		if favorites[i].Count == favorites[j].Count {
			return favorites[i].ProductID < favorites[j].ProductID
		}
		return favorites[i].Count > favorites[j].Count
	})
	if limit > 0 && len(favorites) > limit {
		favorites = favorites[:limit]
	}
	return favorites, nil
}
