package trust

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemRepository implements Repository with an in-memory map,
// for testing and development.
type InMemRepository struct {
	mutex  sync.Mutex
	tokens map[string]Token
}

func NewInMemRepository() *InMemRepository {
	return &InMemRepository{tokens: make(map[string]Token)}
}

func (r *InMemRepository) Create(ctx context.Context, token Token) (Token, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.tokens[token.ID] = token
	return token, nil
}

func (r *InMemRepository) Get(ctx context.Context, tokenID string) (Token, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	token, ok := r.tokens[tokenID]
	if !ok {
		return Token{}, ErrTokenNotFound
	}
	return token, nil
}

func (r *InMemRepository) FindByUser(ctx context.Context, userID int64) ([]Token, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var tokens []Token
	for _, token := range r.tokens {
		if token.UserID == userID {
			tokens = append(tokens, token)
		}
	}

	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].GeneratedOn.After(tokens[j].GeneratedOn)
	})
	return tokens, nil
}

func (r *InMemRepository) Delete(ctx context.Context, userID int64, tokenID string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if token, ok := r.tokens[tokenID]; ok && token.UserID == userID {
		delete(r.tokens, tokenID)
	}
	return nil
}

func (r *InMemRepository) DeleteByUserExcept(ctx context.Context, userID int64, keepTokenID string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for id, token := range r.tokens {
		if token.UserID == userID && id != keepTokenID {
			delete(r.tokens, id)
		}
	}
	return nil
}

func (r *InMemRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var removed int64
	for id, token := range r.tokens {
		if token.Expired(now) {
			delete(r.tokens, id)
			removed++
		}
	}
	return removed, nil
}
