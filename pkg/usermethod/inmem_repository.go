package usermethod

import (
	"context"
	"sort"
	"sync"
	"time"
)

type methodKey struct {
	userID   int64
	methodID int
}

// InMemRepository implements Repository with in-memory maps,
// for testing and development.
type InMemRepository struct {
	mutex   sync.Mutex
	methods map[methodKey]UserMethod
	flags   map[int64]bool
}

func NewInMemRepository() *InMemRepository {
	return &InMemRepository{
		methods: make(map[methodKey]UserMethod),
		flags:   make(map[int64]bool),
	}
}

func copyData(data map[string]string) map[string]string {
	if data == nil {
		return nil
	}
	out := make(map[string]string, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

func (r *InMemRepository) Activate(ctx context.Context, userMethod UserMethod) (UserMethod, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	key := methodKey{userMethod.UserID, userMethod.MethodID}
	if _, ok := r.methods[key]; ok {
		return UserMethod{}, ErrAlreadyActivated
	}

	if userMethod.ActivatedOn.IsZero() {
		userMethod.ActivatedOn = time.Now().UTC()
	}
	userMethod.Data = copyData(userMethod.Data)
	r.methods[key] = userMethod
	r.flags[userMethod.UserID] = true
	return userMethod, nil
}

func (r *InMemRepository) Deactivate(ctx context.Context, userID int64, methodID int) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	key := methodKey{userID, methodID}
	if _, ok := r.methods[key]; !ok {
		return ErrNotActivated
	}
	delete(r.methods, key)
	r.flags[userID] = r.hasMethodsLocked(userID)
	return nil
}

func (r *InMemRepository) hasMethodsLocked(userID int64) bool {
	for key := range r.methods {
		if key.userID == userID {
			return true
		}
	}
	return false
}

func (r *InMemRepository) FindByUser(ctx context.Context, userID int64) ([]UserMethod, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var userMethods []UserMethod
	for key, um := range r.methods {
		if key.userID == userID {
			um.Data = copyData(um.Data)
			userMethods = append(userMethods, um)
		}
	}

	sort.Slice(userMethods, func(i, j int) bool {
		return userMethods[i].MethodID < userMethods[j].MethodID
	})
	return userMethods, nil
}

func (r *InMemRepository) Get(ctx context.Context, userID int64, methodID int) (UserMethod, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	um, ok := r.methods[methodKey{userID, methodID}]
	if !ok {
		return UserMethod{}, ErrNotActivated
	}
	um.Data = copyData(um.Data)
	return um, nil
}

func (r *InMemRepository) HasTwoFAEnabled(ctx context.Context, userID int64) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.flags[userID], nil
}

func (r *InMemRepository) RecountFlags(ctx context.Context) (int64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var changed int64
	for userID, flag := range r.flags {
		actual := r.hasMethodsLocked(userID)
		if flag != actual {
			r.flags[userID] = actual
			changed++
		}
	}
	for key := range r.methods {
		if !r.flags[key.userID] {
			r.flags[key.userID] = true
			changed++
		}
	}
	return changed, nil
}

// SetFlag overrides the stored flag directly. Only for tests that need to
// create drift between the flag and the method rows.
func (r *InMemRepository) SetFlag(userID int64, enabled bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.flags[userID] = enabled
}
