package license

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "keymint/internal/errors"
	"keymint/internal/generator"
)

// fakeCrypto mimics the real codec: deterministic hash, non-deterministic
// reversible "encryption".
type fakeCrypto struct {
	mu      sync.Mutex
	counter int
}

func (f *fakeCrypto) Encrypt(plaintext string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counter++
	return fmt.Sprintf("enc#%d:%s", f.counter, plaintext), nil
}

func (f *fakeCrypto) Decrypt(ciphertext string) string {
	idx := strings.Index(ciphertext, ":")
	if !strings.HasPrefix(ciphertext, "enc#") || idx < 0 {
		return ""
	}
	return ciphertext[idx+1:]
}

func (f *fakeCrypto) Hash(plaintext string) string {
	return "hash:" + plaintext
}

// fakeRepo is an in-memory Repository with the same error contract as the
// SQLite store.
type fakeRepo struct {
	mu     sync.Mutex
	nextID int64
	keys   map[int64]*Key
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{keys: make(map[int64]*Key)}
}

func (r *fakeRepo) clone(key *Key) *Key {
	c := *key
	return &c
}

func (r *fakeRepo) Insert(_ context.Context, key *Key) (*Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.keys {
		if existing.Hash == key.Hash {
			return nil, apperrors.ErrDuplicateKey
		}
	}
	r.nextID++
	stored := r.clone(key)
	stored.ID = r.nextID
	stored.CreatedAt = time.Now().UTC()
	stored.UpdatedAt = stored.CreatedAt
	r.keys[stored.ID] = stored
	return r.clone(stored), nil
}

func (r *fakeRepo) FindByID(_ context.Context, id int64) (*Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[id]
	if !ok {
		return nil, apperrors.ErrKeyNotFound
	}
	return r.clone(key), nil
}

func (r *fakeRepo) FindByHash(_ context.Context, hash string) (*Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range r.keys {
		if key.Hash == hash {
			return r.clone(key), nil
		}
	}
	return nil, apperrors.ErrKeyNotFound
}

func (r *fakeRepo) matches(key *Key, filter Filter) bool {
	if filter.OrderID != nil && (key.OrderID == nil || *key.OrderID != *filter.OrderID) {
		return false
	}
	if filter.ProductID != nil && (key.ProductID == nil || *key.ProductID != *filter.ProductID) {
		return false
	}
	if filter.Status != nil && key.Status != *filter.Status {
		return false
	}
	if filter.Source != nil && key.Source != *filter.Source {
		return false
	}
	return true
}

func (r *fakeRepo) FindAllBy(_ context.Context, filter Filter) ([]*Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Key
	for _, key := range r.keys {
		if r.matches(key, filter) {
			out = append(out, r.clone(key))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *fakeRepo) CountBy(ctx context.Context, filter Filter) (int64, error) {
	keys, err := r.FindAllBy(ctx, Filter{
		OrderID:   filter.OrderID,
		ProductID: filter.ProductID,
		Status:    filter.Status,
		Source:    filter.Source,
	})
	if err != nil {
		return 0, err
	}
	return int64(len(keys)), nil
}

func applyPatch(key *Key, patch Patch) {
	if patch.Ciphertext.IsSet() && !patch.Ciphertext.IsNull() {
		key.Ciphertext = patch.Ciphertext.Value()
	}
	if patch.Hash.IsSet() && !patch.Hash.IsNull() {
		key.Hash = patch.Hash.Value()
	}
	if patch.OrderID.IsSet() {
		if patch.OrderID.IsNull() {
			key.OrderID = nil
		} else {
			v := patch.OrderID.Value()
			key.OrderID = &v
		}
	}
	if patch.ProductID.IsSet() {
		if patch.ProductID.IsNull() {
			key.ProductID = nil
		} else {
			v := patch.ProductID.Value()
			key.ProductID = &v
		}
	}
	if patch.ValidFor.IsSet() {
		if patch.ValidFor.IsNull() {
			key.ValidFor = nil
		} else {
			v := patch.ValidFor.Value()
			key.ValidFor = &v
		}
	}
	if patch.ExpiresAt.IsSet() {
		if patch.ExpiresAt.IsNull() {
			key.ExpiresAt = nil
		} else {
			v := patch.ExpiresAt.Value()
			key.ExpiresAt = &v
		}
	}
	if patch.Source.IsSet() && !patch.Source.IsNull() {
		key.Source = patch.Source.Value()
	}
	if patch.Status.IsSet() && !patch.Status.IsNull() {
		key.Status = patch.Status.Value()
	}
	if patch.TimesActivatedMax.IsSet() {
		if patch.TimesActivatedMax.IsNull() {
			key.TimesActivatedMax = nil
		} else {
			v := patch.TimesActivatedMax.Value()
			key.TimesActivatedMax = &v
		}
	}
	if patch.UpdatedBy.IsSet() && !patch.UpdatedBy.IsNull() {
		key.UpdatedBy = patch.UpdatedBy.Value()
	}
	key.UpdatedAt = time.Now().UTC()
}

func (r *fakeRepo) Update(_ context.Context, id int64, patch Patch) (*Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[id]
	if !ok {
		return nil, apperrors.ErrKeyNotFound
	}
	applyPatch(key, patch)
	return r.clone(key), nil
}

func (r *fakeRepo) UpdateBy(_ context.Context, filter Filter, patch Patch) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, key := range r.keys {
		if r.matches(key, filter) {
			applyPatch(key, patch)
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) Delete(_ context.Context, ids []int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := r.keys[id]; ok {
			delete(r.keys, id)
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) IncrementActivation(_ context.Context, id int64) (*Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[id]
	if !ok {
		return nil, apperrors.ErrKeyNotFound
	}
	if key.TimesActivatedMax == nil || *key.TimesActivatedMax == 0 {
		return nil, apperrors.ErrActivationNotConfigured
	}
	if key.TimesActivated >= *key.TimesActivatedMax {
		return nil, apperrors.ErrActivationLimitExceeded
	}
	key.TimesActivated++
	key.UpdatedAt = time.Now().UTC()
	return r.clone(key), nil
}

// fakeOrders tracks fulfillment flags in memory.
type fakeOrders struct {
	mu        sync.Mutex
	fulfilled map[int64]bool
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{fulfilled: make(map[int64]bool)}
}

func (o *fakeOrders) IsFulfilled(_ context.Context, orderID int64) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fulfilled[orderID], nil
}

func (o *fakeOrders) MarkFulfilled(_ context.Context, orderID int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fulfilled[orderID] = true
	return nil
}

// fakeProducts is an in-memory product catalog.
type fakeProducts struct {
	products map[int64]*Product
}

func (p *fakeProducts) FindProduct(_ context.Context, id int64) (*Product, error) {
	product, ok := p.products[id]
	if !ok {
		return nil, apperrors.ErrKeyNotFound
	}
	c := *product
	return &c, nil
}

// fakeSpecs is an in-memory generator spec source.
type fakeSpecs struct {
	specs map[int64]*generator.Spec
}

func (s *fakeSpecs) FindSpec(_ context.Context, id int64) (*generator.Spec, error) {
	spec, ok := s.specs[id]
	if !ok {
		return nil, apperrors.ErrGeneratorNotFound
	}
	c := *spec
	return &c, nil
}
