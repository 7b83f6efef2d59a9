// Package memory is an in-process implementation of repository.Store.
//
// It keeps the same transactional guarantees as the MySQL store: row locks
// taken through LockAccount are held until the unit of work ends, writes are
// staged and only become visible at commit, and commit re-validates every
// expected version and ledger key so a conflicting unit of work fails as a
// whole.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"coinbank/internal/model"
	"coinbank/internal/repository"

	"gorm.io/gorm"
)

type Store struct {
	mu            sync.Mutex
	accounts      map[int64]*model.Account
	emails        map[string]int64
	ledger        map[string]*model.LedgerEntry
	ledgerOrder   []string
	outbox        []*model.OutboxMessage
	rowLocks      map[int64]chan struct{}
	nextAccountID int64
	nextOutboxID  int64
	now           func() time.Time
}

var _ repository.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		accounts: make(map[int64]*model.Account),
		emails:   make(map[string]int64),
		ledger:   make(map[string]*model.LedgerEntry),
		rowLocks: make(map[int64]chan struct{}),
		now:      time.Now,
	}
}

func cloneAccount(a *model.Account) *model.Account {
	c := *a
	return &c
}

func cloneEntry(e *model.LedgerEntry) *model.LedgerEntry {
	c := *e
	return &c
}

// live returns the committed row for id unless it is missing or soft deleted.
// Caller holds s.mu.
func (s *Store) live(id int64) (*model.Account, bool) {
	a, ok := s.accounts[id]
	if !ok || a.DeletedAt.Valid {
		return nil, false
	}
	return a, true
}

func (s *Store) CreateAccount(ctx context.Context, account *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := model.NormalizeEmail(account.Email)
	if _, exists := s.emails[email]; exists {
		return fmt.Errorf("%w: email %s", repository.ErrDuplicateEntry, email)
	}

	s.nextAccountID++
	now := s.now()
	account.ID = s.nextAccountID
	account.Email = email
	account.CreatedAt = now
	account.UpdatedAt = now

	s.accounts[account.ID] = cloneAccount(account)
	s.emails[email] = account.ID
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.live(id)
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	return cloneAccount(a), nil
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.emails[model.NormalizeEmail(email)]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	a, ok := s.live(id)
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	return cloneAccount(a), nil
}

func (s *Store) ListAccounts(ctx context.Context, page, pageSize int) ([]*model.Account, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.accounts))
	for id, a := range s.accounts {
		if !a.DeletedAt.Valid {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	total := int64(len(ids))
	start, end := pageBounds(len(ids), page, pageSize)

	out := make([]*model.Account, 0, end-start)
	for _, id := range ids[start:end] {
		out = append(out, cloneAccount(s.accounts[id]))
	}
	return out, total, nil
}

func (s *Store) UpdateProfile(ctx context.Context, account *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.live(account.ID)
	if !ok {
		return repository.ErrAccountNotFound
	}

	email := model.NormalizeEmail(account.Email)
	if email != cur.Email {
		if _, taken := s.emails[email]; taken {
			return fmt.Errorf("%w: email %s", repository.ErrDuplicateEntry, email)
		}
		delete(s.emails, cur.Email)
		s.emails[email] = cur.ID
	}

	cur.Email = email
	cur.PhoneNumber = account.PhoneNumber
	cur.PasswordHash = account.PasswordHash
	cur.IsVerified = account.IsVerified
	cur.UpdatedAt = s.now()
	return nil
}

func (s *Store) DeleteAccount(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.live(id)
	if !ok {
		return repository.ErrAccountNotFound
	}
	cur.DeletedAt = gorm.DeletedAt{Time: s.now(), Valid: true}
	return nil
}

func (s *Store) ExistsByIdempotencyKey(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.ledger[key]
	return ok, nil
}

func (s *Store) GetLedgerEntry(ctx context.Context, id string) (*model.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.ledger[id]
	if !ok {
		return nil, nil
	}
	return cloneEntry(e), nil
}

// ListLedgerEntries returns newest first.
func (s *Store) ListLedgerEntries(ctx context.Context, accountID int64, page, pageSize int) ([]*model.LedgerEntry, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*model.LedgerEntry
	for i := len(s.ledgerOrder) - 1; i >= 0; i-- {
		e := s.ledger[s.ledgerOrder[i]]
		if e.Touches(accountID) {
			matched = append(matched, e)
		}
	}

	total := int64(len(matched))
	start, end := pageBounds(len(matched), page, pageSize)

	out := make([]*model.LedgerEntry, 0, end-start)
	for _, e := range matched[start:end] {
		out = append(out, cloneEntry(e))
	}
	return out, total, nil
}

// LedgerEntries returns every committed entry in append order.
func (s *Store) LedgerEntries() []*model.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.LedgerEntry, 0, len(s.ledgerOrder))
	for _, id := range s.ledgerOrder {
		out = append(out, cloneEntry(s.ledger[id]))
	}
	return out
}

func pageBounds(n, page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		return 0, 0
	}
	start := (page - 1) * pageSize
	if start > n {
		start = n
	}
	end := start + pageSize
	if end > n {
		end = n
	}
	return start, end
}

// ============================================================================
// Units of work
// ============================================================================

func (s *Store) rowLock(id int64) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.rowLocks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.rowLocks[id] = ch
	}
	return ch
}

func (s *Store) WithinUnitOfWork(ctx context.Context, fn repository.UnitOfWorkFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	uow := &unitOfWork{
		store:    s,
		locked:   make(map[int64]chan struct{}),
		writes:   make(map[int64]balanceWrite),
		expected: make(map[int64]int),
	}
	// Staged writes are simply dropped on error or panic; only locks need releasing.
	defer uow.release()

	if err := fn(ctx, uow); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return uow.commit()
}

type unitOfWork struct {
	store    *Store
	locked   map[int64]chan struct{}
	writes   map[int64]balanceWrite
	expected map[int64]int // committed version each staged write was based on
	entries  []*model.LedgerEntry
	outbox   []*model.OutboxMessage
}

// balanceWrite holds the only columns a unit of work changes. Profile fields
// always come from the live row.
type balanceWrite struct {
	balance   int64
	version   int
	updatedAt time.Time
}

func (w balanceWrite) applyTo(a *model.Account) {
	a.Balance = w.balance
	a.Version = w.version
	a.UpdatedAt = w.updatedAt
}

func (u *unitOfWork) AccountByID(ctx context.Context, id int64) (*model.Account, error) {
	a, err := u.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if w, ok := u.writes[id]; ok {
		w.applyTo(a)
	}
	return a, nil
}

func (u *unitOfWork) AccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	a, err := u.store.GetAccountByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	return u.AccountByID(ctx, a.ID)
}

func (u *unitOfWork) LockAccount(ctx context.Context, id int64) (*model.Account, error) {
	if _, held := u.locked[id]; !held {
		ch := u.store.rowLock(id)
		select {
		case ch <- struct{}{}:
			u.locked[id] = ch
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return u.AccountByID(ctx, id)
}

func (u *unitOfWork) UpdateBalance(ctx context.Context, id int64, newBalance int64, expectedVersion int) (*model.Account, error) {
	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.live(id)
	if !ok {
		return nil, repository.ErrAccountNotFound
	}

	seen := cur.Version
	if staged, ok := u.writes[id]; ok {
		seen = staged.version
	}
	if seen != expectedVersion {
		return nil, repository.ErrVersionConflict
	}

	if _, ok := u.expected[id]; !ok {
		u.expected[id] = cur.Version
	}

	w := balanceWrite{balance: newBalance, version: seen + 1, updatedAt: s.now()}
	u.writes[id] = w

	out := cloneAccount(cur)
	w.applyTo(out)
	return out, nil
}

func (u *unitOfWork) AppendLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error {
	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ledger[entry.ID]; exists {
		return fmt.Errorf("%w: ledger entry %s", repository.ErrDuplicateEntry, entry.ID)
	}
	for _, staged := range u.entries {
		if staged.ID == entry.ID {
			return fmt.Errorf("%w: ledger entry %s", repository.ErrDuplicateEntry, entry.ID)
		}
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	u.entries = append(u.entries, cloneEntry(entry))
	return nil
}

func (u *unitOfWork) AppendOutbox(ctx context.Context, msg *model.OutboxMessage) error {
	c := *msg
	if c.Status == "" {
		c.Status = model.OutboxStatusPending
	}
	u.outbox = append(u.outbox, &c)
	return nil
}

func (u *unitOfWork) commit() error {
	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, base := range u.expected {
		cur, ok := s.live(id)
		if !ok {
			return fmt.Errorf("%w: account %d deleted before commit", repository.ErrAccountNotFound, id)
		}
		if cur.Version != base {
			return repository.ErrVersionConflict
		}
	}
	for _, e := range u.entries {
		if _, exists := s.ledger[e.ID]; exists {
			return fmt.Errorf("%w: ledger entry %s", repository.ErrDuplicateEntry, e.ID)
		}
	}

	for id, w := range u.writes {
		w.applyTo(s.accounts[id])
	}
	for _, e := range u.entries {
		s.ledger[e.ID] = e
		s.ledgerOrder = append(s.ledgerOrder, e.ID)
	}
	now := s.now()
	for _, m := range u.outbox {
		s.nextOutboxID++
		m.ID = s.nextOutboxID
		m.CreatedAt = now
		m.UpdatedAt = now
		s.outbox = append(s.outbox, m)
	}
	return nil
}

func (u *unitOfWork) release() {
	for id, ch := range u.locked {
		<-ch
		delete(u.locked, id)
	}
}

// ============================================================================
// Outbox
// ============================================================================

func (s *Store) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.OutboxMessage
	for _, m := range s.outbox {
		if len(out) >= limit {
			break
		}
		if m.Status == model.OutboxStatusPending {
			c := *m
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *Store) MarkAsSent(ctx context.Context, id int64) error {
	return s.updateOutbox(id, func(m *model.OutboxMessage) { m.Status = model.OutboxStatusSent })
}

func (s *Store) IncrementRetryCount(ctx context.Context, id int64) error {
	return s.updateOutbox(id, func(m *model.OutboxMessage) { m.RetryCount++ })
}

func (s *Store) MarkAsFailed(ctx context.Context, id int64) error {
	return s.updateOutbox(id, func(m *model.OutboxMessage) { m.Status = model.OutboxStatusFailed })
}

func (s *Store) updateOutbox(id int64, apply func(m *model.OutboxMessage)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.outbox {
		if m.ID == id {
			apply(m)
			m.UpdatedAt = s.now()
			return nil
		}
	}
	return fmt.Errorf("outbox message %d not found", id)
}

func (s *Store) DeleteSentBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	kept := s.outbox[:0]
	for _, m := range s.outbox {
		if deleted < int64(limit) && m.Status == model.OutboxStatusSent && m.UpdatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, m)
	}
	s.outbox = kept
	return deleted, nil
}

// OutboxMessages returns a snapshot of every outbox row.
func (s *Store) OutboxMessages() []*model.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.OutboxMessage, 0, len(s.outbox))
	for _, m := range s.outbox {
		c := *m
		out = append(out, &c)
	}
	return out
}
