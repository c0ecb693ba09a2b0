package market

import (
	"context"
	"errors"
	"sync"

	"openrate/native/custody"
)

type balanceKey struct {
	owner [20]byte
	mint  [20]byte
}

type mockState struct {
	mints    map[[20]byte]*Mint
	markets  map[[32]byte]*Market
	vaults   map[[32]byte]*Vault
	bids     map[[32]byte]*BidOrder
	borrows  map[[32]byte]*BorrowRecord
	balances map[balanceKey]uint64
}

func newMockState() *mockState {
	return &mockState{
		mints:    make(map[[20]byte]*Mint),
		markets:  make(map[[32]byte]*Market),
		vaults:   make(map[[32]byte]*Vault),
		bids:     make(map[[32]byte]*BidOrder),
		borrows:  make(map[[32]byte]*BorrowRecord),
		balances: make(map[balanceKey]uint64),
	}
}

func (s *mockState) clone() *mockState {
	out := newMockState()
	for k, v := range s.mints {
		out.mints[k] = v.Clone()
	}
	for k, v := range s.markets {
		out.markets[k] = v.Clone()
	}
	for k, v := range s.vaults {
		out.vaults[k] = v.Clone()
	}
	for k, v := range s.bids {
		out.bids[k] = v.Clone()
	}
	for k, v := range s.borrows {
		out.borrows[k] = v.Clone()
	}
	for k, v := range s.balances {
		out.balances[k] = v
	}
	return out
}

// mockStore applies Update atomically by running fn against a copy of the
// state and swapping it in on success.
type mockStore struct {
	mu    sync.Mutex
	state *mockState
	// beforeCommit, when set, runs after fn succeeds and may veto the commit.
	beforeCommit func(tx *mockTx) error
}

func newMockStore() *mockStore {
	return &mockStore{state: newMockState()}
}

func (s *mockStore) Update(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &mockTx{state: s.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if s.beforeCommit != nil {
		if err := s.beforeCommit(tx); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

func (s *mockStore) View(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&mockTx{state: s.state.clone()})
}

func (s *mockStore) setBalance(owner, mint [20]byte, amount uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.balances[balanceKey{owner, mint}] = amount
}

func (s *mockStore) balance(owner, mint [20]byte) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.balances[balanceKey{owner, mint}]
}

func (s *mockStore) mutate(fn func(*mockState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.state)
}

type mockTx struct {
	state *mockState
}

var errDuplicate = errors.New("mock: duplicate key")

func (t *mockTx) Balance(owner, mint [20]byte) (uint64, error) {
	return t.state.balances[balanceKey{owner, mint}], nil
}

func (t *mockTx) Transfer(from, to, mint [20]byte, amount uint64) error {
	src := balanceKey{from, mint}
	if t.state.balances[src] < amount {
		return custody.ErrInsufficientBalance
	}
	dst := balanceKey{to, mint}
	if t.state.balances[dst] > MaxAmount-amount {
		return custody.ErrBalanceOverflow
	}
	t.state.balances[src] -= amount
	t.state.balances[dst] += amount
	return nil
}

func (t *mockTx) Credit(owner, mint [20]byte, amount uint64) error {
	key := balanceKey{owner, mint}
	if t.state.balances[key] > MaxAmount-amount {
		return custody.ErrBalanceOverflow
	}
	t.state.balances[key] += amount
	return nil
}

func (t *mockTx) MintGet(id [20]byte) (*Mint, bool, error) {
	m, ok := t.state.mints[id]
	return m.Clone(), ok, nil
}

func (t *mockTx) MintCreate(m *Mint) error {
	if _, ok := t.state.mints[m.ID]; ok {
		return errDuplicate
	}
	t.state.mints[m.ID] = m.Clone()
	return nil
}

func (t *mockTx) MarketGet(id [32]byte) (*Market, bool, error) {
	m, ok := t.state.markets[id]
	return m.Clone(), ok, nil
}

func (t *mockTx) MarketCreate(m *Market) error {
	if _, ok := t.state.markets[m.ID]; ok {
		return errDuplicate
	}
	t.state.markets[m.ID] = m.Clone()
	return nil
}

func (t *mockTx) MarketUpdate(m *Market) error {
	t.state.markets[m.ID] = m.Clone()
	return nil
}

func (t *mockTx) VaultGet(id [32]byte) (*Vault, bool, error) {
	v, ok := t.state.vaults[id]
	return v.Clone(), ok, nil
}

func (t *mockTx) VaultCreate(v *Vault) error {
	if _, ok := t.state.vaults[v.ID]; ok {
		return errDuplicate
	}
	t.state.vaults[v.ID] = v.Clone()
	return nil
}

func (t *mockTx) VaultUpdate(v *Vault) error {
	t.state.vaults[v.ID] = v.Clone()
	return nil
}

func (t *mockTx) BidGet(id [32]byte) (*BidOrder, bool, error) {
	b, ok := t.state.bids[id]
	return b.Clone(), ok, nil
}

func (t *mockTx) BidCreate(b *BidOrder) error {
	if _, ok := t.state.bids[b.ID]; ok {
		return errDuplicate
	}
	t.state.bids[b.ID] = b.Clone()
	return nil
}

func (t *mockTx) BidUpdate(b *BidOrder) error {
	t.state.bids[b.ID] = b.Clone()
	return nil
}

func (t *mockTx) BidsByMarket(market [32]byte) ([]*BidOrder, error) {
	var out []*BidOrder
	for _, b := range t.state.bids {
		if b.Market == market {
			out = append(out, b.Clone())
		}
	}
	return out, nil
}

func (t *mockTx) BorrowGet(id [32]byte) (*BorrowRecord, bool, error) {
	r, ok := t.state.borrows[id]
	return r.Clone(), ok, nil
}

func (t *mockTx) BorrowCreate(r *BorrowRecord) error {
	if _, ok := t.state.borrows[r.ID]; ok {
		return errDuplicate
	}
	t.state.borrows[r.ID] = r.Clone()
	return nil
}

func (t *mockTx) BorrowUpdate(r *BorrowRecord) error {
	t.state.borrows[r.ID] = r.Clone()
	return nil
}

func (t *mockTx) ActiveBorrow(borrower [20]byte, bid [32]byte) (*BorrowRecord, bool, error) {
	for _, r := range t.state.borrows {
		if r.Borrower == borrower && r.Bid == bid && r.Status == BorrowActive {
			return r.Clone(), true, nil
		}
	}
	return nil, false, nil
}

func (t *mockTx) MarketTotals(market [32]byte) (Totals, error) {
	var totals Totals
	for _, b := range t.state.bids {
		if b.Market != market {
			continue
		}
		if b.Status.Live() {
			totals.Remaining += b.Remaining
		}
		totals.Proceeds += b.Proceeds
	}
	return totals, nil
}
