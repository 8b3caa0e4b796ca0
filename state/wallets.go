package state

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNonceUnderflow      = errors.New("nonce underflow")
)

// Wallet is the balance sheet of a single address.
type Wallet struct {
	Address common.Address
	Balance *big.Int
	Nonce   *big.Int
}

func newWallet(addr common.Address) *Wallet {
	return &Wallet{Address: addr, Balance: new(big.Int), Nonce: new(big.Int)}
}

func (w *Wallet) copy() *Wallet {
	return &Wallet{
		Address: w.Address,
		Balance: new(big.Int).Set(w.Balance),
		Nonce:   new(big.Int).Set(w.Nonce),
	}
}

// WalletRepository holds every known wallet. Reads take a shared lock,
// mutations go through Update which holds the exclusive lock for the whole
// callback.
type WalletRepository struct {
	mu      sync.RWMutex
	wallets map[common.Address]*Wallet
}

// NewWalletRepository returns an empty repository.
func NewWalletRepository() *WalletRepository {
	return &WalletRepository{wallets: make(map[common.Address]*Wallet)}
}

// Get returns a copy of the wallet, or a zero wallet if addr is unknown.
func (r *WalletRepository) Get(addr common.Address) Wallet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if w, ok := r.wallets[addr]; ok {
		return *w.copy()
	}
	return *newWallet(addr)
}

func (r *WalletRepository) Has(addr common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.wallets[addr]
	return ok
}

// Nonce returns the last nonce used by addr, 0 for an unknown wallet.
func (r *WalletRepository) Nonce(addr common.Address) *big.Int {
	return r.Get(addr).Nonce
}

func (r *WalletRepository) Balance(addr common.Address) *big.Int {
	return r.Get(addr).Balance
}

func (r *WalletRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.wallets)
}

// Reset forgets every wallet.
func (r *WalletRepository) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wallets = make(map[common.Address]*Wallet)
}

// Update runs fn with exclusive access. If fn fails, all of its changes are undone.
func (r *WalletRepository) Update(fn func(m *Mutator) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := &Mutator{repo: r, journal: make(map[common.Address]*Wallet)}
	if err := fn(m); err != nil {
		m.rollback()
		return err
	}
	return nil
}

// Mutator changes wallets inside WalletRepository.Update.
type Mutator struct {
	repo    *WalletRepository
	journal map[common.Address]*Wallet // original state, nil for created wallets
}

func (m *Mutator) touch(addr common.Address) *Wallet {
	w, ok := m.repo.wallets[addr]
	if _, seen := m.journal[addr]; !seen {
		if ok {
			m.journal[addr] = w.copy()
		} else {
			m.journal[addr] = nil
		}
	}
	if !ok {
		w = newWallet(addr)
		m.repo.wallets[addr] = w
	}
	return w
}

func (m *Mutator) rollback() {
	for addr, orig := range m.journal {
		if orig == nil {
			delete(m.repo.wallets, addr)
		} else {
			m.repo.wallets[addr] = orig
		}
	}
}

// Get returns the live wallet, creating it if needed.
func (m *Mutator) Get(addr common.Address) Wallet {
	return *m.touch(addr).copy()
}

func (m *Mutator) Credit(addr common.Address, amount *big.Int) {
	w := m.touch(addr)
	w.Balance.Add(w.Balance, amount)
}

// Debit fails and leaves the balance as is when it is short of amount.
func (m *Mutator) Debit(addr common.Address, amount *big.Int) error {
	w := m.touch(addr)
	if w.Balance.Cmp(amount) < 0 {
		return errors.Wrapf(ErrInsufficientBalance, "%s has %s, needs %s", addr.Hex(), w.Balance, amount)
	}
	w.Balance.Sub(w.Balance, amount)
	return nil
}

func (m *Mutator) IncrementNonce(addr common.Address) {
	w := m.touch(addr)
	w.Nonce.Add(w.Nonce, common.Big1)
}

// DecrementNonce undoes IncrementNonce. It fails on a zero nonce.
func (m *Mutator) DecrementNonce(addr common.Address) error {
	w := m.touch(addr)
	if w.Nonce.Sign() == 0 {
		return errors.Wrap(ErrNonceUnderflow, addr.Hex())
	}
	w.Nonce.Sub(w.Nonce, common.Big1)
	return nil
}
