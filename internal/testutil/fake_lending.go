package testutil

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl/stl-borrow/internal/domain/entity"
	"github.com/archon-research/stl/stl-borrow/internal/ports/outbound"
)

// Fake protocol addresses.
var (
	FakeAccount  = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	FakeWETH     = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	FakeDAI      = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	FakeProvider = common.HexToAddress("0xB53C1a33016B2DC2fF3653530bfF1848a515c8c5")
	FakePool     = common.HexToAddress("0x7d2768dE32b0b80b7a3454c06BdAc94A69DDc7A9")
	FakeDAIFeed  = common.HexToAddress("0x773616E4d11A78F511299002da57A0a94577F1f4")
	FakeUSDFeed  = common.HexToAddress("0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419")
)

// FakeLending is an in-memory model of WETH, an ERC20 debt asset, an Aave v2 pool, its
// addresses provider and two price feeds. State changes only take effect when the
// transaction is confirmed through WaitConfirmed, so submitting a deposit before its
// approval is confirmed is rejected the way the real pool would reject it.
type FakeLending struct {
	mu sync.Mutex

	Account       common.Address
	NativeBalance *big.Int

	// LTVBps is the share of collateral that can be borrowed, in basis points.
	LTVBps int64

	BorrowRate     *big.Int
	BorrowDecimals uint8
	USDRate        *big.Int
	USDDecimals    uint8
	QuoteUpdatedAt time.Time
	HeadTime       time.Time

	// FailSubmit makes the named operation fail at submission ("wrap", "approve:WETH",
	// "approve:DAI", "deposit", "borrow", "repay").
	FailSubmit map[string]error
	// FailConfirm makes the named operation fail while waiting for confirmations.
	FailConfirm map[string]error
	// FailRead makes the named read fail ("resolvePool", "accountData", "quote", "balanceOf").
	FailRead map[string]error

	// ApprovalCap limits the allowance a confirmed approval grants, per token. Models tokens
	// that do not honour the requested amount.
	ApprovalCap map[common.Address]*big.Int

	// Journal records every submission, confirmation and read in order.
	Journal []string

	balances   map[common.Address]map[common.Address]*big.Int
	allowances map[common.Address]map[[2]common.Address]*big.Int
	collateral *big.Int
	debt       *big.Int // in debt asset units
	pending    map[common.Hash]pendingOp
	nonce      uint64
	symbols    map[common.Address]string
}

type pendingOp struct {
	name  string
	apply func()
}

// NewFakeLending returns a protocol where the account holds nativeBalance wei, the pool
// lends 80% of collateral and 1 DAI costs 0.0005 ETH.
func NewFakeLending(nativeBalance *big.Int) *FakeLending {
	now := time.Unix(1_700_000_000, 0).UTC()
	return &FakeLending{
		Account:        FakeAccount,
		NativeBalance:  new(big.Int).Set(nativeBalance),
		LTVBps:         8000,
		BorrowRate:     big.NewInt(500_000_000_000_000),
		BorrowDecimals: 18,
		USDRate:        big.NewInt(200_000_000_000),
		USDDecimals:    8,
		QuoteUpdatedAt: now.Add(-10 * time.Minute),
		HeadTime:       now,
		FailSubmit:     map[string]error{},
		FailConfirm:    map[string]error{},
		FailRead:       map[string]error{},
		ApprovalCap:    map[common.Address]*big.Int{},
		balances:       map[common.Address]map[common.Address]*big.Int{},
		allowances:     map[common.Address]map[[2]common.Address]*big.Int{},
		collateral:     new(big.Int),
		debt:           new(big.Int),
		pending:        map[common.Hash]pendingOp{},
		symbols:        map[common.Address]string{FakeWETH: "WETH", FakeDAI: "DAI"},
	}
}

func (f *FakeLending) log(format string, args ...interface{}) {
	f.Journal = append(f.Journal, fmt.Sprintf(format, args...))
}

func (f *FakeLending) balance(token, owner common.Address) *big.Int {
	if f.balances[token] == nil {
		f.balances[token] = map[common.Address]*big.Int{}
	}
	if f.balances[token][owner] == nil {
		f.balances[token][owner] = new(big.Int)
	}
	return f.balances[token][owner]
}

func (f *FakeLending) allowance(token, owner, spender common.Address) *big.Int {
	if f.allowances[token] == nil {
		f.allowances[token] = map[[2]common.Address]*big.Int{}
	}
	key := [2]common.Address{owner, spender}
	if f.allowances[token][key] == nil {
		f.allowances[token][key] = new(big.Int)
	}
	return f.allowances[token][key]
}

// submit records op and queues apply until confirmation.
func (f *FakeLending) submit(op string, to common.Address, apply func()) (outbound.PendingTx, error) {
	f.log("submit %s", op)
	if err := f.FailSubmit[op]; err != nil {
		return outbound.PendingTx{}, fmt.Errorf("%w: %s: %w", entity.ErrSubmissionRejected, op, err)
	}
	f.nonce++
	hash := common.BigToHash(new(big.Int).SetUint64(f.nonce))
	f.pending[hash] = pendingOp{name: op, apply: apply}
	return outbound.PendingTx{Hash: hash, Nonce: f.nonce - 1, To: to}, nil
}

func (f *FakeLending) reject(op, reason string) error {
	f.log("submit %s", op)
	f.log("reject %s: %s", op, reason)
	return fmt.Errorf("%w: %s: %s", entity.ErrSubmissionRejected, op, reason)
}

// debtValue converts an amount of the debt asset to reference units (wei).
func (f *FakeLending) debtValue(amount *big.Int) *big.Int {
	v := new(big.Int).Mul(amount, f.BorrowRate)
	return v.Div(v, entity.Pow10(f.BorrowDecimals))
}

func (f *FakeLending) available() *big.Int {
	capacity := new(big.Int).Mul(f.collateral, big.NewInt(f.LTVBps))
	capacity.Div(capacity, big.NewInt(10_000))
	capacity.Sub(capacity, f.debtValue(f.debt))
	if capacity.Sign() < 0 {
		return new(big.Int)
	}
	return capacity
}

// Debt returns the outstanding debt in debt asset units.
func (f *FakeLending) Debt() *big.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.debt)
}

// Collateral returns the deposited WETH.
func (f *FakeLending) Collateral() *big.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.collateral)
}

// Submissions returns the journal entries for submitted and confirmed transactions.
func (f *FakeLending) Submissions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, entry := range f.Journal {
		if strings.HasPrefix(entry, "submit ") || strings.HasPrefix(entry, "confirm ") {
			out = append(out, entry)
		}
	}
	return out
}

// Balance returns owner's balance of token.
func (f *FakeLending) Balance(token, owner common.Address) *big.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.balance(token, owner))
}

// SetBalance credits owner with amount of token.
func (f *FakeLending) SetBalance(token, owner common.Address, amount *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balance(token, owner).Set(amount)
}

// Chain

func (f *FakeLending) WaitConfirmed(_ context.Context, tx outbound.PendingTx, confirmations uint64) (outbound.TxReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	op, ok := f.pending[tx.Hash]
	if !ok {
		return outbound.TxReceipt{}, fmt.Errorf("unknown transaction %s", tx.Hash.Hex())
	}
	delete(f.pending, tx.Hash)
	if err := f.FailConfirm[op.name]; err != nil {
		f.log("timeout %s", op.name)
		return outbound.TxReceipt{}, err
	}
	op.apply()
	f.log("confirm %s", op.name)
	return outbound.TxReceipt{Hash: tx.Hash, BlockNumber: f.nonce, Confirmations: confirmations}, nil
}

func (f *FakeLending) LatestBlockTime(context.Context) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.HeadTime, nil
}

// Ports

// WETH returns the wrapped native token.
func (f *FakeLending) WETH() outbound.WrappedNative { return &fakeWETH{fakeToken{f: f, addr: FakeWETH}} }

// Registry returns the pool addresses provider.
func (f *FakeLending) Registry() outbound.PoolRegistry { return &fakeRegistry{f: f} }

// BorrowFeed returns the debt asset / ETH feed.
func (f *FakeLending) BorrowFeed() outbound.PriceFeed { return &fakeFeed{f: f, addr: FakeDAIFeed} }

// USDFeed returns the ETH / USD feed.
func (f *FakeLending) USDFeed() outbound.PriceFeed { return &fakeFeed{f: f, addr: FakeUSDFeed, usd: true} }

func (f *FakeLending) Token(addr common.Address) (outbound.Token, error) {
	if _, ok := f.symbols[addr]; !ok {
		return nil, fmt.Errorf("unknown token %s", addr.Hex())
	}
	return &fakeToken{f: f, addr: addr}, nil
}

func (f *FakeLending) LendingPool(addr common.Address) (outbound.LendingPool, error) {
	if addr != FakePool {
		return nil, fmt.Errorf("no pool at %s", addr.Hex())
	}
	return &fakePool{f: f}, nil
}

type fakeToken struct {
	f    *FakeLending
	addr common.Address
}

func (t *fakeToken) Address() common.Address { return t.addr }

func (t *fakeToken) Approve(_ context.Context, spender common.Address, amount *big.Int) (outbound.PendingTx, error) {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	owner := t.f.Account
	value := new(big.Int).Set(amount)
	if limit, ok := t.f.ApprovalCap[t.addr]; ok && limit.Cmp(value) < 0 {
		value.Set(limit)
	}
	return t.f.submit("approve:"+t.f.symbols[t.addr], t.addr, func() {
		t.f.allowance(t.addr, owner, spender).Set(value)
	})
}

func (t *fakeToken) BalanceOf(_ context.Context, account common.Address) (*big.Int, error) {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	t.f.log("read balanceOf:%s", t.f.symbols[t.addr])
	if err := t.f.FailRead["balanceOf"]; err != nil {
		return nil, err
	}
	return new(big.Int).Set(t.f.balance(t.addr, account)), nil
}

func (t *fakeToken) Allowance(_ context.Context, owner, spender common.Address) (*big.Int, error) {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	t.f.log("read allowance:%s", t.f.symbols[t.addr])
	return new(big.Int).Set(t.f.allowance(t.addr, owner, spender)), nil
}

func (t *fakeToken) Decimals(context.Context) (uint8, error) {
	return 18, nil
}

func (t *fakeToken) Symbol(context.Context) (string, error) {
	return t.f.symbols[t.addr], nil
}

type fakeWETH struct {
	fakeToken
}

func (w *fakeWETH) Wrap(_ context.Context, amount *big.Int) (outbound.PendingTx, error) {
	w.f.mu.Lock()
	defer w.f.mu.Unlock()
	if w.f.NativeBalance.Cmp(amount) < 0 {
		return outbound.PendingTx{}, w.f.reject("wrap", "insufficient native balance")
	}
	value := new(big.Int).Set(amount)
	return w.f.submit("wrap", FakeWETH, func() {
		w.f.NativeBalance.Sub(w.f.NativeBalance, value)
		bal := w.f.balance(FakeWETH, w.f.Account)
		bal.Add(bal, value)
	})
}

type fakeRegistry struct {
	f *FakeLending
}

func (r *fakeRegistry) ResolvePool(context.Context) (common.Address, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	r.f.log("read resolvePool")
	if err := r.f.FailRead["resolvePool"]; err != nil {
		return common.Address{}, err
	}
	return FakePool, nil
}

type fakePool struct {
	f *FakeLending
}

func (p *fakePool) Address() common.Address { return FakePool }

func (p *fakePool) Deposit(_ context.Context, asset common.Address, amount *big.Int, onBehalfOf common.Address, _ uint16) (outbound.PendingTx, error) {
	f := p.f
	f.mu.Lock()
	defer f.mu.Unlock()
	if asset != FakeWETH {
		return outbound.PendingTx{}, f.reject("deposit", "unsupported collateral")
	}
	if f.allowance(asset, f.Account, FakePool).Cmp(amount) < 0 {
		return outbound.PendingTx{}, f.reject("deposit", "SafeERC20: low-level call failed")
	}
	if f.balance(asset, f.Account).Cmp(amount) < 0 {
		return outbound.PendingTx{}, f.reject("deposit", "insufficient balance")
	}
	value := new(big.Int).Set(amount)
	return f.submit("deposit", FakePool, func() {
		allowance := f.allowance(asset, f.Account, FakePool)
		allowance.Sub(allowance, value)
		bal := f.balance(asset, f.Account)
		bal.Sub(bal, value)
		if onBehalfOf == f.Account {
			f.collateral.Add(f.collateral, value)
		}
	})
}

func (p *fakePool) Borrow(_ context.Context, asset common.Address, amount *big.Int, _ entity.RateMode, _ uint16, _ common.Address) (outbound.PendingTx, error) {
	f := p.f
	f.mu.Lock()
	defer f.mu.Unlock()
	if asset != FakeDAI {
		return outbound.PendingTx{}, f.reject("borrow", "unsupported asset")
	}
	if f.debtValue(amount).Cmp(f.available()) > 0 {
		return outbound.PendingTx{}, f.reject("borrow", "collateral cannot cover new borrow")
	}
	value := new(big.Int).Set(amount)
	return f.submit("borrow", FakePool, func() {
		f.debt.Add(f.debt, value)
		bal := f.balance(FakeDAI, f.Account)
		bal.Add(bal, value)
	})
}

func (p *fakePool) Repay(_ context.Context, asset common.Address, amount *big.Int, _ entity.RateMode, _ common.Address) (outbound.PendingTx, error) {
	f := p.f
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.allowance(asset, f.Account, FakePool).Cmp(amount) < 0 {
		return outbound.PendingTx{}, f.reject("repay", "insufficient allowance")
	}
	value := new(big.Int).Set(amount)
	if value.Cmp(f.debt) > 0 {
		value.Set(f.debt)
	}
	return f.submit("repay", FakePool, func() {
		f.debt.Sub(f.debt, value)
		bal := f.balance(asset, f.Account)
		bal.Sub(bal, value)
		allowance := f.allowance(asset, f.Account, FakePool)
		allowance.Sub(allowance, value)
	})
}

func (p *fakePool) GetAccountData(_ context.Context, _ common.Address) (*entity.AccountPosition, error) {
	f := p.f
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log("read accountData")
	if err := f.FailRead["accountData"]; err != nil {
		return nil, err
	}
	return entity.NewAccountPosition(
		new(big.Int).Set(f.collateral),
		f.debtValue(f.debt),
		f.available(),
		big.NewInt(8250),
		big.NewInt(f.LTVBps),
		big.NewInt(0),
		entity.NativeDecimals,
	)
}

type fakeFeed struct {
	f    *FakeLending
	addr common.Address
	usd  bool
}

func (q *fakeFeed) Address() common.Address { return q.addr }

func (q *fakeFeed) LatestQuote(context.Context) (*entity.PriceQuote, error) {
	q.f.mu.Lock()
	defer q.f.mu.Unlock()
	q.f.log("read quote")
	if err := q.f.FailRead["quote"]; err != nil {
		return nil, err
	}
	if q.usd {
		return entity.NewPriceQuote(new(big.Int).Set(q.f.USDRate), q.f.USDDecimals, big.NewInt(1), q.f.QuoteUpdatedAt)
	}
	return entity.NewPriceQuote(new(big.Int).Set(q.f.BorrowRate), q.f.BorrowDecimals, big.NewInt(1), q.f.QuoteUpdatedAt)
}
