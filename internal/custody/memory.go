package custody

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/maksimarefev/nft-marketplace/internal/domain"
)

// MemoryCustodian is an in-memory AssetCustodian for tests and demo runs.
type MemoryCustodian struct {
	mu     sync.Mutex
	owners map[domain.TokenID]domain.Address
	nextID domain.TokenID
}

func NewMemoryCustodian() *MemoryCustodian {
	return &MemoryCustodian{
		owners: make(map[domain.TokenID]domain.Address),
		nextID: 1,
	}
}

func (c *MemoryCustodian) OwnerOf(ctx context.Context, id domain.TokenID) (domain.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	owner, ok := c.owners[id]
	if !ok {
		return "", fmt.Errorf("owner query for nonexistent token %d", id)
	}
	return owner, nil
}

func (c *MemoryCustodian) TransferFrom(ctx context.Context, from, to domain.Address, id domain.TokenID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	owner, ok := c.owners[id]
	if !ok {
		return fmt.Errorf("transfer of nonexistent token %d", id)
	}
	if owner != from {
		return fmt.Errorf("transfer from %s who is not the holder of token %d", from, id)
	}

	c.owners[id] = to
	slog.Debug("MEMORY CUSTODIAN: token transferred",
		slog.Uint64("token_id", uint64(id)),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	return nil
}

func (c *MemoryCustodian) Mint(ctx context.Context, to domain.Address, metadataRef string) (domain.TokenID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.owners[id] = to

	slog.Debug("MEMORY CUSTODIAN: token minted",
		slog.Uint64("token_id", uint64(id)),
		slog.String("owner", string(to)),
		slog.String("metadata", metadataRef),
	)
	return id, nil
}

// MemoryLedger is an in-memory PaymentLedger for tests and demo runs.
// Balances never go negative; a transfer exceeding the payer's balance
// returns an error, mirroring a reverting token contract. Tests can force
// the distinct false-return failure mode with RejectNextTransfer.
type MemoryLedger struct {
	mu         sync.Mutex
	balances   map[domain.Address]decimal.Decimal
	rejectNext bool
	rejectTo   domain.Address
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[domain.Address]decimal.Decimal)}
}

// Credit adds funds to an account. Test and demo setup helper.
func (l *MemoryLedger) Credit(addr domain.Address, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[addr] = l.balances[addr].Add(amount)
}

// RejectNextTransfer makes the next TransferFrom return false without
// moving funds, the ERC20-style soft failure.
func (l *MemoryLedger) RejectNextTransfer() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rejectNext = true
}

// RejectNextTransferTo makes the next TransferFrom towards addr return
// false. Lets tests fail the second leg of a two-movement escrow step.
func (l *MemoryLedger) RejectNextTransferTo(addr domain.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rejectTo = addr
}

func (l *MemoryLedger) BalanceOf(ctx context.Context, addr domain.Address) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[addr], nil
}

func (l *MemoryLedger) TransferFrom(ctx context.Context, from, to domain.Address, amount decimal.Decimal) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rejectNext {
		l.rejectNext = false
		return false, nil
	}
	if l.rejectTo != "" && to == l.rejectTo {
		l.rejectTo = ""
		return false, nil
	}
	if amount.Sign() < 0 {
		return false, fmt.Errorf("negative transfer amount %s", amount)
	}
	if l.balances[from].LessThan(amount) {
		return false, fmt.Errorf("transfer amount exceeds balance of %s", from)
	}

	l.balances[from] = l.balances[from].Sub(amount)
	l.balances[to] = l.balances[to].Add(amount)

	slog.Debug("MEMORY LEDGER: transfer",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("amount", amount.String()),
	)
	return true, nil
}
