package ledger

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/ride-dispatch/internal/observability"
)

type TxType string

const (
	TxCredit TxType = "credit"
	TxDebit  TxType = "debit"
	TxRefund TxType = "refund"
)

func (t TxType) Valid() bool {
	switch t {
	case TxCredit, TxDebit, TxRefund:
		return true
	}
	return false
}

// ActorSystem is the actor recorded on transactions the platform itself
// initiates, such as the completion fee debit.
const ActorSystem = "system"

// Transaction is one immutable entry in a user's balance history.
type Transaction struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Type            TxType          `json:"type"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description"`
	PreviousBalance decimal.Decimal `json:"previous_balance"`
	NewBalance      decimal.Decimal `json:"new_balance"`
	Actor           string          `json:"actor"`
	CreatedAt       time.Time       `json:"created_at"`
}

// SignedAmount is the amount with the sign its type implies: debits are
// negative, credits and refunds positive.
func (t Transaction) SignedAmount() decimal.Decimal {
	if t.Type == TxDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}

// Notifier receives a copy of every appended transaction. The fanout layer
// implements it; delivery is best-effort and must not block the mutation.
type Notifier interface {
	BalanceTransaction(tx Transaction)
}

// Sink durably records appended transactions (write-through). Sink errors are
// logged but never fail the mutation: the in-memory ledger is authoritative.
type Sink interface {
	SaveTransaction(tx Transaction) error
}

type account struct {
	mu      sync.Mutex
	balance decimal.Decimal
	history []Transaction
}

// Ledger owns per-user balances and their append-only histories. Mutations on
// the same user are serialized by the account mutex; different users proceed
// in parallel.
type Ledger struct {
	mu       sync.Mutex
	accounts map[string]*account

	notifier Notifier
	sink     Sink
	log      *slog.Logger
}

type Option func(*Ledger)

func WithNotifier(n Notifier) Option { return func(l *Ledger) { l.notifier = n } }
func WithSink(s Sink) Option         { return func(l *Ledger) { l.sink = s } }
func WithLogger(lg *slog.Logger) Option {
	return func(l *Ledger) { l.log = lg }
}

func New(opts ...Option) *Ledger {
	l := &Ledger{accounts: make(map[string]*account), log: slog.Default()}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Ledger) account(userID string) *account {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.accounts[userID]
	if !ok {
		a = &account{balance: decimal.Zero}
		l.accounts[userID] = a
	}
	return a
}

// Credit adds amount to the user's balance. Fails only on a non-positive
// amount.
func (l *Ledger) Credit(userID string, amount decimal.Decimal, description, actor string) (Transaction, error) {
	return l.append(userID, TxCredit, amount, description, actor)
}

// Debit subtracts amount from the user's balance. Rejected atomically with
// InsufficientBalanceError when the balance cannot cover it: no transaction
// row, no balance change.
func (l *Ledger) Debit(userID string, amount decimal.Decimal, description, actor string) (Transaction, error) {
	return l.append(userID, TxDebit, amount, description, actor)
}

// Refund is a credit with a distinct type for audit clarity.
func (l *Ledger) Refund(userID string, amount decimal.Decimal, description, actor string) (Transaction, error) {
	return l.append(userID, TxRefund, amount, description, actor)
}

func (l *Ledger) append(userID string, typ TxType, amount decimal.Decimal, description, actor string) (Transaction, error) {
	if !amount.IsPositive() {
		return Transaction{}, &InvalidAmountError{Amount: amount}
	}
	a := l.account(userID)
	a.mu.Lock()
	prev := a.balance
	if typ == TxDebit && prev.LessThan(amount) {
		a.mu.Unlock()
		return Transaction{}, &InsufficientBalanceError{
			Current:   prev,
			Required:  amount,
			Shortfall: amount.Sub(prev),
		}
	}
	next := prev.Add(signed(typ, amount))
	tx := Transaction{
		ID:              uuid.NewString(),
		UserID:          userID,
		Type:            typ,
		Amount:          amount,
		Description:     description,
		PreviousBalance: prev,
		NewBalance:      next,
		Actor:           actor,
		CreatedAt:       time.Now().UTC(),
	}
	a.balance = next
	a.history = append(a.history, tx)
	a.mu.Unlock()

	observability.LedgerTransactions.WithLabelValues(string(typ)).Inc()
	if l.sink != nil {
		if err := l.sink.SaveTransaction(tx); err != nil {
			l.log.Error("transaction write-through failed", "tx_id", tx.ID, "user_id", userID, "error", err)
		}
	}
	if l.notifier != nil {
		l.notifier.BalanceTransaction(tx)
	}
	return tx, nil
}

func signed(typ TxType, amount decimal.Decimal) decimal.Decimal {
	if typ == TxDebit {
		return amount.Neg()
	}
	return amount
}

// Balance returns the user's current balance. Unknown users have a zero
// balance; there is no explicit account creation step.
func (l *Ledger) Balance(userID string) decimal.Decimal {
	a := l.account(userID)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance
}

// BalanceOf returns the current balance and up to limit most recent
// transactions, newest first.
func (l *Ledger) BalanceOf(userID string, limit int) (decimal.Decimal, []Transaction) {
	a := l.account(userID)
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.history)
	if limit < 0 {
		limit = 0
	}
	if limit > n {
		limit = n
	}
	out := make([]Transaction, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, a.history[i])
	}
	return a.balance, out
}
