package notify

import (
	"log/slog"

	"github.com/example/ride-dispatch/internal/ledger"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/registry"
)

// Fanout resolves domain events into per-user deliveries. Recipients are
// always explicit user ids: there is no role-wide send, which is what keeps a
// rider-only event from ever reaching a driver connection.
type Fanout struct {
	reg *registry.Registry
	log *slog.Logger
}

func NewFanout(reg *registry.Registry, log *slog.Logger) *Fanout {
	if log == nil {
		log = slog.Default()
	}
	return &Fanout{reg: reg, log: log}
}

// ToUser delivers one message to one user, best effort. Reports whether a
// live connection existed.
func (f *Fanout) ToUser(userID string, msg Message) bool {
	if userID == "" {
		return false
	}
	attempted := f.reg.Send(userID, msg)
	if attempted {
		observability.NotificationsSent.WithLabelValues(string(msg.Kind())).Inc()
	} else {
		observability.NotificationsDropped.WithLabelValues(string(msg.Kind())).Inc()
		f.log.Debug("notification dropped, user offline", "user_id", userID, "type", msg.Kind())
	}
	return attempted
}

// Broadcast delivers the message to every listed user and returns how many
// deliveries were attempted.
func (f *Fanout) Broadcast(userIDs []string, msg Message) int {
	n := 0
	for _, id := range userIDs {
		if f.ToUser(id, msg) {
			n++
		}
	}
	return n
}

// BalanceTransaction implements ledger.Notifier: every ledger mutation is
// pushed to the account owner only.
func (f *Fanout) BalanceTransaction(tx ledger.Transaction) {
	f.ToUser(tx.UserID, NewBalanceTransaction(tx))
}
