// Package notify abstracts user-facing notifications (toasts) so the
// navigation core can surface connectivity and fallback messages
// without binding to a UI.
package notify

import (
	"log/slog"
	"sync"
)

// Notifier shows a short user-facing message.
type Notifier interface {
	Show(message string)
}

// SlogNotifier logs notifications. The default when no UI is attached.
type SlogNotifier struct{}

func (SlogNotifier) Show(message string) {
	slog.Info("user notification", "message", message)
}

// MemoryNotifier records notifications for tests.
type MemoryNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *MemoryNotifier) Show(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

// Messages returns a copy of everything shown so far.
func (n *MemoryNotifier) Messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.messages))
	copy(out, n.messages)
	return out
}
