package store

import (
	"log/slog"
	"sync"

	"github.com/herbalis/salesbot/internal/models"
)

// OrderSink is the external durable ledger (e.g. a spreadsheet exporter).
// Failures are logged and swallowed: the order is already recorded locally.
type OrderSink interface {
	Append(order models.Order) error
	UpdateStatus(orderID string, status models.OrderStatus) error
}

// OrderWriter serializes all order appends and status flips through a
// single goroutine, so concurrent saves (engine turn vs. scheduler
// auto-approve vs. admin confirm) can never interleave into a lost update.
// Conflicting writes resolve last-write-wins in queue order.
type OrderWriter struct {
	store Store
	sink  OrderSink
	jobs  chan func()
	done  chan struct{}
	once  sync.Once
}

// NewOrderWriter starts the writer goroutine. sink may be nil.
func NewOrderWriter(s Store, sink OrderSink) *OrderWriter {
	w := &OrderWriter{
		store: s,
		sink:  sink,
		jobs:  make(chan func(), 64),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *OrderWriter) run() {
	defer close(w.done)
	for job := range w.jobs {
		job()
	}
}

// Append queues an order insert. The local store write is the source of
// truth; the sink export is best-effort.
func (w *OrderWriter) Append(order models.Order) {
	w.enqueue(func() {
		if err := w.store.AddOrder(order); err != nil {
			slog.Error("OrderWriter.Append: local insert failed", "error", err, "orderID", order.ID)
			return
		}
		if w.sink == nil {
			return
		}
		if err := w.sink.Append(order); err != nil {
			slog.Error("OrderWriter.Append: sink export failed, order kept locally", "error", err, "orderID", order.ID)
		}
	})
}

// UpdateStatus queues a status flip.
func (w *OrderWriter) UpdateStatus(orderID string, status models.OrderStatus) {
	w.enqueue(func() {
		if err := w.store.UpdateOrderStatus(orderID, status); err != nil {
			slog.Error("OrderWriter.UpdateStatus: local update failed", "error", err, "orderID", orderID)
			return
		}
		if w.sink == nil {
			return
		}
		if err := w.sink.UpdateStatus(orderID, status); err != nil {
			slog.Error("OrderWriter.UpdateStatus: sink export failed", "error", err, "orderID", orderID)
		}
	})
}

func (w *OrderWriter) enqueue(job func()) {
	defer func() {
		// Writes after Close are dropped with a log instead of panicking.
		if recover() != nil {
			slog.Error("OrderWriter.enqueue: writer already closed, write dropped")
		}
	}()
	w.jobs <- job
}

// Close drains pending writes and stops the goroutine.
func (w *OrderWriter) Close() {
	w.once.Do(func() {
		close(w.jobs)
		<-w.done
	})
}
