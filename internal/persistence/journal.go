// Package persistence journals bus events into the events table in batches.
package persistence

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"trading-loop/internal/events"
	"trading-loop/pkg/db"
)

// JournalMetrics provides statistics about batch operations.
type JournalMetrics struct {
	TotalWrites   uint64    `json:"total_writes"`
	TotalBatches  uint64    `json:"total_batches"`
	TotalErrors   uint64    `json:"total_errors"`
	LastBatchSize int       `json:"last_batch_size"`
	LastFlushTime time.Time `json:"last_flush_time"`
}

// Journal buffers events and writes them in one transaction per flush.
type Journal struct {
	db          *db.Database
	buffer      []db.Event
	mu          sync.Mutex
	maxSize     int
	flushIntval time.Duration
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup

	totalWrites  uint64
	totalBatches uint64
	totalErrors  uint64
	lastMu       sync.Mutex
	lastSize     int
	lastFlush    time.Time
}

// NewJournal creates a journal and starts its background flusher.
// maxSize: max events before auto-flush
// interval: time-based flush interval
func NewJournal(database *db.Database, maxSize int, interval time.Duration) *Journal {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	j := &Journal{
		db:          database,
		buffer:      make([]db.Event, 0, maxSize),
		maxSize:     maxSize,
		flushIntval: interval,
		done:        make(chan struct{}),
	}

	j.wg.Add(1)
	go j.backgroundFlush()

	return j
}

// Attach subscribes to every bus topic and journals envelopes until the journal closes.
func (j *Journal) Attach(bus *events.Bus, buffer int) {
	ch, unsub := bus.Subscribe(events.All, buffer)
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		defer unsub()
		for {
			select {
			case env, ok := <-ch:
				if !ok {
					return
				}
				j.Write(env)
			case <-j.done:
				// Drain what is already queued.
				for {
					select {
					case env := <-ch:
						j.Write(env)
					default:
						return
					}
				}
			}
		}
	}()
}

// Write adds one envelope to the batch.
func (j *Journal) Write(env events.Envelope) {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		log.WithError(err).WithField("topic", env.Topic).Warn("⚠️ Journal: payload not serialisable")
		payload = []byte("null")
	}
	at := env.At
	if at.IsZero() {
		at = time.Now()
	}

	j.mu.Lock()
	j.buffer = append(j.buffer, db.Event{ID: env.ID, Topic: string(env.Topic), Payload: string(payload), CreatedAt: at})
	shouldFlush := len(j.buffer) >= j.maxSize
	j.mu.Unlock()

	if shouldFlush {
		_ = j.Flush()
	}
}

// Flush immediately writes all buffered events.
func (j *Journal) Flush() error {
	j.mu.Lock()
	if len(j.buffer) == 0 {
		j.mu.Unlock()
		return nil
	}

	batch := j.buffer
	j.buffer = make([]db.Event, 0, j.maxSize)
	j.mu.Unlock()

	return j.executeBatch(batch)
}

func (j *Journal) executeBatch(batch []db.Event) error {
	atomic.AddUint64(&j.totalWrites, uint64(len(batch)))
	atomic.AddUint64(&j.totalBatches, 1)
	j.lastMu.Lock()
	j.lastSize = len(batch)
	j.lastFlush = time.Now()
	j.lastMu.Unlock()

	if err := j.db.InsertEvents(context.Background(), batch); err != nil {
		atomic.AddUint64(&j.totalErrors, 1)
		log.WithError(err).WithField("events", len(batch)).Error("❌ Journal: batch insert failed")
		return err
	}
	log.WithField("events", len(batch)).Debug("💾 Journal: flushed events")
	return nil
}

func (j *Journal) backgroundFlush() {
	defer j.wg.Done()
	ticker := time.NewTicker(j.flushIntval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := j.Flush(); err != nil {
				log.WithError(err).Warn("⚠️ Journal: background flush error")
			}
		case <-j.done:
			return
		}
	}
}

// Pending returns the number of buffered events.
func (j *Journal) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.buffer)
}

// GetMetrics returns the current journal metrics.
func (j *Journal) GetMetrics() JournalMetrics {
	j.lastMu.Lock()
	defer j.lastMu.Unlock()
	return JournalMetrics{
		TotalWrites:   atomic.LoadUint64(&j.totalWrites),
		TotalBatches:  atomic.LoadUint64(&j.totalBatches),
		TotalErrors:   atomic.LoadUint64(&j.totalErrors),
		LastBatchSize: j.lastSize,
		LastFlushTime: j.lastFlush,
	}
}

// Close stops the flusher and the bus consumer, then writes what is left.
func (j *Journal) Close() error {
	j.closeOnce.Do(func() { close(j.done) })
	j.wg.Wait()
	return j.Flush()
}
