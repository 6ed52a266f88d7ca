package logging

import "sync/atomic"

// Stats counts pipeline events. The zero value is ready to use.
type Stats struct {
	enqueued       atomic.Uint64
	dropped        atomic.Uint64
	oversized      atomic.Uint64
	sentRecords    atomic.Uint64
	sentBatches    atomic.Uint64
	failedRecords  atomic.Uint64
	failedBatches  atomic.Uint64
	sendAttempts   atomic.Uint64
	retries        atomic.Uint64
	shutdownErrors atomic.Uint64
}

type StatsSnapshot struct {
	Enqueued       uint64
	Dropped        uint64
	Oversized      uint64
	SentRecords    uint64
	SentBatches    uint64
	FailedRecords  uint64
	FailedBatches  uint64
	SendAttempts   uint64
	Retries        uint64
	ShutdownErrors uint64
}

func (s *Stats) IncEnqueued()      { s.enqueued.Add(1) }
func (s *Stats) IncDropped()       { s.dropped.Add(1) }
func (s *Stats) IncOversized()     { s.oversized.Add(1) }
func (s *Stats) IncSendAttempts()  { s.sendAttempts.Add(1) }
func (s *Stats) IncRetries()       { s.retries.Add(1) }
func (s *Stats) IncShutdownError() { s.shutdownErrors.Add(1) }

func (s *Stats) AddSent(records int) {
	s.sentBatches.Add(1)
	s.sentRecords.Add(uint64(records))
}

func (s *Stats) AddFailed(records int) {
	s.failedBatches.Add(1)
	s.failedRecords.Add(uint64(records))
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Enqueued:       s.enqueued.Load(),
		Dropped:        s.dropped.Load(),
		Oversized:      s.oversized.Load(),
		SentRecords:    s.sentRecords.Load(),
		SentBatches:    s.sentBatches.Load(),
		FailedRecords:  s.failedRecords.Load(),
		FailedBatches:  s.failedBatches.Load(),
		SendAttempts:   s.sendAttempts.Load(),
		Retries:        s.retries.Load(),
		ShutdownErrors: s.shutdownErrors.Load(),
	}
}
