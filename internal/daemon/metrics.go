package daemon

import (
	"sync"
)

type LogDaemonMetrics struct {
	FilesDiscovered int
	FilesTailing    int
	FilesFinished   int
	FilesFailed     int
	FilesSkipped    int
	LinesRead       int
	mu              sync.RWMutex
}

func (m *LogDaemonMetrics) IncFilesDiscovered() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FilesDiscovered++
}

func (m *LogDaemonMetrics) IncFilesTailing() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FilesTailing++
}

// DecFilesTailing moves a file from tailing to finished.
func (m *LogDaemonMetrics) DecFilesTailing() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FilesTailing--
	m.FilesFinished++
}

func (m *LogDaemonMetrics) IncFilesFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FilesFailed++
}

func (m *LogDaemonMetrics) IncFilesSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FilesSkipped++
}

func (m *LogDaemonMetrics) IncLinesRead() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LinesRead++
}

func (m *LogDaemonMetrics) GetMetricsStamp() LogDaemonMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return LogDaemonMetrics{
		FilesDiscovered: m.FilesDiscovered,
		FilesTailing:    m.FilesTailing,
		FilesFinished:   m.FilesFinished,
		FilesFailed:     m.FilesFailed,
		FilesSkipped:    m.FilesSkipped,
		LinesRead:       m.LinesRead,
	}
}
