package daemon

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hpcloud/tail"
	"go.uber.org/zap"

	"github.com/Chichichkin/ddshipper/internal/logging"
)

// LogDaemonService tails log files matching a set of patterns and feeds
// every line into a logging.Logger.
type LogDaemonService struct {
	config        Config
	logger        logging.Logger
	log           *zap.Logger
	tailersWg     sync.WaitGroup
	subServicesWg sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
	metrics       *LogDaemonMetrics

	mu        sync.Mutex
	tailing   map[string]context.CancelFunc
	seenFiles map[string]struct{}
}

type Config struct {
	// Glob patterns or directories. Directories are walked for *.log files.
	Paths        []string
	ScanInterval time.Duration
	// Upper bound on concurrently tailed files
	MaxFiles int
	// If > 0, stop tailing a file after this period without new lines.
	// It is picked up again on the next scan.
	FileIdleTimeout time.Duration
	// Read files discovered for the first time from the beginning
	FromStart bool
	// Use polling instead of inotify
	Poll         bool
	DefaultLevel logging.Level
	// Extra attributes attached to every line
	Attributes map[string]string
}

func NewLogDaemonService(ctx context.Context, config Config, logger logging.Logger, log *zap.Logger) *LogDaemonService {
	nCtx, cancel := context.WithCancel(ctx)
	if config.ScanInterval <= 0 {
		config.ScanInterval = 10 * time.Second
	}
	if config.MaxFiles <= 0 {
		config.MaxFiles = 100
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &LogDaemonService{
		config:    config,
		logger:    logger,
		log:       log,
		ctx:       nCtx,
		cancel:    cancel,
		metrics:   &LogDaemonMetrics{},
		tailing:   make(map[string]context.CancelFunc),
		seenFiles: make(map[string]struct{}),
	}
}

func (s *LogDaemonService) Start() {
	s.log.Info("starting log daemon service",
		zap.Strings("paths", s.config.Paths),
		zap.Duration("scan_interval", s.config.ScanInterval),
		zap.Int("max_files", s.config.MaxFiles))

	s.scanFiles()

	s.subServicesWg.Add(1)
	go s.scanner()

	s.subServicesWg.Add(1)
	go s.metricsReporter()
}

func (s *LogDaemonService) Stop() {
	s.log.Info("stopping log daemon service")
	s.cancel()

	s.subServicesWg.Wait()
	s.tailersWg.Wait()

	s.log.Info("log daemon service stopped")
}

func (s *LogDaemonService) Metrics() LogDaemonMetrics {
	return s.metrics.GetMetricsStamp()
}

func (s *LogDaemonService) scanner() {
	defer s.subServicesWg.Done()

	ticker := time.NewTicker(s.config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.scanFiles()

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *LogDaemonService) scanFiles() {
	files, err := s.discoverLogFiles()
	if err != nil {
		s.log.Warn("error discovering log files", zap.Error(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, file := range files {
		if s.ctx.Err() != nil {
			return
		}
		if _, ok := s.tailing[file]; ok {
			continue
		}
		if len(s.tailing) >= s.config.MaxFiles {
			s.metrics.IncFilesSkipped()
			s.log.Warn("tailed file limit reached, skipping",
				zap.String("path", file),
				zap.Int("max_files", s.config.MaxFiles))
			continue
		}

		_, seen := s.seenFiles[file]
		if !seen {
			s.seenFiles[file] = struct{}{}
			s.metrics.IncFilesDiscovered()
		}

		fileCtx, cancel := context.WithCancel(s.ctx)
		s.tailing[file] = cancel
		s.metrics.IncFilesTailing()

		s.tailersWg.Add(1)
		go s.processFile(fileCtx, file, s.config.FromStart && !seen)
	}
}

func (s *LogDaemonService) processFile(ctx context.Context, filePath string, fromStart bool) {
	defer s.tailersWg.Done()
	defer s.release(filePath)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("file processing panicked", zap.String("path", filePath), zap.Any("panic", r))
			s.metrics.IncFilesFailed()
		}
	}()

	location := &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd}
	if fromStart {
		location = &tail.SeekInfo{Offset: 0, Whence: io.SeekStart}
	}

	t, err := tail.TailFile(filePath, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Poll:     s.config.Poll,
		Location: location,
		Logger:   tail.DiscardingLogger,
	})
	if err != nil {
		s.log.Warn("failed to tail file", zap.String("path", filePath), zap.Error(err))
		s.metrics.IncFilesFailed()
		return
	}
	defer t.Cleanup()
	defer func() { _ = t.Stop() }()

	parser := newLineParser(s.config.DefaultLevel)
	checkTicker := time.NewTicker(1 * time.Second)
	defer checkTicker.Stop()

	lastActivity := time.Now()

	for {
		select {
		case line, ok := <-t.Lines:
			if !ok {
				return
			}
			if line == nil {
				continue
			}
			if line.Err != nil {
				s.log.Warn("error reading file", zap.String("path", filePath), zap.Error(line.Err))
				continue
			}
			if strings.TrimSpace(line.Text) == "" {
				continue
			}

			parsed := parser.parse(line.Text)
			s.logger.Log(parsed.Level, parsed.Message, s.lineAttributes(filePath, parsed.Attributes))
			s.metrics.IncLinesRead()
			lastActivity = time.Now()

		case <-checkTicker.C:
			// waking up from blocking line reading to check the idle timeout
			if s.config.FileIdleTimeout > 0 && time.Since(lastActivity) > s.config.FileIdleTimeout {
				s.log.Debug("file idle, stop tailing", zap.String("path", filePath))
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *LogDaemonService) release(filePath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.tailing[filePath]; ok {
		cancel()
		delete(s.tailing, filePath)
		s.metrics.DecFilesTailing()
	}
}

func (s *LogDaemonService) lineAttributes(filePath string, parsed map[string]any) map[string]any {
	attrs := make(map[string]any, len(parsed)+len(s.config.Attributes)+2)
	for k, v := range s.config.Attributes {
		attrs[k] = v
	}
	for k, v := range parsed {
		attrs[k] = v
	}
	attrs["file"] = filepath.Base(filePath)
	attrs["path"] = filePath
	return attrs
}

func (s *LogDaemonService) metricsReporter() {
	defer s.subServicesWg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m := s.metrics.GetMetricsStamp()
			s.log.Info("tail metrics",
				zap.Int("files_tailing", m.FilesTailing),
				zap.Int("files_discovered", m.FilesDiscovered),
				zap.Int("files_finished", m.FilesFinished),
				zap.Int("files_failed", m.FilesFailed),
				zap.Int("files_skipped", m.FilesSkipped),
				zap.Int("lines_read", m.LinesRead))

		case <-s.ctx.Done():
			return
		}
	}
}

// discoverLogFiles expands every configured path. Errors on individual
// patterns are logged and do not stop discovery.
func (s *LogDaemonService) discoverLogFiles() ([]string, error) {
	var logFiles []string
	seen := make(map[string]struct{})
	add := func(path string) {
		if _, ok := seen[path]; !ok {
			seen[path] = struct{}{}
			logFiles = append(logFiles, path)
		}
	}

	var firstErr error
	for _, pattern := range s.config.Paths {
		if info, err := os.Stat(pattern); err == nil && info.IsDir() {
			err := filepath.Walk(pattern, func(path string, info os.FileInfo, err error) error {
				if err != nil {
					s.log.Debug("error accessing path", zap.String("path", path), zap.Error(err))
					return nil
				}
				if !info.IsDir() && strings.HasSuffix(info.Name(), ".log") {
					add(path)
				}
				return nil
			})
			if err != nil && firstErr == nil {
				firstErr = err
			}
			continue
		}

		matches, err := filepath.Glob(pattern)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, m := range matches {
			if info, err := os.Stat(m); err == nil && !info.IsDir() {
				add(m)
			}
		}
	}

	return logFiles, firstErr
}
