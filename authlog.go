package oauthbasic

import (
	"database/sql"
	"sync"
	"time"

	"github.com/IMQS/log"
)

type AuthOutcome string

const (
	AuthOutcomeAccepted AuthOutcome = "accepted"
	AuthOutcomeRejected AuthOutcome = "rejected"
)

// AuthLogEntry is a single authentication attempt
type AuthLogEntry struct {
	Timestamp time.Time   `json:"timestamp"`
	Method    string      `json:"method"`
	Principal string      `json:"principal"`
	Outcome   AuthOutcome `json:"outcome"`
	IPAddress string      `json:"ip_address"`
}

// AuthLogTracker buffers authentication attempts in memory, and periodically writes them to the authlog table
type AuthLogTracker struct {
	config           ConfigAuthLog
	log              *log.Logger
	logs             []AuthLogEntry
	mutex            sync.RWMutex
	stopChan         chan struct{}
	doneChan         chan struct{}
	startOnce        sync.Once
	stopOnce         sync.Once
	flushWG          sync.WaitGroup
	flushTicker      *time.Ticker
	flushing         bool // Track if a flush is in progress
	db               *sql.DB
	droppedLogsCount int64
	memDump          []string // For testing purposes
}

func NewAuthLogTracker(c ConfigAuthLog, log *log.Logger, db *sql.DB) *AuthLogTracker {
	c.SetDefaults()
	tracker := &AuthLogTracker{
		config:   c,
		log:      log,
		logs:     make([]AuthLogEntry, 0),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
		db:       db,
	}
	if tracker.config.Test_MemDump {
		tracker.memDump = make([]string, 0)
	}
	return tracker
}

func (t *AuthLogTracker) Initialize(logger *log.Logger) {
	if logger == nil {
		return
	}
	t.log = logger
	if t.config.Enabled {
		t.startOnce.Do(t.start)
	}
	if t.db == nil {
		t.log.Warn("AuthLogTracker initialized without a database connection, attempts will not be persisted")
	} else {
		t.log.Info("AuthLogTracker initialized with database connection")
	}
}

// LogAttempt adds an authentication attempt to the in-memory log. When the log is full, the attempt is dropped.
func (t *AuthLogTracker) LogAttempt(method, principal string, outcome AuthOutcome, ipAddress string) {
	if !t.config.Enabled {
		return
	}

	entry := AuthLogEntry{
		Timestamp: time.Now().UTC(),
		Method:    method,
		Principal: principal,
		Outcome:   outcome,
		IPAddress: ipAddress,
	}

	t.mutex.Lock()
	if len(t.logs) >= t.config.MaxEntries {
		t.droppedLogsCount++
	} else {
		t.logs = append(t.logs, entry)
	}
	t.mutex.Unlock()
}

func (t *AuthLogTracker) DroppedCount() int64 {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.droppedLogsCount
}

func (t *AuthLogTracker) start() {
	flushInterval := time.Duration(t.config.FlushIntervalSeconds) * time.Second
	if flushInterval <= 0 {
		flushInterval = defaultAuthLogFlushSeconds * time.Second
	}

	t.flushTicker = time.NewTicker(flushInterval)

	go func() {
		defer close(t.doneChan)
		for {
			select {
			case <-t.flushTicker.C:
				t.flush()
			case <-t.stopChan:
				t.flushTicker.Stop()
				t.flushWG.Wait()
				t.flush()
				t.flushWG.Wait()
				return
			}
		}
	}()
}

// Stop writes whatever is still in memory, and then stops the flush goroutine
func (t *AuthLogTracker) Stop() {
	t.stopOnce.Do(func() {
		if t.flushTicker != nil {
			close(t.stopChan)
			<-t.doneChan
		}
	})
}

// flush writes the in-memory logs to persistent storage, and removes them from memory once they are written
func (t *AuthLogTracker) flush() {
	t.mutex.Lock()

	if len(t.logs) == 0 || t.flushing {
		t.mutex.Unlock()
		return
	}

	logsToPersist := make([]AuthLogEntry, len(t.logs))
	copy(logsToPersist, t.logs)
	logsCount := len(t.logs)

	t.flushing = true
	t.flushWG.Add(1)
	t.mutex.Unlock()

	go func() {
		defer t.flushWG.Done()
		err := t.persistLogs(logsToPersist)

		t.mutex.Lock()
		t.flushing = false
		if err != nil {
			// Keep the logs in memory for the next attempt
			t.log.Errorf("Failed to persist auth log: %v", err)
		} else if len(t.logs) >= logsCount {
			// New entries may have arrived while we were writing
			t.logs = t.logs[logsCount:]
		} else {
			t.logs = t.logs[:0]
		}
		t.mutex.Unlock()
	}()
}

func (t *AuthLogTracker) persistLogs(logs []AuthLogEntry) error {
	if t.db != nil {
		tx, err := t.db.Begin()
		if err != nil {
			return err
		}
		stmt, err := tx.Prepare("INSERT INTO authlog (ts, method, principal, outcome, ipaddress) VALUES ($1, $2, $3, $4, $5)")
		if err != nil {
			tx.Rollback()
			return err
		}
		defer stmt.Close()
		for _, entry := range logs {
			if _, err = stmt.Exec(entry.Timestamp, entry.Method, entry.Principal, string(entry.Outcome), entry.IPAddress); err != nil {
				tx.Rollback()
				return err
			}
		}
		return tx.Commit()
	} else if t.config.Test_MemDump {
		// this is for testing, NOT production
		t.mutex.Lock()
		for _, entry := range logs {
			t.memDump = append(t.memDump, authLogString(entry))
		}
		t.mutex.Unlock()
	}
	return nil
}

func authLogString(entry AuthLogEntry) string {
	return "Persisting AuthLog: time=" + entry.Timestamp.Format(time.RFC3339) +
		" method=" + entry.Method +
		" principal=" + entry.Principal +
		" outcome=" + string(entry.Outcome) +
		" ip=" + entry.IPAddress
}
