package capability

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/arclight-os/core/internal/infrastructure/logging"
	"github.com/arclight-os/core/internal/shared/id"
	"github.com/arclight-os/core/internal/shared/types"
)

// Action is the audited capability operation.
type Action string

const (
	ActionIssue    Action = "issue"
	ActionDelegate Action = "delegate"
	ActionRevoke   Action = "revoke"
)

// Record is one audit trail entry. The format is stable and forward-
// appendable only; fields are never edited in place.
type Record struct {
	ID        id.RecordID       `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Actor     id.ActorID        `json:"actor"`
	Action    Action            `json:"action"`
	Resource  types.ResourceRef `json:"resource"`
	Rights    []string          `json:"rights"`
	Namespace types.NamespaceID `json:"namespace"`
	Token     string            `json:"token"`
}

// Filter selects audit records for queries. Zero fields match everything.
type Filter struct {
	Actor     id.ActorID
	Action    Action
	Namespace types.NamespaceID
	Limit     int
}

// memoryTail bounds the in-memory query window; older records live only in
// sealed segments.
const memoryTail = 4096

// AuditLog is the append-only capability audit trail. Records are written
// as JSON lines to the active segment; full segments are sealed with zstd
// and a fresh segment is opened.
type AuditLog struct {
	mu      sync.Mutex
	dir     string
	bootID  string
	segSize int
	seq     int
	cur     *os.File
	curSize int
	records []Record
	logger  *logging.Logger
}

// NewAuditLog opens the audit directory and starts the first segment of
// this boot epoch.
func NewAuditLog(dir string, segmentSize int, logger *logging.Logger) (*AuditLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create dir: %w", err)
	}
	if segmentSize <= 0 {
		segmentSize = 65536
	}
	l := &AuditLog{
		dir:     dir,
		bootID:  uuid.NewString(),
		segSize: segmentSize,
		logger:  logger,
	}
	if err := l.openSegment(); err != nil {
		return nil, err
	}
	logger.Info("Audit log opened",
		zap.String("dir", dir),
		zap.String("boot_id", l.bootID),
	)
	return l, nil
}

func (l *AuditLog) segmentPath(seq int) string {
	return filepath.Join(l.dir, fmt.Sprintf("audit-%s-%06d.jsonl", l.bootID, seq))
}

func (l *AuditLog) openSegment() error {
	l.seq++
	f, err := os.OpenFile(l.segmentPath(l.seq), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("audit: open segment: %w", err)
	}
	l.cur = f
	l.curSize = 0
	return nil
}

// Append writes one record. Errors are returned, never swallowed: an audit
// trail that silently drops writes is worse than a failed operation.
func (l *AuditLog) Append(rec Record) error {
	line, err := sonic.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: encode record: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.cur.Write(line); err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	l.curSize += len(line)

	l.records = append(l.records, rec)
	if len(l.records) > memoryTail {
		l.records = l.records[len(l.records)-memoryTail:]
	}

	if l.curSize >= l.segSize {
		if err := l.sealLocked(); err != nil {
			return err
		}
		if err := l.openSegment(); err != nil {
			return err
		}
	}
	return nil
}

// sealLocked compresses the active segment to .zst and removes the raw file.
func (l *AuditLog) sealLocked() error {
	path := l.cur.Name()
	if err := l.cur.Close(); err != nil {
		return fmt.Errorf("audit: close segment: %w", err)
	}

	raw, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("audit: reopen segment: %w", err)
	}
	defer raw.Close()

	sealed, err := os.Create(path + ".zst")
	if err != nil {
		return fmt.Errorf("audit: create sealed segment: %w", err)
	}
	enc, err := zstd.NewWriter(sealed)
	if err != nil {
		sealed.Close()
		return fmt.Errorf("audit: zstd writer: %w", err)
	}
	if _, err := io.Copy(enc, raw); err != nil {
		enc.Close()
		sealed.Close()
		return fmt.Errorf("audit: seal segment: %w", err)
	}
	if err := enc.Close(); err != nil {
		sealed.Close()
		return fmt.Errorf("audit: finish sealed segment: %w", err)
	}
	if err := sealed.Close(); err != nil {
		return fmt.Errorf("audit: close sealed segment: %w", err)
	}
	if err := os.Remove(path); err != nil {
		l.logger.Warn("Failed to remove raw audit segment", zap.String("path", path), zap.Error(err))
	}

	l.logger.Info("Audit segment sealed", zap.String("path", path+".zst"))
	return nil
}

// Query returns the most recent records matching the filter, newest last.
// Only the in-memory tail is searched; sealed segments are for offline
// security review.
func (l *AuditLog) Query(f Filter) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit := f.Limit
	if limit <= 0 || limit > memoryTail {
		limit = 100
	}

	out := make([]Record, 0, limit)
	for i := len(l.records) - 1; i >= 0 && len(out) < limit; i-- {
		rec := l.records[i]
		if f.Actor != "" && rec.Actor != f.Actor {
			continue
		}
		if f.Action != "" && rec.Action != f.Action {
			continue
		}
		if f.Namespace != 0 && rec.Namespace != f.Namespace {
			continue
		}
		out = append(out, rec)
	}
	// Reverse to chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Len returns the number of records in the in-memory tail.
func (l *AuditLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Close seals the active segment.
func (l *AuditLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sealLocked()
}
