package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/joripage/order-relay/pkg/relay/model"
)

const DefaultFile = "trades.json"

// FileJournal appends one JSON object per line and syncs after each write.
type FileJournal struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func OpenFile(path string) (*FileJournal, error) {
	if path == "" {
		path = DefaultFile
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return &FileJournal{path: path, f: f}, nil
}

func (j *FileJournal) Name() string {
	return "file"
}

func (j *FileJournal) Path() string {
	return j.path
}

func (j *FileJournal) Append(ctx context.Context, record model.TradeRecord) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode trade record: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return fmt.Errorf("journal %s is closed", j.path)
	}
	if _, err := j.f.Write(line); err != nil {
		return fmt.Errorf("write journal %s: %w", j.path, err)
	}
	if err := j.f.Sync(); err != nil {
		return fmt.Errorf("sync journal %s: %w", j.path, err)
	}
	return nil
}

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}

// ReadFile decodes every record in a journal file. A torn final line is
// reported as an error alongside the records read before it.
func ReadFile(path string) ([]model.TradeRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []model.TradeRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var r model.TradeRecord
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			return records, fmt.Errorf("journal %s line %d: %w", path, lineNo, err)
		}
		records = append(records, r)
	}
	return records, scanner.Err()
}
