package process

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileTraceLogger is an implementation of TraceLogger that logs to a file.
// A file is created per execution. The file is formatted as newline-delimited JSON.
type FileTraceLogger struct {
	directory string
}

func NewFileTraceLogger(directory string) *FileTraceLogger {
	return &FileTraceLogger{directory: directory}
}

func (l *FileTraceLogger) executionTracePath(executionID string) string {
	return filepath.Join(l.directory, fmt.Sprintf("%s.jsonl", executionID))
}

func (l *FileTraceLogger) LogStep(ctx context.Context, entry *StepTraceEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	filePath := l.executionTracePath(entry.ExecutionID)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

func (l *FileTraceLogger) GetTrace(ctx context.Context, executionID string) ([]*StepTraceEntry, error) {
	data, err := os.ReadFile(l.executionTracePath(executionID))
	if err != nil {
		return nil, err
	}
	var entries []*StepTraceEntry
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		var entry StepTraceEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}
