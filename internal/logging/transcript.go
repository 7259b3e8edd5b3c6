package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Transcript records one workflow run's streamed thoughts to a log file, so a
// long mapping run can be reviewed after the fact.
type Transcript struct {
	mu        sync.Mutex
	file      *os.File
	startTime time.Time
}

// StartTranscript opens a transcript file for one run under dir, named by the
// run label and a timestamp.
func StartTranscript(dir, label string) (*Transcript, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	name := fmt.Sprintf("run_%s_%s.log", label, time.Now().Format("20060102_150405"))
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("create transcript: %w", err)
	}

	tr := &Transcript{file: f, startTime: time.Now()}
	fmt.Fprintf(f, "LOGMAPPER RUN TRANSCRIPT\nRun: %s\nStart Time: %s\n\n",
		label, tr.startTime.Format("2006-01-02 15:04:05"))
	return tr, nil
}

// Log writes one timestamped line.
func (t *Transcript) Log(format string, args ...any) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return
	}
	elapsed := time.Since(t.startTime).Round(time.Millisecond)
	fmt.Fprintf(t.file, "[%s] [+%v] %s\n", time.Now().Format("15:04:05.000"), elapsed, fmt.Sprintf(format, args...))
}

// LogThought records one streamed thought event.
func (t *Transcript) LogThought(agent, nodeName, messageType, content string) {
	if t == nil {
		return
	}
	t.Log("[%s] %s (%s)", agent, nodeName, messageType)
	if content != "" {
		t.mu.Lock()
		if t.file != nil {
			t.file.WriteString(content + "\n")
		}
		t.mu.Unlock()
	}
}

// Close finalizes the transcript.
func (t *Transcript) Close() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return
	}
	elapsed := time.Since(t.startTime).Round(time.Millisecond)
	fmt.Fprintf(t.file, "\nRun completed. Total duration: %v\n", elapsed)
	t.file.Close()
	t.file = nil
}
