package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/ChamsBouzaiene/gencode/internal/engine"
)

// eventLog writes engine events as NDJSON, one object per line.
type eventLog struct {
	ch   chan engine.Event
	out  io.WriteCloser
	done sync.WaitGroup
}

type eventRecord struct {
	Time time.Time `json:"time"`
	Kind string    `json:"kind"`
	Data any       `json:"data,omitempty"`
}

func openEventLog(path string) (*eventLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	l := &eventLog{ch: make(chan engine.Event, 256), out: f}
	l.done.Add(1)
	go l.flush()
	return l, nil
}

// Hook returns the engine hook feeding the log.
func (l *eventLog) Hook() engine.Hook { return engine.ChannelHook{Ch: l.ch} }

func (l *eventLog) flush() {
	defer l.done.Done()
	enc := json.NewEncoder(l.out)
	for ev := range l.ch {
		rec := eventRecord{Time: time.Now().UTC(), Kind: ev.Kind, Data: ev.Data}
		if err := enc.Encode(rec); err != nil {
			log.Printf("⚠️  Failed to write event: %v", err)
		}
	}
}

// Close drains pending events and closes the file.
func (l *eventLog) Close() error {
	close(l.ch)
	l.done.Wait()
	return l.out.Close()
}
