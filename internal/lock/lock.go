// Package lock provides the daemon's data directory lock and the
// per-conversation write locks.
package lock

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// FileName is the lock file created inside the data directory.
const FileName = "courierd.lock"

// Owner describes the daemon holding a data directory. It is written into
// the lock file so a second daemon or a confused operator can find the
// running one.
type Owner struct {
	PID     int
	Socket  string
	Started time.Time
}

func (o Owner) encode() string {
	return fmt.Sprintf("pid=%d\nsocket=%s\nstarted=%s\n", o.PID, o.Socket, o.Started.UTC().Format(time.RFC3339))
}

func parseOwner(content string) Owner {
	var o Owner
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		k, v, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		switch k {
		case "pid":
			o.PID, _ = strconv.Atoi(v)
		case "socket":
			o.Socket = v
		case "started":
			o.Started, _ = time.Parse(time.RFC3339, v)
		}
	}
	return o
}

// HeldError is returned when another daemon holds the data directory.
type HeldError struct {
	Owner Owner
	Path  string
}

func (e *HeldError) Error() string {
	if e.Owner.Socket == "" {
		return fmt.Sprintf("data directory locked by PID %d (%s)", e.Owner.PID, e.Path)
	}
	return fmt.Sprintf("data directory locked by PID %d serving %s (%s)", e.Owner.PID, e.Owner.Socket, e.Path)
}

// Lock is an acquired data directory lock.
type Lock struct {
	file  *os.File
	path  string
	owner Owner
}

// Acquire takes an exclusive lock on dataDir for the daemon serving socket,
// so only one daemon opens a given database. Returns *HeldError when
// another process holds it.
func Acquire(dataDir, socket string) (*Lock, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		data, _ := os.ReadFile(path)
		_ = f.Close()
		return nil, &HeldError{Owner: parseOwner(string(data)), Path: path}
	}

	owner := Owner{PID: os.Getpid(), Socket: socket, Started: time.Now().UTC().Truncate(time.Second)}
	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	if _, err := f.WriteAt([]byte(owner.encode()), 0); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	return &Lock{file: f, path: path, owner: owner}, nil
}

// Owner returns what this lock recorded about the running daemon.
func (l *Lock) Owner() Owner {
	if l == nil {
		return Owner{}
	}
	return l.owner
}

// Release drops the lock and removes the lock file. Safe to call on a nil
// receiver and more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}
