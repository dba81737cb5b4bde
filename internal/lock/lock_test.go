package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestAcquireAndRelease(t *testing.T) {
	tmpDir := t.TempDir()

	l, err := Acquire(tmpDir, "/run/courierd.sock")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(tmpDir, FileName))
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	owner := parseOwner(string(data))
	if owner.PID != os.Getpid() || owner.Socket != "/run/courierd.sock" || owner.Started.IsZero() {
		t.Errorf("lock file records %+v", owner)
	}
	if got := l.Owner(); got.PID != owner.PID || got.Socket != owner.Socket || !got.Started.Equal(owner.Started) {
		t.Errorf("Owner() = %+v, file says %+v", l.Owner(), owner)
	}

	if err := l.Release(); err != nil {
		t.Errorf("Release() error = %v", err)
	}
}

func TestDoubleAcquireFails(t *testing.T) {
	tmpDir := t.TempDir()

	l1, err := Acquire(tmpDir, "/run/courierd.sock")
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer func() { _ = l1.Release() }()

	_, err = Acquire(tmpDir, "/run/courierd.sock")
	if err == nil {
		t.Fatal("second Acquire() should fail")
	}

	var held *HeldError
	if !errors.As(err, &held) {
		t.Errorf("expected HeldError, got %T: %v", err, err)
	}
	if held != nil {
		if held.Owner.PID != os.Getpid() {
			t.Errorf("PID = %d, want %d", held.Owner.PID, os.Getpid())
		}
		if held.Owner.Socket != "/run/courierd.sock" {
			t.Errorf("Socket = %q, want the first daemon's socket", held.Owner.Socket)
		}
		if !strings.Contains(err.Error(), "/run/courierd.sock") {
			t.Errorf("error %q should name the running daemon's socket", err)
		}
	}
}

func TestReleaseNilAndIdempotent(t *testing.T) {
	var nilLock *Lock
	if err := nilLock.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}

	l, err := Acquire(t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("first Release() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
}

func TestKeyedSerializesSameKey(t *testing.T) {
	k := NewKeyed()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("conv")
			mu.Lock()
			inside++
			maxSeen = max(maxSeen, inside)
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxSeen)
	}
	if k.Len() != 0 {
		t.Errorf("Len() = %d after all unlocks, want 0", k.Len())
	}
}

func TestKeyedDifferentKeysIndependent(t *testing.T) {
	k := NewKeyed()
	unlockA := k.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := k.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on key b blocked behind key a")
	}
}

func TestKeyedUnlockIdempotent(t *testing.T) {
	k := NewKeyed()
	unlock := k.Lock("a")
	unlock()
	unlock()
	if k.Len() != 0 {
		t.Errorf("Len() = %d, want 0", k.Len())
	}
}
