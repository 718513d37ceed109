package commitlog

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func openTestLog(t *testing.T, path string, optFns ...func(o *Options)) *Log {
	t.Helper()
	l, err := Open(path, append(optFns, func(o *Options) { o.NoSync = true })...)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestEmptyLogHasNoRoot(t *testing.T) {
	l := openTestLog(t, filepath.Join(t.TempDir(), "commits.log"))

	version, topRef, snapshot, err := l.Root()
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if version != 0 || topRef != 0 || snapshot != nil {
		t.Fatalf("empty log reported version=%d topRef=%d snapshot=%v", version, topRef, snapshot)
	}
}

func TestCommitAndRoot(t *testing.T) {
	l := openTestLog(t, filepath.Join(t.TempDir(), "commits.log"))

	want := bytes.Repeat([]byte("snapshot payload "), 64)
	if err := l.Commit(3, 4096, want); err != nil {
		t.Fatalf("commit: %v", err)
	}

	version, topRef, snapshot, err := l.Root()
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if version != 3 || topRef != 4096 {
		t.Fatalf("root = (%d, %d), want (3, 4096)", version, topRef)
	}
	if !bytes.Equal(snapshot, want) {
		t.Fatal("snapshot round trip lost data")
	}
}

func TestRootNamesLatestCommit(t *testing.T) {
	l := openTestLog(t, filepath.Join(t.TempDir(), "commits.log"))

	for v := uint64(1); v <= 5; v++ {
		if err := l.Commit(v, v*8, []byte{byte(v)}); err != nil {
			t.Fatalf("commit %d: %v", v, err)
		}
	}

	version, topRef, snapshot, err := l.Root()
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if version != 5 || topRef != 40 || !bytes.Equal(snapshot, []byte{5}) {
		t.Fatalf("root = (%d, %d, %v)", version, topRef, snapshot)
	}
}

func TestReopenRecoversRoot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commits.log")

	l, err := Open(path, func(o *Options) { o.NoSync = true })
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := l.Commit(7, 512, []byte("durable")); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	l2 := openTestLog(t, path)
	version, topRef, snapshot, err := l2.Root()
	if err != nil {
		t.Fatalf("root after reopen: %v", err)
	}
	if version != 7 || topRef != 512 || string(snapshot) != "durable" {
		t.Fatalf("root after reopen = (%d, %d, %q)", version, topRef, snapshot)
	}
}

func TestStoredCodecWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commits.log")

	l, err := Open(path, func(o *Options) { o.Codec = LZ4{}; o.NoSync = true })
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := l.Commit(1, 8, []byte("lz4 framed")); err != nil {
		t.Fatalf("commit: %v", err)
	}
	l.Close()

	// Reopen asking for zstd; the stored codec ID must override.
	l2 := openTestLog(t, path, func(o *Options) { o.Codec = Zstd{} })
	_, _, snapshot, err := l2.Root()
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if string(snapshot) != "lz4 framed" {
		t.Fatalf("snapshot = %q", snapshot)
	}
}

func TestCorruptRecordDetected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commits.log")

	l, err := Open(path, func(o *Options) { o.Codec = None{}; o.NoSync = true })
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := l.Commit(1, 8, []byte("precious bytes")); err != nil {
		t.Fatalf("commit: %v", err)
	}
	l.Close()

	// Flip one payload byte in place. The record sits right after the
	// header and root block.
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("reopen raw: %v", err)
	}
	if _, err := f.WriteAt([]byte{'P'}, int64(dataStart+recordHeaderLen)); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	f.Close()

	l2 := openTestLog(t, path)
	if _, _, _, err := l2.Root(); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("root on corrupt log: %v", err)
	}
}

func TestCorruptRootBlockDetected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commits.log")

	l, err := Open(path, func(o *Options) { o.NoSync = true })
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := l.Commit(1, 8, []byte("x")); err != nil {
		t.Fatalf("commit: %v", err)
	}
	l.Close()

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("reopen raw: %v", err)
	}
	// Bump the stored topRef without fixing the checksum.
	if _, err := f.WriteAt([]byte{0xff}, int64(rootBlockOff+8)); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	f.Close()

	l2 := openTestLog(t, path)
	if _, _, _, err := l2.Root(); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("root on corrupt root block: %v", err)
	}
}

func TestBadMagicRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commits.log")
	if err := os.WriteFile(path, bytes.Repeat([]byte{'z'}, dataStart), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	if _, err := Open(path); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("open with bad magic: %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "commits.log"), func(o *Options) { o.NoSync = true })
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := l.Commit(1, 8, nil); err != ErrClosed {
		t.Fatalf("commit after close: %v", err)
	}
	if _, _, _, err := l.Root(); err != ErrClosed {
		t.Fatalf("root after close: %v", err)
	}
}
