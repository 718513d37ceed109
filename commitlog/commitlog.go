// Package commitlog implements the external commit writer: an
// append-only file of compressed snapshot payloads plus a fixed-position
// root pointer block naming the last durable version. A commit appends
// the snapshot record and fsyncs, then rewrites the root pointer and
// fsyncs again, so a crash between the two phases leaves the previous
// root intact.
package commitlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
)

var (
	// ErrCorrupt is returned when a header, root block or record fails
	// validation.
	ErrCorrupt = errors.New("commitlog: corrupt log")

	// ErrClosed is returned by operations on a closed log.
	ErrClosed = errors.New("commitlog: closed")
)

var logMagic = [4]byte{'M', 'V', 'C', 'L'}

const (
	headerVersion = uint16(1)

	// header: magic(4) version(2) codecID(1) reserved(9)
	headerLen = 16

	// root block: version(8) topRef(8) offset(8) length(8) crc(4) pad(12)
	rootBlockOff = headerLen
	rootBlockLen = 48

	dataStart = rootBlockOff + rootBlockLen

	// record: version(8) topRef(8) payloadLen(4) crc(4) payload(N)
	recordHeaderLen = 24
)

// Options configure a Log.
type Options struct {
	// Codec compresses snapshot payloads. Defaults to commitlog.Default.
	Codec Codec

	// NoSync skips fsync after writes. Only for tests and throwaway
	// stores; a crash can then lose or corrupt the tail.
	NoSync bool
}

// Log is an open commit log. Safe for concurrent use; commits serialize
// on an internal mutex.
type Log struct {
	mu     sync.Mutex
	file   *os.File
	codec  Codec
	path   string
	noSync bool
	closed bool
}

// Open creates or reopens the commit log at path and takes an advisory
// lock on it. On an existing log the stored codec wins over the
// configured one.
func Open(path string, optFns ...func(o *Options)) (*Log, error) {
	opts := Options{Codec: Default}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Codec == nil {
		opts.Codec = Default
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open commit log: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock commit log: %w", err)
	}

	l := &Log{
		file:   f,
		codec:  opts.Codec,
		path:   path,
		noSync: opts.NoSync,
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.Size() == 0 {
		if err := l.initialize(); err != nil {
			f.Close()
			return nil, err
		}
		return l, nil
	}

	if err := l.readHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) initialize() error {
	buf := make([]byte, dataStart)
	copy(buf, logMagic[:])
	binary.LittleEndian.PutUint16(buf[4:], headerVersion)
	buf[6] = l.codec.ID()
	// Root block stays zero: no committed version yet.
	if _, err := l.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("write commit log header: %w", err)
	}
	return l.sync()
}

func (l *Log) readHeader() error {
	buf := make([]byte, headerLen)
	if _, err := l.file.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("%w: short header", ErrCorrupt)
	}
	if [4]byte(buf[:4]) != logMagic {
		return fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if v := binary.LittleEndian.Uint16(buf[4:]); v != headerVersion {
		return fmt.Errorf("%w: unsupported header version %d", ErrCorrupt, v)
	}
	codec, ok := ByID(buf[6])
	if !ok {
		return fmt.Errorf("%w: unknown codec id %d", ErrCorrupt, buf[6])
	}
	l.codec = codec
	return nil
}

func (l *Log) sync() error {
	if l.noSync {
		return nil
	}
	return l.file.Sync()
}

// Commit makes one version durable: the compressed snapshot is appended
// and synced, then the root pointer is moved to it and synced.
func (l *Log) Commit(version uint64, topRef uint64, snapshot []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}

	payload, err := l.codec.Compress(snapshot)
	if err != nil {
		return err
	}

	end, err := l.file.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	if end < dataStart {
		end = dataStart
	}

	rec := make([]byte, recordHeaderLen+len(payload))
	binary.LittleEndian.PutUint64(rec[0:], version)
	binary.LittleEndian.PutUint64(rec[8:], topRef)
	binary.LittleEndian.PutUint32(rec[16:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(rec[20:], crc32.ChecksumIEEE(payload))
	copy(rec[recordHeaderLen:], payload)

	if _, err := l.file.WriteAt(rec, end); err != nil {
		return fmt.Errorf("append commit record: %w", err)
	}
	if err := l.sync(); err != nil {
		return err
	}

	root := make([]byte, rootBlockLen)
	binary.LittleEndian.PutUint64(root[0:], version)
	binary.LittleEndian.PutUint64(root[8:], topRef)
	binary.LittleEndian.PutUint64(root[16:], uint64(end))
	binary.LittleEndian.PutUint64(root[24:], uint64(len(payload)))
	binary.LittleEndian.PutUint32(root[32:], crc32.ChecksumIEEE(root[:32]))

	if _, err := l.file.WriteAt(root, rootBlockOff); err != nil {
		return fmt.Errorf("update root pointer: %w", err)
	}
	return l.sync()
}

// Root returns the last durable version, its top ref and the
// decompressed snapshot. A log with no commit yet returns zeros and a
// nil snapshot.
func (l *Log) Root() (version uint64, topRef uint64, snapshot []byte, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, 0, nil, ErrClosed
	}

	root := make([]byte, rootBlockLen)
	if _, err := l.file.ReadAt(root, rootBlockOff); err != nil {
		return 0, 0, nil, fmt.Errorf("%w: short root block", ErrCorrupt)
	}

	version = binary.LittleEndian.Uint64(root[0:])
	if version == 0 {
		return 0, 0, nil, nil
	}
	if crc := binary.LittleEndian.Uint32(root[32:]); crc != crc32.ChecksumIEEE(root[:32]) {
		return 0, 0, nil, fmt.Errorf("%w: root block checksum", ErrCorrupt)
	}

	topRef = binary.LittleEndian.Uint64(root[8:])
	offset := int64(binary.LittleEndian.Uint64(root[16:]))
	length := int(binary.LittleEndian.Uint64(root[24:]))

	rec := make([]byte, recordHeaderLen+length)
	if _, err := l.file.ReadAt(rec, offset); err != nil {
		return 0, 0, nil, fmt.Errorf("%w: short commit record", ErrCorrupt)
	}
	if v := binary.LittleEndian.Uint64(rec[0:]); v != version {
		return 0, 0, nil, fmt.Errorf("%w: record version %d, root names %d", ErrCorrupt, v, version)
	}
	payload := rec[recordHeaderLen:]
	if crc := binary.LittleEndian.Uint32(rec[20:]); crc != crc32.ChecksumIEEE(payload) {
		return 0, 0, nil, fmt.Errorf("%w: record checksum", ErrCorrupt)
	}

	snapshot, err = l.codec.Decompress(payload)
	if err != nil {
		return 0, 0, nil, err
	}
	return version, topRef, snapshot, nil
}

// Path returns the log's file path.
func (l *Log) Path() string { return l.path }

// Close releases the advisory lock and closes the file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	unlockFile(l.file)
	return l.file.Close()
}
