// Package archive reads and writes character files: a snapshot plus every
// content object it references, in one LZ4 stream.
package archive

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pierrec/lz4/v4"

	"charasync/internal/domain"
)

const (
	magic   = "CSAR"
	version = 1

	maxHeaderSize = 64 << 20
	copyChunk     = 256 << 10
)

var ErrBadArchive = errors.New("not a character archive")

// FileEntry describes one content object in table order.
type FileEntry struct {
	Hash      domain.ContentHash `json:"hash"`
	Extension string             `json:"extension"`
	Length    int64              `json:"length"`
}

type Header struct {
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	Snapshot    domain.Snapshot `json:"snapshot"`
	Files       []FileEntry     `json:"files"`
}

// Source reads stored content by range for export.
type Source interface {
	Size(hash domain.ContentHash, ext string) (int64, error)
	ReadAt(hash domain.ContentHash, ext string, p []byte, off int64) (int, error)
}

// Sink ingests extracted content, verifying its hash.
type Sink interface {
	Ingest(r io.Reader, hash domain.ContentHash, ext string) error
}

// Export writes snap and the bytes of every file it references to w.
func Export(w io.Writer, description string, snap domain.Snapshot, src Source) (Header, error) {
	header := Header{
		Description: description,
		CreatedAt:   time.Now().UTC(),
		Snapshot:    stripDescriptors(snap),
	}

	seen := make(map[string]struct{})
	for _, ref := range snap.Files() {
		ext := domain.NormalizeExtension(ref.Extension)
		key := domain.ObjectName(ref.Hash, ext)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		size, err := src.Size(ref.Hash, ext)
		if err != nil {
			return Header{}, fmt.Errorf("archive: stat %s: %w", key, err)
		}
		header.Files = append(header.Files, FileEntry{Hash: ref.Hash, Extension: ext, Length: size})
	}

	meta, err := json.Marshal(header)
	if err != nil {
		return Header{}, fmt.Errorf("archive: encode header: %w", err)
	}

	zw := lz4.NewWriter(w)
	bw := bufio.NewWriter(zw)
	bw.WriteString(magic)
	bw.WriteByte(version)
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(meta)))
	bw.Write(size[:])
	bw.Write(meta)
	buf := make([]byte, copyChunk)
	for _, entry := range header.Files {
		section := io.NewSectionReader(contentReader{src, entry.Hash, entry.Extension}, 0, entry.Length)
		// Hide bw's ReadFrom so reads happen in copyChunk ranges.
		n, err := io.CopyBuffer(struct{ io.Writer }{bw}, section, buf)
		if err != nil {
			return Header{}, fmt.Errorf("archive: write %s: %w", entry.Hash.Short(), err)
		}
		if n != entry.Length {
			return Header{}, fmt.Errorf("archive: %s changed while exporting", entry.Hash.Short())
		}
	}
	if err := bw.Flush(); err != nil {
		return Header{}, fmt.Errorf("archive: flush: %w", err)
	}
	if err := zw.Close(); err != nil {
		return Header{}, fmt.Errorf("archive: close: %w", err)
	}
	return header, nil
}

// contentReader adapts one stored object to io.ReaderAt.
type contentReader struct {
	src  Source
	hash domain.ContentHash
	ext  string
}

func (c contentReader) ReadAt(p []byte, off int64) (int, error) {
	return c.src.ReadAt(c.hash, c.ext, p, off)
}

// ReadHeader decodes only the header.
func ReadHeader(r io.Reader) (Header, error) {
	header, _, err := readHeader(r)
	return header, err
}

func readHeader(r io.Reader) (Header, io.Reader, error) {
	zr := bufio.NewReader(lz4.NewReader(r))

	var prefix [len(magic) + 1 + 4]byte
	if _, err := io.ReadFull(zr, prefix[:]); err != nil {
		return Header{}, nil, fmt.Errorf("%w: %v", ErrBadArchive, err)
	}
	if !bytes.Equal(prefix[:len(magic)], []byte(magic)) {
		return Header{}, nil, ErrBadArchive
	}
	if v := prefix[len(magic)]; v != version {
		return Header{}, nil, fmt.Errorf("%w: unsupported version %d", ErrBadArchive, v)
	}
	size := binary.BigEndian.Uint32(prefix[len(magic)+1:])
	if size > maxHeaderSize {
		return Header{}, nil, fmt.Errorf("%w: header too large", ErrBadArchive)
	}
	meta := make([]byte, size)
	if _, err := io.ReadFull(zr, meta); err != nil {
		return Header{}, nil, fmt.Errorf("%w: truncated header", ErrBadArchive)
	}
	var header Header
	if err := json.Unmarshal(meta, &header); err != nil {
		return Header{}, nil, fmt.Errorf("%w: header: %v", ErrBadArchive, err)
	}
	return header, zr, nil
}

// Extract ingests every file into sink and returns the header. The snapshot
// hash is checked against its content.
func Extract(r io.Reader, sink Sink) (Header, error) {
	header, body, err := readHeader(r)
	if err != nil {
		return Header{}, err
	}
	if got := header.Snapshot.ComputeHash(); got != header.Snapshot.Hash {
		return Header{}, fmt.Errorf("%w: snapshot %s, content %s", domain.ErrHashMismatch, header.Snapshot.Hash, got)
	}
	for _, entry := range header.Files {
		lr := &io.LimitedReader{R: body, N: entry.Length}
		if err := sink.Ingest(lr, entry.Hash, entry.Extension); err != nil {
			return Header{}, fmt.Errorf("archive: extract %s: %w", entry.Hash.Short(), err)
		}
		if lr.N != 0 {
			return Header{}, fmt.Errorf("%w: truncated file %s", ErrBadArchive, entry.Hash.Short())
		}
	}
	return header, nil
}

func stripDescriptors(snap domain.Snapshot) domain.Snapshot {
	out := snap.Clone()
	for kind, frag := range out.Fragments {
		for i := range frag.Files {
			frag.Files[i].Descriptor = nil
		}
		out.Fragments[kind] = frag
	}
	return out
}
