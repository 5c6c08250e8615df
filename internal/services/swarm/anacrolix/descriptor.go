package anacrolix

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"

	"charasync/internal/domain"
)

const (
	smallPieceLength   = 64 << 10
	largePieceLength   = 512 << 10
	pieceSizeThreshold = 32 << 20
	createdBy          = "charasync"
)

// pieceLengthFor picks the piece size for a file: small files get small pieces
// so a single verified piece is cheap, large files keep the piece table short.
func pieceLengthFor(size int64) int64 {
	if size < pieceSizeThreshold {
		return smallPieceLength
	}
	return largePieceLength
}

// CreateDescriptor builds the torrent for one local file. The torrent name is
// the canonical object name, not the local file name.
func (e *Engine) CreateDescriptor(ctx context.Context, path string, hash domain.ContentHash, ext string) (domain.SwarmDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return domain.SwarmDescriptor{}, err
	}
	return buildDescriptor(path, hash, ext, e.cfg.Trackers)
}

func buildDescriptor(path string, hash domain.ContentHash, ext string, trackers []string) (domain.SwarmDescriptor, error) {
	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.SwarmDescriptor{}, fmt.Errorf("%w: %s", domain.ErrSourceMissing, path)
		}
		return domain.SwarmDescriptor{}, err
	}
	if !stat.Mode().IsRegular() {
		return domain.SwarmDescriptor{}, fmt.Errorf("descriptor: %s is not a regular file", path)
	}

	info := metainfo.Info{PieceLength: pieceLengthFor(stat.Size())}
	if err := info.BuildFromFilePath(path); err != nil {
		return domain.SwarmDescriptor{}, fmt.Errorf("descriptor: hash pieces: %w", err)
	}
	ext = domain.NormalizeExtension(ext)
	info.Name = domain.ObjectName(hash, ext)

	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		return domain.SwarmDescriptor{}, fmt.Errorf("descriptor: encode info: %w", err)
	}
	mi := metainfo.MetaInfo{InfoBytes: infoBytes, CreatedBy: createdBy}
	if len(trackers) > 0 {
		mi.Announce = trackers[0]
		mi.AnnounceList = [][]string{append([]string(nil), trackers...)}
	}

	var buf bytes.Buffer
	if err := mi.Write(&buf); err != nil {
		return domain.SwarmDescriptor{}, fmt.Errorf("descriptor: encode: %w", err)
	}

	return domain.SwarmDescriptor{
		Hash:        hash,
		Extension:   ext,
		InfoHash:    mi.HashInfoBytes().HexString(),
		Length:      info.TotalLength(),
		PieceLength: info.PieceLength,
		Trackers:    append([]string(nil), trackers...),
		Data:        buf.Bytes(),
	}, nil
}

// DecodeDescriptor parses torrent bytes, recovering hash and extension from
// the canonical name.
func (e *Engine) DecodeDescriptor(data []byte) (domain.SwarmDescriptor, error) {
	return decodeDescriptor(data)
}

func decodeDescriptor(data []byte) (domain.SwarmDescriptor, error) {
	mi, err := metainfo.Load(bytes.NewReader(data))
	if err != nil {
		return domain.SwarmDescriptor{}, fmt.Errorf("descriptor: decode: %w", err)
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return domain.SwarmDescriptor{}, fmt.Errorf("descriptor: decode info: %w", err)
	}
	hash, ext, err := parseObjectName(info.Name)
	if err != nil {
		return domain.SwarmDescriptor{}, err
	}

	var trackers []string
	for _, tier := range mi.UpvertedAnnounceList() {
		trackers = append(trackers, tier...)
	}

	return domain.SwarmDescriptor{
		Hash:        hash,
		Extension:   ext,
		InfoHash:    mi.HashInfoBytes().HexString(),
		Length:      info.TotalLength(),
		PieceLength: info.PieceLength,
		Trackers:    trackers,
		Data:        append([]byte(nil), data...),
	}, nil
}

func parseObjectName(name string) (domain.ContentHash, string, error) {
	name = filepath.Base(name)
	ext := filepath.Ext(name)
	hash, err := domain.ParseContentHash(strings.TrimSuffix(name, ext))
	if err != nil {
		return domain.ContentHash{}, "", fmt.Errorf("descriptor: name %q is not a content name: %w", name, err)
	}
	return hash, ext, nil
}
