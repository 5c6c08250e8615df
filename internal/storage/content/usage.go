package content

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

type DirUsage struct {
	Path  string `json:"path"`
	Files int    `json:"files"`
	Bytes int64  `json:"bytes"`
	// Allocated is the on-disk footprint. Sparse piece files report less
	// than Bytes.
	Allocated int64 `json:"allocated"`
}

type Usage struct {
	Files     DirUsage  `json:"files"`
	Torrents  DirUsage  `json:"torrents"`
	Pieces    DirUsage  `json:"pieces"`
	ScannedAt time.Time `json:"scannedAt"`
}

func (u Usage) TotalBytes() int64 {
	return u.Files.Bytes + u.Torrents.Bytes + u.Pieces.Bytes
}

// Usage walks the store directories.
func (s *Store) Usage() Usage {
	return Usage{
		Files:     scanDir(s.dirs.Files),
		Torrents:  scanDir(s.dirs.Torrents),
		Pieces:    scanDir(s.dirs.Pieces),
		ScannedAt: time.Now().UTC(),
	}
}

func scanDir(dir string) DirUsage {
	usage := DirUsage{Path: dir}
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		usage.Files++
		usage.Bytes += info.Size()
		usage.Allocated += allocatedBytes(info)
		return nil
	})
	return usage
}
