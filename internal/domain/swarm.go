package domain

import (
	"strings"
	"time"
)

// SwarmDescriptor is the metadata needed to start a swarm session for one
// content object. Data holds the bencoded torrent file.
type SwarmDescriptor struct {
	Hash        ContentHash `json:"hash"`
	Extension   string      `json:"extension"`
	InfoHash    string      `json:"infoHash"`
	Length      int64       `json:"length"`
	PieceLength int64       `json:"pieceLength"`
	Trackers    []string    `json:"trackers,omitempty"`
	Data        []byte      `json:"data"`
}

// Name is the canonical object name, shared by the content store and the swarm.
func (d SwarmDescriptor) Name() string {
	return ObjectName(d.Hash, d.Extension)
}

// ObjectName is the canonical on-disk and in-swarm name for content.
func ObjectName(hash ContentHash, ext string) string {
	return hash.String() + NormalizeExtension(ext)
}

type SwarmState string

const (
	SwarmFetching SwarmState = "fetching"
	SwarmSeeding  SwarmState = "seeding"
	SwarmUnknown  SwarmState = "unknown"
)

// SwarmSession is a read-only view of one swarm session.
type SwarmSession struct {
	Name           string      `json:"name"`
	Hash           ContentHash `json:"hash"`
	State          SwarmState  `json:"state"`
	Peers          int         `json:"peers"`
	Seeds          int         `json:"seeds"`
	BytesCompleted int64       `json:"bytesCompleted"`
	Length         int64       `json:"length"`
	Progress       float64     `json:"progress"`
	Paused         bool        `json:"paused,omitempty"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// NormalizeExtension lower-cases ext and ensures a leading dot.
func NormalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
