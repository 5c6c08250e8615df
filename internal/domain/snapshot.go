package domain

import (
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"

	"lukechampine.com/blake3"
)

// FileReference ties a game path to the content that should be served there.
type FileReference struct {
	GamePath   string           `json:"gamePath"`
	Hash       ContentHash      `json:"hash"`
	Extension  string           `json:"extension"`
	Descriptor *SwarmDescriptor `json:"descriptor,omitempty"`
}

// FileRedirect is a static game-path swap that needs no transfer.
type FileRedirect struct {
	GamePath string `json:"gamePath"`
	SwapPath string `json:"swapPath"`
}

// Fragment holds the state of one category.
type Fragment struct {
	Appearance string          `json:"appearance,omitempty"`
	Scale      string          `json:"scale,omitempty"`
	Files      []FileReference `json:"files,omitempty"`
	Redirects  []FileRedirect  `json:"redirects,omitempty"`
}

func (f Fragment) HasMods() bool {
	return len(f.Files) > 0 || len(f.Redirects) > 0
}

// PlayerData holds scalars that only exist for the player category.
type PlayerData struct {
	Manipulation string `json:"manipulation,omitempty"`
	Offset       string `json:"offset,omitempty"`
	Title        string `json:"title,omitempty"`
	Overlay      string `json:"overlay,omitempty"`
	PetNames     string `json:"petNames,omitempty"`
}

// Snapshot is an immutable bundle of a character's cosmetic state.
// Build one with NewSnapshot; Hash is derived from the content.
type Snapshot struct {
	Fragments map[ObjectKind]Fragment `json:"fragments"`
	Player    PlayerData              `json:"player"`
	Hash      SnapshotHash            `json:"hash"`
}

// NewSnapshot deep-copies the inputs and seals the aggregate hash.
func NewSnapshot(fragments map[ObjectKind]Fragment, player PlayerData) Snapshot {
	s := Snapshot{Fragments: make(map[ObjectKind]Fragment, len(fragments)), Player: player}
	for kind, frag := range fragments {
		s.Fragments[kind] = cloneFragment(frag)
	}
	s.Hash = s.ComputeHash()
	return s
}

// Fragment returns the category state, if present.
func (s Snapshot) Fragment(kind ObjectKind) (Fragment, bool) {
	f, ok := s.Fragments[kind]
	return f, ok
}

// Kinds lists present categories in application order.
func (s Snapshot) Kinds() []ObjectKind {
	kinds := make([]ObjectKind, 0, len(s.Fragments))
	for _, k := range AllKinds {
		if _, ok := s.Fragments[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Files returns every file reference across all categories.
func (s Snapshot) Files() []FileReference {
	var out []FileReference
	for _, k := range s.Kinds() {
		out = append(out, s.Fragments[k].Files...)
	}
	return out
}

func (s Snapshot) HasMods() bool {
	for _, f := range s.Fragments {
		if f.HasMods() {
			return true
		}
	}
	return false
}

func (s Snapshot) Clone() Snapshot {
	out := Snapshot{Fragments: make(map[ObjectKind]Fragment, len(s.Fragments)), Player: s.Player, Hash: s.Hash}
	for kind, frag := range s.Fragments {
		out.Fragments[kind] = cloneFragment(frag)
	}
	return out
}

func cloneFragment(f Fragment) Fragment {
	out := Fragment{Appearance: f.Appearance, Scale: f.Scale}
	if len(f.Files) > 0 {
		out.Files = make([]FileReference, len(f.Files))
		copy(out.Files, f.Files)
	}
	if len(f.Redirects) > 0 {
		out.Redirects = make([]FileRedirect, len(f.Redirects))
		copy(out.Redirects, f.Redirects)
	}
	return out
}

// ComputeHash derives the aggregate hash from a canonical serialization:
// categories in enum order, file references sorted by game path, hash and
// extension, redirects sorted by game path and swap path, every string
// length-prefixed. Descriptors are not part of the identity.
func (s Snapshot) ComputeHash() SnapshotHash {
	h := blake3.New(32, nil)

	writeString(h, "player")
	writeString(h, s.Player.Manipulation)
	writeString(h, s.Player.Offset)
	writeString(h, s.Player.Title)
	writeString(h, s.Player.Overlay)
	writeString(h, s.Player.PetNames)

	for _, kind := range s.Kinds() {
		frag := s.Fragments[kind]
		writeString(h, kind.String())
		writeString(h, frag.Appearance)
		writeString(h, frag.Scale)

		files := make([]FileReference, len(frag.Files))
		copy(files, frag.Files)
		sort.Slice(files, func(i, j int) bool { return lessFile(files[i], files[j]) })
		writeUint(h, uint64(len(files)))
		for _, f := range files {
			writeString(h, f.GamePath)
			h.Write(f.Hash[:])
			writeString(h, f.Extension)
		}

		redirects := make([]FileRedirect, len(frag.Redirects))
		copy(redirects, frag.Redirects)
		sort.Slice(redirects, func(i, j int) bool {
			if redirects[i].GamePath != redirects[j].GamePath {
				return redirects[i].GamePath < redirects[j].GamePath
			}
			return redirects[i].SwapPath < redirects[j].SwapPath
		})
		writeUint(h, uint64(len(redirects)))
		for _, r := range redirects {
			writeString(h, r.GamePath)
			writeString(h, r.SwapPath)
		}
	}
	return SnapshotHash(hex.EncodeToString(h.Sum(nil)))
}

func lessFile(a, b FileReference) bool {
	if a.GamePath != b.GamePath {
		return a.GamePath < b.GamePath
	}
	if a.Hash != b.Hash {
		return a.Hash.String() < b.Hash.String()
	}
	return a.Extension < b.Extension
}

func writeUint(h hash.Hash, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	h.Write(buf[:])
}

func writeString(h hash.Hash, s string) {
	writeUint(h, uint64(len(s)))
	h.Write([]byte(s))
}
