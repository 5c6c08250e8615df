package domain

import "fmt"

// ObjectKind is the closed set of sub-entity categories a snapshot carries.
// The declaration order is the application order.
type ObjectKind int

const (
	KindPlayer ObjectKind = iota
	KindMount             // minion or mount
	KindPet
	KindCompanion
)

var AllKinds = []ObjectKind{KindPlayer, KindMount, KindPet, KindCompanion}

var kindNames = map[ObjectKind]string{
	KindPlayer:    "player",
	KindMount:     "mount",
	KindPet:       "pet",
	KindCompanion: "companion",
}

func (k ObjectKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k ObjectKind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// KeepsRedirectsResident reports whether static redirects are left out of
// this category's fragment. Companion-class entities keep every static
// redirect permanently resident on the host side, so shipping them would
// only cause redraws.
func (k ObjectKind) KeepsRedirectsResident() bool {
	return k == KindPet || k == KindCompanion
}

func ParseObjectKind(s string) (ObjectKind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown object kind %q", s)
}

func (k ObjectKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("unknown object kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *ObjectKind) UnmarshalText(text []byte) error {
	parsed, err := ParseObjectKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
