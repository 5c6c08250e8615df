// Package portstest provides in-memory implementations of the host-facing
// ports for tests.
package portstest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"charasync/internal/domain"
	"charasync/internal/domain/ports"
)

// Recorder collects provider calls as "provider.method:kind" strings.
type Recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *Recorder) record(provider, method string, obj domain.ObjectRef) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.calls = append(r.calls, fmt.Sprintf("%s.%s:%s", provider, method, obj.Kind))
	r.mu.Unlock()
}

// Calls returns a copy of every recorded call in order.
func (r *Recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// Count returns how many calls start with prefix.
func (r *Recorder) Count(prefix string) int {
	n := 0
	for _, c := range r.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

// readiness is a concurrency-safe ready flag, ready by default.
type readiness struct {
	mu       sync.Mutex
	notReady bool
}

func (r *readiness) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.notReady
}

func (r *readiness) SetReady(ready bool) {
	r.mu.Lock()
	r.notReady = !ready
	r.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Providers
// ---------------------------------------------------------------------------

type Mods struct {
	readiness
	Rec *Recorder

	mu        sync.Mutex
	Paths     map[domain.ObjectKind]map[string][]string
	PathsErr  error
	Manip     string
	ScopeErr  error
	Applied   map[string]string // last temporary mods
	Scopes    int
	Removed   int
	ApplyErrs map[string]error // method name -> error
}

func (m *Mods) ResolvedPaths(_ context.Context, obj domain.ObjectRef) (map[string][]string, error) {
	m.Rec.record("mods", "resolved", obj)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PathsErr != nil {
		return nil, m.PathsErr
	}
	out := make(map[string][]string)
	for k, v := range m.Paths[obj.Kind] {
		out[k] = append([]string(nil), v...)
	}
	return out, nil
}

func (m *Mods) Manipulations(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Manip, nil
}

func (m *Mods) CreateScope(_ context.Context, peer string) (string, error) {
	m.Rec.record("mods", "create_scope", domain.ObjectRef{})
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ScopeErr != nil {
		return "", m.ScopeErr
	}
	m.Scopes++
	return fmt.Sprintf("scope-%s-%d", peer, m.Scopes), nil
}

func (m *Mods) AssignScope(_ context.Context, _ string, obj domain.ObjectRef) error {
	m.Rec.record("mods", "assign_scope", obj)
	return m.errFor("assign_scope")
}

func (m *Mods) SetTemporaryMods(_ context.Context, _ uuid.UUID, _ string, paths map[string]string) error {
	m.Rec.record("mods", "set_files", domain.ObjectRef{})
	m.mu.Lock()
	m.Applied = make(map[string]string, len(paths))
	for k, v := range paths {
		m.Applied[k] = v
	}
	m.mu.Unlock()
	return m.errFor("set_files")
}

func (m *Mods) SetManipulations(_ context.Context, _ uuid.UUID, _ string, _ string) error {
	m.Rec.record("mods", "set_manip", domain.ObjectRef{})
	return m.errFor("set_manip")
}

func (m *Mods) RemoveScope(_ context.Context, _ uuid.UUID, _ string) error {
	m.Rec.record("mods", "remove_scope", domain.ObjectRef{})
	m.mu.Lock()
	m.Removed++
	m.mu.Unlock()
	return m.errFor("remove_scope")
}

func (m *Mods) Redraw(_ context.Context, obj domain.ObjectRef, _ uuid.UUID) error {
	m.Rec.record("mods", "redraw", obj)
	return m.errFor("redraw")
}

func (m *Mods) AppliedFiles() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Applied
}

func (m *Mods) errFor(method string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ApplyErrs[method]
}

type Appearance struct {
	readiness
	Rec *Recorder

	mu        sync.Mutex
	Values    map[domain.ObjectKind]string
	GetErr    error
	ApplyErr  error
	RevertErr error
}

func (a *Appearance) Get(_ context.Context, obj domain.ObjectRef) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.GetErr != nil {
		return "", a.GetErr
	}
	return a.Values[obj.Kind], nil
}

func (a *Appearance) Apply(_ context.Context, obj domain.ObjectRef, _ string, _ uuid.UUID) error {
	a.Rec.record("appearance", "apply", obj)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ApplyErr
}

func (a *Appearance) Revert(_ context.Context, obj domain.ObjectRef, _ uuid.UUID) error {
	a.Rec.record("appearance", "revert", obj)
	return a.RevertErr
}

func (a *Appearance) RevertByName(_ context.Context, _ string, _ uuid.UUID) error {
	a.Rec.record("appearance", "revert_by_name", domain.ObjectRef{})
	return nil
}

type Scale struct {
	readiness
	Rec *Recorder

	mu       sync.Mutex
	Values   map[domain.ObjectKind]string
	next     int
	Reverted []string
}

func (s *Scale) Get(_ context.Context, obj domain.ObjectRef) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Values[obj.Kind], nil
}

func (s *Scale) Apply(_ context.Context, obj domain.ObjectRef, _ string) (string, error) {
	s.Rec.record("scale", "apply", obj)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("scale-%d", s.next), nil
}

func (s *Scale) Revert(_ context.Context, id string) error {
	s.Rec.record("scale", "revert", domain.ObjectRef{})
	s.mu.Lock()
	s.Reverted = append(s.Reverted, id)
	s.mu.Unlock()
	return nil
}

func (s *Scale) RevertedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Reverted...)
}

// Global is a player-only scalar provider (offset, title, pet names).
type Global struct {
	readiness
	Rec  *Recorder
	Name string

	mu     sync.Mutex
	Value  string
	GetErr error
}

func (g *Global) Get(context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Value, g.GetErr
}

func (g *Global) Apply(_ context.Context, obj domain.ObjectRef, _ string) error {
	g.Rec.record(g.Name, "apply", obj)
	return nil
}

func (g *Global) Revert(_ context.Context, obj domain.ObjectRef) error {
	g.Rec.record(g.Name, "revert", obj)
	return nil
}

// PerObject is a scalar provider keyed by object (overlay).
type PerObject struct {
	readiness
	Rec  *Recorder
	Name string

	mu     sync.Mutex
	Values map[domain.ObjectKind]string
}

func (p *PerObject) Get(_ context.Context, obj domain.ObjectRef) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Values[obj.Kind], nil
}

func (p *PerObject) Apply(_ context.Context, obj domain.ObjectRef, _ string) error {
	p.Rec.record(p.Name, "apply", obj)
	return nil
}

func (p *PerObject) Revert(_ context.Context, obj domain.ObjectRef) error {
	p.Rec.record(p.Name, "revert", obj)
	return nil
}

// Host bundles one fake per provider sharing a recorder.
type Host struct {
	Rec        *Recorder
	Mods       *Mods
	Appearance *Appearance
	Scale      *Scale
	Offset     *Global
	Title      *Global
	Overlay    *PerObject
	PetNames   *Global
}

func NewHost() *Host {
	rec := &Recorder{}
	return &Host{
		Rec:        rec,
		Mods:       &Mods{Rec: rec, Paths: map[domain.ObjectKind]map[string][]string{}},
		Appearance: &Appearance{Rec: rec, Values: map[domain.ObjectKind]string{}},
		Scale:      &Scale{Rec: rec, Values: map[domain.ObjectKind]string{}},
		Offset:     &Global{Rec: rec, Name: "offset"},
		Title:      &Global{Rec: rec, Name: "title"},
		Overlay:    &PerObject{Rec: rec, Name: "overlay", Values: map[domain.ObjectKind]string{}},
		PetNames:   &Global{Rec: rec, Name: "pet_names"},
	}
}

func (h *Host) Providers() ports.Providers {
	return ports.Providers{
		Mods:       h.Mods,
		Appearance: h.Appearance,
		Scale:      h.Scale,
		Offset:     h.Offset,
		Title:      h.Title,
		Overlay:    h.Overlay,
		PetNames:   h.PetNames,
	}
}

// ---------------------------------------------------------------------------
// World
// ---------------------------------------------------------------------------

type World struct {
	mu          sync.Mutex
	Player      domain.ObjectRef
	Objects     map[domain.ObjectKind]domain.ObjectRef // related objects of the local player
	Peers       map[string]domain.ObjectRef
	PeerObjects map[string]map[domain.ObjectKind]domain.ObjectRef
	Drawing     map[uint64]int // address -> remaining polls reporting drawing
	Absent      map[uint64]bool
	Names       map[uint64]string
	Cond        domain.Conditions
}

func NewWorld() *World {
	return &World{
		Player:      domain.ObjectRef{Kind: domain.KindPlayer, Address: 1, Name: "Local Player"},
		Objects:     map[domain.ObjectKind]domain.ObjectRef{},
		Peers:       map[string]domain.ObjectRef{},
		PeerObjects: map[string]map[domain.ObjectKind]domain.ObjectRef{},
		Drawing:     map[uint64]int{},
		Absent:      map[uint64]bool{},
		Names:       map[uint64]string{},
	}
}

// AddPeer registers a peer's player object and returns it.
func (w *World) AddPeer(peer string, address uint64, name string) domain.ObjectRef {
	w.mu.Lock()
	defer w.mu.Unlock()
	obj := domain.ObjectRef{Kind: domain.KindPlayer, Address: address, Name: name}
	w.Peers[peer] = obj
	w.Names[address] = name
	return obj
}

func (w *World) AddPeerObject(peer string, kind domain.ObjectKind, address uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.PeerObjects[peer] == nil {
		w.PeerObjects[peer] = map[domain.ObjectKind]domain.ObjectRef{}
	}
	w.PeerObjects[peer][kind] = domain.ObjectRef{Kind: kind, Address: address}
}

func (w *World) SetConditions(c domain.Conditions) {
	w.mu.Lock()
	w.Cond = c
	w.mu.Unlock()
}

func (w *World) SetName(address uint64, name string) {
	w.mu.Lock()
	w.Names[address] = name
	w.mu.Unlock()
}

func (w *World) LocalPlayer(context.Context) (domain.ObjectRef, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Player, nil
}

func (w *World) Related(_ context.Context, owner domain.ObjectRef, kind domain.ObjectKind) (domain.ObjectRef, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if owner.Address == w.Player.Address {
		obj, ok := w.Objects[kind]
		return obj, ok, nil
	}
	for peer, p := range w.Peers {
		if p.Address == owner.Address {
			obj, ok := w.PeerObjects[peer][kind]
			return obj, ok, nil
		}
	}
	return domain.ObjectRef{}, false, nil
}

func (w *World) FindPeer(_ context.Context, peer string) (domain.ObjectRef, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	obj, ok := w.Peers[peer]
	return obj, ok, nil
}

func (w *World) IsDrawing(_ context.Context, obj domain.ObjectRef) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n := w.Drawing[obj.Address]; n > 0 {
		if n < 1<<30 {
			w.Drawing[obj.Address] = n - 1
		}
		return true, nil
	}
	return false, nil
}

func (w *World) IsPresent(_ context.Context, obj domain.ObjectRef) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.Absent[obj.Address], nil
}

func (w *World) Name(_ context.Context, obj domain.ObjectRef) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if name, ok := w.Names[obj.Address]; ok {
		return name, nil
	}
	return obj.Name, nil
}

func (w *World) Conditions() domain.Conditions {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Cond
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// Events records published events.
type Events struct {
	mu     sync.Mutex
	events []domain.Event
}

func (e *Events) Publish(ev domain.Event) {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
}

func (e *Events) All() []domain.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Event(nil), e.events...)
}

// Count returns how many events of kind were published.
func (e *Events) Count(kind domain.EventKind) int {
	n := 0
	for _, ev := range e.All() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

var (
	_ ports.World           = (*World)(nil)
	_ ports.EventSink       = (*Events)(nil)
	_ ports.ModProvider     = (*Mods)(nil)
	_ ports.OffsetProvider  = (*Global)(nil)
	_ ports.OverlayProvider = (*PerObject)(nil)
)
