package xport

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/fieldwave/rfplane/pkg/rf"
)

// Binding is a registered backend plus bookkeeping. The ID exists only for
// log correlation; it has no hardware meaning.
type Binding struct {
	ID      uuid.UUID
	Kind    rf.XportKind
	Backend Backend
}

// Registry tracks one backend per transport kind and the init level of
// every card brought up through it. It is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	log      *slog.Logger
	bindings map[rf.XportKind]*Binding
	levels   map[cardKey]rf.InitLevel
	// probed caches one-shot probe results for kinds that do not hotplug.
	probed map[rf.XportKind][]UID
}

type cardKey struct {
	kind rf.XportKind
	uid  UID
}

// NewRegistry returns an empty registry. logger may be nil.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		log:      logger,
		bindings: make(map[rf.XportKind]*Binding),
		levels:   make(map[cardKey]rf.InitLevel),
		probed:   make(map[rf.XportKind][]UID),
	}
}

// Register installs b for its kind. At most one backend per kind may be
// registered at a time; a second registration fails with
// rf.ErrAlreadyRegistered.
func (r *Registry) Register(b Backend) (*Binding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kind := b.Kind()
	if _, ok := r.bindings[kind]; ok {
		return nil, fmt.Errorf("register %s backend: %w", kind, rf.ErrAlreadyRegistered)
	}

	bind := &Binding{ID: uuid.New(), Kind: kind, Backend: b}
	r.bindings[kind] = bind
	r.log.Info("transport backend registered", "kind", kind.String(), "binding", bind.ID)
	return bind, nil
}

// Unregister removes the backend for kind. Fails with rf.ErrNotRegistered
// if none exists. Cards still initialized through the backend keep their
// recorded levels; callers are expected to exit cards first.
func (r *Registry) Unregister(kind rf.XportKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bind, ok := r.bindings[kind]
	if !ok {
		return fmt.Errorf("unregister %s backend: %w", kind, rf.ErrNotRegistered)
	}
	delete(r.bindings, kind)
	delete(r.probed, kind)
	r.log.Info("transport backend unregistered", "kind", kind.String(), "binding", bind.ID)
	return nil
}

// Lookup returns the backend registered for kind.
func (r *Registry) Lookup(kind rf.XportKind) (Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bind, ok := r.bindings[kind]
	if !ok {
		return nil, fmt.Errorf("lookup %s backend: %w", kind, rf.ErrNotRegistered)
	}
	return bind.Backend, nil
}

// Probe discovers cards reachable through the backend for kind. Probing is
// a pure discovery operation. For kinds that do not support hotplug the
// backend is asked at most once per process; later calls return the cached
// result.
func (r *Registry) Probe(kind rf.XportKind) ([]UID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bind, ok := r.bindings[kind]
	if !ok {
		return nil, fmt.Errorf("probe %s: %w", kind, rf.ErrNotRegistered)
	}

	if !kind.Hotpluggable() {
		if uids, ok := r.probed[kind]; ok {
			return slices.Clone(uids), nil
		}
	}

	uids, err := bind.Backend.Card().Probe()
	if err != nil {
		// A failed probe never tears down existing cards.
		return nil, fmt.Errorf("probe %s: %w", kind, err)
	}
	if len(uids) > rf.MaxCards {
		uids = uids[:rf.MaxCards]
	}
	if !kind.Hotpluggable() {
		r.probed[kind] = slices.Clone(uids)
	}
	r.log.Debug("probe complete", "kind", kind.String(), "cards", len(uids))
	return uids, nil
}

// Hotplug re-discovers cards for kind, excluding every UID in noProbe.
// Excluded UIDs are owned by another process; they are passed to the
// backend so it never touches them, and the result is filtered again here
// in case the backend reports one anyway.
func (r *Registry) Hotplug(kind rf.XportKind, noProbe []UID) ([]UID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bind, ok := r.bindings[kind]
	if !ok {
		return nil, fmt.Errorf("hotplug %s: %w", kind, rf.ErrNotRegistered)
	}

	uids, err := bind.Backend.Card().Hotplug(slices.Clone(noProbe))
	if err != nil {
		return nil, fmt.Errorf("hotplug %s: %w", kind, err)
	}

	excluded := make(map[UID]bool, len(noProbe))
	for _, uid := range noProbe {
		excluded[uid] = true
	}
	kept := uids[:0]
	for _, uid := range uids {
		if excluded[uid] {
			r.log.Warn("backend reported excluded uid from hotplug, dropping",
				"kind", kind.String(), "uid", uid)
			continue
		}
		kept = append(kept, uid)
	}
	if len(kept) > rf.MaxCards {
		kept = kept[:rf.MaxCards]
	}
	return kept, nil
}

// InitCard brings uid on kind's backend to level. The operation is atomic
// from the caller's perspective: either the level is fully reached or the
// card remains at its prior level. Initializing an already-initialized card
// fails with rf.ErrBusy; callers must Exit first.
func (r *Registry) InitCard(kind rf.XportKind, uid UID, level rf.InitLevel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bind, ok := r.bindings[kind]
	if !ok {
		return fmt.Errorf("init card %d: %w", uid, rf.ErrNotRegistered)
	}

	key := cardKey{kind, uid}
	if prior := r.levels[key]; prior != rf.LevelNone {
		return fmt.Errorf("init card %d: already at level %s: %w", uid, prior, rf.ErrBusy)
	}

	if err := bind.Backend.Card().Init(level, uid); err != nil {
		// The backend failed partway; command an exit so the card is not
		// left half-promoted, then report the original failure.
		_ = bind.Backend.Card().Exit(level, uid)
		return fmt.Errorf("init card %d to %s: %w", uid, level, err)
	}

	r.levels[key] = level
	r.log.Info("card initialized", "kind", kind.String(), "uid", uid, "level", level.String())
	return nil
}

// ExitCard tears uid back down. Exiting a card that was never initialized
// fails with rf.ErrNotFound.
func (r *Registry) ExitCard(kind rf.XportKind, uid UID, level rf.InitLevel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bind, ok := r.bindings[kind]
	if !ok {
		return fmt.Errorf("exit card %d: %w", uid, rf.ErrNotRegistered)
	}

	key := cardKey{kind, uid}
	if r.levels[key] == rf.LevelNone {
		return fmt.Errorf("exit card %d: %w", uid, rf.ErrNotFound)
	}

	err := bind.Backend.Card().Exit(level, uid)
	// The card is considered gone even if the backend exit reported a
	// fault; there is nothing further the registry can do with it.
	delete(r.levels, key)
	if err != nil {
		return fmt.Errorf("exit card %d: %w", uid, err)
	}
	r.log.Info("card exited", "kind", kind.String(), "uid", uid)
	return nil
}

// Level reports the recorded init level for uid on kind.
func (r *Registry) Level(kind rf.XportKind, uid UID) rf.InitLevel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.levels[cardKey{kind, uid}]
}
