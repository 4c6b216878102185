package channel

import (
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// record is one slot of the fixed channel table.
//
// present, value and flags are read without locking on the tick path. desc is
// only written while holding Registry.mu for writing.
type record struct {
	present atomic.Bool
	value   atomic.Int32
	flags   atomic.Uint32
	desc    Descriptor
}

// Registry is the fixed-capacity channel table.
//
// Values and flags are atomics: each channel has exactly one designated
// writer, so the value path takes no lock. Shape changes (register,
// unregister, batch apply) are serialised by mu, which also guards the name
// index.
//
// All public methods are thread-safe.
type Registry struct {
	records [MaxID]record

	mu     sync.RWMutex
	byName map[string]ID
	count  int

	logger Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]ID),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Register adds a channel.
//
// Returns ErrAlreadyExists if the id is in use, ErrInvalidRange if the class
// does not match the id range, and ErrInvalidName/ErrNameTaken for naming
// problems.
func (r *Registry) Register(d Descriptor) error {
	if err := ValidateDescriptor(d); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec := &r.records[d.ID]
	if rec.present.Load() {
		return fmt.Errorf("%w: id %d", ErrAlreadyExists, d.ID)
	}
	if owner, taken := r.byName[d.Name]; taken {
		return fmt.Errorf("%w: %q used by channel %d", ErrNameTaken, d.Name, owner)
	}

	r.install(d, 0)
	r.logger.Debug("channel registered", "id", d.ID, "class", d.Class, "name", d.Name)
	return nil
}

// install writes a descriptor into its slot. Caller holds mu for writing.
func (r *Registry) install(d Descriptor, value int32) {
	rec := &r.records[d.ID]
	if !rec.present.Load() {
		r.count++
	}
	rec.desc = d
	rec.value.Store(value)
	rec.flags.Store(uint32(d.Flags))
	rec.present.Store(true)
	r.byName[d.Name] = d.ID
}

// Unregister removes a channel. Returns ErrNotFound if it is not registered.
func (r *Registry) Unregister(id ID) error {
	if int(id) >= MaxID {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.records[id].present.Load() {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	r.remove(id)
	r.logger.Debug("channel unregistered", "id", id)
	return nil
}

// remove clears a slot. Caller holds mu for writing.
func (r *Registry) remove(id ID) {
	rec := &r.records[id]
	rec.present.Store(false)
	delete(r.byName, rec.desc.Name)
	rec.desc = Descriptor{}
	rec.value.Store(0)
	rec.flags.Store(0)
	r.count--
}

// Get returns the value of a channel, or 0 when the id is unknown or the
// channel is disabled. It never blocks.
func (r *Registry) Get(id ID) int32 {
	if int(id) >= MaxID {
		return 0
	}
	rec := &r.records[id]
	if !rec.present.Load() {
		return 0
	}
	if !Flags(rec.flags.Load()).Has(FlagEnabled) {
		return 0
	}
	return rec.value.Load()
}

// Set writes a channel value through the public contract.
//
// Returns ErrNotFound for unknown ids and ErrReadOnly for readonly channels.
// Writing a disabled channel succeeds; the value becomes observable when the
// channel is re-enabled.
func (r *Registry) Set(id ID, v int32) error {
	if int(id) >= MaxID {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	rec := &r.records[id]
	if !rec.present.Load() {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if Flags(rec.flags.Load()).Has(FlagReadOnly) {
		return fmt.Errorf("%w: id %d", ErrReadOnly, id)
	}
	rec.value.Store(v)
	return nil
}

// Store is the owner write used by the core for system and telemetry
// channels. It bypasses the readonly flag and ignores unknown ids.
func (r *Registry) Store(id ID, v int32) {
	if int(id) >= MaxID {
		return
	}
	rec := &r.records[id]
	if rec.present.Load() {
		rec.value.Store(v)
	}
}

// Raw returns the last written value regardless of the enabled flag.
func (r *Registry) Raw(id ID) (int32, bool) {
	if int(id) >= MaxID {
		return 0, false
	}
	rec := &r.records[id]
	if !rec.present.Load() {
		return 0, false
	}
	return rec.value.Load(), true
}

// Flags returns the current flag set of a channel.
func (r *Registry) Flags(id ID) (Flags, bool) {
	if int(id) >= MaxID {
		return 0, false
	}
	rec := &r.records[id]
	if !rec.present.Load() {
		return 0, false
	}
	return Flags(rec.flags.Load()), true
}

// Exists reports whether id is registered.
func (r *Registry) Exists(id ID) bool {
	return int(id) < MaxID && r.records[id].present.Load()
}

// SetEnabled sets or clears the enabled flag. Readonly channels cannot be
// disabled from outside; ErrReadOnly is returned for them.
func (r *Registry) SetEnabled(id ID, enabled bool) error {
	return r.setFlag(id, FlagEnabled, enabled, true)
}

// SetFault sets or clears the fault flag. The value is left untouched.
func (r *Registry) SetFault(id ID, fault bool) error {
	return r.setFlag(id, FlagFault, fault, false)
}

// SetOverride sets or clears the override flag. While set, the owning pass
// skips its write so an external writer can force the value. Readonly
// channels return ErrReadOnly.
func (r *Registry) SetOverride(id ID, override bool) error {
	return r.setFlag(id, FlagOverride, override, true)
}

func (r *Registry) setFlag(id ID, bit Flags, on, external bool) error {
	if int(id) >= MaxID {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	rec := &r.records[id]
	if !rec.present.Load() {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if external && Flags(rec.flags.Load()).Has(FlagReadOnly) {
		return fmt.Errorf("%w: id %d", ErrReadOnly, id)
	}
	for {
		old := rec.flags.Load()
		next := old &^ uint32(bit)
		if on {
			next = old | uint32(bit)
		}
		if rec.flags.CompareAndSwap(old, next) {
			return nil
		}
	}
}

// FindByName returns the id of the channel with exactly this name.
func (r *Registry) FindByName(name string) (ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := range r.records {
		rec := &r.records[i]
		if rec.present.Load() && rec.desc.Name == name {
			return rec.desc.ID, true
		}
	}
	return 0, false
}

// Describe returns a snapshot of one channel.
func (r *Registry) Describe(id ID) (Channel, error) {
	if int(id) >= MaxID {
		return Channel{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	rec := &r.records[id]
	if !rec.present.Load() {
		return Channel{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return rec.snapshot(), nil
}

func (rec *record) snapshot() Channel {
	d := rec.desc
	d.Flags = Flags(rec.flags.Load())
	return Channel{
		Descriptor: d,
		Direction:  d.Class.Direction(),
		Value:      rec.value.Load(),
	}
}

// List returns a lazy sequence over a snapshot of the registry taken at call
// time. Mutations after List returns are not observed. The sequence can be
// ranged over more than once. A nil predicate matches every channel.
func (r *Registry) List(pred Predicate) iter.Seq[Channel] {
	r.mu.RLock()
	snap := make([]Channel, 0, r.count)
	for i := range r.records {
		rec := &r.records[i]
		if rec.present.Load() {
			snap = append(snap, rec.snapshot())
		}
	}
	r.mu.RUnlock()

	return func(yield func(Channel) bool) {
		for _, c := range snap {
			if pred != nil && !pred(c) {
				continue
			}
			if !yield(c) {
				return
			}
		}
	}
}

// IDs returns the registered ids matching pred in ascending order.
func (r *Registry) IDs(pred Predicate) []ID {
	var ids []ID
	for c := range r.List(pred) {
		ids = append(ids, c.ID)
	}
	return ids
}

// Count returns the number of registered channels.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Stats summarises registry contents.
type Stats struct {
	Total    int           `json:"total"`
	ByClass  map[Class]int `json:"by_class"`
	Disabled int           `json:"disabled"`
	Faulted  int           `json:"faulted"`
	Overrode int           `json:"overridden"`
}

// Stats returns counts by class and by flag.
func (r *Registry) Stats() Stats {
	s := Stats{ByClass: make(map[Class]int)}
	for c := range r.List(nil) {
		s.Total++
		s.ByClass[c.Class]++
		if !c.Flags.Has(FlagEnabled) {
			s.Disabled++
		}
		if c.Flags.Has(FlagFault) {
			s.Faulted++
		}
		if c.Flags.Has(FlagOverride) {
			s.Overrode++
		}
	}
	return s
}

// Batch is a set of shape changes applied atomically by ApplyBatch.
//
// Removals are applied before upserts. An upsert of an existing id with the
// same class keeps the current value; a class change resets it to 0.
type Batch struct {
	Upsert []Descriptor
	Remove []ID
}

// Empty reports whether the batch changes nothing.
func (b Batch) Empty() bool { return len(b.Upsert) == 0 && len(b.Remove) == 0 }

// ValidateBatch checks a batch against the current registry without
// changing it. All problems are reported together.
func (r *Registry) ValidateBatch(b Batch) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.validateBatchLocked(b)
}

func (r *Registry) validateBatchLocked(b Batch) error {
	var errs []error

	// Final name ownership, starting from the current index.
	names := make(map[string]ID, len(r.byName))
	for n, id := range r.byName {
		names[n] = id
	}
	removed := make(map[ID]bool, len(b.Remove))
	for _, id := range b.Remove {
		if int(id) >= MaxID || !r.records[id].present.Load() {
			errs = append(errs, fmt.Errorf("remove %d: %w", id, ErrNotFound))
			continue
		}
		removed[id] = true
		delete(names, r.records[id].desc.Name)
	}

	seen := make(map[ID]bool, len(b.Upsert))
	for _, d := range b.Upsert {
		if err := ValidateDescriptor(d); err != nil {
			errs = append(errs, fmt.Errorf("upsert %d: %w", d.ID, err))
			continue
		}
		if seen[d.ID] {
			errs = append(errs, fmt.Errorf("upsert %d: %w: duplicate in batch", d.ID, ErrAlreadyExists))
			continue
		}
		seen[d.ID] = true
		if r.records[d.ID].present.Load() && !removed[d.ID] {
			delete(names, r.records[d.ID].desc.Name)
		}
	}
	for _, d := range b.Upsert {
		if !seen[d.ID] {
			continue
		}
		if owner, taken := names[d.Name]; taken && owner != d.ID {
			errs = append(errs, fmt.Errorf("upsert %d: %w: %q used by channel %d", d.ID, ErrNameTaken, d.Name, owner))
			continue
		}
		names[d.Name] = d.ID
	}

	return errors.Join(errs...)
}

// ApplyBatch validates and applies a batch. On error nothing is changed.
func (r *Registry) ApplyBatch(b Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.validateBatchLocked(b); err != nil {
		return err
	}

	for _, id := range b.Remove {
		r.remove(id)
	}
	// Clear every replaced name first so swapping names within one batch works.
	for _, d := range b.Upsert {
		rec := &r.records[d.ID]
		if rec.present.Load() {
			delete(r.byName, rec.desc.Name)
		}
	}
	for _, d := range b.Upsert {
		rec := &r.records[d.ID]
		var keep int32
		if rec.present.Load() && rec.desc.Class == d.Class {
			keep = rec.value.Load()
		}
		r.install(d, keep)
	}

	r.logger.Info("channel batch applied", "upserted", len(b.Upsert), "removed", len(b.Remove), "total", r.count)
	return nil
}

// Verify checks the structural invariants of the table: every registered
// channel sits in a range matching its class, the name index agrees with the
// table, and the count is consistent. Any violation wraps ErrCorrupted.
func (r *Registry) Verify() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for i := range r.records {
		rec := &r.records[i]
		if !rec.present.Load() {
			continue
		}
		n++
		if rec.desc.ID != ID(i) {
			return fmt.Errorf("%w: slot %d holds id %d", ErrCorrupted, i, rec.desc.ID)
		}
		if !ClassAllowed(rec.desc.ID, rec.desc.Class) {
			return fmt.Errorf("%w: class %s at id %d", ErrCorrupted, rec.desc.Class, i)
		}
		if owner, ok := r.byName[rec.desc.Name]; !ok || owner != rec.desc.ID {
			return fmt.Errorf("%w: name index missing %q for id %d", ErrCorrupted, rec.desc.Name, i)
		}
	}
	if n != r.count {
		return fmt.Errorf("%w: count %d, table holds %d", ErrCorrupted, r.count, n)
	}
	if len(r.byName) != n {
		return fmt.Errorf("%w: name index holds %d entries for %d channels", ErrCorrupted, len(r.byName), n)
	}
	return nil
}
