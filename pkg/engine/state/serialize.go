package state

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Current is the version stamped on every State created by New(). Bumping it
// is a breaking wire-format change and must be paired with a migration in
// the registry below.
var Current = SemVer{Major: 1, Minor: 0, Patch: 0}

// MinimumSupported is the oldest on-disk version Unmarshal will still
// accept, after running it through the migration chain.
var MinimumSupported = SemVer{Major: 1, Minor: 0, Patch: 0}

// wireValue is the JSON-serializable mirror of Value. Lists and maps nest
// recursively through the same shape.
type wireValue struct {
	Kind  string                `json:"kind"`
	Str   string                `json:"str,omitempty"`
	I64   int64                 `json:"i64,omitempty"`
	F64   float64               `json:"f64,omitempty"`
	Bool  bool                  `json:"bool,omitempty"`
	Time  *time.Time            `json:"time,omitempty"`
	Bytes string                `json:"bytes,omitempty"` // base64
	List  []wireValue           `json:"list,omitempty"`
	Map   map[string]wireValue  `json:"map,omitempty"`
}

// envelope is the self-describing, checksummed form a State round-trips
// through for checkpointing and transport.
type envelope struct {
	FormatVersion string               `json:"format_version"`
	StateId       string               `json:"state_id"`
	CreatedAt     time.Time            `json:"created_at"`
	LastModified  time.Time            `json:"last_modified"`
	Order         []string             `json:"order"`
	Entries       map[string]wireValue `json:"entries"`
	Metadata      map[string]wireValue `json:"metadata"`
	History       []ExecutionStep      `json:"history"`
	Checksum      string               `json:"checksum"`
}

func toWire(v Value) wireValue {
	w := wireValue{Kind: v.Kind.String()}
	switch v.Kind {
	case KindString:
		w.Str = v.str
	case KindInt64:
		w.I64 = v.i64
	case KindFloat64:
		w.F64 = v.f64
	case KindBool:
		w.Bool = v.b
	case KindTime:
		t := v.t
		w.Time = &t
	case KindBytes:
		w.Bytes = base64.StdEncoding.EncodeToString(v.bytes)
	case KindList:
		w.List = make([]wireValue, len(v.list))
		for i, e := range v.list {
			w.List[i] = toWire(e)
		}
	case KindMap:
		w.Map = make(map[string]wireValue, len(v.m))
		for k, e := range v.m {
			w.Map[k] = toWire(e)
		}
	}
	return w
}

func fromWire(w wireValue) (Value, error) {
	switch w.Kind {
	case "string":
		return String(w.Str), nil
	case "int64":
		return Int64(w.I64), nil
	case "float64":
		return Float64(w.F64), nil
	case "bool":
		return Bool(w.Bool), nil
	case "time":
		if w.Time == nil {
			return Value{}, fmt.Errorf("state: wire time value missing timestamp")
		}
		return Time(*w.Time), nil
	case "bytes":
		b, err := base64.StdEncoding.DecodeString(w.Bytes)
		if err != nil {
			return Value{}, fmt.Errorf("state: decode bytes value: %w", err)
		}
		return Bytes(b), nil
	case "list":
		items := make([]Value, len(w.List))
		for i, e := range w.List {
			v, err := fromWire(e)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return List(items...), nil
	case "map":
		m := make(map[string]Value, len(w.Map))
		for k, e := range w.Map {
			v, err := fromWire(e)
			if err != nil {
				return Value{}, err
			}
			m[k] = v
		}
		return Map(m), nil
	default:
		return Value{}, fmt.Errorf("state: unknown wire kind %q", w.Kind)
	}
}

// checksum hashes the serialized entries+metadata with xxhash so tampering
// or truncation surfaces before the rest of the pipeline sees stale state.
func checksum(order []string, entries, metadata map[string]wireValue) (string, error) {
	payload, err := json.Marshal(struct {
		Order    []string             `json:"order"`
		Entries  map[string]wireValue `json:"entries"`
		Metadata map[string]wireValue `json:"metadata"`
	}{Order: order, Entries: entries, Metadata: metadata})
	if err != nil {
		return "", fmt.Errorf("state: checksum marshal: %w", err)
	}
	sum := xxhash.Sum64(payload)
	return fmt.Sprintf("xxh64:%x", sum), nil
}

// Checksum returns the collision-resistant hash over the canonicalized
// entries and metadata, the same value embedded in the Marshal envelope.
func (s *State) Checksum() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make(map[string]wireValue, len(s.entries))
	for k, v := range s.entries {
		entries[k] = toWire(v)
	}
	metadata := make(map[string]wireValue, len(s.metadata))
	for k, v := range s.metadata {
		metadata[k] = toWire(v)
	}
	return checksum(s.order, entries, metadata)
}

// Marshal serializes s into its self-describing envelope form.
func (s *State) Marshal() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make(map[string]wireValue, len(s.entries))
	for k, v := range s.entries {
		entries[k] = toWire(v)
	}
	metadata := make(map[string]wireValue, len(s.metadata))
	for k, v := range s.metadata {
		metadata[k] = toWire(v)
	}

	sum, err := checksum(s.order, entries, metadata)
	if err != nil {
		return nil, err
	}

	env := envelope{
		FormatVersion: s.version.String(),
		StateId:       s.id,
		CreatedAt:     s.createdAt,
		LastModified:  s.lastModified,
		Order:         s.order,
		Entries:       entries,
		Metadata:      metadata,
		History:       s.history,
		Checksum:      sum,
	}
	return json.Marshal(env)
}

// Unmarshal decodes data written by Marshal, verifying the checksum and
// migrating forward if data was written by an older but still-supported
// format version.
func Unmarshal(data []byte) (*State, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("state: unmarshal envelope: %w", err)
	}

	wantSum, err := checksum(env.Order, env.Entries, env.Metadata)
	if err != nil {
		return nil, err
	}
	if env.Checksum != wantSum {
		return nil, fmt.Errorf("state: checksum mismatch: got %s, want %s", env.Checksum, wantSum)
	}

	ver, err := parseSemVer(env.FormatVersion)
	if err != nil {
		return nil, err
	}
	if ver.Less(MinimumSupported) {
		return nil, fmt.Errorf("state: format version %s is older than minimum supported %s", ver, MinimumSupported)
	}
	env, ver, err = migrate(env, ver)
	if err != nil {
		return nil, err
	}

	entries := make(map[string]Value, len(env.Entries))
	for k, w := range env.Entries {
		v, err := fromWire(w)
		if err != nil {
			return nil, fmt.Errorf("state: entry %q: %w", k, err)
		}
		entries[k] = v
	}
	metadata := make(map[string]Value, len(env.Metadata))
	for k, w := range env.Metadata {
		v, err := fromWire(w)
		if err != nil {
			return nil, fmt.Errorf("state: metadata %q: %w", k, err)
		}
		metadata[k] = v
	}

	return &State{
		id:           env.StateId,
		version:      ver,
		createdAt:    env.CreatedAt,
		lastModified: env.LastModified,
		entries:      entries,
		order:        env.Order,
		metadata:     metadata,
		history:      env.History,
	}, nil
}

func parseSemVer(s string) (SemVer, error) {
	var v SemVer
	if _, err := fmt.Sscanf(s, "%d.%d.%d", &v.Major, &v.Minor, &v.Patch); err != nil {
		return SemVer{}, fmt.Errorf("state: parse version %q: %w", s, err)
	}
	return v, nil
}

// migration upgrades an envelope from one format version to the next. The
// registry is walked in order until the envelope reaches Current.
type migration struct {
	from, to SemVer
	apply    func(envelope) envelope
}

// migrations holds the upgrade chain. Empty today: Current and
// MinimumSupported are the same version, so no entries are needed yet, but
// the shape is here so bumping Current doesn't require a serialize.go
// rewrite, only a new entry.
var migrations []migration

func migrate(env envelope, from SemVer) (envelope, SemVer, error) {
	ver := from
	for _, m := range migrations {
		if ver != m.from {
			continue
		}
		env = m.apply(env)
		ver = m.to
	}
	if ver != Current {
		return env, ver, fmt.Errorf("state: no migration path from %s to %s", ver, Current)
	}
	return env, ver, nil
}
