// Package lww implements the per-field last-writer-wins consistency
// envelope: a record of arbitrary type T is wrapped with per-field
// version counters so that two independently edited copies can be
// merged deterministically.
package lww

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/cockroachdb/errors"
)

// HistoryItem records the value a field held immediately before an edit,
// and who made that edit.
type HistoryItem struct {
	Prev json.RawMessage `json:"prev"`
	Peer string          `json:"peer"`
}

// FieldMeta is the per-field versioning state.
type FieldMeta struct {
	Count   uint32        `json:"count"`
	Peer    string        `json:"peer"`
	History []HistoryItem `json:"history"`
}

func (m *FieldMeta) clone() *FieldMeta {
	if m == nil {
		return nil
	}
	out := &FieldMeta{Count: m.Count, Peer: m.Peer}
	out.History = make([]HistoryItem, len(m.History))
	copy(out.History, m.History)
	return out
}

// Envelope wraps a record of type T with per-field consistency metadata
// for every non-immutable field.
type Envelope[T any] struct {
	Value       T                     `json:"value"`
	Consistency map[string]*FieldMeta `json:"consistency"`
	Immutable   []string              `json:"immutable"`
}

func (e *Envelope[T]) immutableSet() map[string]bool {
	out := make(map[string]bool, len(e.Immutable))
	for _, k := range e.Immutable {
		out[k] = true
	}
	return out
}

// Clone returns a deep copy of the envelope.
func (e *Envelope[T]) Clone() *Envelope[T] {
	if e == nil {
		return nil
	}
	out := &Envelope[T]{
		Value:     e.Value,
		Immutable: append([]string(nil), e.Immutable...),
	}
	out.Consistency = make(map[string]*FieldMeta, len(e.Consistency))
	for k, v := range e.Consistency {
		out.Consistency[k] = v.clone()
	}
	return out
}

// Init creates a fresh envelope for value, owned by peer, with count=0 and
// empty history on every key not listed in immutable.
func Init[T any](value T, peer string, immutable []string) (*Envelope[T], error) {
	keys, err := fieldKeys(value)
	if err != nil {
		return nil, err
	}
	imm := make(map[string]bool, len(immutable))
	for _, k := range immutable {
		imm[k] = true
	}
	env := &Envelope[T]{
		Value:       value,
		Immutable:   append([]string(nil), immutable...),
		Consistency: make(map[string]*FieldMeta),
	}
	for _, k := range keys {
		if imm[k] {
			continue
		}
		env.Consistency[k] = &FieldMeta{Count: 0, Peer: peer, History: []HistoryItem{}}
	}
	return env, nil
}

// Update applies an edit to key on env, performed by peer. If the new value
// deep-equals the current one, env is returned unchanged (by value: a clone
// with nothing incremented). Otherwise the returned envelope has count
// incremented, the prior value pushed to history, and the new value and
// peer recorded.
func Update[T any](env *Envelope[T], key string, value any, peer string) (*Envelope[T], error) {
	if env == nil {
		return nil, errors.New("lww: cannot update a nil envelope")
	}
	out := env.Clone()

	cur, err := getField(out.Value, key)
	if err != nil {
		return nil, err
	}
	next, err := json.Marshal(value)
	if err != nil {
		return nil, errors.Wrapf(err, "lww: marshal new value for %q", key)
	}
	if jsonEqual(cur, next) {
		return out, nil
	}

	meta, ok := out.Consistency[key]
	if !ok {
		return nil, errors.Newf("lww: %q is immutable or unknown", key)
	}
	meta.History = append(meta.History, HistoryItem{Prev: cur, Peer: meta.Peer})
	meta.Count++
	meta.Peer = peer

	if err := setField(&out.Value, key, next); err != nil {
		return nil, err
	}
	return out, nil
}

// MergeResult is the output of MergeLWW: the resolved envelope plus which
// keys changed (remote won) and which were rejected (local won despite the
// remote having competing history).
type MergeResult[T any] struct {
	Resolved *Envelope[T]
	Changed  []string
	Rejected []string
}

// MergeLWW merges local and remote, field by field.
func MergeLWW[T any](local, remote *Envelope[T]) (*MergeResult[T], error) {
	if local == nil && remote == nil {
		return &MergeResult[T]{}, nil
	}
	if local != nil && remote == nil {
		return &MergeResult[T]{Resolved: local.Clone()}, nil
	}
	if local == nil && remote != nil {
		resolved := remote.Clone()
		return &MergeResult[T]{Resolved: resolved, Changed: sortedKeys(resolved.Consistency)}, nil
	}

	if err := checkImmutableAgreement(local, remote); err != nil {
		return nil, err
	}

	resolved := local.Clone()
	var changed, rejected []string

	keys := unionKeys(local.Consistency, remote.Consistency)
	for _, k := range keys {
		lm := local.Consistency[k]
		rm := remote.Consistency[k]
		if lm == nil || rm == nil {
			return nil, errors.Newf("lww: key %q missing consistency metadata on one side", k)
		}

		lv, err := getField(local.Value, k)
		if err != nil {
			return nil, err
		}
		rv, err := getField(remote.Value, k)
		if err != nil {
			return nil, err
		}

		var winnerIsRemote bool
		switch {
		case lm.Count > rm.Count:
			winnerIsRemote = false
			if remoteHasUnseenHistory(lm, rm, rv) {
				rejected = append(rejected, k)
			}
		case lm.Count < rm.Count:
			winnerIsRemote = true
			changed = append(changed, k)
		default: // counts equal
			if jsonEqual(lv, rv) {
				winnerIsRemote = false
			} else if rm.Peer > lm.Peer {
				winnerIsRemote = true
				changed = append(changed, k)
			} else {
				winnerIsRemote = false
				rejected = append(rejected, k)
			}
		}

		if winnerIsRemote {
			resolved.Consistency[k] = rm.clone()
			if err := setField(&resolved.Value, k, rv); err != nil {
				return nil, err
			}
		}
		// else: resolved already carries local's value/meta from Clone().
	}

	if err := copyImmutable(local, remote, resolved); err != nil {
		return nil, err
	}

	sort.Strings(changed)
	sort.Strings(rejected)
	return &MergeResult[T]{Resolved: resolved, Changed: changed, Rejected: rejected}, nil
}

// remoteHasUnseenHistory reports whether remote carries a write local has
// not seen for the same field: either remote's latest value/peer is not what
// local's history records at remote's count, or remote's history contains an
// entry not present in local's history. Used to decide whether a
// count-losing remote edit should be flagged as rejected (so it can be
// re-pushed rather than silently forgotten).
func remoteHasUnseenHistory(local, remote *FieldMeta, remoteValue json.RawMessage) bool {
	if remote.Count > 0 {
		i := int(remote.Count)
		if i >= len(local.History) {
			return true
		}
		if local.History[i].Peer != remote.Peer || !jsonEqual(local.History[i].Prev, remoteValue) {
			return true
		}
	}
	if len(remote.History) == 0 {
		return false
	}
	if len(remote.History) > len(local.History) {
		return true
	}
	for i, h := range remote.History {
		if i >= len(local.History) {
			return true
		}
		if h.Peer != local.History[i].Peer || !jsonEqual(h.Prev, local.History[i].Prev) {
			return true
		}
	}
	return false
}

func checkImmutableAgreement[T any](a, b *Envelope[T]) error {
	for _, k := range a.Immutable {
		av, err := getField(a.Value, k)
		if err != nil {
			return err
		}
		bv, err := getField(b.Value, k)
		if err != nil {
			return err
		}
		if !jsonEqual(av, bv) {
			return errors.Newf("lww: immutable key %q diverges between envelopes (%s != %s)", k, av, bv)
		}
	}
	return nil
}

func copyImmutable[T any](local, remote, resolved *Envelope[T]) error {
	for _, k := range resolved.Immutable {
		av, err := getField(local.Value, k)
		if err != nil {
			return err
		}
		if av == nil || string(av) == "null" {
			bv, err := getField(remote.Value, k)
			if err != nil {
				return err
			}
			if err := setField(&resolved.Value, k, bv); err != nil {
				return err
			}
		}
	}
	return nil
}

func unionKeys(a, b map[string]*FieldMeta) []string {
	set := make(map[string]bool, len(a)+len(b))
	for k := range a {
		set[k] = true
	}
	for k := range b {
		set[k] = true
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string]*FieldMeta) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func jsonEqual(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var av, bv any
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(b, &bv) != nil {
		return false
	}
	an, aerr := json.Marshal(av)
	bn, berr := json.Marshal(bv)
	return aerr == nil && berr == nil && bytes.Equal(an, bn)
}

// fieldKeys returns the JSON keys of every exported field of T, in
// declaration order.
func fieldKeys(v any) ([]string, error) {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, errors.Newf("lww: %s is not a struct", t)
	}
	var keys []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" { // unexported
			continue
		}
		name, skip := jsonName(f)
		if skip {
			continue
		}
		keys = append(keys, name)
	}
	return keys, nil
}

func jsonName(f reflect.StructField) (name string, skip bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", true
	}
	if tag == "" {
		return f.Name, false
	}
	for i := 0; i < len(tag); i++ {
		if tag[i] == ',' {
			if i == 0 {
				return f.Name, false
			}
			return tag[:i], false
		}
	}
	return tag, false
}

func fieldIndex(t reflect.Type, key string) (int, error) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue
		}
		name, skip := jsonName(f)
		if skip {
			continue
		}
		if name == key {
			return i, nil
		}
	}
	return -1, errors.Newf("lww: no field for key %q on %s", key, t)
}

func getField(v any, key string) (json.RawMessage, error) {
	rv := reflect.ValueOf(v)
	idx, err := fieldIndex(rv.Type(), key)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(rv.Field(idx).Interface())
	if err != nil {
		return nil, errors.Wrapf(err, "lww: marshal field %q", key)
	}
	return raw, nil
}

func setField(v any, key string, raw json.RawMessage) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr {
		return fmt.Errorf("lww: setField requires a pointer")
	}
	elem := rv.Elem()
	idx, err := fieldIndex(elem.Type(), key)
	if err != nil {
		return err
	}
	fv := elem.Field(idx)
	target := reflect.New(fv.Type())
	if err := json.Unmarshal(raw, target.Interface()); err != nil {
		return errors.Wrapf(err, "lww: unmarshal field %q", key)
	}
	fv.Set(target.Elem())
	return nil
}
