package produce

import (
	"fmt"
	"reflect"
)

// Produce runs recipe against a mutable-looking draft of base and returns the
// resulting snapshot. Nothing observable changed (or the recipe failed) means
// base itself comes back, same reference. Otherwise the result is a fresh
// value that copies only the containers along written paths and shares every
// untouched subtree with base. base is never mutated.
//
// State trees are built from map[string]any, []any and opaque leaf values.
// Map paths use string keys, slice paths use int indices.
func Produce(base any, recipe func(d *Draft) error) (any, error) {
	d := &Draft{base: base}
	if err := recipe(d); err != nil {
		return base, err
	}
	return d.finalize(), nil
}

// Draft is a copy-on-write view over one node of the state tree. Reads fall
// through to the base value until the node is written; the first write copies
// the container and marks the path back to the root as modified.
type Draft struct {
	base     any
	copied   any
	parent   *Draft
	key      any
	children map[any]*Draft
	modified bool
}

// Snapshot returns the pre-mutation value this draft was produced from, for
// recipes that want read access to the old state while editing the new one.
func (d *Draft) Snapshot() any {
	return d.base
}

// Get reads the value at path, honoring any writes already made through the
// draft. An empty path reads the node itself.
func (d *Draft) Get(path ...any) any {
	n := d
	for _, key := range path {
		n = n.child(key)
	}
	return n.current()
}

// Set writes v at path, copying containers along the way. Writing a value
// reference-equal to the current one leaves the draft clean.
func (d *Draft) Set(v any, path ...any) {
	if len(path) == 0 {
		panic("produce: Set requires a non-empty path")
	}
	parent := d.descend(path[:len(path)-1])
	parent.setChild(path[len(path)-1], v)
}

// Delete removes the map entry at path. Deleting an absent key is a no-op.
func (d *Draft) Delete(path ...any) {
	if len(path) == 0 {
		panic("produce: Delete requires a non-empty path")
	}
	parent := d.descend(path[:len(path)-1])
	parent.deleteChild(path[len(path)-1])
}

// Append adds v to the end of the slice at path.
func (d *Draft) Append(v any, path ...any) {
	n := d.descend(path)
	if _, ok := n.current().([]any); !ok {
		panic(fmt.Sprintf("produce: Append at %v on non-slice %T", path, n.current()))
	}
	n.ensureCopied()
	n.copied = append(n.copied.([]any), v)
	n.touch()
}

// Len reports the length of the map or slice at path.
func (d *Draft) Len(path ...any) int {
	switch v := d.Get(path...).(type) {
	case map[string]any:
		return len(v)
	case []any:
		return len(v)
	default:
		panic(fmt.Sprintf("produce: Len at %v on non-container %T", path, v))
	}
}

func (d *Draft) descend(path []any) *Draft {
	n := d
	for _, key := range path {
		n = n.child(key)
	}
	return n
}

func (d *Draft) child(key any) *Draft {
	if c, ok := d.children[key]; ok {
		return c
	}
	c := &Draft{base: d.read(key), parent: d, key: key}
	if d.children == nil {
		d.children = map[any]*Draft{}
	}
	d.children[key] = c
	return c
}

// current is this node's latest value: the working copy if one exists, else
// the base.
func (d *Draft) current() any {
	if d.copied != nil {
		return d.copied
	}
	return d.base
}

// read looks key up in this node's current container.
func (d *Draft) read(key any) any {
	switch v := d.current().(type) {
	case map[string]any:
		k, ok := key.(string)
		if !ok {
			panic(fmt.Sprintf("produce: map path key %v is %T, want string", key, key))
		}
		return v[k]
	case []any:
		i, ok := key.(int)
		if !ok {
			panic(fmt.Sprintf("produce: slice path key %v is %T, want int", key, key))
		}
		return v[i]
	default:
		panic(fmt.Sprintf("produce: cannot descend into %T with key %v", v, key))
	}
}

func (d *Draft) setChild(key, v any) {
	if SameRef(d.read(key), v) {
		return
	}
	d.ensureCopied()
	d.write(key, v)
	delete(d.children, key)
	d.touch()
}

func (d *Draft) deleteChild(key any) {
	m, ok := d.current().(map[string]any)
	if !ok {
		panic(fmt.Sprintf("produce: Delete on non-map %T", d.current()))
	}
	k, ok := key.(string)
	if !ok {
		panic(fmt.Sprintf("produce: Delete key %v is %T, want string", key, key))
	}
	if _, present := m[k]; !present {
		return
	}
	d.ensureCopied()
	delete(d.copied.(map[string]any), k)
	delete(d.children, key)
	d.touch()
}

func (d *Draft) write(key, v any) {
	switch c := d.copied.(type) {
	case map[string]any:
		c[key.(string)] = v
	case []any:
		c[key.(int)] = v
	default:
		panic(fmt.Sprintf("produce: cannot write into %T", c))
	}
}

// ensureCopied makes this node's working copy, one level deep.
func (d *Draft) ensureCopied() {
	if d.copied != nil {
		return
	}
	switch v := d.base.(type) {
	case map[string]any:
		c := make(map[string]any, len(v))
		for k, e := range v {
			c[k] = e
		}
		d.copied = c
	case []any:
		c := make([]any, len(v))
		copy(c, v)
		d.copied = c
	default:
		panic(fmt.Sprintf("produce: cannot draft leaf value %T, set it through its parent", v))
	}
}

// touch marks the path from this node to the root as modified.
func (d *Draft) touch() {
	for n := d; n != nil && !n.modified; n = n.parent {
		n.modified = true
	}
}

// finalize folds modified children into their parents' working copies and
// returns the new snapshot, or the untouched base when nothing changed.
func (d *Draft) finalize() any {
	if !d.modified {
		return d.base
	}
	for key, c := range d.children {
		if !c.modified {
			continue
		}
		if d.copied == nil {
			d.ensureCopied()
		}
		d.write(key, c.finalize())
	}
	if d.copied != nil {
		return d.copied
	}
	return d.base
}

// SameRef reports reference equality: maps, pointers, functions and channels
// compare by identity, slices by full header (data pointer, length and
// capacity, since reslices of one backing array are distinct views),
// comparable scalars by ==, and incomparable non-reference values are never
// equal.
func SameRef(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.Kind() != rb.Kind() {
		return false
	}
	switch ra.Kind() {
	case reflect.Slice:
		return ra.Pointer() == rb.Pointer() && ra.Len() == rb.Len() && ra.Cap() == rb.Cap()
	case reflect.Map, reflect.Ptr, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return ra.Pointer() == rb.Pointer()
	}
	if !ra.Type().Comparable() || ra.Type() != rb.Type() {
		return false
	}
	return a == b
}
