package chatlog

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// OpKind identifies a JSONL operation. Values match the "kind" field
// written by the editor.
type OpKind int

const (
	OpSnapshot OpKind = 0 // merge v's top-level keys into the document
	OpSet      OpKind = 1 // assign v at k
	OpAppend   OpKind = 2 // splice/concat v into the array at k, else set
	OpDelete   OpKind = 3 // remove the key or element at k
)

func (k OpKind) String() string {
	switch k {
	case OpSnapshot:
		return "snapshot"
	case OpSet:
		return "set"
	case OpAppend:
		return "append"
	case OpDelete:
		return "delete"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Segment is one step of a Path: an object key, which may also be usable
// as an array index when it is a non-negative integer.
type Segment struct {
	key     string
	index   int
	isIndex bool
}

// Key returns the segment as an object key.
func (s Segment) Key() string { return s.key }

// Index reports the segment as an array index.
func (s Segment) Index() (int, bool) { return s.index, s.isIndex }

func (s Segment) String() string { return s.key }

// Path addresses a value inside a Document.
type Path []Segment

func (p Path) String() string {
	parts := make([]string, len(p))
	for i, s := range p {
		parts[i] = s.key
	}
	return strings.Join(parts, ".")
}

// NewPath builds a Path from strings and integers.
func NewPath(parts ...any) (Path, error) {
	path := make(Path, 0, len(parts))
	for _, p := range parts {
		seg, err := newSegment(p)
		if err != nil {
			return nil, err
		}
		path = append(path, seg)
	}
	return path, nil
}

// MustPath is NewPath that panics on invalid parts.
func MustPath(parts ...any) Path {
	p, err := NewPath(parts...)
	if err != nil {
		panic(err)
	}
	return p
}

func newSegment(v any) (Segment, error) {
	switch t := v.(type) {
	case string:
		seg := Segment{key: t}
		if n, err := strconv.Atoi(t); err == nil && n >= 0 && !strings.HasPrefix(t, "+") {
			seg.index, seg.isIndex = n, true
		}
		return seg, nil
	case int:
		if t < 0 {
			return Segment{}, fmt.Errorf("%w: negative path index %d", ErrMalformedOperation, t)
		}
		return Segment{key: strconv.Itoa(t), index: t, isIndex: true}, nil
	case float64:
		if t < 0 || t != math.Trunc(t) || t > math.MaxInt32 {
			return Segment{}, fmt.Errorf("%w: invalid path index %v", ErrMalformedOperation, t)
		}
		n := int(t)
		return Segment{key: strconv.Itoa(n), index: n, isIndex: true}, nil
	}
	return Segment{}, fmt.Errorf("%w: path segment of type %T", ErrMalformedOperation, v)
}

// Operation is one decoded JSONL record.
type Operation struct {
	Kind  OpKind
	Path  Path
	Value any
	Index *int // insert position for OpAppend
}

type rawOperation struct {
	Kind *int  `json:"kind"`
	K    []any `json:"k"`
	V    any   `json:"v"`
	I    *int  `json:"i"`
}

// ParseOperation decodes a single JSONL line.
func ParseOperation(line []byte) (Operation, error) {
	var raw rawOperation
	if err := json.Unmarshal(line, &raw); err != nil {
		return Operation{}, fmt.Errorf("%w: %v", ErrMalformedOperation, err)
	}
	if raw.Kind == nil {
		return Operation{}, fmt.Errorf("%w: missing kind", ErrMalformedOperation)
	}

	op := Operation{Kind: OpKind(*raw.Kind), Value: raw.V, Index: raw.I}
	switch op.Kind {
	case OpSnapshot:
		return op, nil
	case OpSet, OpAppend, OpDelete:
		path, err := NewPath(raw.K...)
		if err != nil {
			return Operation{}, err
		}
		if len(path) == 0 {
			return Operation{}, fmt.Errorf("%w: %s with empty path", ErrMalformedOperation, op.Kind)
		}
		op.Path = path
		return op, nil
	}
	return Operation{}, fmt.Errorf("%w: unknown kind %d", ErrMalformedOperation, *raw.Kind)
}

// Apply mutates the document with op.
func (d Document) Apply(op Operation) error {
	switch op.Kind {
	case OpSnapshot:
		m, ok := op.Value.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: snapshot value is %T, want object", ErrMalformedOperation, op.Value)
		}
		for k, v := range m {
			d[k] = v
		}
		return nil
	case OpSet:
		return d.Set(op.Path, op.Value)
	case OpAppend:
		return d.Append(op.Path, op.Value, op.Index)
	case OpDelete:
		return d.Delete(op.Path)
	}
	return fmt.Errorf("%w: unknown kind %d", ErrMalformedOperation, int(op.Kind))
}

// Set assigns value at path, creating intermediate containers. A missing
// container is an array when the segment that indexes into it is a
// non-negative integer, otherwise an object. Arrays shorter than a required
// index are padded with empty objects.
func (d Document) Set(path Path, value any) error {
	if len(path) == 0 {
		return fmt.Errorf("%w: set with empty path", ErrMalformedOperation)
	}
	_, err := assign(map[string]any(d), path, value)
	return err
}

// assign returns node with value stored at path. On error node is
// returned unmodified.
func assign(node any, path Path, value any) (any, error) {
	if len(path) == 0 {
		return value, nil
	}
	seg, rest := path[0], path[1:]

	switch n := node.(type) {
	case map[string]any:
		child, err := assign(n[seg.key], rest, value)
		if err != nil {
			return node, err
		}
		n[seg.key] = child
		return n, nil

	case []any:
		if !seg.isIndex {
			return node, fmt.Errorf("%w: key %q addresses an array", ErrMalformedOperation, seg.key)
		}
		oldLen := len(n)
		n = padArray(n, seg.index)
		if seg.index >= oldLen && len(rest) > 0 {
			n[seg.index] = newContainer(rest[0])
		}
		child, err := assign(n[seg.index], rest, value)
		if err != nil {
			return node, err
		}
		n[seg.index] = child
		return n, nil
	}

	// Absent or scalar: replace with the container seg addresses.
	return assign(newContainer(seg), path, value)
}

func newContainer(seg Segment) any {
	if seg.isIndex {
		return []any{}
	}
	return map[string]any{}
}

// padArray extends arr with empty-object placeholders through index.
func padArray(arr []any, index int) []any {
	for len(arr) <= index {
		arr = append(arr, map[string]any{})
	}
	return arr
}

// Append implements append-or-set. With an insert index and an array
// target, value (or its elements) is spliced in at index. Without one,
// array values are concatenated onto array targets. Anything else is Set.
func (d Document) Append(path Path, value any, index *int) error {
	target, _ := d.Get(path)
	arr, ok := target.([]any)
	if !ok {
		return d.Set(path, value)
	}

	items, valueIsArray := value.([]any)
	if index != nil {
		if !valueIsArray {
			items = []any{value}
		}
		return d.Set(path, splice(arr, *index, items))
	}
	if valueIsArray {
		return d.Set(path, append(arr, items...))
	}
	return d.Set(path, value)
}

func splice(arr []any, at int, items []any) []any {
	if at < 0 {
		at = 0
	}
	if at > len(arr) {
		at = len(arr)
	}
	out := make([]any, 0, len(arr)+len(items))
	out = append(out, arr[:at]...)
	out = append(out, items...)
	out = append(out, arr[at:]...)
	return out
}

// Delete removes the key or array element at path. Deleting something
// that does not exist is a no-op.
func (d Document) Delete(path Path) error {
	if len(path) == 0 {
		return fmt.Errorf("%w: delete with empty path", ErrMalformedOperation)
	}
	parentPath, last := path[:len(path)-1], path[len(path)-1]
	parent, ok := d.Get(parentPath)
	if !ok {
		return nil
	}

	switch p := parent.(type) {
	case map[string]any:
		delete(p, last.key)
		return nil
	case []any:
		if !last.isIndex || last.index >= len(p) {
			return nil
		}
		out := make([]any, 0, len(p)-1)
		out = append(out, p[:last.index]...)
		out = append(out, p[last.index+1:]...)
		return d.Set(parentPath, out)
	}
	return nil
}
