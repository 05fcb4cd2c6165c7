package runtime

import (
	"bytes"
	"fmt"
	"math"

	"github.com/tanema/lvm/src/lerrors"
)

// Table is the lua associative array. Integer keys from 1 up live in the array
// part, everything else in the hash part. Assigning nil removes a key.
type Table struct {
	val       []any
	hashtable map[any]any
	keyCache  []any
	metatable *Metatable
	arrayHint int
	hashHint  int
}

// NewTable creates a table with an initial array part and hash.
func NewTable(arr []any, hash map[any]any) *Table {
	tbl := &Table{hashtable: map[any]any{}}
	for i, v := range arr {
		_ = tbl.Set(float64(i+1), v)
	}
	for k, v := range hash {
		_ = tbl.Set(k, v)
	}
	return tbl
}

// NewSizedTable creates an empty table with capacity hints, which are advisory.
func NewSizedTable(arraySize, hashSize int) *Table {
	return &Table{
		val:       make([]any, 0, clamp(arraySize, 0, maxPrealloc)),
		hashtable: make(map[any]any, clamp(hashSize, 0, maxPrealloc)),
		arrayHint: arraySize,
		hashHint:  hashSize,
	}
}

const maxPrealloc = 1 << 16

// SizeHints returns the sizes the table was created with.
func (t *Table) SizeHints() (int, int) { return t.arrayHint, t.hashHint }

// SetMetatable gives the table a private metatable, nil restores the kind default.
func (t *Table) SetMetatable(mt *Metatable) { t.metatable = mt }

// canonicalKey normalizes a key so that equal lua values map to one go map key.
func canonicalKey(key any) (any, error) {
	switch tkey := key.(type) {
	case nil:
		return nil, fmt.Errorf("%w: table index is nil", lerrors.ErrInvalidKey)
	case float64:
		if math.IsNaN(tkey) {
			return nil, fmt.Errorf("%w: table index is NaN", lerrors.ErrInvalidKey)
		} else if tkey == 0 {
			return float64(0), nil
		}
		return tkey, nil
	case bool, string, *Table, *Closure, *NativeFunction, *UserData, *Upvalue:
		return tkey, nil
	default:
		return nil, fmt.Errorf("%w: unhashable %T", lerrors.ErrInvalidKey, key)
	}
}

// arrayIndex returns the zero based slot for keys that belong to the array part.
func (t *Table) arrayIndex(key any) (int, bool) {
	num, ok := key.(float64)
	if !ok || num != math.Trunc(num) || num < 1 || num > float64(len(t.val)+1) {
		return 0, false
	}
	return int(num) - 1, true
}

// Get returns the value stored at key or nil when it is absent.
func (t *Table) Get(key any) (any, error) {
	ckey, err := canonicalKey(key)
	if err != nil {
		return nil, err
	}
	if i, ok := t.arrayIndex(ckey); ok {
		if i < len(t.val) {
			return t.val[i], nil
		}
		return nil, nil
	}
	return t.hashtable[ckey], nil
}

// Has reports if the key holds a non-nil value.
func (t *Table) Has(key any) bool {
	val, err := t.Get(key)
	return err == nil && val != nil
}

// Set stores value at key, a nil value removes the key.
func (t *Table) Set(key, value any) error {
	ckey, err := canonicalKey(key)
	if err != nil {
		return err
	}
	if i, ok := t.arrayIndex(ckey); ok {
		switch {
		case i < len(t.val):
			t.val[i] = value
			if value == nil && i == len(t.val)-1 {
				t.trimArray()
			}
			return nil
		case value != nil:
			t.val = append(t.val, value)
			t.removeHashKey(ckey)
			t.migrateHash()
			return nil
		default:
			t.removeHashKey(ckey)
			return nil
		}
	}
	if value == nil {
		t.removeHashKey(ckey)
		return nil
	}
	if _, exists := t.hashtable[ckey]; !exists {
		t.keyCache = append(t.keyCache, ckey)
	}
	t.hashtable[ckey] = value
	return nil
}

// SetList stores values at consecutive integer keys starting at offset.
func (t *Table) SetList(offset int, values []any) error {
	for i, val := range values {
		if err := t.Set(float64(offset+i), val); err != nil {
			return err
		}
	}
	return nil
}

// Len is the border of the array part.
func (t *Table) Len() int { return len(t.val) }

// Keys lists every key with a value, the array part first then hash keys in
// insertion order.
func (t *Table) Keys() []any {
	keys := make([]any, 0, len(t.val)+len(t.keyCache))
	for i, v := range t.val {
		if v != nil {
			keys = append(keys, float64(i+1))
		}
	}
	return append(keys, t.keyCache...)
}

func (t *Table) String() string {
	var buf bytes.Buffer
	fmt.Fprint(&buf, "{")
	for _, key := range t.Keys() {
		val, _ := t.Get(key)
		fmt.Fprintf(&buf, " [%s] = %s", quoteKey(key), ToString(val))
	}
	fmt.Fprint(&buf, " }")
	return buf.String()
}

func quoteKey(key any) string {
	if str, ok := key.(string); ok {
		return fmt.Sprintf("%q", str)
	}
	return ToString(key)
}

func (t *Table) trimArray() {
	end := len(t.val)
	for end > 0 && t.val[end-1] == nil {
		end--
	}
	clear(t.val[end:])
	t.val = t.val[:end]
}

// migrateHash moves keys that now continue the array part out of the hash.
func (t *Table) migrateHash() {
	for {
		next := float64(len(t.val) + 1)
		val, ok := t.hashtable[next]
		if !ok {
			return
		}
		t.val = append(t.val, val)
		t.removeHashKey(next)
	}
}

func (t *Table) removeHashKey(key any) {
	if _, exists := t.hashtable[key]; !exists {
		return
	}
	delete(t.hashtable, key)
	for i, kc := range t.keyCache {
		if kc == key {
			t.keyCache = append(t.keyCache[:i], t.keyCache[i+1:]...)
			break
		}
	}
}
