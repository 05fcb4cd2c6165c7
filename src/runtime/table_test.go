package runtime

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanema/lvm/src/lerrors"
)

func TestNewTable(t *testing.T) {
	t.Parallel()
	tbl := NewTable([]any{"a", "b"}, map[any]any{"key": "value", float64(3): "c"})
	assert.Equal(t, []any{"a", "b", "c"}, tbl.val)
	assert.Equal(t, map[any]any{"key": "value"}, tbl.hashtable)
	assert.Equal(t, 3, tbl.Len())
}

func TestNewSizedTable(t *testing.T) {
	t.Parallel()
	tbl := NewSizedTable(10, 4)
	arr, hash := tbl.SizeHints()
	assert.Equal(t, 10, arr)
	assert.Equal(t, 4, hash)
	assert.Equal(t, 0, tbl.Len())
	assert.Empty(t, tbl.Keys())

	huge := NewSizedTable(1<<30, -1)
	assert.Equal(t, maxPrealloc, cap(huge.val))
}

func TestTable_Get(t *testing.T) {
	t.Parallel()
	tbl := NewTable([]any{"a"}, map[any]any{"key": "value", true: "yes"})

	testcases := []struct {
		desc string
		key  any
		val  any
		err  error
	}{
		{desc: "array", key: float64(1), val: "a"},
		{desc: "hash", key: "key", val: "value"},
		{desc: "bool key", key: true, val: "yes"},
		{desc: "absent", key: "missing", val: nil},
		{desc: "past the array", key: float64(2), val: nil},
		{desc: "fractional", key: 1.5, val: nil},
		{desc: "nil key", key: nil, err: lerrors.ErrInvalidKey},
		{desc: "nan key", key: math.NaN(), err: lerrors.ErrInvalidKey},
		{desc: "unhashable key", key: []int{1}, err: lerrors.ErrInvalidKey},
	}

	for _, tc := range testcases {
		tc := tc
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			val, err := tbl.Get(tc.key)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.val, val)
		})
	}
}

func TestTable_Set(t *testing.T) {
	t.Parallel()

	t.Run("appending migrates the hash", func(t *testing.T) {
		t.Parallel()
		tbl := NewTable(nil, nil)
		require.NoError(t, tbl.Set(float64(2), "b"))
		require.NoError(t, tbl.Set(float64(3), "c"))
		assert.Equal(t, 0, tbl.Len())
		require.NoError(t, tbl.Set(float64(1), "a"))
		assert.Equal(t, []any{"a", "b", "c"}, tbl.val)
		assert.Empty(t, tbl.hashtable)
		assert.Empty(t, tbl.keyCache)
	})

	t.Run("nil removes", func(t *testing.T) {
		t.Parallel()
		tbl := NewTable([]any{"a", "b"}, map[any]any{"key": "value"})
		require.NoError(t, tbl.Set("key", nil))
		require.NoError(t, tbl.Set(float64(2), nil))
		assert.False(t, tbl.Has("key"))
		assert.Equal(t, 1, tbl.Len())
		assert.Equal(t, []any{float64(1)}, tbl.Keys())
	})

	t.Run("negative zero is zero", func(t *testing.T) {
		t.Parallel()
		tbl := NewTable(nil, nil)
		require.NoError(t, tbl.Set(math.Copysign(0, -1), "zero"))
		val, err := tbl.Get(float64(0))
		require.NoError(t, err)
		assert.Equal(t, "zero", val)
	})

	t.Run("keys keep insertion order", func(t *testing.T) {
		t.Parallel()
		tbl := NewTable([]any{"a"}, nil)
		for _, key := range []string{"z", "y", "x"} {
			require.NoError(t, tbl.Set(key, true))
		}
		require.NoError(t, tbl.Set("y", false))
		assert.Equal(t, []any{float64(1), "z", "y", "x"}, tbl.Keys())
	})

	t.Run("reference keys", func(t *testing.T) {
		t.Parallel()
		tbl := NewTable(nil, nil)
		key := NewTable(nil, nil)
		require.NoError(t, tbl.Set(key, "by table"))
		val, err := tbl.Get(key)
		require.NoError(t, err)
		assert.Equal(t, "by table", val)
		val, err = tbl.Get(NewTable(nil, nil))
		require.NoError(t, err)
		assert.Nil(t, val)
	})
}

func TestTable_SetList(t *testing.T) {
	t.Parallel()
	tbl := NewTable(nil, nil)
	require.NoError(t, tbl.SetList(1, []any{"a", "b"}))
	require.NoError(t, tbl.SetList(51, []any{"z"}))
	assert.Equal(t, 2, tbl.Len())
	val, err := tbl.Get(float64(51))
	require.NoError(t, err)
	assert.Equal(t, "z", val)
}

func TestTable_String(t *testing.T) {
	t.Parallel()
	tbl := NewTable([]any{float64(1)}, map[any]any{"key": "value"})
	assert.Equal(t, `{ [1] = 1 ["key"] = value }`, tbl.String())
}
