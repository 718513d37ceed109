package mvstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueRoundTrip(t *testing.T) {
	values := []Value{
		Null(),
		IntValue(-42),
		BoolValue(true),
		StringValue("héllo"),
		FloatValue(3.25),
		LinkValue(TableKey(2), ObjKey(77)),
		ListValue(IntValue(1), StringValue("two"), Null()),
		SetValue(IntValue(1), IntValue(2)),
		DictValue(map[string]Value{
			"a": IntValue(1),
			"b": ListValue(BoolValue(false)),
		}),
	}

	for _, v := range values {
		got, err := decodeValue(encodeValue(v))
		require.NoError(t, err)
		assert.True(t, got.Equal(v), "value %v did not survive", v.Kind)
	}
}

func TestValueEqual(t *testing.T) {
	assert.True(t, IntValue(1).Equal(IntValue(1)))
	assert.False(t, IntValue(1).Equal(IntValue(2)))
	assert.False(t, IntValue(1).Equal(FloatValue(1)))
	assert.True(t, Null().Equal(Null()))

	// Dict equality is independent of insertion order: entries encode
	// sorted by key.
	a := DictValue(map[string]Value{"x": IntValue(1), "y": IntValue(2)})
	b := DictValue(map[string]Value{"y": IntValue(2), "x": IntValue(1)})
	assert.True(t, a.Equal(b))
}

func TestValueSortedKeys(t *testing.T) {
	d := DictValue(map[string]Value{"c": Null(), "a": Null(), "b": Null()})
	assert.Equal(t, []string{"a", "b", "c"}, d.SortedKeys())
}

func TestDecodeValueTruncated(t *testing.T) {
	data := encodeValue(StringValue("hello"))
	for i := 1; i < len(data); i++ {
		_, err := decodeValue(data[:i])
		assert.Error(t, err, "prefix of length %d decoded", i)
	}

	_, err := decodeValue([]byte{0xff})
	assert.Error(t, err)
}
