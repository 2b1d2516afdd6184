package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogLoads(t *testing.T) {
	cat, err := Default()
	require.NoError(t, err)

	d, ok := cat.ByKey("cell_0_v")
	require.True(t, ok)
	assert.Equal(t, uint16(0), d.Address)

	d2, ok := cat.ByAddress(0)
	require.True(t, ok)
	assert.Equal(t, "cell_0_v", d2.Key)
}

func TestRawToUserRounding(t *testing.T) {
	d := Descriptor{Scale: 0.0001, Precision: 4, Class: ClassNumeric}
	got := RawToUser(d, 0x1068)
	assert.InDelta(t, 0.4200, got, 1e-9)
}

func TestUserToRawRoundTrip(t *testing.T) {
	d := Descriptor{
		Scale: 1, Precision: 0, Class: ClassNumeric,
		HasMin: true, MinRaw: 2500, HasMax: true, MaxRaw: 4500, StepRaw: 1,
	}
	raw, err := UserToRaw(d, 4200)
	require.NoError(t, err)
	assert.Equal(t, uint32(4200), raw)

	back := RawToUser(d, float64(raw))
	assert.Equal(t, float64(4200), back)
}

func TestUserToRawAcceptsExactBounds(t *testing.T) {
	d := Descriptor{
		Scale: 1, Precision: 0, Class: ClassNumeric,
		HasMin: true, MinRaw: 2500, HasMax: true, MaxRaw: 4500, StepRaw: 1,
	}
	raw, err := UserToRaw(d, 4500)
	require.NoError(t, err)
	assert.Equal(t, uint32(4500), raw)

	raw, err = UserToRaw(d, 2500)
	require.NoError(t, err)
	assert.Equal(t, uint32(2500), raw)
}

func TestUserToRawRejectsOutOfBounds(t *testing.T) {
	d := Descriptor{
		Scale: 1, Precision: 0, Class: ClassNumeric,
		HasMin: true, MinRaw: 2500, HasMax: true, MaxRaw: 4500, StepRaw: 1,
	}
	_, err := UserToRaw(d, 4501)
	assert.Error(t, err)

	_, err = UserToRaw(d, 2499)
	assert.Error(t, err)

	_, err = UserToRaw(d, 5000)
	assert.Error(t, err)
}

func TestDuplicateAddressRejected(t *testing.T) {
	_, err := New([]Descriptor{
		{Address: 1, Key: "a"},
		{Address: 1, Key: "b"},
	})
	assert.Error(t, err)
}
