package types

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	cases := map[string]uint64{
		"0":      0,
		"42":     42,
		" 7 ":    7,
		"0x10":   16,
		"0x0010": 16,
		"0x0":    0,
	}
	for raw, want := range cases {
		got, err := ParseAmount(raw)
		require.NoError(t, err, raw)
		require.Equal(t, uint256.NewInt(want), got, raw)
	}

	for _, raw := range []string{"", "-1", "abc", "0x", "0xzz", "1.5"} {
		_, err := ParseAmount(raw)
		require.Error(t, err, raw)
	}
}

func TestParseAmountFullWidth(t *testing.T) {
	max := "115792089237316195423570985008687907853269984665640564039457584007913129639935"
	got, err := ParseAmount(max)
	require.NoError(t, err)
	require.Equal(t, max, FormatAmount(got))

	_, err = ParseAmount(max + "0")
	require.Error(t, err)
}

func TestParseAmountsReportsIndex(t *testing.T) {
	_, err := ParseAmounts([]string{"1", "x"})
	require.ErrorContains(t, err, "amounts[1]")
}

func TestFormatAndClone(t *testing.T) {
	require.Equal(t, "0", FormatAmount(nil))
	v := uint256.NewInt(5)
	c := CloneAmount(v)
	c.AddUint64(c, 1)
	require.Equal(t, uint64(5), v.Uint64())
	require.True(t, CloneAmount(nil).IsZero())
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("0x00000000000000000000000000000000000000aa")
	require.NoError(t, err)
	require.Equal(t, byte(0xaa), addr[19])
	require.False(t, IsZeroAddress(addr))

	zero, err := ParseAddress("0x0000000000000000000000000000000000000000")
	require.NoError(t, err)
	require.True(t, IsZeroAddress(zero))

	_, err = ParseAddress("nhb1xyz")
	require.Error(t, err)
	_, err = ParseAddresses([]string{zero.Hex(), "bad"})
	require.ErrorContains(t, err, "recipients[1]")
}
