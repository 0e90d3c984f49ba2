package multisend

import "github.com/holiman/uint256"

// Static cost model. The figures are advisory and never enforced.
const (
	BaseGas            = 21_000
	NativeRecipientGas = 23_000
	AssetRecipientGas  = 65_000
)

// EstimateNativeGas returns the advisory cost of a native batch with n
// recipients.
func EstimateNativeGas(n uint64) *uint256.Int {
	return estimate(n, NativeRecipientGas)
}

// EstimateAssetGas returns the advisory cost of a token batch with n
// recipients.
func EstimateAssetGas(n uint64) *uint256.Int {
	return estimate(n, AssetRecipientGas)
}

func estimate(n, perRecipient uint64) *uint256.Int {
	total := new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(perRecipient))
	return total.Add(total, uint256.NewInt(BaseGas))
}
