package state

import ethcrypto "github.com/ethereum/go-ethereum/crypto"

var (
	multisendStatsKey     = []byte("multisend/stats")
	multisendSenderPrefix = []byte("multisend/sender/")
	ownerKey              = []byte("access/owner")
	pausePrefix           = []byte("access/paused/")
)

// multisendSenderKey hashes the address so every sender record has the same
// key length regardless of how the address was supplied.
func multisendSenderKey(addr []byte) []byte {
	hashed := ethcrypto.Keccak256(addr)
	buf := make([]byte, len(multisendSenderPrefix)+len(hashed))
	copy(buf, multisendSenderPrefix)
	copy(buf[len(multisendSenderPrefix):], hashed)
	return buf
}

func pauseKey(module string) []byte {
	buf := make([]byte, len(pausePrefix)+len(module))
	copy(buf, pausePrefix)
	copy(buf[len(pausePrefix):], module)
	return buf
}
