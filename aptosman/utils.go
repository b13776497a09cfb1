package aptosman

import (
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/aptos-labs/aptos-go-sdk"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// serializeBytes is the BCS encoding of vector<u8>: uleb128 length
// followed by the raw bytes.
func serializeBytes(b []byte) []byte {
	out := make([]byte, 0, len(b)+2)
	n := len(b)
	for n >= 0x80 {
		out = append(out, byte(n)|0x80)
		n >>= 7
	}
	out = append(out, byte(n))
	return append(out, b...)
}

func hexToBytes(s string) []byte {
	decoded, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil
	}
	return decoded
}

// ComputeLockId reproduces the Move module's lock identifier: the
// sha3-256 of sender || recipient || amount (le) || hashlock ||
// timelock (le), hex encoded.
func ComputeLockId(
	sender, recipient aptos.AccountAddress,
	amount uint64,
	hashlock ethcommon.Hash,
	timelock int64,
) string {
	var amountLE, timelockLE [8]byte
	binary.LittleEndian.PutUint64(amountLE[:], amount)
	binary.LittleEndian.PutUint64(timelockLE[:], uint64(timelock))

	var packed []byte
	packed = append(packed, sender[:]...)
	packed = append(packed, recipient[:]...)
	packed = append(packed, amountLE[:]...)
	packed = append(packed, hashlock.Bytes()...)
	packed = append(packed, timelockLE[:]...)

	digest := sha3.Sum256(packed)
	return "0x" + hex.EncodeToString(digest[:])
}
