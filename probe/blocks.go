package probe

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/textileio/fleetwatch/fault"
)

// Bond is a validator stake entry of a block.
type Bond struct {
	Validator string   `json:"validator"`
	Stake     *float64 `json:"stake"`
}

// Block is an entry of the blocks endpoint payload.
type Block struct {
	BlockNumber *int64  `json:"blockNumber"`
	Bonds       *[]Bond `json:"bonds"`
}

// EvaluateBlocks runs the validator stake predicate over the latest block
// of a blocks response body. Only the first block is considered.
func EvaluateBlocks(t Target, body []byte) (ds []Decision) {
	defer guard(t, BlocksPath, &ds)

	var blocks []Block
	if err := json.Unmarshal(body, &blocks); err != nil {
		return []Decision{unknown(t, BlocksPath, fmt.Errorf("decoding blocks: %s", err))}
	}
	if len(blocks) == 0 {
		return []Decision{unknown(t, BlocksPath, fmt.Errorf("blocks response is empty"))}
	}
	latest := blocks[0]
	if latest.Bonds == nil {
		return []Decision{unknown(t, BlocksPath, fmt.Errorf("block is missing bonds"))}
	}

	ds = make([]Decision, 0, len(*latest.Bonds))
	for _, b := range *latest.Bonds {
		if b.Stake == nil {
			return []Decision{unknown(t, BlocksPath, fmt.Errorf("bond of %s is missing stake", b.Validator))}
		}
		f := fault.New(fault.ValidatorSlashed, fmt.Sprintf("Validator %s slashed", ValidatorName(t, b.Validator)))
		ds = append(ds, decide(*b.Stake == 0, f))
	}
	return ds
}

// ValidatorName resolves a validator public key to its fleet index. Keys
// missing from the target mapping are returned as-is.
func ValidatorName(t Target, pubKey string) string {
	if idx, ok := t.Validators[pubKey]; ok {
		return strconv.Itoa(idx)
	}
	return pubKey
}
