package aptosman

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/fusionswap/orchestrator-go/agreement"
)

// eventPageLimit is the page size for event-handle fetches. The REST
// API caps responses at a bounded page, so fetches must paginate by
// sequence number or silently miss events past the first page.
const eventPageLimit = 100

type rawEvent struct {
	version uint64
	data    map[string]interface{}
}

// getHandleEvents reads one event handle of the escrow module's
// EscrowEvents resource through the fullnode REST API, page by page,
// and returns the events whose ledger version falls in [from, to].
// Sequence numbers already delivered below the range are cached so
// later fetches skip the pages in front of them. Handle events are
// ordered by sequence number and versions grow with it, so the scan
// stops at the first event past the range.
func (aptman *Aptosman) getHandleEvents(ctx context.Context, field string, from, to uint64) ([]rawEvent, error) {
	resourceType := fmt.Sprintf("%s::%s::EscrowEvents", aptman.moduleAddress.String(), escrowModuleName)

	start := aptman.startSeq(field)
	var events []rawEvent
	for {
		fullURL := fmt.Sprintf("%s/accounts/%s/events/%s/%s?start=%d&limit=%d",
			aptman.baseURL,
			aptman.moduleAddress.String(),
			resourceType,
			field,
			start,
			eventPageLimit)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build event request: %v", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("event request failed: %v", err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read event response: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("event request failed: status %d, body %s", resp.StatusCode, string(body))
		}

		var decoded []struct {
			Version        string                 `json:"version"`
			SequenceNumber string                 `json:"sequence_number"`
			Data           map[string]interface{} `json:"data"`
		}
		if err := json.Unmarshal(body, &decoded); err != nil {
			return nil, fmt.Errorf("failed to decode event response: %v", err)
		}
		if len(decoded) == 0 {
			return events, nil
		}

		for _, ev := range decoded {
			version, err := strconv.ParseUint(ev.Version, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("bad event version %q: %v", ev.Version, err)
			}
			seq, err := strconv.ParseUint(ev.SequenceNumber, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("bad event sequence number %q: %v", ev.SequenceNumber, err)
			}
			start = seq + 1

			if version < from {
				// delivered in an earlier range; skip its page slot on
				// every future fetch too
				aptman.advanceSeq(field, seq+1)
				continue
			}
			if version > to {
				return events, nil
			}
			events = append(events, rawEvent{version: version, data: ev.Data})
		}

		if len(decoded) < eventPageLimit {
			return events, nil
		}
	}
}

// startSeq returns the cached sequence number to fetch from for one
// event handle field.
func (aptman *Aptosman) startSeq(field string) uint64 {
	aptman.seqMu.Lock()
	defer aptman.seqMu.Unlock()
	if aptman.seqStart == nil {
		aptman.seqStart = make(map[string]uint64)
	}
	return aptman.seqStart[field]
}

func (aptman *Aptosman) advanceSeq(field string, seq uint64) {
	aptman.seqMu.Lock()
	defer aptman.seqMu.Unlock()
	if aptman.seqStart == nil {
		aptman.seqStart = make(map[string]uint64)
	}
	if seq > aptman.seqStart[field] {
		aptman.seqStart[field] = seq
	}
}

func parseEscrowCreated(chain agreement.ChainTag, data map[string]interface{}) (*agreement.EscrowCreatedEvent, error) {
	lockId, ok := data["lock_id"].(string)
	if !ok {
		return nil, fmt.Errorf("missing lock_id")
	}
	hashlockHex, ok := data["hashlock"].(string)
	if !ok {
		return nil, fmt.Errorf("missing hashlock")
	}
	recipient, ok := data["recipient"].(string)
	if !ok {
		return nil, fmt.Errorf("missing recipient")
	}
	amount, err := parseAmount(data["amount"])
	if err != nil {
		return nil, err
	}
	timelockStr, ok := data["timelock"].(string)
	if !ok {
		return nil, fmt.Errorf("missing timelock")
	}
	timelock, err := strconv.ParseInt(timelockStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad timelock %q: %v", timelockStr, err)
	}

	return &agreement.EscrowCreatedEvent{
		Chain:     chain,
		LockId:    lockId,
		Hashlock:  ethcommon.HexToHash(hashlockHex),
		Amount:    amount,
		Timelock:  timelock,
		Recipient: recipient,
	}, nil
}

func parseSecretRevealed(chain agreement.ChainTag, data map[string]interface{}) (*agreement.SecretRevealedEvent, error) {
	lockId, ok := data["lock_id"].(string)
	if !ok {
		return nil, fmt.Errorf("missing lock_id")
	}
	secretHex, ok := data["secret"].(string)
	if !ok {
		return nil, fmt.Errorf("missing secret")
	}

	return &agreement.SecretRevealedEvent{
		Chain:  chain,
		LockId: lockId,
		Secret: hexToBytes(secretHex),
	}, nil
}

// parseAmount accepts the REST API's u64-as-string encoding.
func parseAmount(v interface{}) (*big.Int, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("missing amount")
	}
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("bad amount %q", s)
	}
	return amount, nil
}
