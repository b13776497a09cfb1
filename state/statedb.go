package state

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fusionswap/orchestrator-go/agreement"
	"github.com/fusionswap/orchestrator-go/common"
	"github.com/fusionswap/orchestrator-go/database"
	ethcommon "github.com/ethereum/go-ethereum/common"
)

var (
	ErrOrderNotFound     = errors.New("order not found in statedb")
	ErrArchiveNonTermOrd = errors.New("refusing to archive a non-terminal order")
)

// StateDB is the durable swap ledger store. Transition is the sole
// mutation primitive used by the orchestrator, the sweeper and the bid
// engine; its compare-and-swap on status is the core concurrency guard.
type StateDB struct {
	stmtCache *database.StmtCache
}

func NewStateDB(db *sql.DB) (*StateDB, error) {
	if _, err := db.Exec(orderTable + kvTable + auditTable); err != nil {
		return nil, err
	}

	return &StateDB{
		stmtCache: database.NewStmtCache(db),
	}, nil
}

func (st *StateDB) Close() {
	st.stmtCache.Clear()
}

// GetOrder fetches one order by id. The second return is false when the
// order does not exist in the live store.
func (st *StateDB) GetOrder(orderId ethcommon.Hash) (*SwapOrder, bool, error) {
	query := `SELECT` + orderColumnList + `FROM swap_order WHERE orderId = ?`
	stmt, err := st.stmtCache.Prepare(query)
	if err != nil {
		return nil, false, err
	}

	var row sqlOrder
	if err := stmt.QueryRow(orderId.String()[2:]).Scan(row.scanArgs()...); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}

	o, err := row.decode()
	if err != nil {
		return nil, false, err
	}
	return o, true, nil
}

func (st *StateDB) HasOrder(orderId ethcommon.Hash) (bool, OrderStatus, error) {
	query := `SELECT status FROM swap_order WHERE orderId = ?`
	stmt, err := st.stmtCache.Prepare(query)
	if err != nil {
		return false, "", err
	}

	var status string
	if err := stmt.QueryRow(orderId.String()[2:]).Scan(&status); err != nil {
		if err == sql.ErrNoRows {
			return false, "", nil
		}
		return false, "", err
	}
	return true, OrderStatus(status), nil
}

// UpsertOrder inserts a new order or overwrites an existing row wholesale.
// Used for order creation only; lifecycle mutation goes through Transition.
func (st *StateDB) UpsertOrder(o *SwapOrder) error {
	query := `INSERT OR REPLACE INTO swap_order (` + orderColumnList + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := st.stmtCache.Prepare(query)
	if err != nil {
		return err
	}

	row, err := new(sqlOrder).encode(o)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(row.execArgs()...)
	return err
}

// Transition applies expected -> next atomically: the UPDATE carries a
// `status = expected` guard, so of two racing callers exactly one sees
// RowsAffected == 1. The loser gets (false, nil) and must treat it as
// success-of-the-other-path. mutate (optional) adjusts the order before
// the row is written; its error aborts the transition.
func (st *StateDB) Transition(
	orderId ethcommon.Hash,
	expected, next OrderStatus,
	mutate func(*SwapOrder) error,
) (bool, error) {
	if !CanTransition(expected, next) {
		return false, fmt.Errorf("%w: %s -> %s", ErrorTransitionForbidden, expected, next)
	}

	o, ok, err := st.GetOrder(orderId)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrOrderNotFound
	}
	if o.Status != expected {
		return false, nil
	}

	if mutate != nil {
		if err := mutate(o); err != nil {
			return false, err
		}
	}
	o.Status = next
	o.UpdatedAt = time.Now().Unix()

	row, err := new(sqlOrder).encode(o)
	if err != nil {
		return false, err
	}

	query := `UPDATE swap_order SET
		direction = ?, sourceChain = ?, destChain = ?, sourceLockId = ?, destLockId = ?,
		hashlock = ?, hashAlgo = ?, secret = ?, amountSource = ?, amountDest = ?,
		timelockSource = ?, timelockDest = ?, recipient = ?, sourceAsset = ?, destAsset = ?,
		claimLockId = ?, status = ?, updatedAt = ?
		WHERE orderId = ? AND status = ?`
	stmt, err := st.stmtCache.Prepare(query)
	if err != nil {
		return false, err
	}

	res, err := stmt.Exec(
		row.Direction, row.SourceChain, row.DestChain, row.SourceLockId, row.DestLockId,
		row.Hashlock, row.HashAlgo, row.Secret, row.AmountSource, row.AmountDest,
		row.TimelockSource, row.TimelockDest, row.Recipient, row.SourceAsset, row.DestAsset,
		row.ClaimLockId, row.Status, row.UpdatedAt,
		row.OrderId, string(expected),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	if next.IsTerminal() {
		if err := st.appendAudit(o); err != nil {
			return true, err
		}
	}
	return true, nil
}

// GetOrderByHashlock finds the live order committed to the given
// hashlock. The mirrored destination escrow carries the same hashlock
// as its source escrow, so this is how a destination-side
// EscrowCreated event is matched back to its order.
func (st *StateDB) GetOrderByHashlock(hashlock ethcommon.Hash) (*SwapOrder, bool, error) {
	query := `SELECT` + orderColumnList + `FROM swap_order WHERE hashlock = ? ORDER BY createdAt LIMIT 1`
	stmt, err := st.stmtCache.Prepare(query)
	if err != nil {
		return nil, false, err
	}

	var row sqlOrder
	if err := stmt.QueryRow(hashlock.String()[2:]).Scan(row.scanArgs()...); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	o, err := row.decode()
	if err != nil {
		return nil, false, err
	}
	return o, true, nil
}

// GetOrderByLockId finds the live order holding the given escrow on the
// given chain, on either side of the swap.
func (st *StateDB) GetOrderByLockId(chain agreement.ChainTag, lockId string) (*SwapOrder, bool, error) {
	query := `SELECT` + orderColumnList + `FROM swap_order
		WHERE (sourceChain = ? AND sourceLockId = ?) OR (destChain = ? AND destLockId = ?)
		LIMIT 1`
	stmt, err := st.stmtCache.Prepare(query)
	if err != nil {
		return nil, false, err
	}

	var row sqlOrder
	if err := stmt.QueryRow(string(chain), lockId, string(chain), lockId).Scan(row.scanArgs()...); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	o, err := row.decode()
	if err != nil {
		return nil, false, err
	}
	return o, true, nil
}

// GetOrdersByStatus returns all live orders in the given status.
func (st *StateDB) GetOrdersByStatus(status OrderStatus) ([]*SwapOrder, error) {
	query := `SELECT` + orderColumnList + `FROM swap_order WHERE status = ? ORDER BY createdAt`
	stmt, err := st.stmtCache.Prepare(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return decodeOrderRows(rows)
}

// NonTerminalOrders returns every live order that still needs monitoring.
// Used at startup for crash recovery and by the timeout sweeper.
func (st *StateDB) NonTerminalOrders() ([]*SwapOrder, error) {
	query := `SELECT` + orderColumnList + `FROM swap_order
		WHERE status NOT IN ('completed', 'refunded', 'failed') ORDER BY createdAt`
	stmt, err := st.stmtCache.Prepare(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return decodeOrderRows(rows)
}

// ArchivableOrders returns terminal orders that last changed before
// cutoff (unix seconds). The sweeper archives them out of the live set.
func (st *StateDB) ArchivableOrders(cutoff int64) ([]*SwapOrder, error) {
	query := `SELECT` + orderColumnList + `FROM swap_order
		WHERE status IN ('completed', 'refunded', 'failed') AND updatedAt < ?`
	stmt, err := st.stmtCache.Prepare(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return decodeOrderRows(rows)
}

// ArchiveOrder removes a terminal order from the live store. The audit
// row written at transition time remains.
func (st *StateDB) ArchiveOrder(orderId ethcommon.Hash) error {
	ok, status, err := st.HasOrder(orderId)
	if err != nil {
		return err
	}
	if !ok {
		return ErrOrderNotFound
	}
	if !status.IsTerminal() {
		return ErrArchiveNonTermOrd
	}

	stmt, err := st.stmtCache.Prepare(`DELETE FROM swap_order WHERE orderId = ?`)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(orderId.String()[2:])
	return err
}

// GetCursor returns the persisted last-processed cursor for a chain.
// false means the watcher has never run for this chain.
func (st *StateDB) GetCursor(chain agreement.ChainTag) (uint64, bool, error) {
	query := `SELECT value FROM kv WHERE key = ?`
	stmt, err := st.stmtCache.Prepare(query)
	if err != nil {
		return 0, false, err
	}

	var value string
	if err := stmt.QueryRow(cursorKey(chain)).Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, err
	}

	v, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (st *StateDB) SetCursor(chain agreement.ChainTag, cursor uint64) error {
	query := `INSERT OR REPLACE INTO kv (key, value) VALUES (?, ?)`
	stmt, err := st.stmtCache.Prepare(query)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(cursorKey(chain), strconv.FormatUint(cursor, 10))
	return err
}

func (st *StateDB) appendAudit(o *SwapOrder) error {
	query := `INSERT INTO audit (orderId, status, secret, recordedAt) VALUES (?, ?, ?, ?)`
	stmt, err := st.stmtCache.Prepare(query)
	if err != nil {
		return err
	}

	var secret sql.NullString
	if len(o.Secret) != 0 {
		secret = sql.NullString{String: common.ByteSliceToPureHexStr(o.Secret), Valid: true}
	}
	_, err = stmt.Exec(o.OrderId.String()[2:], string(o.Status), secret, time.Now().Unix())
	return err
}

func cursorKey(chain agreement.ChainTag) string {
	return "cursor:" + string(chain)
}

func decodeOrderRows(rows *sql.Rows) ([]*SwapOrder, error) {
	var orders []*SwapOrder
	for rows.Next() {
		var row sqlOrder
		if err := rows.Scan(row.scanArgs()...); err != nil {
			return nil, err
		}
		o, err := row.decode()
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
