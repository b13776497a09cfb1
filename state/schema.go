package state

import "strings"

var (
	strZeroBytes32 = strings.Repeat("0", 64)

	// table that stores the live life cycle of a swap order
	orderTable = `CREATE TABLE IF NOT EXISTS swap_order (
		orderId CHAR(64) PRIMARY KEY NOT NULL,
		direction VARCHAR(16) NOT NULL,
		sourceChain VARCHAR(16) NOT NULL,
		destChain VARCHAR(16) NOT NULL,
		sourceLockId VARCHAR(128) NOT NULL,
		destLockId VARCHAR(128),
		hashlock CHAR(64) NOT NULL,
		hashAlgo VARCHAR(16) NOT NULL,
		secret VARCHAR(128),
		amountSource VARCHAR(80) NOT NULL,
		amountDest VARCHAR(80),
		timelockSource BIGINT NOT NULL,
		timelockDest BIGINT,
		recipient VARCHAR(128) NOT NULL,
		sourceAsset VARCHAR(32) NOT NULL,
		destAsset VARCHAR(32) NOT NULL,
		claimLockId VARCHAR(128),
		status VARCHAR(16) NOT NULL,
		createdAt BIGINT NOT NULL,
		updatedAt BIGINT NOT NULL,
		CONSTRAINT chk_status CHECK (status IN (
			'detected', 'mirrored', 'escrowed', 'secret_revealed',
			'claimed', 'completed', 'expired', 'refunded', 'failed')),
		CONSTRAINT chk_direction CHECK (direction IN ('source_to_dest', 'dest_to_source')),
		CONSTRAINT chk_hashAlgo CHECK (hashAlgo IN ('sha256', 'keccak256')),
		CONSTRAINT chk_orderId CHECK (orderId != '` + strZeroBytes32 + `'),
		CONSTRAINT chk_hashlock CHECK (hashlock != '` + strZeroBytes32 + `'),
		CONSTRAINT chk_sourceLockId CHECK (sourceLockId != ''),
		CONSTRAINT chk_timelocks CHECK (timelockDest IS NULL OR timelockDest < timelockSource)
	);`

	// table stores key-value pairs: watcher cursors and other small state.
	kvTable = `CREATE TABLE IF NOT EXISTS kv (
		key VARCHAR(64) PRIMARY KEY NOT NULL,
		value VARCHAR(64) NOT NULL
	);`

	// append-only audit trail, one row per order reaching a terminal status.
	auditTable = `CREATE TABLE IF NOT EXISTS audit (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		orderId CHAR(64) NOT NULL,
		status VARCHAR(16) NOT NULL,
		secret VARCHAR(128),
		recordedAt BIGINT NOT NULL,
		CONSTRAINT chk_terminal CHECK (status IN ('completed', 'refunded', 'failed'))
	);`

	orderColumnList = ` orderId, direction, sourceChain, destChain, sourceLockId, destLockId,
		hashlock, hashAlgo, secret, amountSource, amountDest, timelockSource, timelockDest,
		recipient, sourceAsset, destAsset, claimLockId, status, createdAt, updatedAt `
)
