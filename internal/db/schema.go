package db

import "context"

// schema holds the full table set of spec.md §6 plus the two
// out-of-scope DIP passthrough tables (spec.md §1 Non-goals name the
// DIP *logic* as excluded, not the shared database).
const schema = `
CREATE TABLE IF NOT EXISTS allocation_receipts (
	id               TEXT NOT NULL,
	allocation       TEXT NOT NULL,
	protocol_network TEXT NOT NULL,
	fees             DECIMAL NOT NULL,
	signature        BYTEA NOT NULL,
	PRIMARY KEY (protocol_network, id)
);
CREATE INDEX IF NOT EXISTS idx_allocation_receipts_allocation
	ON allocation_receipts (protocol_network, allocation);

CREATE TABLE IF NOT EXISTS allocation_summaries (
	allocation         TEXT NOT NULL,
	protocol_network   TEXT NOT NULL,
	closed_at          BIGINT,
	created_transfers  BIGINT NOT NULL DEFAULT 0,
	resolved_transfers BIGINT NOT NULL DEFAULT 0,
	failed_transfers   BIGINT NOT NULL DEFAULT 0,
	open_transfers     BIGINT NOT NULL DEFAULT 0,
	collected_fees     DECIMAL NOT NULL DEFAULT 0,
	withdrawn_fees     DECIMAL NOT NULL DEFAULT 0,
	PRIMARY KEY (protocol_network, allocation)
);

CREATE TABLE IF NOT EXISTS vouchers (
	allocation       TEXT NOT NULL,
	protocol_network TEXT NOT NULL,
	amount           DECIMAL NOT NULL,
	signature        TEXT NOT NULL,
	PRIMARY KEY (protocol_network, allocation)
);

CREATE TABLE IF NOT EXISTS scalar_tap_ravs (
	allocation        TEXT NOT NULL,
	sender            TEXT NOT NULL,
	protocol_network  TEXT NOT NULL,
	value_aggregate   DECIMAL NOT NULL,
	signature         BYTEA NOT NULL,
	last              BOOLEAN NOT NULL DEFAULT FALSE,
	final             BOOLEAN NOT NULL DEFAULT FALSE,
	redeemed_at       BIGINT,
	redeem_tx_hash    TEXT,
	PRIMARY KEY (protocol_network, allocation)
);

CREATE TABLE IF NOT EXISTS indexing_agreements (
	id               TEXT NOT NULL,
	protocol_network TEXT NOT NULL,
	PRIMARY KEY (protocol_network, id)
);

CREATE TABLE IF NOT EXISTS indexing_vouchers (
	id               TEXT NOT NULL,
	protocol_network TEXT NOT NULL,
	PRIMARY KEY (protocol_network, id)
);
`

func (b *Bridge) migrate(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, schema)
	return err
}
