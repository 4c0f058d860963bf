package postgres

import (
	"context"
	"fmt"
)

// schema is applied in order by Migrate. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS bank_accounts (
		id BIGSERIAL PRIMARY KEY,
		company_id BIGINT NOT NULL,
		bank_code TEXT NOT NULL,
		branch TEXT NOT NULL,
		number TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'checking',
		balance NUMERIC(18,2) NOT NULL DEFAULT 0,
		balance_updated_at TIMESTAMP WITH TIME ZONE,
		access_token TEXT NOT NULL DEFAULT '',
		refresh_token TEXT NOT NULL DEFAULT '',
		token_expires_at TIMESTAMP WITH TIME ZONE,
		last_sync_at TIMESTAMP WITH TIME ZONE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bank_accounts_company ON bank_accounts(company_id)`,
	`CREATE INDEX IF NOT EXISTS idx_bank_accounts_lookup ON bank_accounts(bank_code, branch, number)`,

	`CREATE TABLE IF NOT EXISTS transactions (
		id BIGSERIAL PRIMARY KEY,
		company_id BIGINT NOT NULL,
		bank_id BIGINT NOT NULL,
		direction TEXT NOT NULL,
		amount NUMERIC(18,2) NOT NULL,
		occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		external_id TEXT NOT NULL DEFAULT '',
		reconciled BOOLEAN NOT NULL DEFAULT FALSE,
		reconciled_at TIMESTAMP WITH TIME ZONE,
		engine_matched BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`ALTER TABLE transactions ADD COLUMN IF NOT EXISTS engine_matched BOOLEAN NOT NULL DEFAULT FALSE`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_scope ON transactions(company_id, bank_id, occurred_at)`,

	`CREATE TABLE IF NOT EXISTS bank_transactions (
		id BIGSERIAL PRIMARY KEY,
		account_id BIGINT NOT NULL REFERENCES bank_accounts(id),
		external_id TEXT NOT NULL DEFAULT '',
		amount NUMERIC(18,2) NOT NULL,
		direction TEXT NOT NULL,
		posted_at TIMESTAMP WITH TIME ZONE NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		document TEXT NOT NULL DEFAULT '',
		reconciled BOOLEAN NOT NULL DEFAULT FALSE,
		reconciled_at TIMESTAMP WITH TIME ZONE,
		system_transaction_id BIGINT REFERENCES transactions(id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bank_transactions_account ON bank_transactions(account_id, posted_at)`,
	`CREATE INDEX IF NOT EXISTS idx_bank_transactions_system ON bank_transactions(system_transaction_id)
		WHERE system_transaction_id IS NOT NULL`,
	// Statement re-fetches insert the same entries again; the index turns
	// them into no-ops.
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_bank_transactions_external
		ON bank_transactions(account_id, external_id, posted_at, amount, direction)
		WHERE external_id <> ''`,

	`CREATE TABLE IF NOT EXISTS reconciliations (
		id BIGSERIAL PRIMARY KEY,
		company_id BIGINT NOT NULL,
		bank_id BIGINT NOT NULL,
		start_at TIMESTAMP WITH TIME ZONE NOT NULL,
		end_at TIMESTAMP WITH TIME ZONE NOT NULL,
		completed BOOLEAN NOT NULL DEFAULT FALSE,
		total INTEGER NOT NULL DEFAULT 0,
		matched INTEGER NOT NULL DEFAULT 0,
		pending INTEGER NOT NULL DEFAULT 0,
		completed_at TIMESTAMP WITH TIME ZONE,
		notes TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reconciliations_scope ON reconciliations(company_id, bank_id, start_at)`,

	`CREATE TABLE IF NOT EXISTS audit_entries (
		id UUID PRIMARY KEY,
		at TIMESTAMP WITH TIME ZONE NOT NULL,
		actor_id TEXT NOT NULL,
		actor_name TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		entity TEXT NOT NULL,
		entity_id BIGINT NOT NULL,
		details JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_entries_entity ON audit_entries(entity, entity_id)`,
}

// Migrate creates the tables and indexes the store needs.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	s.logger.Info("schema up to date")
	return nil
}
