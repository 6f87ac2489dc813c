package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"poolctl/internal/model"
	"poolctl/internal/records"
	"poolctl/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS deployments (
	network       TEXT NOT NULL,
	task_id       TEXT NOT NULL,
	contract_name TEXT NOT NULL,
	address       TEXT NOT NULL,
	tx_hash       TEXT NOT NULL DEFAULT '',
	block_number  BIGINT NOT NULL DEFAULT 0,
	deployed_at   TIMESTAMPTZ NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (network, task_id, contract_name)
);

CREATE TABLE IF NOT EXISTS tx_journal (
	chain_id     BIGINT NOT NULL,
	tx_hash      TEXT NOT NULL,
	script       TEXT NOT NULL,
	iteration    INTEGER NOT NULL,
	step         TEXT NOT NULL,
	block_number BIGINT NOT NULL,
	gas_used     BIGINT NOT NULL,
	status       SMALLINT NOT NULL,
	from_address TEXT NOT NULL,
	to_address   TEXT NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (chain_id, tx_hash)
);
`

// Store provides Postgres persistence for deployment records and the tx journal.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Get returns one deployment record.
func (s *Store) Get(ctx context.Context, network, taskID, contract string) (model.DeployedContractRecord, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT network, task_id, contract_name, address, tx_hash, block_number, deployed_at
		FROM deployments
		WHERE network=$1 AND task_id=$2 AND contract_name=$3
	`, network, taskID, contract)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.DeployedContractRecord{}, false, nil
		}
		return model.DeployedContractRecord{}, false, err
	}
	return rec, true, nil
}

// Put upserts a deployment record. A forced redeploy replaces the address.
func (s *Store) Put(ctx context.Context, rec model.DeployedContractRecord) error {
	return s.UpsertDeployments(ctx, []model.DeployedContractRecord{rec})
}

// UpsertDeployments inserts or updates deployment records in one batch.
func (s *Store) UpsertDeployments(ctx context.Context, recs []model.DeployedContractRecord) error {
	if len(recs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, rec := range recs {
		if rec.Network == "" || rec.TaskID == "" || rec.ContractName == "" || rec.Address == "" {
			return fmt.Errorf("incomplete deployment record %s/%s", rec.TaskID, rec.ContractName)
		}
		deployedAt, err := parseTimestamp(rec.DeployedAt)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO deployments (
				network, task_id, contract_name, address, tx_hash, block_number, deployed_at, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
			ON CONFLICT (network, task_id, contract_name)
			DO UPDATE SET
				address = EXCLUDED.address,
				tx_hash = EXCLUDED.tx_hash,
				block_number = EXCLUDED.block_number,
				deployed_at = EXCLUDED.deployed_at,
				updated_at = now()
		`,
			rec.Network,
			rec.TaskID,
			rec.ContractName,
			rec.Address,
			rec.TxHash,
			int64(rec.BlockNumber),
			deployedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range recs {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// List returns the records of a network, optionally narrowed to one task.
func (s *Store) List(ctx context.Context, network, taskID string) ([]model.DeployedContractRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT network, task_id, contract_name, address, tx_hash, block_number, deployed_at
		FROM deployments
		WHERE network=$1 AND ($2 = '' OR task_id=$2)
		ORDER BY task_id, contract_name
	`, network, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DeployedContractRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PutTxBatch inserts journal entries. Replayed hashes are ignored.
func (s *Store) PutTxBatch(ctx context.Context, txs []model.TxRecord) error {
	if len(txs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, tx := range txs {
		submittedAt, err := parseTimestamp(tx.SubmittedAt)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO tx_journal (
				chain_id, tx_hash, script, iteration, step, block_number, gas_used, status,
				from_address, to_address, submitted_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (chain_id, tx_hash) DO NOTHING
		`,
			int64(tx.ChainID),
			tx.TxHash,
			tx.Script,
			tx.Iteration,
			tx.Step,
			int64(tx.BlockNumber),
			int64(tx.GasUsed),
			int16(tx.Status),
			tx.From,
			tx.To,
			submittedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range txs {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func scanRecord(row pgx.Row) (model.DeployedContractRecord, error) {
	var (
		rec        model.DeployedContractRecord
		block      int64
		deployedAt time.Time
	)
	if err := row.Scan(&rec.Network, &rec.TaskID, &rec.ContractName, &rec.Address, &rec.TxHash, &block, &deployedAt); err != nil {
		return model.DeployedContractRecord{}, err
	}
	rec.BlockNumber = uint64(block)
	rec.DeployedAt = deployedAt.UTC().Format(time.RFC3339)
	return rec, nil
}

func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Now().UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", value, err)
	}
	return ts, nil
}

var (
	_ records.Store   = (*Store)(nil)
	_ storage.Journal = (*Store)(nil)
)
