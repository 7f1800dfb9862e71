// Package sqlite persists jobs and the escrow ledger in a single SQLite
// database. The job store relies on conditional UPDATE ... WHERE status = ?
// for transition atomicity; the escrow ledger relies on unique indexes for
// deposit replay protection.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"botmarket/core/jobs"
	"botmarket/escrow"
)

// Store bundles the job store and escrow ledger over one database handle.
type Store struct {
	db *sql.DB
}

// Open creates (or opens) the database at path and applies the schema.
// Use ":memory:" for an ephemeral database in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single pooled connection avoids
	// SQLITE_BUSY on concurrent transitions.
	db.SetMaxOpenConns(1)
	store := &Store{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
            id TEXT PRIMARY KEY,
            title TEXT NOT NULL,
            description TEXT NOT NULL,
            tags TEXT,
            bounty_usdc REAL NOT NULL,
            bounty_atomic INTEGER NOT NULL,
            requester_wallet TEXT NOT NULL,
            worker_wallet TEXT,
            status TEXT NOT NULL,
            result TEXT,
            deposit_tx_sig TEXT,
            payment_tx_sig TEXT,
            created_at TIMESTAMP NOT NULL,
            claimed_at TIMESTAMP,
            completed_at TIMESTAMP,
            paid_at TIMESTAMP,
            expires_at TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS jobs_status_created ON jobs(status, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS escrow_records (
            job_id TEXT PRIMARY KEY,
            requester_wallet TEXT NOT NULL,
            worker_wallet TEXT,
            amount_atomic INTEGER NOT NULL,
            deposit_tx_sig TEXT NOT NULL UNIQUE,
            status TEXT NOT NULL,
            release_tx_sig TEXT,
            created_at TIMESTAMP NOT NULL,
            released_at TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS used_deposits (
            tx_sig TEXT PRIMARY KEY,
            consumed_at TIMESTAMP NOT NULL
        );`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Jobs returns the jobs.Store view of the database.
func (s *Store) Jobs() *JobStore { return &JobStore{db: s.db} }

// Escrow returns the escrow.Ledger view of the database.
func (s *Store) Escrow() *EscrowLedger { return &EscrowLedger{db: s.db} }

// JobStore implements jobs.Store on SQLite.
type JobStore struct {
	db *sql.DB
}

var _ jobs.Store = (*JobStore)(nil)

const jobColumns = `id, title, description, tags, bounty_usdc, bounty_atomic,
    requester_wallet, worker_wallet, status, result, deposit_tx_sig,
    payment_tx_sig, created_at, claimed_at, completed_at, paid_at, expires_at`

func (s *JobStore) Insert(ctx context.Context, job *jobs.Job) error {
	tags, err := encodeTags(job.Tags)
	if err != nil {
		return err
	}
	const stmt = `INSERT INTO jobs(` + jobColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, stmt,
		job.ID, job.Title, job.Description, tags, job.BountyUSDC, int64(job.BountyAtomic),
		job.RequesterWallet, nullString(job.WorkerWallet), string(job.Status),
		nullString(job.Result), nullString(job.DepositTxSig), nullString(job.PaymentTxSig),
		job.CreatedAt, nullTime(job.ClaimedAt), nullTime(job.CompletedAt), nullTime(job.PaidAt),
		job.ExpiresAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "PRIMARY KEY") {
			return jobs.ErrExists
		}
		return err
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*jobs.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, jobs.ErrNotFound
	}
	return job, err
}

func (s *JobStore) List(ctx context.Context, status jobs.Status) ([]*jobs.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC, id DESC`
	args := []interface{}{}
	if status != "" {
		query = `SELECT ` + jobColumns + ` FROM jobs WHERE status = ? ORDER BY created_at DESC, id DESC`
		args = append(args, string(status))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*jobs.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *JobStore) CompareAndSet(ctx context.Context, id string, expected jobs.Status, mut jobs.Mutation) (*jobs.Job, error) {
	sets := []string{"status = ?"}
	args := []interface{}{string(mut.Status)}
	appendSet := func(col string, val interface{}) {
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}
	if mut.WorkerWallet != nil {
		appendSet("worker_wallet", *mut.WorkerWallet)
	}
	if mut.Result != nil {
		appendSet("result", *mut.Result)
	}
	if mut.DepositTxSig != nil {
		appendSet("deposit_tx_sig", *mut.DepositTxSig)
	}
	if mut.PaymentTxSig != nil {
		appendSet("payment_tx_sig", *mut.PaymentTxSig)
	}
	if mut.ClaimedAt != nil {
		appendSet("claimed_at", *mut.ClaimedAt)
	}
	if mut.CompletedAt != nil {
		appendSet("completed_at", *mut.CompletedAt)
	}
	if mut.PaidAt != nil {
		appendSet("paid_at", *mut.PaidAt)
	}
	stmt := fmt.Sprintf(`UPDATE jobs SET %s WHERE id = ? AND status = ?`, strings.Join(sets, ", "))
	args = append(args, id, string(expected))
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if _, err := s.Get(ctx, id); errors.Is(err, jobs.ErrNotFound) {
			return nil, jobs.ErrNotFound
		}
		return nil, jobs.ErrStateConflict
	}
	return s.Get(ctx, id)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*jobs.Job, error) {
	var (
		job         jobs.Job
		tags        sql.NullString
		atomic      int64
		worker      sql.NullString
		status      string
		result      sql.NullString
		depositSig  sql.NullString
		paymentSig  sql.NullString
		claimedAt   sql.NullTime
		completedAt sql.NullTime
		paidAt      sql.NullTime
	)
	err := row.Scan(&job.ID, &job.Title, &job.Description, &tags, &job.BountyUSDC, &atomic,
		&job.RequesterWallet, &worker, &status, &result, &depositSig, &paymentSig,
		&job.CreatedAt, &claimedAt, &completedAt, &paidAt, &job.ExpiresAt)
	if err != nil {
		return nil, err
	}
	job.BountyAtomic = uint64(atomic)
	job.Status = jobs.Status(status)
	job.WorkerWallet = worker.String
	job.Result = result.String
	job.DepositTxSig = depositSig.String
	job.PaymentTxSig = paymentSig.String
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &job.Tags); err != nil {
			return nil, fmt.Errorf("decode job tags: %w", err)
		}
	}
	if claimedAt.Valid {
		t := claimedAt.Time
		job.ClaimedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	if paidAt.Valid {
		t := paidAt.Time
		job.PaidAt = &t
	}
	return &job, nil
}

func encodeTags(tags []string) (interface{}, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// EscrowLedger implements escrow.Ledger on SQLite. Insert failure on the
// used_deposits primary key is the replay signal.
type EscrowLedger struct {
	db *sql.DB
}

var _ escrow.Ledger = (*EscrowLedger)(nil)

func (l *EscrowLedger) CreateHeld(ctx context.Context, rec *escrow.Record) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO used_deposits(tx_sig, consumed_at) VALUES (?, ?)`,
		rec.DepositTxSig, rec.CreatedAt,
	); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "PRIMARY KEY") {
			return escrow.ErrDepositUsed
		}
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO escrow_records(job_id, requester_wallet, worker_wallet, amount_atomic,
            deposit_tx_sig, status, release_tx_sig, created_at, released_at)
         VALUES (?, ?, ?, ?, ?, ?, NULL, ?, NULL)`,
		rec.JobID, rec.RequesterWallet, nullString(rec.WorkerWallet), int64(rec.AmountAtomic),
		rec.DepositTxSig, string(escrow.StatusHeld), rec.CreatedAt,
	); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "PRIMARY KEY") {
			return escrow.ErrExists
		}
		return err
	}
	return tx.Commit()
}

const escrowColumns = `job_id, requester_wallet, worker_wallet, amount_atomic,
    deposit_tx_sig, status, release_tx_sig, created_at, released_at`

func (l *EscrowLedger) Get(ctx context.Context, jobID string) (*escrow.Record, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT `+escrowColumns+` FROM escrow_records WHERE job_id = ?`, jobID)
	rec, err := scanEscrow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, escrow.ErrNotFound
	}
	return rec, err
}

func (l *EscrowLedger) List(ctx context.Context) ([]*escrow.Record, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+escrowColumns+` FROM escrow_records ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*escrow.Record
	for rows.Next() {
		rec, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (l *EscrowLedger) MarkReleased(ctx context.Context, jobID, workerWallet, releaseTxSig string, at time.Time) (*escrow.Record, error) {
	res, err := l.db.ExecContext(ctx,
		`UPDATE escrow_records SET status = ?, worker_wallet = ?, release_tx_sig = ?, released_at = ?
         WHERE job_id = ? AND status = ?`,
		string(escrow.StatusReleased), workerWallet, releaseTxSig, at, jobID, string(escrow.StatusHeld))
	return l.settleResult(ctx, jobID, res, err)
}

func (l *EscrowLedger) MarkRefunded(ctx context.Context, jobID, refundTxSig string, at time.Time) (*escrow.Record, error) {
	res, err := l.db.ExecContext(ctx,
		`UPDATE escrow_records SET status = ?, release_tx_sig = ?, released_at = ?
         WHERE job_id = ? AND status = ?`,
		string(escrow.StatusRefunded), refundTxSig, at, jobID, string(escrow.StatusHeld))
	return l.settleResult(ctx, jobID, res, err)
}

func (l *EscrowLedger) settleResult(ctx context.Context, jobID string, res sql.Result, err error) (*escrow.Record, error) {
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if _, err := l.Get(ctx, jobID); errors.Is(err, escrow.ErrNotFound) {
			return nil, escrow.ErrNotFound
		}
		return nil, escrow.ErrNotHeld
	}
	return l.Get(ctx, jobID)
}

func scanEscrow(row rowScanner) (*escrow.Record, error) {
	var (
		rec        escrow.Record
		worker     sql.NullString
		status     string
		releaseSig sql.NullString
		releasedAt sql.NullTime
		atomic     int64
	)
	err := row.Scan(&rec.JobID, &rec.RequesterWallet, &worker, &atomic,
		&rec.DepositTxSig, &status, &releaseSig, &rec.CreatedAt, &releasedAt)
	if err != nil {
		return nil, err
	}
	rec.WorkerWallet = worker.String
	rec.AmountAtomic = uint64(atomic)
	rec.Status = escrow.Status(status)
	rec.ReleaseTxSig = releaseSig.String
	if releasedAt.Valid {
		t := releasedAt.Time
		rec.ReleasedAt = &t
	}
	return &rec, nil
}
