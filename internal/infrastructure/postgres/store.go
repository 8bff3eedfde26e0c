package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/meridianrx/dispense/internal/compliance"
	"github.com/meridianrx/dispense/internal/domain/prescription"
	"github.com/meridianrx/dispense/internal/infrastructure/redpanda"
	"github.com/meridianrx/dispense/internal/workflow"
)

// Store is the pgx-backed persistence layer for the workflow engine.
// Every write method that carries events stages them in the outbox inside
// the same transaction, so an event exists iff its state change committed.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

// NewStore creates a store over an existing connection pool.
func NewStore(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("postgres-store"),
	}
}

// GetPrescription loads a prescription by ID.
func (s *Store) GetPrescription(ctx context.Context, id string) (*prescription.Prescription, error) {
	query := `
		SELECT id, pharmacy_id, patient_id, prescriber_id, prescriber_dea,
		       ndc, drug_name, schedule, quantity, quantity_dispensed,
		       days_supply, refills_allowed, refills_used, priority, state,
		       written_date, version, created_at, updated_at, state_times,
		       archived_at
		FROM prescriptions
		WHERE id = $1
	`

	p := &prescription.Prescription{}
	var stateTimes []byte
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.PharmacyID, &p.PatientID, &p.PrescriberID, &p.PrescriberDEA,
		&p.NDC, &p.DrugName, &p.Schedule, &p.Quantity, &p.QuantityDispensed,
		&p.DaysSupply, &p.RefillsAllowed, &p.RefillsUsed, &p.Priority, &p.State,
		&p.WrittenDate, &p.Version, &p.CreatedAt, &p.UpdatedAt, &stateTimes,
		&p.ArchivedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("prescription %s: %w", id, workflow.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load prescription: %w", err)
	}
	if len(stateTimes) > 0 {
		if err := json.Unmarshal(stateTimes, &p.StateTimes); err != nil {
			return nil, fmt.Errorf("failed to decode state times: %w", err)
		}
	}
	return p, nil
}

// CreatePrescription inserts a new prescription with its events.
func (s *Store) CreatePrescription(ctx context.Context, p *prescription.Prescription, events []*prescription.Event) error {
	ctx, span := s.tracer.Start(ctx, "store_create_prescription",
		trace.WithAttributes(attribute.String("prescription_id", p.ID)))
	defer span.End()

	return s.withTx(ctx, func(tx pgx.Tx) error {
		stateTimes, err := json.Marshal(p.StateTimes)
		if err != nil {
			return err
		}
		query := `
			INSERT INTO prescriptions
				(id, pharmacy_id, patient_id, prescriber_id, prescriber_dea,
				 ndc, drug_name, schedule, quantity, quantity_dispensed,
				 days_supply, refills_allowed, refills_used, priority, state,
				 written_date, version, created_at, updated_at, state_times)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			        $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		`
		_, err = tx.Exec(ctx, query,
			p.ID, p.PharmacyID, p.PatientID, p.PrescriberID, p.PrescriberDEA,
			p.NDC, p.DrugName, p.Schedule, p.Quantity, p.QuantityDispensed,
			p.DaysSupply, p.RefillsAllowed, p.RefillsUsed, p.Priority, p.State,
			p.WrittenDate, p.Version, p.CreatedAt, p.UpdatedAt, stateTimes,
		)
		if err != nil {
			return fmt.Errorf("failed to insert prescription: %w", err)
		}
		return s.stageEvents(ctx, tx, events)
	})
}

// CommitTransition persists a transitioned prescription, the optional
// ledger entry, the optional bin state, and the events atomically. A stale
// expected version fails with an error wrapping the conflict sentinel,
// never a partial write: the bin row rolls back with the rest.
func (s *Store) CommitTransition(ctx context.Context, p *prescription.Prescription, expectedVersion int, entry *compliance.LedgerEntry, bin *prescription.WillCallBin, events []*prescription.Event) error {
	ctx, span := s.tracer.Start(ctx, "store_commit_transition",
		trace.WithAttributes(
			attribute.String("prescription_id", p.ID),
			attribute.String("state", string(p.State)),
			attribute.Int("expected_version", expectedVersion),
		))
	defer span.End()

	return s.withTx(ctx, func(tx pgx.Tx) error {
		stateTimes, err := json.Marshal(p.StateTimes)
		if err != nil {
			return err
		}
		query := `
			UPDATE prescriptions
			SET state = $1, version = $2, refills_used = $3,
			    quantity_dispensed = $4, updated_at = $5, state_times = $6
			WHERE id = $7 AND version = $8
		`
		tag, err := tx.Exec(ctx, query,
			p.State, p.Version, p.RefillsUsed, p.QuantityDispensed,
			p.UpdatedAt, stateTimes,
			p.ID, expectedVersion,
		)
		if err != nil {
			return fmt.Errorf("failed to update prescription: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("prescription %s at version %d: %w", p.ID, expectedVersion, workflow.ErrConflict)
		}

		if entry != nil {
			if err := s.insertLedgerEntry(ctx, tx, entry); err != nil {
				return err
			}
		}
		if bin != nil {
			if err := s.upsertBin(ctx, tx, bin); err != nil {
				return err
			}
		}
		return s.stageEvents(ctx, tx, events)
	})
}

// LedgerBalance returns the latest running balance for a pharmacy and NDC.
// The ledger is append-only, so the newest entry carries the balance.
func (s *Store) LedgerBalance(ctx context.Context, pharmacyID, ndc string) (float64, error) {
	query := `
		SELECT running_balance
		FROM cs_ledger
		WHERE pharmacy_id = $1 AND ndc = $2
		ORDER BY recorded_at DESC, id DESC
		LIMIT 1
	`
	var balance float64
	err := s.pool.QueryRow(ctx, query, pharmacyID, ndc).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read ledger balance: %w", err)
	}
	return balance, nil
}

// AppendLedgerEntry records a standalone inventory transaction with events.
func (s *Store) AppendLedgerEntry(ctx context.Context, entry *compliance.LedgerEntry, events []*prescription.Event) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := s.insertLedgerEntry(ctx, tx, entry); err != nil {
			return err
		}
		return s.stageEvents(ctx, tx, events)
	})
}

// LedgerEntries returns the chronological entry sequence for reconciliation.
func (s *Store) LedgerEntries(ctx context.Context, pharmacyID, ndc string) ([]compliance.LedgerEntry, error) {
	query := `
		SELECT id, pharmacy_id, ndc, schedule, type, quantity,
		       balance_before, running_balance, actor, recorded_at
		FROM cs_ledger
		WHERE pharmacy_id = $1 AND ndc = $2
		ORDER BY recorded_at ASC, id ASC
	`
	rows, err := s.pool.Query(ctx, query, pharmacyID, ndc)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var entries []compliance.LedgerEntry
	for rows.Next() {
		var e compliance.LedgerEntry
		if err := rows.Scan(
			&e.ID, &e.PharmacyID, &e.NDC, &e.Schedule, &e.Type, &e.Quantity,
			&e.BalanceBefore, &e.RunningBalance, &e.Actor, &e.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetBin loads the will-call bin for a prescription.
func (s *Store) GetBin(ctx context.Context, prescriptionID string) (*prescription.WillCallBin, error) {
	query := `
		SELECT prescription_id, location, state, placed_at, notified_at,
		       picked_up_at, hold_started_at
		FROM will_call_bins
		WHERE prescription_id = $1
	`
	bin := &prescription.WillCallBin{}
	err := s.pool.QueryRow(ctx, query, prescriptionID).Scan(
		&bin.PrescriptionID, &bin.Location, &bin.State, &bin.PlacedAt,
		&bin.NotifiedAt, &bin.PickedUpAt, &bin.HoldStartedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("will-call bin %s: %w", prescriptionID, workflow.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load bin: %w", err)
	}
	return bin, nil
}

// SaveBin upserts a bin with its events.
func (s *Store) SaveBin(ctx context.Context, bin *prescription.WillCallBin, events []*prescription.Event) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := s.upsertBin(ctx, tx, bin); err != nil {
			return err
		}
		return s.stageEvents(ctx, tx, events)
	})
}

func (s *Store) upsertBin(ctx context.Context, tx pgx.Tx, bin *prescription.WillCallBin) error {
	query := `
		INSERT INTO will_call_bins
			(prescription_id, location, state, placed_at, notified_at,
			 picked_up_at, hold_started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (prescription_id) DO UPDATE
		SET location = $2, state = $3, notified_at = $5,
		    picked_up_at = $6, hold_started_at = $7
	`
	_, err := tx.Exec(ctx, query,
		bin.PrescriptionID, bin.Location, bin.State, bin.PlacedAt,
		bin.NotifiedAt, bin.PickedUpAt, bin.HoldStartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save bin: %w", err)
	}
	return nil
}

// ListOpenBins returns the bins still awaiting pickup for a pharmacy.
func (s *Store) ListOpenBins(ctx context.Context, pharmacyID string) ([]*prescription.WillCallBin, error) {
	query := `
		SELECT b.prescription_id, b.location, b.state, b.placed_at,
		       b.notified_at, b.picked_up_at, b.hold_started_at
		FROM will_call_bins b
		JOIN prescriptions p ON p.id = b.prescription_id
		WHERE p.pharmacy_id = $1
		  AND b.state IN ('ready', 'notified')
		ORDER BY b.placed_at ASC
	`
	rows, err := s.pool.Query(ctx, query, pharmacyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bins: %w", err)
	}
	defer rows.Close()

	var bins []*prescription.WillCallBin
	for rows.Next() {
		bin := &prescription.WillCallBin{}
		if err := rows.Scan(
			&bin.PrescriptionID, &bin.Location, &bin.State, &bin.PlacedAt,
			&bin.NotifiedAt, &bin.PickedUpAt, &bin.HoldStartedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan bin: %w", err)
		}
		bins = append(bins, bin)
	}
	return bins, rows.Err()
}

// MarkArchived stamps an archived prescription.
func (s *Store) MarkArchived(ctx context.Context, p *prescription.Prescription) error {
	query := `UPDATE prescriptions SET archived_at = $1, updated_at = $1 WHERE id = $2`
	tag, err := s.pool.Exec(ctx, query, p.ArchivedAt, p.ID)
	if err != nil {
		return fmt.Errorf("failed to mark archived: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("prescription %s: %w", p.ID, workflow.ErrNotFound)
	}
	return nil
}

// withTx runs fn inside a transaction, rolling back on any error.
func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// insertLedgerEntry appends one immutable row. There is no UPDATE or
// DELETE path for cs_ledger anywhere in this package.
func (s *Store) insertLedgerEntry(ctx context.Context, tx pgx.Tx, entry *compliance.LedgerEntry) error {
	query := `
		INSERT INTO cs_ledger
			(id, pharmacy_id, ndc, schedule, type, quantity,
			 balance_before, running_balance, actor, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := tx.Exec(ctx, query,
		entry.ID, entry.PharmacyID, entry.NDC, entry.Schedule, entry.Type,
		entry.Quantity, entry.BalanceBefore, entry.RunningBalance,
		entry.Actor, entry.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

// stageEvents writes events to the outbox inside the caller's transaction.
func (s *Store) stageEvents(ctx context.Context, tx pgx.Tx, events []*prescription.Event) error {
	for _, event := range events {
		entry, err := outboxFromEvent(event)
		if err != nil {
			return err
		}
		if err := WriteEntry(ctx, tx, entry); err != nil {
			return err
		}
	}
	return nil
}

// outboxFromEvent routes a domain event to its topic. Compliance blocks go
// to the alerts topic; everything else rides the transitions topic. The
// audit trail gets every event.
func outboxFromEvent(event *prescription.Event) (*OutboxEntry, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	topic := redpanda.TopicTransitions
	if event.EventType == prescription.EventComplianceBlocked {
		topic = redpanda.TopicComplianceAlerts
	}

	return &OutboxEntry{
		AggregateID:   event.PrescriptionID,
		AggregateType: "prescription",
		EventType:     string(event.EventType),
		Payload:       payload,
		KafkaTopic:    topic,
		KafkaKey:      event.PrescriptionID,
	}, nil
}
