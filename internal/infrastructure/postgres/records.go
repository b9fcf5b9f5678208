// Package postgres provides the PostgreSQL clinical record store.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-caregap/internal/domain/caregap"
	fhir "github.com/drfirst/go-caregap/internal/fhir/r4"
	"github.com/drfirst/go-caregap/internal/observability/tracing"
)

// Schema creates the clinical_resources table. Resources are stored as the
// FHIR JSON they arrived as, one row per (patient, type, id).
const Schema = `
CREATE TABLE IF NOT EXISTS clinical_resources (
	patient_id    TEXT        NOT NULL,
	resource_type TEXT        NOT NULL,
	resource_id   TEXT        NOT NULL,
	resource      JSONB       NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (patient_id, resource_type, resource_id)
);
CREATE INDEX IF NOT EXISTS idx_clinical_resources_type ON clinical_resources (patient_id, resource_type);
`

// RecordStore loads and stores patient records
type RecordStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

// NewRecordStore creates a new record store
func NewRecordStore(pool *pgxpool.Pool, logger *zap.Logger) *RecordStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordStore{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("record-store"),
	}
}

// EnsureSchema creates the record table if it does not exist
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity
func (s *RecordStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// LoadPatientContext implements caregap.RecordSource. It returns
// caregap.ErrPatientNotFound when no Patient row exists for the id.
func (s *RecordStore) LoadPatientContext(ctx context.Context, patientID string) (*caregap.PatientHealthContext, error) {
	ctx, span := s.tracer.Start(ctx, "load_patient_context",
		trace.WithAttributes(attribute.String("patient_id", patientID)))
	defer span.End()

	query := `
		SELECT resource
		FROM clinical_resources
		WHERE patient_id = $1
		ORDER BY resource_type, resource_id
	`
	rows, err := s.pool.Query(ctx, query, patientID)
	if err != nil {
		tracing.Fail(span, err, "")
		return nil, fmt.Errorf("query resources: %w", err)
	}

	res := &fhir.Resources{}
	raws, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		tracing.Fail(span, err, "")
		return nil, fmt.Errorf("scan resources: %w", err)
	}
	for _, raw := range raws {
		if err := res.Add(raw); err != nil {
			// a corrupt row must not hide the rest of the record
			s.logger.Warn("skipping undecodable resource",
				zap.String("patient_id", patientID),
				zap.Error(err),
			)
		}
	}
	span.SetAttributes(attribute.Int("resources", len(raws)))

	if len(res.Patients) == 0 {
		return nil, fmt.Errorf("patient %s: %w", patientID, caregap.ErrPatientNotFound)
	}
	// every row is keyed by patientID, so the stored Patient is the patient
	hc, err := caregap.NewContext(res, "")
	if err != nil {
		return nil, err
	}
	if hc.Patient.ID == "" {
		hc.Patient.ID = patientID
	}
	return hc, nil
}

// SaveBundle upserts every supported resource of a bundle under patientID in
// one transaction and returns the number of rows written. Entries of other
// types are skipped.
func (s *RecordStore) SaveBundle(ctx context.Context, patientID string, b *fhir.Bundle) (int, error) {
	ctx, span := s.tracer.Start(ctx, "save_bundle",
		trace.WithAttributes(attribute.String("patient_id", patientID)))
	defer span.End()

	rows, err := bundleRows(patientID, b)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO clinical_resources (patient_id, resource_type, resource_id, resource, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (patient_id, resource_type, resource_id)
		DO UPDATE SET resource = EXCLUDED.resource, updated_at = now()
	`
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(query, patientID, row.resourceType, row.resourceID, row.resource)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		tracing.Fail(span, err, "")
		return 0, fmt.Errorf("upsert resources: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	s.logger.Info("bundle saved",
		zap.String("patient_id", patientID),
		zap.Int("resources", len(rows)),
	)
	return len(rows), nil
}

// CountResources returns the stored resource count per type for a patient
func (s *RecordStore) CountResources(ctx context.Context, patientID string) (map[string]int, error) {
	query := `
		SELECT resource_type, count(*)
		FROM clinical_resources
		WHERE patient_id = $1
		GROUP BY resource_type
	`
	rows, err := s.pool.Query(ctx, query, patientID)
	if err != nil {
		return nil, fmt.Errorf("count resources: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var resourceType string
		var n int
		if err := rows.Scan(&resourceType, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[resourceType] = n
	}
	return counts, rows.Err()
}

type resourceRow struct {
	resourceType string
	resourceID   string
	resource     json.RawMessage
}

var storedTypes = map[string]bool{
	fhir.ResourcePatient:           true,
	fhir.ResourceCondition:         true,
	fhir.ResourceObservation:       true,
	fhir.ResourceMedicationRequest: true,
	fhir.ResourceImmunization:      true,
}

// bundleRows extracts the rows to store. Resources without an id get a
// positional one so re-importing the same bundle overwrites instead of duplicating.
func bundleRows(patientID string, b *fhir.Bundle) ([]resourceRow, error) {
	if b == nil {
		return nil, nil
	}

	var rows []resourceRow
	for i, entry := range b.Entry {
		if len(entry.Resource) == 0 {
			continue
		}
		var header struct {
			ResourceType string `json:"resourceType"`
			ID           string `json:"id"`
		}
		if err := json.Unmarshal(entry.Resource, &header); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if !storedTypes[header.ResourceType] {
			continue
		}
		if header.ResourceType == fhir.ResourcePatient && header.ID != "" && header.ID != patientID {
			return nil, fmt.Errorf("entry %d: bundle holds patient %s, not %s", i, header.ID, patientID)
		}

		id := strings.TrimSpace(header.ID)
		if id == "" {
			id = fmt.Sprintf("entry-%d", i)
		}
		rows = append(rows, resourceRow{
			resourceType: header.ResourceType,
			resourceID:   id,
			resource:     entry.Resource,
		})
	}
	return rows, nil
}
