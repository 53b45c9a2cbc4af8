// Package tracker coordinates change-tracking sessions: it drives the
// detector across entity types, persists the results through the ledger,
// asks the planner for follow-up work and emits notifications.
package tracker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rpattn/rostersync/internal/detector"
	"github.com/rpattn/rostersync/internal/domain"
	"github.com/rpattn/rostersync/internal/ledger"
	"github.com/rpattn/rostersync/internal/planner"
	"github.com/rpattn/rostersync/internal/repository"
)

// Config tunes the orchestrator.
type Config struct {
	MaxDetectConcurrency int
	EnableNotifications  bool
	AnalyticsConfig      AnalyticsConfig
}

// DefaultConfig returns the standard tracker settings.
func DefaultConfig() Config {
	return Config{
		MaxDetectConcurrency: 4,
		EnableNotifications:  true,
		AnalyticsConfig:      DefaultAnalyticsConfig(),
	}
}

// EntityBatch is one entity type's current snapshot collection inside a
// trackChanges call.
type EntityBatch struct {
	EntityType string                  `json:"entityType"`
	Entities   []domain.EntitySnapshot `json:"entities"`
}

// TypeResult is the per-entity-type outcome of a trackChanges call.
type TypeResult struct {
	EntityType string                      `json:"entityType"`
	Changes    []domain.EntityChange       `json:"changes"`
	Stored     ledger.BatchStoreResult     `json:"stored"`
	Plan       *domain.IncrementalSyncPlan `json:"plan,omitempty"`
	Errors     []domain.EntityError        `json:"errors,omitempty"`
}

// TrackChangesResult preserves partial progress: entity types that
// succeeded report results even when others failed.
type TrackChangesResult struct {
	Session domain.ChangeTrackingSession  `json:"session"`
	Results []TypeResult                  `json:"detectionResults"`
	Plans   []*domain.IncrementalSyncPlan `json:"incrementalSyncPlans"`
	Errors  []string                      `json:"errors,omitempty"`
}

// Service is the change tracking orchestrator. Sessions are kept in an
// in-memory table keyed by session id so concurrent sessions never
// contend.
type Service struct {
	detector *detector.Detector
	ledger   *ledger.Service
	planner  *planner.Planner
	states   StateProvider
	sync     Synchronizer
	ids      IDMapper
	notifier Notifier
	analyzer Analyzer
	syncRuns repository.SyncRunRepository
	cfg      Config

	mu       sync.RWMutex
	sessions map[uuid.UUID]*domain.ChangeTrackingSession
}

// NewService wires the orchestrator. notifier, ids and analyzer may be
// nil; a nil analyzer gets the built-in heuristic one.
func NewService(
	det *detector.Detector,
	ledgerSvc *ledger.Service,
	plan *planner.Planner,
	states StateProvider,
	synchronizer Synchronizer,
	ids IDMapper,
	notifier Notifier,
	syncRuns repository.SyncRunRepository,
	cfg Config,
) *Service {
	if cfg.MaxDetectConcurrency <= 0 {
		cfg.MaxDetectConcurrency = DefaultConfig().MaxDetectConcurrency
	}

	s := &Service{
		detector: det,
		ledger:   ledgerSvc,
		planner:  plan,
		states:   states,
		sync:     synchronizer,
		ids:      ids,
		notifier: notifier,
		syncRuns: syncRuns,
		cfg:      cfg,
		sessions: map[uuid.UUID]*domain.ChangeTrackingSession{},
	}
	s.analyzer = NewHeuristicAnalyzer(ledgerSvc, cfg.AnalyticsConfig)
	return s
}

// WithAnalyzer swaps the analytics implementation.
func (s *Service) WithAnalyzer(analyzer Analyzer) *Service {
	s.analyzer = analyzer
	return s
}

// StartSession allocates a new active session and returns it immediately.
func (s *Service) StartSession(integrationID uuid.UUID, entityTypes []string, syncCtx domain.SyncContext) (domain.ChangeTrackingSession, error) {
	if len(entityTypes) == 0 {
		return domain.ChangeTrackingSession{}, &domain.ValidationError{Field: "entityTypes", Message: "at least one entity type required"}
	}
	for _, entityType := range entityTypes {
		if !domain.IsKnownEntityType(entityType) {
			return domain.ChangeTrackingSession{}, fmt.Errorf("%w: %s", domain.ErrUnknownEntityType, entityType)
		}
	}

	session := &domain.ChangeTrackingSession{
		SessionID:     uuid.New(),
		IntegrationID: integrationID,
		EntityTypes:   append([]string(nil), entityTypes...),
		StartTime:     time.Now().UTC(),
		Status:        domain.SessionActive,
		ChangesByType: map[string]int{},
	}

	s.mu.Lock()
	s.sessions[session.SessionID] = session
	s.mu.Unlock()

	log.Printf("[TRACKER] session %s started for integration %s (%v)", session.SessionID, integrationID, entityTypes)
	return *session, nil
}

// TrackChanges runs change detection for each entity-type batch, persists
// the results and generates sync plans. Entity types are processed
// concurrently; a failure on one type is reported and the others proceed.
func (s *Service) TrackChanges(ctx context.Context, sessionID uuid.UUID, batches []EntityBatch, syncCtx domain.SyncContext) (TrackChangesResult, error) {
	session, err := s.activeSession(sessionID)
	if err != nil {
		return TrackChangesResult{}, err
	}

	results := make([]TypeResult, len(batches))
	var (
		errsMu    sync.Mutex
		typeFails []string
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.MaxDetectConcurrency)

	for i := range batches {
		batch := batches[i]
		idx := i
		group.Go(func() error {
			started := time.Now()
			result, err := s.trackEntityType(groupCtx, session.IntegrationID, batch, syncCtx)
			if err != nil {
				log.Printf("[TRACKER] session %s: %s detection failed: %v", sessionID, batch.EntityType, err)
				errsMu.Lock()
				typeFails = append(typeFails, fmt.Sprintf("%s: %v", batch.EntityType, err))
				errsMu.Unlock()
				results[idx] = TypeResult{EntityType: batch.EntityType}
				return nil // partial success is a valid outcome
			}
			results[idx] = result
			s.accumulate(sessionID, batch.EntityType, len(batch.Entities), len(result.Changes), time.Since(started))
			return nil
		})
	}
	_ = group.Wait()

	var plans []*domain.IncrementalSyncPlan
	for _, result := range results {
		if result.Plan != nil {
			plans = append(plans, result.Plan)
		}
	}
	if ordered, err := s.planner.OrderPlans(plans); err == nil {
		plans = ordered
	}

	updated, err := s.snapshotSession(sessionID)
	if err != nil {
		return TrackChangesResult{}, err
	}

	return TrackChangesResult{
		Session: updated,
		Results: results,
		Plans:   plans,
		Errors:  typeFails,
	}, nil
}

// DetectEntityChanges is the session-less detection operation: compare a
// current collection against fetched previous state, store the records and
// return the changes.
func (s *Service) DetectEntityChanges(ctx context.Context, entityType string, currentData []domain.EntitySnapshot, integrationID uuid.UUID, syncCtx domain.SyncContext) (TypeResult, error) {
	return s.trackEntityType(ctx, integrationID, EntityBatch{EntityType: entityType, Entities: currentData}, syncCtx)
}

// CompleteSession finalizes an active session and computes its aggregate
// performance metrics. The session leaves the table; its id cannot be
// reused.
func (s *Service) CompleteSession(sessionID uuid.UUID) (domain.ChangeTrackingSession, error) {
	return s.finishSession(sessionID, domain.SessionCompleted)
}

// CancelSession stops further accumulation. Already-stored change records
// are not rolled back; the ledger is append-only.
func (s *Service) CancelSession(sessionID uuid.UUID) (domain.ChangeTrackingSession, error) {
	return s.finishSession(sessionID, domain.SessionCancelled)
}

// FailSession marks a session failed.
func (s *Service) FailSession(sessionID uuid.UUID) (domain.ChangeTrackingSession, error) {
	return s.finishSession(sessionID, domain.SessionFailed)
}

// ExecuteIncrementalSync hands the plan to the synchronizer, marks the
// consumed change records processed and logs the sync outcome. The plan is
// consumed exactly once and never persisted.
func (s *Service) ExecuteIncrementalSync(ctx context.Context, plan domain.IncrementalSyncPlan, syncCtx domain.SyncContext) (domain.SyncRun, error) {
	if s.sync == nil {
		return domain.SyncRun{}, fmt.Errorf("no synchronizer configured")
	}

	run := domain.SyncRun{
		ID:              uuid.New(),
		IntegrationID:   plan.IntegrationID,
		SyncID:          syncCtx.SyncID,
		EntityType:      plan.EntityType,
		PlannedEntities: len(plan.EntitiesToSync),
		Priority:        plan.Priority,
		StartedAt:       time.Now().UTC(),
	}

	outcome, syncErr := s.sync.SyncEntities(ctx, plan, syncCtx)
	run.CompletedAt = time.Now().UTC()
	run.SyncedEntities = outcome.Synced
	run.FailedEntities = outcome.Failed
	run.Success = syncErr == nil
	if syncErr != nil {
		run.ErrorMessage = syncErr.Error()
	} else if err := s.markPlanProcessed(ctx, plan); err != nil {
		log.Printf("[TRACKER] failed to mark plan records processed: %v", err)
	}

	if s.syncRuns != nil {
		if err := s.syncRuns.Record(ctx, run); err != nil {
			log.Printf("[TRACKER] failed to record sync run: %v", err)
		}
	}

	if syncErr != nil {
		return run, fmt.Errorf("incremental sync failed: %w", syncErr)
	}
	return run, nil
}

// GenerateAnalytics delegates to the configured analyzer.
func (s *Service) GenerateAnalytics(ctx context.Context, integrationID uuid.UUID, start, end time.Time) (Analytics, error) {
	return s.analyzer.Analyze(ctx, integrationID, start, end)
}

// TriggerCleanup runs one of the ledger lifecycle jobs.
func (s *Service) TriggerCleanup(ctx context.Context, cleanupType string) (any, error) {
	switch cleanupType {
	case "retention":
		return s.ledger.RetentionCleanup(ctx)
	case "compression":
		return s.ledger.CompressOldRecords(ctx)
	case "optimization":
		return nil, s.ledger.Optimize(ctx)
	default:
		return nil, &domain.ValidationError{Field: "type", Message: fmt.Sprintf("unknown cleanup type %q", cleanupType)}
	}
}

func (s *Service) trackEntityType(ctx context.Context, integrationID uuid.UUID, batch EntityBatch, syncCtx domain.SyncContext) (TypeResult, error) {
	if !domain.IsKnownEntityType(batch.EntityType) {
		return TypeResult{}, fmt.Errorf("%w: %s", domain.ErrUnknownEntityType, batch.EntityType)
	}

	snapshots, resolveErrors := s.resolveIdentities(ctx, batch.EntityType, batch.Entities)

	keys := make([]string, 0, len(snapshots))
	for _, snapshot := range snapshots {
		if key := snapshot.Key(); key != "" {
			keys = append(keys, key)
		}
	}

	loader := newStateLoader(s.states, batch.EntityType)
	previous, err := loader.LoadAll(ctx, keys)
	if err != nil {
		return TypeResult{}, fmt.Errorf("failed to fetch previous state for %s: %w", batch.EntityType, err)
	}

	meta := domain.ChangeMetadata{
		DetectedAt:      time.Now().UTC(),
		DetectionMethod: detector.DetectionMethod,
		Source:          syncCtx.ProviderID,
		CorrelationID:   syncCtx.SyncID.String(),
	}

	changes, entityErrors := s.detector.DetectBatch(batch.EntityType, snapshots, previous, meta)
	entityErrors = append(resolveErrors, entityErrors...)

	result := TypeResult{
		EntityType: batch.EntityType,
		Changes:    changes,
		Errors:     entityErrors,
	}
	if len(changes) == 0 {
		result.Stored = ledger.BatchStoreResult{Success: true}
		return result, nil
	}

	records, buildErrors := buildChangeRecords(integrationID, syncCtx, changes, snapshots, previous)
	result.Errors = append(result.Errors, buildErrors...)

	stored, _ := s.ledger.StoreBatch(ctx, records)
	result.Stored = stored

	plan, err := s.planner.GeneratePlan(integrationID, batch.EntityType, changes)
	if err != nil {
		log.Printf("[TRACKER] plan generation failed for %s: %v", batch.EntityType, err)
	} else {
		result.Plan = plan
	}

	s.dispatchNotifications(ctx, changes)

	if recorder, ok := s.states.(StateRecorder); ok {
		if err := recorder.SaveStates(ctx, batch.EntityType, snapshots); err != nil {
			log.Printf("[TRACKER] failed to persist current state for %s: %v", batch.EntityType, err)
		}
	}

	return result, nil
}

// resolveIdentities fills in missing internal ids through the external-id
// mapping service when one is configured.
func (s *Service) resolveIdentities(ctx context.Context, entityType string, snapshots []domain.EntitySnapshot) ([]domain.EntitySnapshot, []domain.EntityError) {
	if s.ids == nil {
		return snapshots, nil
	}

	resolved := make([]domain.EntitySnapshot, 0, len(snapshots))
	var entityErrors []domain.EntityError
	for _, snapshot := range snapshots {
		if snapshot.EntityID == "" && snapshot.ExternalID != "" {
			internalID, err := s.ids.ResolveInternal(ctx, entityType, snapshot.ExternalID)
			if err != nil {
				entityErrors = append(entityErrors, domain.EntityError{
					EntityID: snapshot.ExternalID,
					Message:  fmt.Sprintf("failed to resolve external id: %v", err),
					Severity: "error",
				})
				continue
			}
			snapshot.EntityID = internalID
		}
		resolved = append(resolved, snapshot)
	}
	return resolved, entityErrors
}

func (s *Service) dispatchNotifications(ctx context.Context, changes []domain.EntityChange) {
	if !s.cfg.EnableNotifications || s.notifier == nil {
		return
	}
	for _, change := range changes {
		if change.Significance.AtLeast(domain.SeverityHigh) {
			s.notifier.NotifyChange(ctx, change)
		}
	}
}

// processedScanPageSize bounds each page when scanning the unprocessed
// records behind an executed plan.
const processedScanPageSize = 500

// markPlanProcessed flags the unprocessed records behind an executed plan.
// The unprocessed set can exceed any single query page, so it is walked
// page by page before anything is marked.
func (s *Service) markPlanProcessed(ctx context.Context, plan domain.IncrementalSyncPlan) error {
	planned := make(map[string]struct{}, len(plan.EntitiesToSync))
	for _, entry := range plan.EntitiesToSync {
		planned[entry.EntityID] = struct{}{}
	}

	var ids []uuid.UUID
	offset := 0
	for {
		page, err := s.ledger.Query(ctx, domain.ChangeRecordFilter{
			IntegrationID:   &plan.IntegrationID,
			EntityType:      plan.EntityType,
			OnlyUnprocessed: true,
			Limit:           processedScanPageSize,
			Offset:          offset,
		})
		if err != nil {
			return err
		}
		for _, record := range page.Records {
			if _, ok := planned[record.EntityID]; ok {
				ids = append(ids, record.ID)
			}
		}
		if !page.HasMore || len(page.Records) == 0 {
			break
		}
		offset += len(page.Records)
	}
	return s.ledger.MarkProcessed(ctx, ids)
}

func buildChangeRecords(integrationID uuid.UUID, syncCtx domain.SyncContext, changes []domain.EntityChange, current []domain.EntitySnapshot, previous map[string]domain.EntitySnapshot) ([]domain.ChangeRecord, []domain.EntityError) {
	currentByKey := make(map[string]domain.EntitySnapshot, len(current))
	for _, snapshot := range current {
		currentByKey[snapshot.Key()] = snapshot
	}

	records := make([]domain.ChangeRecord, 0, len(changes))
	var entityErrors []domain.EntityError
	now := time.Now().UTC()

	for _, change := range changes {
		key := change.EntityID
		if key == "" {
			key = change.ExternalID
		}

		record := domain.ChangeRecord{
			ID:            uuid.New(),
			IntegrationID: integrationID,
			EntityChange:  change,
			SyncContext:   syncCtx,
			CreatedAt:     now,
		}

		if snapshot, ok := currentByKey[key]; ok {
			hash, err := snapshot.ContentHash()
			if err != nil {
				entityErrors = append(entityErrors, domain.EntityError{EntityID: key, Message: err.Error(), Severity: "error"})
				continue
			}
			record.CurrentHash = hash
		}
		if snapshot, ok := previous[key]; ok {
			hash, err := snapshot.ContentHash()
			if err != nil {
				entityErrors = append(entityErrors, domain.EntityError{EntityID: key, Message: err.Error(), Severity: "error"})
				continue
			}
			record.PreviousHash = hash
		}

		records = append(records, record)
	}

	return records, entityErrors
}

func (s *Service) activeSession(sessionID uuid.UUID) (domain.ChangeTrackingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.ChangeTrackingSession{}, domain.ErrSessionNotFound
	}
	if session.Status.Terminal() {
		return domain.ChangeTrackingSession{}, domain.ErrSessionTerminal
	}
	return *session, nil
}

func (s *Service) snapshotSession(sessionID uuid.UUID) (domain.ChangeTrackingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.ChangeTrackingSession{}, domain.ErrSessionNotFound
	}
	return *session, nil
}

// accumulate serializes session counter updates so concurrent entity-type
// workers never lose increments.
func (s *Service) accumulate(sessionID uuid.UUID, entityType string, entities, changes int, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok || session.Status.Terminal() {
		return
	}

	session.TotalChangesDetected += changes
	session.ChangesByType[entityType] += changes
	session.Metrics.EntitiesProcessed += entities
	session.Metrics.DetectionCalls++
	session.Metrics.TotalDetectionTime += elapsed
}

func (s *Service) finishSession(sessionID uuid.UUID, status domain.SessionStatus) (domain.ChangeTrackingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.ChangeTrackingSession{}, domain.ErrSessionNotFound
	}
	if session.Status.Terminal() {
		return domain.ChangeTrackingSession{}, domain.ErrSessionTerminal
	}

	now := time.Now().UTC()
	session.Status = status
	session.EndTime = &now

	elapsed := now.Sub(session.StartTime).Seconds()
	if elapsed > 0 {
		session.Metrics.EntitiesPerSecond = float64(session.Metrics.EntitiesProcessed) / elapsed
	}
	if session.Metrics.DetectionCalls > 0 {
		session.Metrics.AvgDetectionLatency = session.Metrics.TotalDetectionTime / time.Duration(session.Metrics.DetectionCalls)
	}

	final := *session
	delete(s.sessions, sessionID)

	log.Printf("[TRACKER] session %s finished with status %s (%d changes)", sessionID, status, final.TotalChangesDetected)
	return final, nil
}
