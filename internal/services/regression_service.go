package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"playtrack/internal/database"
	"playtrack/internal/identity"
	"playtrack/internal/models"
)

// FindingIdentity derives the content hash and title stem that define a
// finding's durable identity.
func FindingIdentity(f *models.Finding) (hash, stem string) {
	stem = identity.Stem(f.Title)
	return identity.Hash(f.Category, stem, f.RelatedModule), stem
}

// fingerprintMatcher is the slice of the fingerprint store used to match
// a finding to its durable fingerprint.
type fingerprintMatcher interface {
	FindByHash(ctx context.Context, hash string) (*models.Fingerprint, error)
	Create(ctx context.Context, fp *models.Fingerprint) error
}

// AlertSink receives regression alerts after they are durably committed.
// Implementations must not block; delivery is best effort and never
// affects the processing result.
type AlertSink interface {
	PublishAlert(ctx context.Context, alert *models.RegressionAlert)
}

// RegressionService is the lifecycle engine: it ingests one completed
// session's findings, assigns each a stable content-derived identity,
// walks the fingerprint state machine and emits regression alerts. All
// mutation of the fingerprint store and occurrence ledger goes through
// this single entry point.
type RegressionService struct {
	db           *database.DB
	sessions     *SessionStore
	fingerprints *FingerprintStore
	occurrences  *OccurrenceStore
	alerts       *AlertStore
	chrono       *Chronology
	metrics      *Metrics
	sink         AlertSink

	// Serializes ProcessSession calls: concurrent sessions could race on
	// find-then-create for the same hash and read a chronology that is
	// missing the other session.
	mu sync.Mutex
}

// NewRegressionService creates the lifecycle engine
func NewRegressionService(db *database.DB) *RegressionService {
	return &RegressionService{
		db:           db,
		sessions:     NewSessionStore(db),
		fingerprints: NewFingerprintStore(db),
		occurrences:  NewOccurrenceStore(db),
		alerts:       NewAlertStore(db),
		chrono:       NewChronology(NewSessionStore(db)),
	}
}

// SetMetrics attaches Prometheus metrics
func (s *RegressionService) SetMetrics(m *Metrics) {
	s.metrics = m
}

// SetAlertSink attaches a post-commit alert publisher
func (s *RegressionService) SetAlertSink(sink AlertSink) {
	s.sink = sink
}

// ProcessSession ingests one completed session and its findings, updating
// every touched fingerprint inside a single transaction. The call either
// fully commits and returns a report, or fully fails with no partial
// writes; the idempotent occurrence ledger makes retries with the same
// inputs safe.
func (s *RegressionService) ProcessSession(ctx context.Context, session *models.Session, findings []models.Finding) (*models.RegressionReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()

	report := &models.RegressionReport{
		SessionID:   session.ID,
		SessionName: session.Name,
		GeneratedAt: time.Now(),
		NewFindings: []models.Fingerprint{},
		Regressions: []models.RegressionAlert{},
		Persistent:  []models.Fingerprint{},
		NewlyFixed:  []models.Fingerprint{},
	}

	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		return s.processInTx(ctx, tx, session, findings, report)
	})
	if err != nil {
		return nil, err
	}

	s.chrono.Invalidate()

	if s.metrics != nil {
		s.metrics.ObserveSession(report, time.Since(start))
	}
	if s.sink != nil {
		for i := range report.Regressions {
			s.sink.PublishAlert(ctx, &report.Regressions[i])
		}
	}

	log.Printf("📊 [REGRESSION] Processed session %s (%s): %d new, %d regressed, %d persistent, %d fixed",
		session.ID, session.Name, len(report.NewFindings), len(report.Regressions),
		len(report.Persistent), len(report.NewlyFixed))

	return report, nil
}

func (s *RegressionService) processInTx(ctx context.Context, tx *sql.Tx, session *models.Session, findings []models.Finding, report *models.RegressionReport) error {
	sessions := s.sessions.WithTx(tx)
	fingerprints := s.fingerprints.WithTx(tx)
	occurrences := s.occurrences.WithTx(tx)
	alerts := s.alerts.WithTx(tx)

	if err := sessions.Upsert(ctx, session); err != nil {
		return err
	}

	// Ordered from the transaction snapshot, so the current session is
	// already visible for build-gap computation.
	ordered, err := sessions.ListAll(ctx)
	if err != nil {
		return err
	}

	currentHashes := make(map[string]bool, len(findings))
	createdThisCall := make(map[string]bool)
	persistentByID := make(map[string]bool)

	for i := range findings {
		finding := &findings[i]
		finding.Severity = models.NormalizeSeverity(finding.Severity)

		fp, created, err := s.matchOrCreate(ctx, fingerprints, session, finding)
		if err != nil {
			return err
		}
		currentHashes[fp.Hash] = true

		if err := occurrences.Append(ctx, fp.ID, session.ID, finding); err != nil {
			return err
		}

		if created {
			createdThisCall[fp.ID] = true
			report.NewFindings = append(report.NewFindings, *fp)
			continue
		}

		count, err := occurrences.CountDistinctSessions(ctx, fp.ID)
		if err != nil {
			return err
		}
		fp.OccurrenceCount = count
		fp.PeakSeverity = models.MaxSeverity(fp.PeakSeverity, finding.Severity)

		next, isRegression := models.NextStatusOnOccurrence(fp.Status)
		if isRegression {
			fp.RegressionCount++

			alert, err := s.buildAlert(ctx, occurrences, fp, session, finding, ordered)
			if err != nil {
				return err
			}
			if err := alerts.Create(ctx, alert); err != nil {
				return err
			}
			report.Regressions = append(report.Regressions, *alert)
		} else if next == models.StatusOpen && !createdThisCall[fp.ID] && !persistentByID[fp.ID] {
			persistentByID[fp.ID] = true
		}
		fp.Status = next

		if err := fingerprints.UpdateStatusAndCounters(ctx, fp.ID, fp.Status,
			fp.PeakSeverity, fp.OccurrenceCount, fp.RegressionCount); err != nil {
			return err
		}

		if persistentByID[fp.ID] {
			s.replaceOrAppend(&report.Persistent, *fp)
		} else if createdThisCall[fp.ID] {
			// A duplicate finding in the same session can escalate a
			// fingerprint created moments ago; keep the report copy current.
			s.replaceOrAppend(&report.NewFindings, *fp)
		}
	}

	// Every active fingerprint absent from this session silently
	// disappeared: transition to fixed.
	active, err := fingerprints.ListByStatus(ctx, models.StatusOpen, models.StatusRegressed)
	if err != nil {
		return err
	}
	for _, fp := range active {
		if currentHashes[fp.Hash] {
			continue
		}
		if !models.CanTransition(fp.Status, models.StatusFixed) {
			continue
		}
		fp.Status = models.StatusFixed
		if err := fingerprints.UpdateStatusAndCounters(ctx, fp.ID, fp.Status,
			fp.PeakSeverity, fp.OccurrenceCount, fp.RegressionCount); err != nil {
			return err
		}
		report.NewlyFixed = append(report.NewlyFixed, fp)
	}

	if err := sessions.MarkProcessed(ctx, session.ID, time.Now()); err != nil {
		return err
	}

	stats, err := s.statsInTx(ctx, fingerprints, alerts)
	if err != nil {
		return err
	}
	report.Stats = *stats
	return nil
}

// matchOrCreate looks up the fingerprint for a finding's identity hash,
// creating it on first sight. A unique-hash conflict from a concurrent
// create is retried as a lookup, never surfaced.
func (s *RegressionService) matchOrCreate(ctx context.Context, fingerprints fingerprintMatcher, session *models.Session, finding *models.Finding) (*models.Fingerprint, bool, error) {
	hash, stem := FindingIdentity(finding)

	fp, err := fingerprints.FindByHash(ctx, hash)
	if err == nil {
		return fp, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	fp = &models.Fingerprint{
		ID:                 uuid.NewString(),
		Hash:               hash,
		Category:           finding.Category,
		TitleStem:          stem,
		RelatedModule:      finding.RelatedModule,
		FirstSeenSessionID: session.ID,
		FirstSeenAt:        time.Now(),
		Status:             models.StatusOpen,
		PeakSeverity:       finding.Severity,
		OccurrenceCount:    1,
		RegressionCount:    0,
	}
	if err := fingerprints.Create(ctx, fp); err != nil {
		if errors.Is(err, ErrConflictRetryable) {
			existing, findErr := fingerprints.FindByHash(ctx, hash)
			if findErr != nil {
				return nil, false, fmt.Errorf("failed to resolve hash conflict: %w", findErr)
			}
			return existing, false, nil
		}
		return nil, false, err
	}
	return fp, true, nil
}

// buildAlert assembles the regression alert for a fixed or resolved
// fingerprint that just reappeared. The fix is attributed to the session
// immediately after the last recorded occurrence in chronological order;
// buildGap counts sessions from there to the reappearance.
func (s *RegressionService) buildAlert(ctx context.Context, occurrences *OccurrenceStore, fp *models.Fingerprint, session *models.Session, finding *models.Finding, ordered []models.Session) (*models.RegressionAlert, error) {
	occurred, err := occurrences.SessionsWithOccurrence(ctx, fp.ID)
	if err != nil {
		return nil, err
	}

	currentIdx := IndexOf(session.ID, ordered)

	// Fallback to the current session if no prior occurrence is on
	// record; should not happen with correct data.
	fixedSession := *session
	buildGap := 0

	lastOccID := LastSessionWithOccurrence(fp.ID, session.ID, ordered, occurred)
	if lastOccID != "" && currentIdx >= 0 {
		fixedIdx := IndexOf(lastOccID, ordered) + 1
		if fixedIdx > currentIdx {
			fixedIdx = currentIdx
		}
		fixedSession = ordered[fixedIdx]
		buildGap = currentIdx - fixedIdx
	}

	return &models.RegressionAlert{
		ID:                  uuid.NewString(),
		FingerprintID:       fp.ID,
		FixedSessionID:      fixedSession.ID,
		FixedSessionName:    fixedSession.Name,
		ReappearSessionID:   session.ID,
		ReappearSessionName: session.Name,
		Category:            fp.Category,
		Severity:            finding.Severity,
		Title:               finding.Title,
		BuildGap:            buildGap,
		Dismissed:           false,
		CreatedAt:           time.Now(),
	}, nil
}

func (s *RegressionService) replaceOrAppend(list *[]models.Fingerprint, fp models.Fingerprint) {
	for i := range *list {
		if (*list)[i].ID == fp.ID {
			(*list)[i] = fp
			return
		}
	}
	*list = append(*list, fp)
}

// MarkResolved forces a fingerprint to the terminal, user-acknowledged
// resolved state. Counters are unchanged; a later occurrence reopens it as
// a regression.
func (s *RegressionService) MarkResolved(ctx context.Context, fingerprintID string) error {
	if err := s.fingerprints.MarkResolved(ctx, fingerprintID); err != nil {
		return err
	}
	log.Printf("✅ [REGRESSION] Fingerprint %s marked resolved", fingerprintID)
	return nil
}

// DismissAlert marks an alert dismissed; the fingerprint state is
// unaffected
func (s *RegressionService) DismissAlert(ctx context.Context, alertID string) error {
	return s.alerts.Dismiss(ctx, alertID)
}

// GetActiveAlerts returns non-dismissed alerts, newest first
func (s *RegressionService) GetActiveAlerts(ctx context.Context) ([]models.RegressionAlert, error) {
	return s.alerts.ListActive(ctx)
}

// GetAllAlerts returns up to limit alerts, newest first
func (s *RegressionService) GetAllAlerts(ctx context.Context, limit int) ([]models.RegressionAlert, error) {
	return s.alerts.ListAll(ctx, limit)
}

// GetSessionChronology returns every known session oldest first, from
// the cached ordering. ProcessSession invalidates the cache, so a freshly
// ingested session is visible immediately.
func (s *RegressionService) GetSessionChronology(ctx context.Context) ([]models.Session, error) {
	return s.chrono.Ordered(ctx)
}

// GetAllFingerprints returns every tracked issue, most chronically
// unstable first
func (s *RegressionService) GetAllFingerprints(ctx context.Context) ([]models.Fingerprint, error) {
	return s.fingerprints.ListAll(ctx)
}

// GetOccurrences returns the evidentiary trail for one fingerprint
func (s *RegressionService) GetOccurrences(ctx context.Context, fingerprintID string) ([]models.Occurrence, error) {
	if _, err := s.fingerprints.GetByID(ctx, fingerprintID); err != nil {
		return nil, err
	}
	return s.occurrences.ListByFingerprint(ctx, fingerprintID)
}

// GetRegressionStats aggregates counters across the entire store
func (s *RegressionService) GetRegressionStats(ctx context.Context) (*models.RegressionStats, error) {
	return s.statsInTx(ctx, s.fingerprints, s.alerts)
}

func (s *RegressionService) statsInTx(ctx context.Context, fingerprints *FingerprintStore, alerts *AlertStore) (*models.RegressionStats, error) {
	counts, err := fingerprints.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	activeAlerts, err := alerts.CountActive(ctx)
	if err != nil {
		return nil, err
	}

	stats := &models.RegressionStats{
		OpenCount:      counts[models.StatusOpen],
		FixedCount:     counts[models.StatusFixed],
		RegressedCount: counts[models.StatusRegressed],
		ResolvedCount:  counts[models.StatusResolved],
		ActiveAlerts:   activeAlerts,
	}
	stats.TotalTracked = stats.OpenCount + stats.FixedCount + stats.RegressedCount + stats.ResolvedCount
	if stats.TotalTracked > 0 {
		stats.RegressionRate = float64(stats.RegressedCount) / float64(stats.TotalTracked)
	}
	return stats, nil
}
