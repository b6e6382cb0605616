package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"playtrack/internal/database"
	"playtrack/internal/models"
)

func setupTestDB(t *testing.T) (*database.DB, func()) {
	tmpFile := fmt.Sprintf("test_regression_%s.db", t.Name())
	db, err := database.New(tmpFile)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	if err := db.Initialize(); err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.Remove(tmpFile)
		os.Remove(tmpFile + "-wal")
		os.Remove(tmpFile + "-shm")
	}

	return db, cleanup
}

func testSession(id string, offsetMinutes int) *models.Session {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &models.Session{
		ID:        id,
		Name:      "Build " + id,
		CreatedAt: base.Add(time.Duration(offsetMinutes) * time.Minute),
	}
}

func testFinding(id, sessionID, title string, severity models.Severity) models.Finding {
	return models.Finding{
		ID:         id,
		SessionID:  sessionID,
		Category:   "ai",
		Severity:   severity,
		Title:      title,
		Confidence: 0.9,
	}
}

func TestFirstSeenCreatesFingerprint(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	engine := NewRegressionService(db)
	ctx := context.Background()

	report, err := engine.ProcessSession(ctx, testSession("s1", 0), []models.Finding{
		testFinding("f1", "s1", "NPC crashes on death", models.SeverityHigh),
	})
	if err != nil {
		t.Fatalf("ProcessSession failed: %v", err)
	}

	if len(report.NewFindings) != 1 {
		t.Fatalf("expected 1 new finding, got %d", len(report.NewFindings))
	}
	fp := report.NewFindings[0]
	if fp.Status != models.StatusOpen {
		t.Errorf("expected status open, got %s", fp.Status)
	}
	if fp.OccurrenceCount != 1 {
		t.Errorf("expected occurrence count 1, got %d", fp.OccurrenceCount)
	}
	if fp.FirstSeenSessionID != "s1" {
		t.Errorf("expected first seen s1, got %s", fp.FirstSeenSessionID)
	}
	if fp.PeakSeverity != models.SeverityHigh {
		t.Errorf("expected peak severity high, got %s", fp.PeakSeverity)
	}
}

func TestFixDetection(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	engine := NewRegressionService(db)
	ctx := context.Background()

	if _, err := engine.ProcessSession(ctx, testSession("s1", 0), []models.Finding{
		testFinding("f1", "s1", "Null Ref!!", models.SeverityMedium),
	}); err != nil {
		t.Fatalf("ProcessSession s1 failed: %v", err)
	}

	report, err := engine.ProcessSession(ctx, testSession("s2", 10), nil)
	if err != nil {
		t.Fatalf("ProcessSession s2 failed: %v", err)
	}

	if len(report.NewlyFixed) != 1 {
		t.Fatalf("expected 1 newly fixed, got %d", len(report.NewlyFixed))
	}
	if report.NewlyFixed[0].Status != models.StatusFixed {
		t.Errorf("expected status fixed, got %s", report.NewlyFixed[0].Status)
	}
}

func TestRegressionDetection(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	engine := NewRegressionService(db)
	ctx := context.Background()

	// S1: issue appears. S2: absent, fix detected. S3: reappears with a
	// cosmetically different title.
	if _, err := engine.ProcessSession(ctx, testSession("s1", 0), []models.Finding{
		testFinding("f1", "s1", "NPC crashes on death", models.SeverityHigh),
	}); err != nil {
		t.Fatalf("ProcessSession s1 failed: %v", err)
	}
	if _, err := engine.ProcessSession(ctx, testSession("s2", 10), nil); err != nil {
		t.Fatalf("ProcessSession s2 failed: %v", err)
	}
	report, err := engine.ProcessSession(ctx, testSession("s3", 20), []models.Finding{
		testFinding("f9", "s3", "npc CRASHES on death!!", models.SeverityCritical),
	})
	if err != nil {
		t.Fatalf("ProcessSession s3 failed: %v", err)
	}

	if len(report.NewFindings) != 0 {
		t.Fatalf("reworded title must match the existing fingerprint, got %d new", len(report.NewFindings))
	}
	if len(report.Regressions) != 1 {
		t.Fatalf("expected 1 regression, got %d", len(report.Regressions))
	}

	alert := report.Regressions[0]
	if alert.BuildGap != 1 {
		t.Errorf("expected build gap 1, got %d", alert.BuildGap)
	}
	if alert.FixedSessionID != "s2" {
		t.Errorf("expected fix attributed to s2, got %s", alert.FixedSessionID)
	}
	if alert.ReappearSessionID != "s3" {
		t.Errorf("expected reappearance in s3, got %s", alert.ReappearSessionID)
	}

	fps, err := engine.GetAllFingerprints(ctx)
	if err != nil {
		t.Fatalf("GetAllFingerprints failed: %v", err)
	}
	if len(fps) != 1 {
		t.Fatalf("expected exactly one fingerprint, got %d", len(fps))
	}
	fp := fps[0]
	if fp.Status != models.StatusRegressed {
		t.Errorf("expected status regressed, got %s", fp.Status)
	}
	if fp.RegressionCount != 1 {
		t.Errorf("expected regression count 1, got %d", fp.RegressionCount)
	}
	if fp.PeakSeverity != models.SeverityCritical {
		t.Errorf("expected peak severity escalated to critical, got %s", fp.PeakSeverity)
	}
}

func TestOpenDemotionEmitsNoAlert(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	engine := NewRegressionService(db)
	ctx := context.Background()

	sessions := []*models.Session{
		testSession("s1", 0), testSession("s2", 10),
		testSession("s3", 20), testSession("s4", 30),
	}
	finding := func(sid string) []models.Finding {
		return []models.Finding{testFinding("f-"+sid, sid, "Audio cuts out", models.SeverityLow)}
	}

	// occur, fix, regress, occur again
	if _, err := engine.ProcessSession(ctx, sessions[0], finding("s1")); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.ProcessSession(ctx, sessions[1], nil); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.ProcessSession(ctx, sessions[2], finding("s3")); err != nil {
		t.Fatal(err)
	}
	report, err := engine.ProcessSession(ctx, sessions[3], finding("s4"))
	if err != nil {
		t.Fatal(err)
	}

	if len(report.Regressions) != 0 {
		t.Fatalf("continued occurrence after regression must not alert again, got %d", len(report.Regressions))
	}
	if len(report.Persistent) != 1 {
		t.Fatalf("expected 1 persistent fingerprint, got %d", len(report.Persistent))
	}
	if report.Persistent[0].Status != models.StatusOpen {
		t.Errorf("expected demotion back to open, got %s", report.Persistent[0].Status)
	}

	alerts, err := engine.GetAllAlerts(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 1 {
		t.Errorf("expected exactly 1 alert from the s3 regression, got %d", len(alerts))
	}
}

func TestReprocessingIsIdempotent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	engine := NewRegressionService(db)
	ctx := context.Background()

	session := testSession("s1", 0)
	findings := []models.Finding{
		testFinding("f1", "s1", "Texture flickers", models.SeverityLow),
	}

	if _, err := engine.ProcessSession(ctx, session, findings); err != nil {
		t.Fatal(err)
	}
	report, err := engine.ProcessSession(ctx, session, findings)
	if err != nil {
		t.Fatal(err)
	}

	if len(report.NewFindings) != 0 {
		t.Errorf("reprocessing must not create fingerprints, got %d", len(report.NewFindings))
	}

	fps, err := engine.GetAllFingerprints(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(fps) != 1 {
		t.Fatalf("expected 1 fingerprint, got %d", len(fps))
	}
	if fps[0].OccurrenceCount != 1 {
		t.Errorf("reprocessing must not double-count occurrences, got %d", fps[0].OccurrenceCount)
	}

	occs, err := engine.GetOccurrences(ctx, fps[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(occs) != 1 {
		t.Errorf("expected 1 occurrence row, got %d", len(occs))
	}
}

func TestPeakSeverityMonotonicity(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	engine := NewRegressionService(db)
	ctx := context.Background()

	severities := []models.Severity{
		models.SeverityLow, models.SeverityCritical, models.SeverityMedium,
	}
	for i, sev := range severities {
		sid := fmt.Sprintf("s%d", i+1)
		if _, err := engine.ProcessSession(ctx, testSession(sid, i*10), []models.Finding{
			testFinding("f-"+sid, sid, "Frame drop in lobby", sev),
		}); err != nil {
			t.Fatal(err)
		}
	}

	fps, err := engine.GetAllFingerprints(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(fps) != 1 {
		t.Fatalf("expected 1 fingerprint, got %d", len(fps))
	}
	if fps[0].PeakSeverity != models.SeverityCritical {
		t.Errorf("peak severity must be the maximum ever observed, got %s", fps[0].PeakSeverity)
	}
	if fps[0].OccurrenceCount != 3 {
		t.Errorf("expected 3 distinct sessions, got %d", fps[0].OccurrenceCount)
	}
}

func TestResolvedReopensAsRegression(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	engine := NewRegressionService(db)
	ctx := context.Background()

	if _, err := engine.ProcessSession(ctx, testSession("s1", 0), []models.Finding{
		testFinding("f1", "s1", "Save file corrupts", models.SeverityCritical),
	}); err != nil {
		t.Fatal(err)
	}

	fps, err := engine.GetAllFingerprints(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := engine.MarkResolved(ctx, fps[0].ID); err != nil {
		t.Fatalf("MarkResolved failed: %v", err)
	}

	report, err := engine.ProcessSession(ctx, testSession("s2", 10), []models.Finding{
		testFinding("f2", "s2", "Save file corrupts", models.SeverityCritical),
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(report.Regressions) != 1 {
		t.Fatalf("reopening a resolved issue is a regression, got %d alerts", len(report.Regressions))
	}

	fps, err = engine.GetAllFingerprints(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if fps[0].Status != models.StatusRegressed {
		t.Errorf("expected status regressed, got %s", fps[0].Status)
	}
	if fps[0].RegressionCount != 1 {
		t.Errorf("expected regression count 1, got %d", fps[0].RegressionCount)
	}
}

func TestMarkResolvedUnknownFingerprint(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	engine := NewRegressionService(db)

	if err := engine.MarkResolved(context.Background(), "nope"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDismissAlert(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	engine := NewRegressionService(db)
	ctx := context.Background()

	if _, err := engine.ProcessSession(ctx, testSession("s1", 0), []models.Finding{
		testFinding("f1", "s1", "Boss skips phase two", models.SeverityHigh),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.ProcessSession(ctx, testSession("s2", 10), nil); err != nil {
		t.Fatal(err)
	}
	report, err := engine.ProcessSession(ctx, testSession("s3", 20), []models.Finding{
		testFinding("f3", "s3", "Boss skips phase two", models.SeverityHigh),
	})
	if err != nil {
		t.Fatal(err)
	}

	active, err := engine.GetActiveAlerts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 {
		t.Fatalf("expected 1 active alert, got %d", len(active))
	}

	if err := engine.DismissAlert(ctx, report.Regressions[0].ID); err != nil {
		t.Fatalf("DismissAlert failed: %v", err)
	}

	active, err = engine.GetActiveAlerts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 0 {
		t.Errorf("expected no active alerts after dismissal, got %d", len(active))
	}

	// Dismissal does not touch the fingerprint itself
	fps, err := engine.GetAllFingerprints(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if fps[0].Status != models.StatusRegressed {
		t.Errorf("dismiss must not change fingerprint status, got %s", fps[0].Status)
	}
}

func TestEmptyTitleIsTracked(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	engine := NewRegressionService(db)
	ctx := context.Background()

	report, err := engine.ProcessSession(ctx, testSession("s1", 0), []models.Finding{
		testFinding("f1", "s1", "   ", models.SeverityLow),
	})
	if err != nil {
		t.Fatalf("whitespace-only title must not be rejected: %v", err)
	}
	if len(report.NewFindings) != 1 {
		t.Fatalf("expected 1 new finding, got %d", len(report.NewFindings))
	}
	if report.NewFindings[0].TitleStem != "" {
		t.Errorf("expected empty stem, got %q", report.NewFindings[0].TitleStem)
	}
}

func TestUnknownSeverityNormalized(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	engine := NewRegressionService(db)
	ctx := context.Background()

	report, err := engine.ProcessSession(ctx, testSession("s1", 0), []models.Finding{
		testFinding("f1", "s1", "Mystery glitch", models.Severity("catastrophic")),
	})
	if err != nil {
		t.Fatal(err)
	}
	if report.NewFindings[0].PeakSeverity != models.SeverityPositive {
		t.Errorf("unknown severity should normalize to the lowest ordinal, got %s",
			report.NewFindings[0].PeakSeverity)
	}
}

func TestRegressionStats(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	engine := NewRegressionService(db)
	ctx := context.Background()

	// Two issues in S1; one disappears in S2, comes back in S3.
	if _, err := engine.ProcessSession(ctx, testSession("s1", 0), []models.Finding{
		testFinding("f1", "s1", "Crash on load", models.SeverityCritical),
		testFinding("f2", "s1", "Typo in menu", models.SeverityLow),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.ProcessSession(ctx, testSession("s2", 10), []models.Finding{
		testFinding("f3", "s2", "Typo in menu", models.SeverityLow),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.ProcessSession(ctx, testSession("s3", 20), []models.Finding{
		testFinding("f4", "s3", "Crash on load", models.SeverityCritical),
		testFinding("f5", "s3", "Typo in menu", models.SeverityLow),
	}); err != nil {
		t.Fatal(err)
	}

	stats, err := engine.GetRegressionStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalTracked != 2 {
		t.Errorf("expected 2 tracked, got %d", stats.TotalTracked)
	}
	if stats.RegressedCount != 1 {
		t.Errorf("expected 1 regressed, got %d", stats.RegressedCount)
	}
	if stats.OpenCount != 1 {
		t.Errorf("expected 1 open, got %d", stats.OpenCount)
	}
	if stats.ActiveAlerts != 1 {
		t.Errorf("expected 1 active alert, got %d", stats.ActiveAlerts)
	}
	if stats.RegressionRate != 0.5 {
		t.Errorf("expected regression rate 0.5, got %f", stats.RegressionRate)
	}
}

func TestScenarioThreeSessions(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	engine := NewRegressionService(db)
	ctx := context.Background()

	// S1: "NPC crashes on death". S2: empty. S3: reworded reappearance.
	r1, err := engine.ProcessSession(ctx, testSession("s1", 0), []models.Finding{
		testFinding("f1", "s1", "NPC crashes on death", models.SeverityHigh),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(r1.NewFindings) != 1 || r1.NewFindings[0].Status != models.StatusOpen {
		t.Fatalf("after S1 expected one open fingerprint")
	}

	r2, err := engine.ProcessSession(ctx, testSession("s2", 10), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(r2.NewlyFixed) != 1 || r2.NewlyFixed[0].Status != models.StatusFixed {
		t.Fatalf("after S2 expected the fingerprint newly fixed")
	}

	r3, err := engine.ProcessSession(ctx, testSession("s3", 20), []models.Finding{
		testFinding("f2", "s3", "npc CRASHES on death!!", models.SeverityHigh),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(r3.Regressions) != 1 {
		t.Fatalf("after S3 expected one regression, got %d", len(r3.Regressions))
	}
	if r3.Regressions[0].BuildGap != 1 {
		t.Errorf("expected build gap 1, got %d", r3.Regressions[0].BuildGap)
	}
	if r3.Regressions[0].FingerprintID != r1.NewFindings[0].ID {
		t.Errorf("reworded title must map to the same fingerprint")
	}
}

func TestSessionChronologySeesNewSessions(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	engine := NewRegressionService(db)
	ctx := context.Background()

	if _, err := engine.ProcessSession(ctx, testSession("s1", 0), nil); err != nil {
		t.Fatal(err)
	}
	ordered, err := engine.GetSessionChronology(ctx)
	if err != nil {
		t.Fatalf("GetSessionChronology failed: %v", err)
	}
	if len(ordered) != 1 || ordered[0].ID != "s1" {
		t.Fatalf("expected [s1], got %v", ordered)
	}

	// The first read cached the ordering; a processed session must still
	// show up on the next read.
	if _, err := engine.ProcessSession(ctx, testSession("s2", 10), nil); err != nil {
		t.Fatal(err)
	}
	ordered, err = engine.GetSessionChronology(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ordered) != 2 || ordered[0].ID != "s1" || ordered[1].ID != "s2" {
		t.Fatalf("expected [s1 s2], got %v", ordered)
	}
}

func TestProcessSessionOnClosedStore(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	engine := NewRegressionService(db)

	db.Close()

	_, err := engine.ProcessSession(context.Background(), testSession("s1", 0), nil)
	if err == nil {
		t.Fatal("expected an error on a closed store")
	}
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}

// missingLookupStore reports the hash as unknown for a fixed number of
// lookups, reproducing a create that loses a unique-hash race.
type missingLookupStore struct {
	*FingerprintStore
	misses int
}

func (m *missingLookupStore) FindByHash(ctx context.Context, hash string) (*models.Fingerprint, error) {
	if m.misses > 0 {
		m.misses--
		return nil, ErrNotFound
	}
	return m.FingerprintStore.FindByHash(ctx, hash)
}

func TestMatchOrCreateRecoversFromHashConflict(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	engine := NewRegressionService(db)
	ctx := context.Background()

	finding := testFinding("f1", "s1", "NPC crashes on death", models.SeverityHigh)
	hash, stem := FindingIdentity(&finding)

	store := NewFingerprintStore(db)
	existing := &models.Fingerprint{
		ID:                 "fp-existing",
		Hash:               hash,
		Category:           finding.Category,
		TitleStem:          stem,
		FirstSeenSessionID: "s0",
		FirstSeenAt:        time.Now(),
		Status:             models.StatusOpen,
		PeakSeverity:       models.SeverityHigh,
		OccurrenceCount:    1,
	}
	if err := store.Create(ctx, existing); err != nil {
		t.Fatalf("failed to seed fingerprint: %v", err)
	}

	fp, created, err := engine.matchOrCreate(ctx, &missingLookupStore{FingerprintStore: store, misses: 1},
		testSession("s1", 0), &finding)
	if err != nil {
		t.Fatalf("matchOrCreate failed: %v", err)
	}
	if created {
		t.Error("expected the conflicting create to resolve to the existing fingerprint")
	}
	if fp.ID != "fp-existing" {
		t.Errorf("expected fingerprint fp-existing, got %s", fp.ID)
	}
}

func TestDuplicateFindingsInOneSession(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	engine := NewRegressionService(db)
	ctx := context.Background()

	report, err := engine.ProcessSession(ctx, testSession("s1", 0), []models.Finding{
		testFinding("f1", "s1", "NPC crashes on death", models.SeverityMedium),
		testFinding("f2", "s1", "NPC crashes on death", models.SeverityCritical),
	})
	if err != nil {
		t.Fatalf("ProcessSession failed: %v", err)
	}

	if len(report.NewFindings) != 1 {
		t.Fatalf("expected 1 new finding, got %d", len(report.NewFindings))
	}
	fp := report.NewFindings[0]
	if fp.PeakSeverity != models.SeverityCritical {
		t.Errorf("expected reported peak severity critical, got %s", fp.PeakSeverity)
	}
	if fp.OccurrenceCount != 1 {
		t.Errorf("expected occurrence count 1, got %d", fp.OccurrenceCount)
	}
	if len(report.Persistent) != 0 {
		t.Errorf("a fingerprint created this session must not be listed persistent, got %d", len(report.Persistent))
	}
}
