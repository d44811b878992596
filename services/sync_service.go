package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"padel-roster-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrRunInProgress guards against overlapping reconciliation runs; a
// second concurrent run would break per-tournament transactional
// atomicity.
var ErrRunInProgress = errors.New("a sync run is already in progress")

// SyncService drives the roster reconciliation: it diffs a snapshot
// against the store with per-tournament transactions, applies the
// archiving policy to tournaments that vanished from the feed, and keeps
// the SyncRun audit record.
type SyncService struct {
	DB       *gorm.DB
	Identity *IdentityService
	Pairs    *PairService

	// Trigger runs a full fetch+sync cycle; wired to the roster worker
	// in main so the manual /sync/run endpoint shares its source config.
	Trigger func(ctx context.Context) (*models.SyncRun, error)

	running atomic.Bool
}

func NewSyncService(db *gorm.DB, identity *IdentityService, pairs *PairService) *SyncService {
	return &SyncService{DB: db, Identity: identity, Pairs: pairs}
}

// runContext threads the run record and run time through the engine —
// no global mutable "current run" state.
type runContext struct {
	run     *models.SyncRun
	runTime time.Time
	seen    map[string]bool
}

// Run reconciles one snapshot. Per-tournament failures are counted and
// the run continues; storage-layer failures abort the run but leave
// already-committed tournaments intact.
func (s *SyncService) Run(ctx context.Context, snap *Snapshot, ref string) (*models.SyncRun, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer s.running.Store(false)

	runTime := time.Now().UTC()
	run := &models.SyncRun{
		ID:                 uuid.NewString(),
		StartedAt:          runTime,
		SnapshotRef:        ref,
		SourceLastUpdated:  snap.SourceLastUpdated,
		TournamentsSkipped: snap.SkippedTournaments,
		EntriesSkipped:     snap.SkippedEntries,
	}
	if err := s.DB.Create(run).Error; err != nil {
		return nil, fmt.Errorf("failed to open sync run: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"run_id":      run.ID,
		"tournaments": len(snap.Tournaments),
		"ref":         ref,
	}).Info("[SYNC] Run started")

	rc := &runContext{run: run, runTime: runTime, seen: make(map[string]bool)}

	var runErr error
	for i := range snap.Tournaments {
		st := &snap.Tournaments[i]
		// Present in the feed, so never an archiving candidate — even if
		// its own transaction fails below.
		rc.seen[st.Key()] = true

		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if err := s.reconcileTournament(rc, st); err != nil {
			run.TournamentsFailed++
			logrus.WithFields(logrus.Fields{
				"run_id":   run.ID,
				"title":    st.Title,
				"location": st.Location,
			}).WithError(err).Error("[SYNC] Tournament reconciliation failed")
			if isStorageFailure(err) {
				runErr = err
				break
			}
		}
	}

	if runErr == nil {
		runErr = s.applyRetention(ctx, rc)
	}

	finished := time.Now().UTC()
	run.FinishedAt = &finished
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := s.DB.Save(run).Error; err != nil {
		logrus.WithError(err).Error("[SYNC] Failed to finalize run record")
		if runErr == nil {
			runErr = err
		}
	}

	logrus.WithFields(logrus.Fields{
		"run_id":           run.ID,
		"entries_new":      run.EntriesNew,
		"entries_existing": run.EntriesExisting,
		"deactivated":      run.EntriesDeactivated,
		"archived":         run.TournamentsArchived,
		"deleted":          run.TournamentsDeleted,
		"failed":           run.TournamentsFailed,
	}).Info("[SYNC] Run finished")

	return run, runErr
}

// reconcileTournament applies one tournament's diff in a single
// transaction so a tournament is never left half-upserted.
func (s *SyncService) reconcileTournament(rc *runContext, st *SnapshotTournament) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		tournament, skipArchived, err := s.upsertTournament(tx, rc, st)
		if err != nil {
			return err
		}
		if skipArchived {
			// Archiving is terminal: a reappearing tournament stays
			// archived until an admin clears it.
			logrus.WithFields(logrus.Fields{
				"title":    st.Title,
				"location": st.Location,
			}).Info("[SYNC] Skipping archived tournament present in snapshot")
			return nil
		}

		touchedPlayers := make(map[string]bool)
		entryByName := make(map[string]string) // normalized raw name -> entry id

		for i := range st.Entries {
			se := &st.Entries[i]
			res, err := s.Identity.Resolve(tx, tournament, se.RawName)
			if err != nil {
				return err
			}
			switch res.Kind {
			case ResolutionSkipped:
				rc.run.EntriesSkipped++
			case ResolutionQuarantined:
				if res.CreatedPending {
					rc.run.PendingCreated++
				}
			case ResolutionLinked:
				if res.CreatedPlayer {
					rc.run.PlayersCreated++
				}
				if touchedPlayers[res.PlayerID] {
					// Duplicate name within one roster; first occurrence wins.
					continue
				}
				touchedPlayers[res.PlayerID] = true
				entry, isNew, err := s.upsertEntry(tx, tournament.ID, res.PlayerID, se, rc.runTime)
				if err != nil {
					return err
				}
				if isNew {
					rc.run.EntriesNew++
				} else {
					rc.run.EntriesExisting++
				}
				entryByName[NormalizeName(se.RawName)] = entry.ID
			}
		}

		if err := s.linkSnapshotPairs(tx, rc, st, entryByName); err != nil {
			return err
		}

		// Anything not touched this pass is gone from the roster:
		// deactivate, never delete — payment history stays queryable.
		res := tx.Model(&models.Entry{}).
			Where("tournament_id = ? AND active = ? AND last_seen_in_source < ?", tournament.ID, true, rc.runTime).
			Update("active", false)
		if res.Error != nil {
			return fmt.Errorf("failed to deactivate missing entries: %w", res.Error)
		}
		rc.run.EntriesDeactivated += int(res.RowsAffected)

		rc.run.TournamentsUpserted++
		return nil
	})
}

func (s *SyncService) upsertTournament(tx *gorm.DB, rc *runContext, st *SnapshotTournament) (*models.Tournament, bool, error) {
	var existing models.Tournament
	err := tx.Where("location = ? AND starts_at = ?", st.Location, st.StartsAt).First(&existing).Error
	if err == nil {
		if existing.Archived() {
			return nil, true, nil
		}
		updates := map[string]interface{}{
			"title":               st.Title,
			"organizer":           st.Organizer,
			"ends_at":             st.EndsAt,
			"price_rub":           st.PriceRub,
			"price_raw":           st.PriceRaw,
			"format":              st.Format,
			"source_last_updated": st.SourceLastUpdated,
			"active":              true,
			"last_seen_in_source": rc.runTime,
		}
		if err := tx.Model(&existing).Updates(updates).Error; err != nil {
			return nil, false, fmt.Errorf("failed to update tournament: %w", err)
		}
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("tournament lookup failed: %w", err)
	}

	tournament := models.Tournament{
		ID:                uuid.NewString(),
		Title:             st.Title,
		Location:          st.Location,
		Organizer:         st.Organizer,
		StartsAt:          st.StartsAt,
		EndsAt:            st.EndsAt,
		PriceRub:          st.PriceRub,
		PriceRaw:          st.PriceRaw,
		Format:            st.Format,
		Active:            true,
		FirstSeenInSource: rc.runTime,
		LastSeenInSource:  rc.runTime,
		SourceLastUpdated: st.SourceLastUpdated,
	}
	if err := tx.Create(&tournament).Error; err != nil {
		return nil, false, fmt.Errorf("failed to create tournament: %w", err)
	}
	return &tournament, false, nil
}

func (s *SyncService) upsertEntry(tx *gorm.DB, tournamentID, playerID string, se *SnapshotEntry, runTime time.Time) (*models.Entry, bool, error) {
	var existing models.Entry
	err := tx.Where("tournament_id = ? AND player_id = ?", tournamentID, playerID).First(&existing).Error
	if err == nil {
		updates := map[string]interface{}{
			"active":              true,
			"last_seen_in_source": runTime,
		}
		if se.AmountRub > 0 {
			updates["payment_amount_rub"] = se.AmountRub
		}
		// Payment only ever moves forward here: the feed can confirm a
		// payment but a stale feed never reverts one.
		if se.PaymentStatus == models.PaymentPaid && !existing.Paid() {
			updates["payment_status"] = models.PaymentPaid
			updates["paid_at"] = runTime
		}
		if err := tx.Model(&existing).Updates(updates).Error; err != nil {
			return nil, false, fmt.Errorf("failed to update entry: %w", err)
		}
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("entry lookup failed: %w", err)
	}

	entry := models.Entry{
		ID:                uuid.NewString(),
		TournamentID:      tournamentID,
		PlayerID:          playerID,
		PaymentStatus:     se.PaymentStatus,
		PaymentScope:      models.ScopeSelf,
		PaymentAmountRub:  se.AmountRub,
		Active:            true,
		FirstSeenInSource: runTime,
		LastSeenInSource:  runTime,
	}
	if se.PaymentStatus == models.PaymentPaid {
		entry.PaidAt = &runTime
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, false, fmt.Errorf("failed to create entry: %w", err)
	}
	return &entry, true, nil
}

// linkSnapshotPairs applies pair payments the feed reports: an entry paid
// with scope=pair covering a named partner.
func (s *SyncService) linkSnapshotPairs(tx *gorm.DB, rc *runContext, st *SnapshotTournament, entryByName map[string]string) error {
	for i := range st.Entries {
		se := &st.Entries[i]
		if se.PaymentStatus != models.PaymentPaid || se.PaymentScope != models.ScopePair || se.Partner == "" {
			continue
		}
		payerID := entryByName[NormalizeName(se.RawName)]
		partnerID := entryByName[NormalizeName(se.Partner)]
		if payerID == "" || partnerID == "" {
			// Partner quarantined or skipped; the link waits for a later run.
			continue
		}
		err := s.Pairs.Link(tx, payerID, partnerID)
		switch {
		case err == nil:
			rc.run.PairsLinked++
		case errors.Is(err, ErrAlreadyPaired):
			// Idempotent re-run: the link exists from an earlier pass.
		case errors.Is(err, ErrNotTeamFormat), errors.Is(err, ErrSelfPair), errors.Is(err, ErrDifferentRosters):
			logrus.WithError(err).WithField("payer", se.RawName).Warn("[SYNC] Ignoring invalid pair payment from feed")
		default:
			return err
		}
	}
	return nil
}

// applyRetention is the archiving policy: live tournaments absent from
// this snapshot are archived when they carry payment history and
// hard-deleted (with their entries) when they do not.
func (s *SyncService) applyRetention(ctx context.Context, rc *runContext) error {
	var live []models.Tournament
	if err := s.DB.Where("archived_at IS NULL").Find(&live).Error; err != nil {
		return fmt.Errorf("failed to load live tournaments: %w", err)
	}

	for i := range live {
		t := &live[i]
		if rc.seen[TournamentKey(t.Location, t.StartsAt)] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.DB.Transaction(func(tx *gorm.DB) error {
			var paidCount int64
			if err := tx.Model(&models.Entry{}).
				Where("tournament_id = ? AND (payment_status = ? OR manual_paid = ?)", t.ID, models.PaymentPaid, true).
				Count(&paidCount).Error; err != nil {
				return err
			}
			if paidCount > 0 {
				if err := tx.Model(t).Updates(map[string]interface{}{
					"archived_at": rc.runTime,
					"active":      false,
				}).Error; err != nil {
					return err
				}
				// The roster is gone from the feed with the tournament:
				// entries are retained for payment history but no longer live.
				res := tx.Model(&models.Entry{}).
					Where("tournament_id = ? AND active = ?", t.ID, true).
					Update("active", false)
				if res.Error != nil {
					return res.Error
				}
				rc.run.EntriesDeactivated += int(res.RowsAffected)
				rc.run.TournamentsArchived++
				return nil
			}
			// No financial history: the whole unit of work disappears.
			if err := tx.Where("tournament_id = ?", t.ID).Delete(&models.Entry{}).Error; err != nil {
				return err
			}
			if err := tx.Where("tournament_id = ?", t.ID).Delete(&models.PendingEntry{}).Error; err != nil {
				return err
			}
			if err := tx.Delete(t).Error; err != nil {
				return err
			}
			rc.run.TournamentsDeleted++
			return nil
		})
		if err != nil {
			rc.run.TournamentsFailed++
			logrus.WithFields(logrus.Fields{
				"title":    t.Title,
				"location": t.Location,
			}).WithError(err).Error("[SYNC] Retention pass failed for tournament")
			if isStorageFailure(err) {
				return err
			}
		}
	}
	return nil
}

// LatestRun returns the most recent run record, finished or not.
func (s *SyncService) LatestRun() (*models.SyncRun, error) {
	var run models.SyncRun
	err := s.DB.Order("started_at DESC").First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func isStorageFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// --- HTTP surface ---

// TriggerRun starts a full fetch+sync cycle on demand.
func (s *SyncService) TriggerRun(c *fiber.Ctx) error {
	if s.Trigger == nil {
		return c.Status(503).JSON(fiber.Map{"error": "no roster source configured"})
	}
	run, err := s.Trigger(c.Context())
	if err != nil {
		if errors.Is(err, ErrRunInProgress) {
			return c.Status(409).JSON(fiber.Map{"error": err.Error()})
		}
		status := 500
		body := fiber.Map{"error": err.Error()}
		if run != nil {
			// Degraded run: the record still carries partial counters.
			body["run"] = run
		}
		return c.Status(status).JSON(body)
	}
	return c.JSON(run)
}

// GetLatestRun exposes the last run's status and counters to the admin
// UI and monitoring.
func (s *SyncService) GetLatestRun(c *fiber.Ctx) error {
	run, err := s.LatestRun()
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "no sync runs recorded yet"})
		}
		logrus.WithError(err).Error("[SYNC] Failed to load latest run")
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}
	return c.JSON(run)
}

// ListRuns returns recent run records, newest first.
func (s *SyncService) ListRuns(c *fiber.Ctx) error {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	var runs []models.SyncRun
	if err := s.DB.Order("started_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		logrus.WithError(err).Error("[SYNC] Failed to list runs")
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}
	return c.JSON(fiber.Map{"runs": runs, "count": len(runs)})
}
