// workers/roster_sync_worker.go
package workers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"padel-roster-system/models"
	"padel-roster-system/services"
	"padel-roster-system/utils"

	"github.com/gosimple/slug"
	"github.com/sirupsen/logrus"
)

// RosterSyncWorker periodically pulls the roster snapshot from the
// legacy exporter and feeds it to the reconciliation engine. The source
// is either an HTTP endpoint or a file on disk; the endpoint wins when
// both are configured.
type RosterSyncWorker struct {
	sync       *services.SyncService
	sourceURL  string
	sourcePath string
	interval   time.Duration
	archive    bool
	httpClient *http.Client
}

func NewRosterSyncWorker(sync *services.SyncService, sourceURL, sourcePath string, interval time.Duration, archive bool) *RosterSyncWorker {
	return &RosterSyncWorker{
		sync:       sync,
		sourceURL:  sourceURL,
		sourcePath: sourcePath,
		interval:   interval,
		archive:    archive,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (w *RosterSyncWorker) Start(ctx context.Context) {
	logrus.WithFields(logrus.Fields{
		"interval": w.interval,
		"source":   w.sourceDesc(),
	}).Info("[WORKER] Starting roster sync worker")
	go w.run(ctx)
}

func (w *RosterSyncWorker) run(ctx context.Context) {
	if _, err := w.RunOnce(ctx); err != nil {
		logrus.WithError(err).Warn("[WORKER] Initial sync failed")
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				logrus.WithError(err).Error("[WORKER] Sync cycle failed")
			}
		case <-ctx.Done():
			logrus.Info("[WORKER] Roster sync worker stopped")
			return
		}
	}
}

// RunOnce performs a single fetch+parse+reconcile cycle. It is also the
// backing for the manual trigger endpoint.
func (w *RosterSyncWorker) RunOnce(ctx context.Context) (*models.SyncRun, error) {
	data, ref, err := w.fetchSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot fetch failed: %w", err)
	}

	if w.archive {
		key := fmt.Sprintf("snapshots/%s-%s.json", time.Now().UTC().Format("2006-01-02T15-04-05"), slug.Make(ref))
		if err := utils.UploadSnapshotToR2(key, data); err != nil {
			// Archival is best-effort; the sync itself must not depend on it.
			logrus.WithError(err).Warn("[WORKER] Snapshot archival failed")
		}
	}

	snap, err := services.ParseSnapshot(data)
	if err != nil {
		return nil, err
	}
	return w.sync.Run(ctx, snap, ref)
}

func (w *RosterSyncWorker) fetchSnapshot(ctx context.Context) ([]byte, string, error) {
	if w.sourceURL != "" {
		data, err := w.fetchHTTP(ctx)
		return data, w.sourceURL, err
	}
	if w.sourcePath != "" {
		data, err := os.ReadFile(w.sourcePath)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read snapshot file %s: %w", w.sourcePath, err)
		}
		return data, w.sourcePath, nil
	}
	return nil, "", fmt.Errorf("no roster source configured")
}

func (w *RosterSyncWorker) fetchHTTP(ctx context.Context) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(time.Duration(attempt) * 2 * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		data, err := w.fetchHTTPOnce(ctx)
		if err == nil {
			return data, nil
		}
		lastErr = err
		logrus.WithError(err).WithField("attempt", attempt).Warn("[WORKER] Snapshot request failed")
	}
	return nil, lastErr
}

func (w *RosterSyncWorker) fetchHTTPOnce(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", w.sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request to %s: %w", w.sourceURL, err)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request to roster source failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("roster source returned %d: %s", resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot body: %w", err)
	}
	return data, nil
}

func (w *RosterSyncWorker) sourceDesc() string {
	if w.sourceURL != "" {
		return w.sourceURL
	}
	return w.sourcePath
}
