// Package finalize turns a finished crawl's raw output into the exported
// bundle: deduplicated pages.jsonl, summary.json, the knowledge-base
// directory, and artifact records.
package finalize

import (
	"bufio"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"skrapp/internal/metrics"
	"skrapp/internal/model"
	"skrapp/internal/store"
)

// Well-known file names inside a job directory.
const (
	RawPagesFile   = "pages.raw.jsonl"
	FinalPagesFile = "pages.jsonl"
	SummaryFile    = "summary.json"
	EvidenceFile   = "blocking_evidence.json"
	RunnerLogFile  = "runner.log"
	KBDir          = "kb"
)

// checksums are skipped for artifacts beyond this size.
const maxChecksumBytes = 100 << 20

// JobDir returns the output directory for a job.
func JobDir(dataDir, jobID string) string {
	return filepath.Join(dataDir, "jobs", jobID)
}

// Finalizer drives the export of one job.
type Finalizer struct {
	store   *store.Store
	dataDir string
	logger  *slog.Logger
}

func New(st *store.Store, dataDir string, logger *slog.Logger) *Finalizer {
	return &Finalizer{store: st, dataDir: dataDir, logger: logger}
}

// Run finalizes a job from the running or cancelled state. Cancelled jobs
// get a partial export of whatever was fetched. On any export failure the
// job is marked failed and the raw file is preserved for inspection.
func (f *Finalizer) Run(ctx context.Context, job *model.Job) error {
	fromCancelled := job.State == model.StateCancelled

	if !fromCancelled {
		ok, err := f.store.Transition(ctx, job.ID, model.StateFinalizing, store.JobUpdate{}, model.StateRunning)
		if err != nil {
			return err
		}
		if !ok {
			// someone else moved the job; nothing to do
			return nil
		}
	}

	exported, err := f.export(ctx, job)
	if err != nil {
		f.logger.Error("finalization failed", "job_id", job.ID, "error", err)
		f.fail(ctx, job, fromCancelled, err)
		return err
	}

	from := model.StateFinalizing
	if fromCancelled {
		from = model.StateCancelled
	}
	ok, err := f.store.Transition(ctx, job.ID, model.StateDone, store.JobUpdate{
		PagesExported: &exported,
		FinishedNow:   true,
	}, from)
	if err != nil {
		return err
	}
	if ok {
		if err := f.store.ReleaseIPForJob(ctx, job.ID); err != nil {
			f.logger.Warn("ip release failed", "job_id", job.ID, "error", err)
		}
		f.store.InsertEvent(ctx, job.ID, model.EventInfo, model.EventFinalize,
			map[string]any{"pages_exported": exported, "partial": fromCancelled})
		metrics.RecordPages(job.PagesFetched, exported)
	}
	return nil
}

func (f *Finalizer) fail(ctx context.Context, job *model.Job, fromCancelled bool, cause error) {
	lastErr := &model.LastError{Reason: model.ReasonFinalizationFailed, Message: cause.Error()}
	from := []string{model.StateFinalizing, model.StateRunning}
	if fromCancelled {
		// cancelled jobs have no failed edge; leave them cancelled but do
		// not hold the requester's concurrency slot across retries
		f.store.InsertEvent(ctx, job.ID, model.EventError, model.EventErrorType,
			map[string]any{"reason": model.ReasonFinalizationFailed, "message": cause.Error()})
		if err := f.store.ReleaseIPForJob(ctx, job.ID); err != nil {
			f.logger.Warn("ip release failed", "job_id", job.ID, "error", err)
		}
		return
	}
	if _, err := f.store.Transition(ctx, job.ID, model.StateFailed, store.JobUpdate{
		LastError:   lastErr,
		FinishedNow: true,
	}, from...); err != nil {
		f.logger.Error("failed-state transition error", "job_id", job.ID, "error", err)
		return
	}
	if err := f.store.ReleaseIPForJob(ctx, job.ID); err != nil {
		f.logger.Warn("ip release failed", "job_id", job.ID, "error", err)
	}
}

// export writes the final bundle and returns the exported page count.
func (f *Finalizer) export(ctx context.Context, job *model.Job) (int, error) {
	dir := JobDir(f.dataDir, job.ID)

	records, err := ReadRecords(filepath.Join(dir, RawPagesFile))
	if err != nil {
		return 0, fmt.Errorf("read raw pages: %w", err)
	}

	final := Dedup(records)
	duplicatesRemoved := len(records) - len(final)

	if err := writeJSONL(filepath.Join(dir, FinalPagesFile), final); err != nil {
		return 0, fmt.Errorf("write final pages: %w", err)
	}

	exported := make([]model.PageRecord, 0, len(final))
	for _, rec := range final {
		if rec.QualityPassed {
			exported = append(exported, rec)
		}
	}

	if err := WriteKB(dir, job.ID, exported); err != nil {
		return 0, fmt.Errorf("write kb bundle: %w", err)
	}

	summary := BuildSummary(job, records, final, len(exported), duplicatesRemoved)
	if err := writeJSON(filepath.Join(dir, SummaryFile), summary); err != nil {
		return 0, fmt.Errorf("write summary: %w", err)
	}

	f.registerArtifacts(ctx, job.ID, dir)

	return len(exported), nil
}

func (f *Finalizer) registerArtifacts(ctx context.Context, jobID, dir string) {
	files := []struct {
		kind string
		name string
	}{
		{model.ArtifactPagesRawJSONL, RawPagesFile},
		{model.ArtifactPagesJSONL, FinalPagesFile},
		{model.ArtifactSummaryJSON, SummaryFile},
		{model.ArtifactRunnerLog, RunnerLogFile},
	}

	for _, file := range files {
		path := filepath.Join(dir, file.name)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}

		artifact := model.Artifact{
			JobID:    jobID,
			Kind:     file.kind,
			Path:     path,
			ByteSize: info.Size(),
		}
		if info.Size() < maxChecksumBytes {
			if sum, err := fileSHA256(path); err == nil {
				artifact.SHA256 = sql.NullString{String: sum, Valid: true}
			}
		}
		if err := f.store.CreateArtifact(ctx, artifact); err != nil {
			f.logger.Warn("artifact registration failed", "job_id", jobID, "path", path, "error", err)
		}
	}
}

// Dedup keeps one record per canonical URL. The record content is the last
// one seen (later fetches supersede earlier ones) while the output order
// follows first appearance.
func Dedup(records []model.PageRecord) []model.PageRecord {
	index := make(map[string]int, len(records))
	var order []string

	for _, rec := range records {
		key := rec.CanonicalURL
		if key == "" {
			key = rec.URL
		}
		if _, ok := index[key]; !ok {
			order = append(order, key)
		}
		index[key] = -1
	}

	latest := make(map[string]model.PageRecord, len(index))
	for _, rec := range records {
		key := rec.CanonicalURL
		if key == "" {
			key = rec.URL
		}
		latest[key] = rec
	}

	out := make([]model.PageRecord, 0, len(order))
	for _, key := range order {
		out = append(out, latest[key])
	}
	return out
}

// ReadRecords loads a JSONL page file. A missing file is an empty crawl,
// not an error.
func ReadRecords(path string) ([]model.PageRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// crawls can legitimately produce nothing
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var records []model.PageRecord
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec model.PageRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}

func writeJSONL(path string, records []model.PageRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return w.Flush()
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func fileSHA256(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
