// Package sync implements the SyncScheduler: a single cooperative
// polling loop that pulls rows from the ERP on a per-step interval,
// dispatches them into the matching entity importer, and records a
// watermark plus an audit trail row per execution.
package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pinggolf/gestima/internal/db"
	"github.com/pinggolf/gestima/internal/erpclient"
	"github.com/pinggolf/gestima/internal/filestore"
	"github.com/pinggolf/gestima/internal/ids"
	"github.com/pinggolf/gestima/internal/importer"
	"github.com/pinggolf/gestima/internal/queue"
	"github.com/pinggolf/gestima/internal/workcenter"
)

// Step names, matching the six predefined SyncState rows.
const (
	StepParts           = "parts"
	StepMaterials       = "materials"
	StepDocuments       = "documents"
	StepOperations      = "operations"
	StepMaterialInputs  = "material_inputs"
	StepProduction      = "production"
)

const maxSyncPages = 500
const syncPageSize = 200

// Deps are the Scheduler's external collaborators.
type Deps struct {
	Queries             *db.Queries
	ERP                 *erpclient.Client
	Allocator           *ids.Allocator
	Resolver            *workcenter.Resolver
	Files               *filestore.Store
	Publisher           *queue.Manager // optional, nil disables progress events
	ActingUser          string
	TickInterval        time.Duration
	InitialLookbackDays int
}

// Scheduler runs the sync tick loop. A process-wide mutex serializes
// step execution so a manual trigger can never overlap a scheduled
// tick's run of the same or a different step.
type Scheduler struct {
	deps   Deps
	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Scheduler.
func New(deps Deps) *Scheduler {
	if deps.TickInterval <= 0 {
		deps.TickInterval = 5 * time.Second
	}
	if deps.InitialLookbackDays <= 0 {
		deps.InitialLookbackDays = 30
	}
	if deps.ActingUser == "" {
		deps.ActingUser = "sync"
	}
	return &Scheduler{deps: deps}
}

// Start seeds default step configurations if needed and launches the
// tick loop. It returns once seeding completes; the loop runs in the
// background until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.ensureDefaultSteps(ctx); err != nil {
		return fmt.Errorf("sync: seed default steps: %w", err)
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.loop(ctx)
	return nil
}

// Stop cancels the tick loop cooperatively and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	<-s.doneCh
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.deps.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs every due, enabled step. Individual step failures are
// logged, not fatal to the tick.
func (s *Scheduler) tick(ctx context.Context) {
	steps, err := s.deps.Queries.AllSyncSteps(ctx)
	if err != nil {
		slog.Error("sync: list steps failed", "error", err)
		return
	}

	for _, step := range steps {
		if !step.Enabled {
			continue
		}
		if step.LastSyncAt.Valid && time.Since(step.LastSyncAt.Time) < time.Duration(step.IntervalSeconds)*time.Second {
			continue
		}
		if err := s.RunStep(ctx, step.StepName); err != nil {
			slog.Error("sync: step failed", "step", step.StepName, "error", err)
		}
	}
}

// RunStep executes one step's fetch-dispatch-record cycle under the
// scheduler's mutex, whether invoked by the tick loop or a manual
// trigger. Manual triggers bypass the enabled/interval gating in tick
// but still acquire the same mutex, so they can never race a scheduled
// run of any step.
func (s *Scheduler) RunStep(ctx context.Context, stepName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.deps.Queries.GetSyncStateByName(ctx, stepName)
	if err != nil {
		return fmt.Errorf("get sync state %q: %w", stepName, err)
	}
	if state == nil {
		return fmt.Errorf("sync: unknown step %q", stepName)
	}

	tickStart := time.Now().UTC()
	watermark := tickStart.AddDate(0, 0, -s.deps.InitialLookbackDays)
	if state.LastSyncAt.Valid {
		watermark = state.LastSyncAt.Time
	}
	filter := buildFilter(state.FilterTemplate.String, state.DateField, watermark)

	s.publish(queue.GetSyncStepStartSubject(stepName), progressEvent{Step: stepName, Status: "started"})

	created, updated, errCount, dispatchErr := s.dispatch(ctx, *state, filter)
	durationMs := int(time.Since(tickStart).Milliseconds())

	if dispatchErr != nil {
		_ = s.deps.Queries.RecordSyncStepResult(ctx, stepName, false, tickStart, created, updated, errCount, dispatchErr.Error())
		_, _ = s.deps.Queries.CreateSyncLog(ctx, &db.SyncLog{
			StepName:     stepName,
			Status:       "error",
			FetchedCount: created + updated + errCount,
			CreatedCount: created,
			UpdatedCount: updated,
			ErrorCount:   errCount,
			DurationMs:   durationMs,
			ErrorMessage: sql.NullString{String: truncate(dispatchErr.Error(), 500), Valid: true},
			StartedAt:    tickStart,
		})
		s.publish(queue.GetSyncStepErrorSubject(stepName), progressEvent{Step: stepName, Status: "error", Error: dispatchErr.Error()})
		return dispatchErr
	}

	if err := s.deps.Queries.RecordSyncStepResult(ctx, stepName, true, tickStart, created, updated, errCount, ""); err != nil {
		return fmt.Errorf("record sync step result: %w", err)
	}
	if _, err := s.deps.Queries.CreateSyncLog(ctx, &db.SyncLog{
		StepName:     stepName,
		Status:       "success",
		FetchedCount: created + updated + errCount,
		CreatedCount: created,
		UpdatedCount: updated,
		ErrorCount:   errCount,
		DurationMs:   durationMs,
		StartedAt:    tickStart,
	}); err != nil {
		return fmt.Errorf("create sync log: %w", err)
	}

	s.publish(queue.GetSyncStepCompleteSubject(stepName), progressEvent{
		Step: stepName, Status: "complete", Created: created, Updated: updated, Errors: errCount,
	})
	return nil
}

type progressEvent struct {
	Step    string `json:"step"`
	Status  string `json:"status"`
	Created int    `json:"created,omitempty"`
	Updated int    `json:"updated,omitempty"`
	Errors  int    `json:"errors,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Scheduler) publish(subject string, event progressEvent) {
	if s.deps.Publisher == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := s.deps.Publisher.Publish(subject, payload); err != nil {
		slog.Warn("sync: publish progress event failed", "subject", subject, "error", err)
	}
}

// inforDateFormat is the filter date format Infor's IDO query language
// expects: "YYYY-MM-DD HH:MM:SS", UTC.
const inforDateFormat = "2006-01-02 15:04:05"

func buildFilter(base, dateField string, watermark time.Time) string {
	ts := watermark.UTC().Format(inforDateFormat)
	clause := fmt.Sprintf("%s >= '%s'", dateField, ts)
	if base == "" {
		return clause
	}
	return base + " AND " + clause
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func propertiesFor(state db.SyncState) []string {
	if !state.Properties.Valid || state.Properties.String == "" {
		return nil
	}
	parts := strings.Split(state.Properties.String, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// loadAll fetches every row matching filter via bookmark pagination,
// bounded to maxSyncPages as a loop guard against a misbehaving or
// looping bookmark sequence.
func (s *Scheduler) loadAll(ctx context.Context, idoName string, properties []string, filter string) ([]erpclient.Row, error) {
	var all []erpclient.Row
	bookmark := ""
	for page := 0; page < maxSyncPages; page++ {
		res, err := s.deps.ERP.LoadCollection(ctx, idoName, properties, erpclient.LoadOptions{
			Filter:    filter,
			Bookmark:  bookmark,
			RecordCap: syncPageSize,
		})
		if err != nil {
			return nil, err
		}
		all = append(all, res.Data...)
		if !res.HasMore || res.Bookmark == "" || res.Bookmark == bookmark {
			break
		}
		bookmark = res.Bookmark
	}
	return all, nil
}

// articleNumberOf reads the external item identifier Infor carries on
// routing, production, and material-consumption rows, used to group
// rows by Part before resolving and dispatching them.
func articleNumberOf(row erpclient.Row) string {
	if v, ok := row["JobItem"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func groupByArticle(rows []erpclient.Row) map[string][]erpclient.Row {
	groups := map[string][]erpclient.Row{}
	for _, row := range rows {
		article := articleNumberOf(row)
		if article == "" {
			continue
		}
		groups[article] = append(groups[article], row)
	}
	return groups
}

// dispatch routes a step's fetched rows to its entity importer(s),
// returning aggregated created/updated/error counts.
func (s *Scheduler) dispatch(ctx context.Context, state db.SyncState, filter string) (created, updated, errCount int, err error) {
	switch state.StepName {
	case StepParts:
		return s.dispatchParts(ctx, state, filter)
	case StepMaterials:
		return s.dispatchMaterials(ctx, state, filter)
	case StepOperations:
		return s.dispatchOperations(ctx, state, filter)
	case StepProduction:
		return s.dispatchProduction(ctx, state, filter)
	case StepMaterialInputs:
		return s.dispatchMaterialInputs(ctx, state, filter)
	case StepDocuments:
		return s.dispatchDocuments(ctx, state, filter)
	default:
		return 0, 0, 0, fmt.Errorf("sync: no dispatcher for step %q", state.StepName)
	}
}

// dispatchParts and dispatchMaterials: kernel preview, mark every valid
// row (including duplicate-valid ones) "update", kernel execute.
func (s *Scheduler) dispatchParts(ctx context.Context, state db.SyncState, filter string) (int, int, int, error) {
	rows, err := s.loadAll(ctx, state.IDOName, propertiesFor(state), filter)
	if err != nil {
		return 0, 0, 0, err
	}
	imp := importer.NewPartImporter(s.deps.Queries, s.deps.Allocator, s.deps.ActingUser)
	return runKernel(ctx, importer.NewKernel[*db.Part](imp), rows)
}

func (s *Scheduler) dispatchMaterials(ctx context.Context, state db.SyncState, filter string) (int, int, int, error) {
	rows, err := s.loadAll(ctx, state.IDOName, propertiesFor(state), filter)
	if err != nil {
		return 0, 0, 0, err
	}
	imp := importer.NewMaterialImporter(s.deps.Queries, s.deps.ActingUser)
	return runKernel(ctx, importer.NewKernel[*db.MaterialItem](imp), rows)
}

// dispatchOperations groups rows by external article number,
// batch-resolves Parts, and runs a fresh JobRoutingImporter per matched
// Part.
func (s *Scheduler) dispatchOperations(ctx context.Context, state db.SyncState, filter string) (int, int, int, error) {
	rows, err := s.loadAll(ctx, state.IDOName, propertiesFor(state), filter)
	if err != nil {
		return 0, 0, 0, err
	}
	groups := groupByArticle(rows)

	articles := make([]string, 0, len(groups))
	for a := range groups {
		articles = append(articles, a)
	}
	parts, err := s.deps.Queries.GetPartsByArticleNumbers(ctx, articles)
	if err != nil {
		return 0, 0, 0, err
	}

	var createdTotal, updatedTotal, errTotal int
	for article, groupRows := range groups {
		part, ok := parts[article]
		if !ok {
			errTotal += len(groupRows)
			continue
		}
		imp := importer.NewJobRoutingImporter(s.deps.Queries, s.deps.Resolver, part.ID, s.deps.ActingUser)
		c, u, e, err := runKernel(ctx, importer.NewKernel[*db.Operation](imp), groupRows)
		if err != nil {
			return createdTotal, updatedTotal, errTotal, err
		}
		createdTotal += c
		updatedTotal += u
		errTotal += e
	}
	return createdTotal, updatedTotal, errTotal, nil
}

// dispatchProduction batch-resolves Parts for every distinct article
// number present, seeds a single ProductionImporter's part lookup, and
// runs the whole fetched set through one kernel pass (ProductionImporter
// is not Part-scoped, unlike JobRoutingImporter).
func (s *Scheduler) dispatchProduction(ctx context.Context, state db.SyncState, filter string) (int, int, int, error) {
	rows, err := s.loadAll(ctx, state.IDOName, propertiesFor(state), filter)
	if err != nil {
		return 0, 0, 0, err
	}

	articleSet := map[string]bool{}
	for _, row := range rows {
		if a := articleNumberOf(row); a != "" {
			articleSet[a] = true
		}
	}
	articles := make([]string, 0, len(articleSet))
	for a := range articleSet {
		articles = append(articles, a)
	}
	parts, err := s.deps.Queries.GetPartsByArticleNumbers(ctx, articles)
	if err != nil {
		return 0, 0, 0, err
	}

	imp := importer.NewProductionImporter(s.deps.Queries, s.deps.Resolver, s.deps.ActingUser)
	for article, part := range parts {
		imp.SetPartForGroup(article, part.ID)
	}
	return runKernel(ctx, importer.NewKernel[*db.ProductionRecord](imp), rows)
}

// dispatchMaterialInputs batch-resolves Parts, MaterialItems (by code),
// and Operations (by part/seq), then runs one JobMaterialsImporter per
// matched Part so each can link consumed materials to operations.
func (s *Scheduler) dispatchMaterialInputs(ctx context.Context, state db.SyncState, filter string) (int, int, int, error) {
	rows, err := s.loadAll(ctx, state.IDOName, propertiesFor(state), filter)
	if err != nil {
		return 0, 0, 0, err
	}
	groups := groupByArticle(rows)

	articles := make([]string, 0, len(groups))
	for a := range groups {
		articles = append(articles, a)
	}
	parts, err := s.deps.Queries.GetPartsByArticleNumbers(ctx, articles)
	if err != nil {
		return 0, 0, 0, err
	}

	codeSet := map[string]bool{}
	for _, row := range rows {
		if c, ok := row["Item"].(string); ok && c != "" {
			codeSet[c] = true
		}
	}
	codes := make([]string, 0, len(codeSet))
	for c := range codeSet {
		codes = append(codes, c)
	}
	materialItems, err := s.deps.Queries.MaterialItemsByCodes(ctx, codes)
	if err != nil {
		return 0, 0, 0, err
	}

	partIDs := make([]int64, 0, len(parts))
	for _, p := range parts {
		partIDs = append(partIDs, p.ID)
	}
	opsByPart, err := s.deps.Queries.OperationsByPartSeqs(ctx, partIDs)
	if err != nil {
		return 0, 0, 0, err
	}

	var createdTotal, updatedTotal, errTotal int
	for article, groupRows := range groups {
		part, ok := parts[article]
		if !ok {
			errTotal += len(groupRows)
			continue
		}
		imp := importer.NewJobMaterialsImporter(s.deps.Queries, s.deps.Allocator, part.ID, materialItems, opsByPart[part.ID], s.deps.ActingUser)
		c, u, e, err := runKernel(ctx, importer.NewKernel[*db.MaterialInput](imp), groupRows)
		if err != nil {
			return createdTotal, updatedTotal, errTotal, err
		}
		createdTotal += c
		updatedTotal += u
		errTotal += e
	}
	return createdTotal, updatedTotal, errTotal, nil
}

// dispatchDocuments previews then executes the DocumentImporter,
// overwriting existing drawings (duplicate_action "update").
func (s *Scheduler) dispatchDocuments(ctx context.Context, state db.SyncState, filter string) (int, int, int, error) {
	imp := importer.NewDocumentImporter(s.deps.Queries, s.deps.Files)

	docs, err := imp.ListDocuments(ctx, s.deps.ERP, filter, 0)
	if err != nil {
		return 0, 0, 0, err
	}
	staged, err := imp.PreviewImport(ctx, docs)
	if err != nil {
		return 0, 0, 0, err
	}
	for i := range staged {
		if staged[i].IsValid {
			staged[i].DuplicateAction = "update"
		}
	}

	result, err := imp.ExecuteImport(ctx, staged, s.deps.ERP, s.deps.ActingUser)
	if err != nil {
		return result.Created, result.Updated, len(result.Errors) + result.Skipped, err
	}
	if len(result.Warnings) > 0 {
		slog.Warn("document sync: warnings during batch execution", "count", len(result.Warnings))
	}
	return result.Created, result.Updated, len(result.Errors) + result.Skipped, nil
}

// runKernel drives a generic importer.Kernel through a preview+execute
// pass, forcing "update" on every valid (including duplicate) row — the
// sync dispatch policy for every kernel-driven step.
func runKernel[T any](ctx context.Context, k *importer.Kernel[T], rows []erpclient.Row) (int, int, int, error) {
	preview, err := k.PreviewImport(ctx, rows)
	if err != nil {
		return 0, 0, 0, err
	}
	for i := range preview.Rows {
		if preview.Rows[i].Validation.IsValid {
			preview.Rows[i].DuplicateAction = "update"
		}
	}
	result := k.ExecuteImport(ctx, preview.Rows)
	errCount := preview.ErrorCount + len(result.Errors)
	return result.Created, result.Updated, errCount, nil
}

// ensureDefaultSteps seeds the six predefined sync steps on first
// start. Existing rows (and any operator edits to interval/enabled) are
// left untouched.
func (s *Scheduler) ensureDefaultSteps(ctx context.Context) error {
	for _, step := range defaultSteps() {
		step := step
		if err := s.deps.Queries.CreateSyncState(ctx, &step); err != nil {
			return err
		}
	}
	return nil
}

func defaultSteps() []db.SyncState {
	return []db.SyncState{
		{
			StepName:        StepParts,
			IDOName:         "SLItems",
			FilterTemplate:  sql.NullString{String: "FamilyCode = 'Výrobek'", Valid: true},
			Properties:      sql.NullString{String: "Item,Description,DrawingNbr,Revision,RybTridaNazev1,RecordDate", Valid: true},
			DateField:       "RecordDate",
			IntervalSeconds: 900,
			Enabled:         true,
		},
		{
			StepName:        StepMaterials,
			IDOName:         "SLItems",
			FilterTemplate:  sql.NullString{String: "FamilyCode = 'materiál'", Valid: true},
			Properties:      sql.NullString{String: "Item,RecordDate", Valid: true},
			DateField:       "RecordDate",
			IntervalSeconds: 900,
			Enabled:         true,
		},
		{
			StepName:        StepOperations,
			IDOName:         "SLJobRoutes",
			FilterTemplate:  sql.NullString{String: "Type = 'N'", Valid: true},
			Properties:      sql.NullString{String: "JobItem,OperNum,Wc,DerRunMchHrs,DerRunLbrHrs,JshSetupHrs,JshSchedHrs,ObsDate,RecordDate", Valid: true},
			DateField:       "RecordDate",
			IntervalSeconds: 300,
			Enabled:         true,
		},
		{
			StepName:        StepProduction,
			IDOName:         "SLJobRoutes",
			FilterTemplate:  sql.NullString{String: "Type = 'J'", Valid: true},
			Properties:      sql.NullString{String: "Job,JobItem,Wc,OperNum,JobQtyReleased,DerRunMchHrs,DerRunLbrHrs,JshSetupHrs,DerRunMchHrsT,DerRunLbrHrsT,SetupHrsT,ObsDate,RecordDate", Valid: true},
			DateField:       "RecordDate",
			IntervalSeconds: 300,
			Enabled:         true,
		},
		{
			StepName:        StepMaterialInputs,
			IDOName:         "SLJobMaterials",
			FilterTemplate:  sql.NullString{String: "", Valid: false},
			Properties:      sql.NullString{String: "JobItem,Item,OperNum,MatlQtyConv,UM,RecordDate", Valid: true},
			DateField:       "RecordDate",
			IntervalSeconds: 300,
			Enabled:         true,
		},
		{
			StepName:        StepDocuments,
			IDOName:         "SLDocumentObjects_Exts",
			FilterTemplate:  sql.NullString{String: "DocumentType IN ('Výkres-platný', 'PDF', 'Výkres')", Valid: true},
			Properties:      sql.NullString{String: "DocumentName,DocumentExtension,DocumentType,RowPointer,Sequence,Description,StorageMethod,RecordDate", Valid: true},
			DateField:       "RecordDate",
			IntervalSeconds: 1800,
			Enabled:         true,
		},
	}
}
