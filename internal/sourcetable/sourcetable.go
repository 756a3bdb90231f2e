// Package sourcetable implements source-table management: the
// four CRUD operations over SourceTable, parameterized by a loose string map
// of form values exactly as an HTTP form or query string would deliver them.
package sourcetable

import (
	"context"
	"strconv"
	"strings"

	"github.com/malbeclabs/pipelinehub/internal/apierr"
	"github.com/malbeclabs/pipelinehub/internal/auth"
	"github.com/malbeclabs/pipelinehub/internal/model"
	"github.com/malbeclabs/pipelinehub/internal/store"
)

// Service exposes the four source-table operations over an explicit store
// handle.
type Service struct {
	store *store.Store
}

// New constructs a Service.
func New(st *store.Store) *Service {
	return &Service{store: st}
}

// List returns every source table declared for runID. Read-only, no
// ownership check beyond what the caller's route already enforces.
func (s *Service) List(ctx context.Context, runID int64) ([]model.SourceTable, error) {
	return s.store.SourceTables.ListByRun(ctx, runID)
}

// Create handles an INSERT: extract run_id,
// authorize, translate fields, insert.
func (s *Service) Create(ctx context.Context, principal auth.Principal, form map[string]string) (int64, int64, error) {
	runID, err := requiredInt64(form, "run_id")
	if err != nil {
		return 0, 0, err
	}
	if err := s.checkUserRun(ctx, runID, principal); err != nil {
		return 0, 0, err
	}
	t, err := translate(form)
	if err != nil {
		return 0, 0, err
	}
	t.RunID = runID
	id, err := s.store.SourceTables.Insert(ctx, t)
	if err != nil {
		return 0, 0, err
	}
	return id, 1, nil
}

// Update handles an UPDATE: extract run_id
// and st_oid, authorize, translate fields, update.
func (s *Service) Update(ctx context.Context, principal auth.Principal, form map[string]string) (int64, int64, error) {
	runID, err := requiredInt64(form, "run_id")
	if err != nil {
		return 0, 0, err
	}
	stOid, err := requiredInt64(form, "st_oid")
	if err != nil {
		return 0, 0, err
	}
	if err := s.checkUserRun(ctx, runID, principal); err != nil {
		return 0, 0, err
	}
	t, err := translate(form)
	if err != nil {
		return 0, 0, err
	}
	t.STOid = stOid
	t.RunID = runID
	affected, err := s.store.SourceTables.Update(ctx, t)
	if err != nil {
		return 0, 0, err
	}
	return stOid, affected, nil
}

// Delete handles a DELETE: extract run_id
// and st_oid, authorize, delete.
func (s *Service) Delete(ctx context.Context, principal auth.Principal, form map[string]string) (int64, int64, error) {
	runID, err := requiredInt64(form, "run_id")
	if err != nil {
		return 0, 0, err
	}
	stOid, err := requiredInt64(form, "st_oid")
	if err != nil {
		return 0, 0, err
	}
	if err := s.checkUserRun(ctx, runID, principal); err != nil {
		return 0, 0, err
	}
	affected, err := s.store.SourceTables.Delete(ctx, stOid)
	if err != nil {
		return 0, 0, err
	}
	return stOid, affected, nil
}

// checkUserRun confirms principal owns run's current stage slot (admin
// bypass).
func (s *Service) checkUserRun(ctx context.Context, runID int64, principal auth.Principal) error {
	run, err := s.store.Runs.GetByID(ctx, runID)
	if err != nil {
		return err
	}
	slot, ok := model.StageSlotForWorkflowCode(run.WorkflowOperation)
	if !ok {
		return apierr.BadRequest("unknown workflow code %q", run.WorkflowOperation)
	}
	if !store.Owns(run, slot, principal.Username, principal.IsAdmin) {
		return apierr.Unauthorized("user %q does not own the %q stage of run %d", principal.Username, run.WorkflowOperation, runID)
	}
	return nil
}

// extensionLoaderType derives loader_type from a file name's extension.
func extensionLoaderType(fileName string) (model.LoaderType, error) {
	lower := strings.ToLower(fileName)
	switch {
	case strings.HasSuffix(lower, ".csv"), strings.HasSuffix(lower, ".txt"):
		return model.LoaderFlat, nil
	case strings.HasSuffix(lower, ".xls"), strings.HasSuffix(lower, ".xlsx"):
		return model.LoaderExcel, nil
	case strings.HasSuffix(lower, ".mdb"), strings.HasSuffix(lower, ".accdb"):
		return model.LoaderMDB, nil
	case strings.HasSuffix(lower, ".dbf"):
		return model.LoaderDBF, nil
	default:
		return "", apierr.BadRequest("file name %q has no recognized extension", fileName)
	}
}

// translate applies the per-field rules to form,
// producing a SourceTable with every CRUD-relevant field populated except
// RunID/STOid (set by the caller after authorization).
func translate(form map[string]string) (*model.SourceTable, error) {
	t := &model.SourceTable{}

	t.TableName = strings.TrimSpace(form["table_name"])
	if t.TableName == "" {
		return nil, apierr.BadRequest("table_name is required")
	}

	t.FileID = strings.TrimSpace(form["file_id"])
	if t.FileID == "" {
		return nil, apierr.BadRequest("file_id is required")
	}

	fileName := strings.TrimSpace(form["file_name"])
	if fileName == "" {
		return nil, apierr.BadRequest("file_name is required")
	}
	t.FileName = fileName
	loaderType, err := extensionLoaderType(fileName)
	if err != nil {
		return nil, err
	}
	t.LoaderType = loaderType

	subTable := nullIfBlank(form["sub_table"])
	if (loaderType == model.LoaderExcel || loaderType == model.LoaderMDB) && subTable == nil {
		return nil, apierr.BadRequest("Sub Table must be not null")
	}
	t.SubTable = subTable

	t.Delimiter = nullIfBlank(form["delimiter"])
	if loaderType == model.LoaderFlat && t.Delimiter == nil {
		return nil, apierr.BadRequest("delimiter is required for Flat files")
	}
	if t.Delimiter != nil && len(*t.Delimiter) != 1 {
		return nil, apierr.BadRequest("delimiter must be a single character")
	}

	t.URL = nullIfBlank(form["url"])
	t.Comments = nullIfBlank(form["comments"])
	t.Encoding = nullIfBlank(form["encoding"])

	if raw, ok := form["collect_type"]; ok && strings.TrimSpace(raw) != "" {
		ct, err := parseCollectType(raw)
		if err != nil {
			return nil, err
		}
		t.CollectType = ct
	}

	t.Qualified = form["qualified"] == "on"
	t.Analyze = form["analyze"] == "on"
	t.Load = form["load"] == "on"

	return t, nil
}

func parseCollectType(raw string) (*model.CollectType, error) {
	switch model.CollectType(raw) {
	case model.CollectTypeFull, model.CollectTypeIncremental, model.CollectTypeAppend:
		ct := model.CollectType(raw)
		return &ct, nil
	default:
		return nil, apierr.BadRequest("unknown collect_type %q", raw)
	}
}

func nullIfBlank(v string) *string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return &v
}

func requiredInt64(form map[string]string, key string) (int64, error) {
	raw, ok := form[key]
	if !ok || strings.TrimSpace(raw) == "" {
		return 0, apierr.BadRequest("%s is required", key)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apierr.BadRequest("%s must be numeric", key)
	}
	return v, nil
}
