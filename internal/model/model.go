// Package model declares the entities of the pipeline data model.
// Every mutable row is conceptually owned by the database; these structs are
// snapshots obtained inside a transaction or under a row lock, never a cache.
package model

import "time"

// TaskStatus is the state of a PipelineRunTask.
type TaskStatus string

const (
	TaskWaiting   TaskStatus = "Waiting"
	TaskScheduled TaskStatus = "Scheduled"
	TaskRunning   TaskStatus = "Running"
	TaskComplete  TaskStatus = "Complete"
	TaskFailed    TaskStatus = "Failed"
)

// transitions enumerates the arcs of the task state machine. Any
// transition not present here is rejected by the engine.
var transitions = map[TaskStatus][]TaskStatus{
	TaskWaiting:   {TaskScheduled},
	TaskScheduled: {TaskRunning},
	TaskRunning:   {TaskComplete, TaskFailed},
	TaskFailed:    {TaskWaiting},
	TaskComplete:  {TaskWaiting},
}

// CanTransition reports whether from -> to is an arc of the state machine.
func CanTransition(from, to TaskStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// OperationState is PipelineRun.operation_state.
type OperationState string

const (
	OperationReady  OperationState = "Ready"
	OperationActive OperationState = "Active"
)

// LoaderType is derived from a SourceTable's file extension.
type LoaderType string

const (
	LoaderFlat  LoaderType = "Flat"
	LoaderExcel LoaderType = "Excel"
	LoaderMDB   LoaderType = "MDB"
	LoaderDBF   LoaderType = "DBF"
)

// TaskClass distinguishes a System task (worker-executed) from a User task
// (synchronous, run inside a request handler).
type TaskClass string

const (
	ClassUser   TaskClass = "User"
	ClassSystem TaskClass = "System"
)

// StageSlot names one of PipelineRun's four nullable user slots.
type StageSlot string

const (
	SlotCollection StageSlot = "collection_user"
	SlotLoad       StageSlot = "load_user"
	SlotCheck      StageSlot = "check_user"
	SlotQA         StageSlot = "qa_user"
)

// User is an authenticated account. Created once; roles mutated only by an
// admin; never destroyed, only deactivated.
type User struct {
	UserID       int64
	Username     string
	PasswordHash string
	FullName     string
	Roles        []string
	Deactivated  bool
}

// Role is a static seed-loaded name/description pair.
type Role struct {
	Name        string
	Description string
}

// WorkflowOperation enumerates an action available to a user given their
// roles, ordered by Rank.
type WorkflowOperation struct {
	Code string
	Href string
	Role string
	Rank int
}

// PipelineRun is one instance of processing a data source through the
// workflow stages.
type PipelineRun struct {
	RunID             int64
	DataSourceID      int64
	RecordDate        time.Time
	WorkflowOperation string
	OperationState    OperationState
	CollectionUser    *string
	LoadUser          *string
	CheckUser         *string
	QAUser            *string
}

// stageSlotByWorkflowCode maps a workflow code to the PipelineRun stage slot
// a task in that workflow authorizes against. Declared statically since the
// workflow codes (collection, load, check, qa) are fixed.
var stageSlotByWorkflowCode = map[string]StageSlot{
	"collection": SlotCollection,
	"load":       SlotLoad,
	"check":      SlotCheck,
	"qa":         SlotQA,
}

// StageSlotForWorkflowCode returns the stage slot a workflow code authorizes
// against, shared by internal/engine and internal/sourcetable so both stay
// consistent with one mapping.
func StageSlotForWorkflowCode(code string) (StageSlot, bool) {
	slot, ok := stageSlotByWorkflowCode[code]
	return slot, ok
}

// SlotValue returns the current occupant of the given stage slot, or nil if
// empty.
func (r *PipelineRun) SlotValue(slot StageSlot) *string {
	switch slot {
	case SlotCollection:
		return r.CollectionUser
	case SlotLoad:
		return r.LoadUser
	case SlotCheck:
		return r.CheckUser
	case SlotQA:
		return r.QAUser
	default:
		return nil
	}
}

// PipelineRunTask is one step in a run.
type PipelineRunTask struct {
	PRTaskID      int64
	RunID         int64
	TaskID        string
	OrderIndex    int
	TaskRunning   bool
	TaskComplete  bool
	TaskStart     *time.Time
	TaskCompleted *time.Time
	TaskStatus    TaskStatus
	TaskMessage   *string
	ParentID      *int64
}

// CollectType is SourceTable.collect_type's enum.
type CollectType string

const (
	CollectTypeFull        CollectType = "Full"
	CollectTypeIncremental CollectType = "Incremental"
	CollectTypeAppend      CollectType = "Append"
)

// SourceTable is a user-declared mapping between a file (or sub-table within
// a file) and a destination database table.
type SourceTable struct {
	STOid       int64
	RunID       int64
	TableName   string
	FileID      string
	FileName    string
	LoaderType  LoaderType
	SubTable    *string
	Delimiter   *string
	Qualified   bool
	Encoding    *string
	CollectType *CollectType
	Analyze     bool
	Load        bool
	RecordCount *int64
	URL         *string
	Comments    *string
}

// SourceTableColumn is one analyzed column of a SourceTable.
type SourceTableColumn struct {
	STOid       int64
	Name        string
	Type        string
	MaxLength   int
	MinLength   int
	Label       *string
	ColumnIndex int
}

// Action is a statically declared (role, state, href, label) tuple shown to
// users in the UI based on run state.
type Action struct {
	Role  string
	State OperationState
	Href  string
	Label string
}
