package domain

import (
	"time"
)

// PlanStatus represents the lifecycle state of a research plan
type PlanStatus string

const (
	PlanStatusCreated             PlanStatus = "created"
	PlanStatusInProgress          PlanStatus = "in_progress"
	PlanStatusCompleted           PlanStatus = "completed"
	PlanStatusCompletedWithErrors PlanStatus = "completed_with_errors"
	PlanStatusFailed              PlanStatus = "failed"
)

// SubtaskStatus represents the current state of a subtask
type SubtaskStatus string

const (
	SubtaskStatusPending    SubtaskStatus = "pending"
	SubtaskStatusInProgress SubtaskStatus = "in_progress"
	SubtaskStatusCompleted  SubtaskStatus = "completed"
	SubtaskStatusFailed     SubtaskStatus = "failed"
	SubtaskStatusCancelled  SubtaskStatus = "cancelled"
)

// Terminal reports whether the status is a terminal one.
func (s SubtaskStatus) Terminal() bool {
	return s == SubtaskStatusCompleted || s == SubtaskStatusFailed || s == SubtaskStatusCancelled
}

// Capability tags an agent with the kind of work it can execute
type Capability string

const (
	CapabilityResearch  Capability = "research"
	CapabilityEvidence  Capability = "evidence"
	CapabilitySynthesis Capability = "synthesis"
)

// TaskStatus represents the state of one subtask-to-agent assignment
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusRunning    TaskStatus = "running"
	TaskStatusCancelling TaskStatus = "cancelling"
	TaskStatusCancelled  TaskStatus = "cancelled"
	TaskStatusSucceeded  TaskStatus = "succeeded"
	TaskStatusFailed     TaskStatus = "failed"
)

// SourceType classifies where an evidence item came from
type SourceType string

const (
	SourceTypeWeb           SourceType = "web_source"
	SourceTypeAcademicPaper SourceType = "academic_paper"
	SourceTypeBook          SourceType = "book"
	SourceTypeDocumentation SourceType = "documentation"
	SourceTypeInterview     SourceType = "interview"
	SourceTypeSurvey        SourceType = "survey"
)

// QualityTier buckets evidence items by their derived quality score
type QualityTier string

const (
	TierHigh       QualityTier = "high"
	TierMedium     QualityTier = "medium"
	TierLow        QualityTier = "low"
	TierUnverified QualityTier = "unverified"
)

// RelationshipType classifies the typed edge between two evidence items
type RelationshipType string

const (
	RelationSupports    RelationshipType = "supports"
	RelationContradicts RelationshipType = "contradicts"
	RelationExtends     RelationshipType = "extends"
	RelationClarifies   RelationshipType = "clarifies"
	RelationDependsOn   RelationshipType = "depends_on"
)

// ValidRelationshipType reports whether t is one of the known edge types.
func ValidRelationshipType(t RelationshipType) bool {
	switch t {
	case RelationSupports, RelationContradicts, RelationExtends, RelationClarifies, RelationDependsOn:
		return true
	}
	return false
}

// Plan is a research goal decomposed into ordered subtasks. It is owned by a
// PlanNotebook and mutated only through notebook operations.
type Plan struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	ResearchQuery string     `json:"research_query"`
	Domain        string     `json:"domain,omitempty"`
	MaxSteps      int        `json:"max_steps"`
	Status        PlanStatus `json:"status"`
	Subtasks      []*Subtask `json:"subtasks"`
	Insights      []string   `json:"insights,omitempty"`
	Summary       string     `json:"summary,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Subtask is one unit of work within a plan, assignable to an agent.
// PlanID is a non-owning back-reference.
type Subtask struct {
	ID                 string        `json:"id"`
	PlanID             string        `json:"plan_id"`
	Title              string        `json:"title"`
	Description        string        `json:"description,omitempty"`
	WorkingPlan        string        `json:"working_plan,omitempty"`
	Status             SubtaskStatus `json:"status"`
	Priority           int           `json:"priority"`
	RequiredCapability Capability    `json:"required_capability"`
	Critical           bool          `json:"critical,omitempty"`
	StartTime          *time.Time    `json:"start_time,omitempty"`
	EndTime            *time.Time    `json:"end_time,omitempty"`
	RetryCount         int           `json:"retry_count"`
	FailureReason      string        `json:"failure_reason,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
}

// Task is the runtime binding of one subtask to one agent for one execution
// attempt. Terminal tasks are archived, never mutated again.
type Task struct {
	ID              string     `json:"id"`
	SubtaskID       string     `json:"subtask_id"`
	PlanID          string     `json:"plan_id"`
	AgentID         string     `json:"agent_id"`
	Status          TaskStatus `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	TimeoutDeadline time.Time  `json:"timeout_deadline"`
}

// EvidenceItem is a scored fact or source collected in service of a subtask.
// Items are append-only; only UsedInResponse and Tags may change after
// creation. QualityScore is always recomputed from the two input scores.
type EvidenceItem struct {
	ID              int64       `json:"id"`
	SubtaskID       string      `json:"subtask_id"`
	SourceType      SourceType  `json:"source_type"`
	Content         string      `json:"content"`
	Source          string      `json:"source,omitempty"`
	ConfidenceScore float64     `json:"confidence_score"`
	RelevanceScore  float64     `json:"relevance_score"`
	QualityScore    float64     `json:"quality_score"`
	Tier            QualityTier `json:"quality_tier"`
	CollectedBy     string      `json:"collected_by,omitempty"`
	CollectionDate  time.Time   `json:"collection_date"`
	Tags            []string    `json:"tags,omitempty"`
	UsedInResponse  bool        `json:"used_in_response,omitempty"`
}

// EvidenceDraft is the pre-validation input to the evidence chain. Relevance
// and confidence are optional: a draft without scores becomes an unverified
// item with a neutral 0.5 used for quality.
type EvidenceDraft struct {
	Content    string     `json:"content"`
	Source     string     `json:"source,omitempty"`
	SourceType SourceType `json:"source_type"`
	Relevance  *float64   `json:"relevance_score,omitempty"`
	Confidence *float64   `json:"confidence_score,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
}

// EvidenceRelationship is a typed, weakly-referenced edge between two
// evidence items. It holds ids, never live references, and tolerates
// dangling ids (pruned from view at read time).
type EvidenceRelationship struct {
	Evidence1ID int64            `json:"evidence_1_id"`
	Evidence2ID int64            `json:"evidence_2_id"`
	Type        RelationshipType `json:"relationship_type"`
	Confidence  float64          `json:"confidence"`
}

// KeyInsight is one derived insight in a synthesis
type KeyInsight struct {
	Type        string  `json:"type"` // strategic, operational, predictive
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
	Impact      string  `json:"impact"`
	EvidenceIDs []int64 `json:"evidence_ids"`
}

// Recommendation is one actionable recommendation in a synthesis
type Recommendation struct {
	Title           string   `json:"title"`
	Priority        string   `json:"priority"`
	Impact          string   `json:"impact"`
	Effort          string   `json:"effort"`
	EvidenceSupport float64  `json:"evidence_support"`
	ActionSteps     []string `json:"action_steps,omitempty"`
}

// Conclusion is one final statement in a synthesis. SupportingEvidence is
// always non-empty; conclusions without evidence are not emitted.
type Conclusion struct {
	Statement          string  `json:"statement"`
	Confidence         float64 `json:"confidence"`
	SupportingEvidence []int64 `json:"supporting_evidence"`
}

// Synthesis is the final structured output derived from a finished plan's
// evidence chain. Exactly one per plan; regeneration overwrites.
type Synthesis struct {
	ID               string           `json:"id"`
	PlanID           string           `json:"plan_id"`
	KeyInsights      []KeyInsight     `json:"key_insights"`
	Recommendations  []Recommendation `json:"recommendations"`
	Conclusions      []Conclusion     `json:"conclusions"`
	QualityScore     float64          `json:"quality_score"`
	CoverageScore    float64          `json:"coverage_score"`
	ReliabilityScore float64          `json:"reliability_score"`
	LowConfidence    bool             `json:"low_confidence,omitempty"`
	GeneratedAt      time.Time        `json:"generated_at"`
}

// Progress summarizes plan completion
type Progress struct {
	Completed  int `json:"completed"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// StepFailure identifies one non-completed subtask in a finish report
type StepFailure struct {
	SubtaskID string `json:"subtask_id"`
	Reason    string `json:"reason"`
}

// FinishReport is the user-visible outcome of a finished plan
type FinishReport struct {
	PlanID    string        `json:"plan_id"`
	Status    PlanStatus    `json:"status"`
	Summary   string        `json:"summary,omitempty"`
	Failures  []StepFailure `json:"failures,omitempty"`
	Synthesis *Synthesis    `json:"synthesis,omitempty"`
}

// EventType classifies events emitted to the EventSink
type EventType string

const (
	EventStatusUpdate  EventType = "status_update"
	EventAgentActivity EventType = "agent_activity"
	EventAlert         EventType = "alert"
)

// Event is a fire-and-forget notification about orchestration activity
type Event struct {
	Type      EventType              `json:"type"`
	PlanID    string                 `json:"plan_id,omitempty"`
	SubtaskID string                 `json:"subtask_id,omitempty"`
	AgentID   string                 `json:"agent_id,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// RetrievedDocument is one hit returned by the external retrieval service.
// Scores are optional; absent scores default to a neutral value downstream.
type RetrievedDocument struct {
	Content         string   `json:"content"`
	SourceURL       string   `json:"source_url,omitempty"`
	SourceTitle     string   `json:"source_title,omitempty"`
	RelevanceScore  *float64 `json:"relevance_score,omitempty"`
	ConfidenceScore *float64 `json:"confidence_score,omitempty"`
}
