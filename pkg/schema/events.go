package schema

// Event type constants published on the event bus. Every one of these is also
// appended to the per-correlation replay log.
const (
	EventSandboxCreated = "SANDBOX_CREATED"
	EventSessionCreated = "SESSION_CREATED"

	EventRateLimitExceeded = "RATE_LIMIT_EXCEEDED"

	EventToolExecutionStarted   = "TOOL_EXECUTION_STARTED"
	EventToolExecutionCompleted = "TOOL_EXECUTION_COMPLETED"
	EventToolExecutionFailed    = "TOOL_EXECUTION_FAILED"

	EventTaskQueued    = "TASK_QUEUED"
	EventTaskStarted   = "TASK_STARTED"
	EventTaskCompleted = "TASK_COMPLETED"
	EventTaskFailed    = "TASK_FAILED"

	EventSequenceStarted   = "ORCHESTRATION_SEQUENCE_STARTED"
	EventSequenceCompleted = "ORCHESTRATION_SEQUENCE_COMPLETED"
	EventSequenceFailed    = "ORCHESTRATION_SEQUENCE_FAILED"

	EventStepStarted    = "WORKFLOW_STEP_STARTED"
	EventStepCompleted  = "WORKFLOW_STEP_COMPLETED"
	EventStepFailed     = "WORKFLOW_STEP_FAILED"
	EventStepSkipped    = "WORKFLOW_STEP_SKIPPED"
	EventStepRolledBack = "WORKFLOW_STEP_ROLLED_BACK"

	EventRollbackStarted   = "ROLLBACK_STARTED"
	EventRollbackCompleted = "ROLLBACK_COMPLETED"

	EventCampaignCreated = "CAMPAIGN_CREATED"
	EventCampaignDryRun  = "CAMPAIGN_DRY_RUN"

	EventAlertGenerated          = "ALERT_GENERATED"
	EventRecommendationGenerated = "RECOMMENDATION_GENERATED"
)

// Push message types delivered on the per-session transport.
const (
	PushToolStart            = "tool_start"
	PushToolStream           = "tool_stream"
	PushToolComplete         = "tool_complete"
	PushToolError            = "tool_error"
	PushWorkflowStart        = "workflow_start"
	PushWorkflowStepStart    = "workflow_step_start"
	PushWorkflowStepComplete = "workflow_step_complete"
	PushWorkflowStepError    = "workflow_step_error"
	PushWorkflowStepSkip     = "workflow_step_skip"
	PushWorkflowStepRollback = "workflow_step_rollback"
	PushWorkflowComplete     = "workflow_complete"
	PushWorkflowError        = "workflow_error"
)
