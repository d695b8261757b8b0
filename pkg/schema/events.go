package schema

// Event type constants for the telemetry stream and the run event log.
const (
	EventConversionStarted   = "conversion_started"
	EventConversionCompleted = "conversion_completed"
	EventConversionFailed    = "conversion_failed"

	EventValidationCompleted = "validation_completed"

	EventComparisonCompleted = "comparison_completed"

	EventStateInitialized  = "state_initialized"
	EventVariableUpdated   = "variable_updated"
	EventStateSynchronized = "state_synchronized"
	EventStateConflict     = "state_conflict"
	EventSnapshotCreated   = "snapshot_created"
	EventSnapshotRestored  = "snapshot_restored"
	EventStateCleaned      = "state_cleaned"

	EventIntegrationRecorded = "integration_recorded"

	EventTestStarted    = "test_started"
	EventTestCompleted  = "test_completed"
	EventSuiteStarted   = "suite_started"
	EventSuiteCompleted = "suite_completed"

	EventScheduleTriggered = "schedule_triggered"
)

// ValidationCode constants shared by the validation passes.
const (
	CodeMissingRequiredField = "MISSING_REQUIRED_FIELD"
	CodeDuplicateNodeID      = "DUPLICATE_NODE_ID"
	CodeDuplicateEdgeID      = "DUPLICATE_EDGE_ID"
	CodeDuplicateStateID     = "DUPLICATE_STATE_ID"
	CodeDuplicateTransition  = "DUPLICATE_TRANSITION_ID"
	CodeUnknownEndpoint      = "UNKNOWN_ENDPOINT"
	CodeNoConverter          = "NO_CONVERTER"
	CodeDisconnectedNode     = "DISCONNECTED_NODE"
	CodePotentialCycles      = "POTENTIAL_CYCLES"
	CodeNoStarterNode        = "NO_STARTER_NODE"
	CodeDanglingTransition   = "DANGLING_TRANSITION"
	CodeNoInitialState       = "NO_INITIAL_STATE"
	CodeMultipleInitial      = "MULTIPLE_INITIAL_STATES"
	CodeNoFinalState         = "NO_FINAL_STATE"
	CodeUnreachableState     = "UNREACHABLE_STATE"
	CodeToolStateNoTools     = "TOOL_STATE_NO_TOOLS"
	CodeChatStateEmpty       = "CHAT_STATE_EMPTY"
	CodeInvalidCondition     = "INVALID_CONDITION"
	CodeWorkflowIDMismatch   = "WORKFLOW_ID_MISMATCH"
	CodeStateCountLoss       = "STATE_COUNT_LOSS"
	CodeTransitionCountLoss  = "TRANSITION_COUNT_LOSS"
	CodeMissingMetadata      = "MISSING_CONVERSION_METADATA"
	CodeSchemaViolation      = "SCHEMA_VIOLATION"
	CodeGenericFallback      = "GENERIC_CONVERTER_FALLBACK"
	CodeConversionFailed     = "NODE_CONVERSION_FAILED"
	CodeHighComplexity       = "HIGH_COMPLEXITY_NODE"
	CodeTypeInconsistency    = "VARIABLE_TYPE_INCONSISTENCY"
)
