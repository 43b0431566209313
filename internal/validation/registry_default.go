package validation

import "github.com/heymumford/ztoq-migrate/internal/controlplane"

// DefaultRegistry wires the required rule set (spec §4.6) against this
// engine's entity shapes, the way ztoq's validation_rules.py registers a
// fixed battery of checks at startup rather than building rules
// dynamically per call site. Callers needing project-specific rules
// (custom field constraints, JSON Schema documents) register them
// alongside this set on the returned Registry.
func DefaultRegistry() *Registry {
	reg := NewRegistry()

	reg.Register(NewRequiredFieldRule("tc_required_fields", controlplane.ScopeTestCase, controlplane.PhaseExtract,
		[]string{"Name"}))
	reg.Register(NewRequiredFieldRule("cycle_required_fields", controlplane.ScopeTestCycle, controlplane.PhaseExtract,
		[]string{"Name"}))

	reg.Register(NewStringLengthRule("tc_name_length", controlplane.ScopeTestCase, controlplane.PhaseExtract,
		map[string]LengthBounds{"Name": {Min: 1, Max: 255}}))

	reg.Register(NewRelationshipRule("tc_folder_exists", controlplane.ScopeTestCase, controlplane.PhaseExtract,
		"FolderID", controlplane.EntityFolder))
	reg.Register(NewRelationshipRule("cycle_folder_exists", controlplane.ScopeTestCycle, controlplane.PhaseExtract,
		"FolderID", controlplane.EntityFolder))

	reg.Register(NewUniqueValueRule("tc_key_unique", controlplane.ScopeTestCase, controlplane.PhaseExtract,
		controlplane.EntityTestCase, []string{"Key"}))

	reg.Register(NewTestStepValidationRule("tc_steps_present", controlplane.PhaseExtract))

	reg.Register(NewAttachmentRule("attachment_limits", controlplane.PhaseExtract, defaultMaxAttachmentBytes, nil))

	reg.Register(NewReferentialIntegrityRule("execution_case_mapped", controlplane.ScopeTestExecution, controlplane.PhaseLoad,
		"TestCaseID", controlplane.MappingTestCaseToTestCase))
	reg.Register(NewReferentialIntegrityRule("execution_cycle_mapped", controlplane.ScopeTestExecution, controlplane.PhaseLoad,
		"TestCycleID", controlplane.MappingCycleToCycle))

	reg.Register(NewTestStatusMappingRule("execution_status_mapped", controlplane.PhaseValidate))
	reg.Register(NewDataIntegrityRule("tc_name_matches_target", controlplane.PhaseValidate,
		[]FieldPair{{SourceField: "Name", TargetField: "Name"}}))

	return reg
}

// defaultMaxAttachmentBytes bounds any single attachment the AttachmentRule
// accepts without project-specific configuration; large binary assets
// still migrate, they are just flagged for review rather than rejected.
const defaultMaxAttachmentBytes = 25 * 1024 * 1024
