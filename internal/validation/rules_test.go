package validation

import (
	"context"
	"testing"

	"github.com/heymumford/ztoq-migrate/internal/controlplane"
	"github.com/heymumford/ztoq-migrate/internal/domain"
	"github.com/heymumford/ztoq-migrate/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequiredFieldRule_FlagsMissingAndEmpty(t *testing.T) {
	rule := NewRequiredFieldRule("req_name_objective", controlplane.ScopeTestCase, controlplane.PhaseExtract, []string{"Name", "Objective"})
	tc := domain.TestCase{ID: "tc-1", Name: "", Objective: "covers login"}

	issues, err := rule.Validate(context.Background(), tc, Context{})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "Name", issues[0].FieldName)
	assert.Equal(t, controlplane.LevelError, issues[0].Level)
}

func TestStringLengthRule_OutOfBounds(t *testing.T) {
	rule := NewStringLengthRule("len_name", controlplane.ScopeTestCase, controlplane.PhaseExtract, map[string]LengthBounds{
		"Name": {Min: 3, Max: 10},
	})
	short := domain.TestCase{ID: "tc-1", Name: "ab"}
	ok := domain.TestCase{ID: "tc-2", Name: "valid name"}

	issues, err := rule.Validate(context.Background(), short, Context{})
	require.NoError(t, err)
	assert.Len(t, issues, 1)

	issues, err = rule.Validate(context.Background(), ok, Context{})
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestPatternMatchRule_RejectsNonConformingKey(t *testing.T) {
	rule, err := NewPatternMatchRule("key_pattern", controlplane.ScopeTestCase, controlplane.PhaseExtract, map[string]string{
		"Key": `^[A-Z]+-\d+$`,
	})
	require.NoError(t, err)

	bad := domain.TestCase{ID: "tc-1", Key: "not-a-key"}
	issues, err := rule.Validate(context.Background(), bad, Context{})
	require.NoError(t, err)
	assert.Len(t, issues, 1)

	good := domain.TestCase{ID: "tc-2", Key: "PROJ-42"}
	issues, err = rule.Validate(context.Background(), good, Context{})
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestRelationshipRule_MissingRelatedFolder(t *testing.T) {
	s := store.New()
	rule := NewRelationshipRule("case_folder_exists", controlplane.ScopeTestCase, controlplane.PhaseExtract, "FolderID", controlplane.EntityFolder)
	tc := domain.TestCase{ID: "tc-1", FolderID: "missing-folder"}

	issues, err := rule.Validate(context.Background(), tc, Context{Store: s, ProjectKey: "PROJ"})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, controlplane.ScopeTestCase, issues[0].Scope)
}

func TestUniqueValueRule_FlagsDuplicateKey(t *testing.T) {
	s := store.New()
	ctx := context.Background()
	require.NoError(t, s.SaveTestCases(ctx, "PROJ", []domain.TestCase{
		{ID: "tc-1", ProjectKey: "PROJ", Key: "PROJ-1"},
		{ID: "tc-2", ProjectKey: "PROJ", Key: "PROJ-1"},
	}))

	rule := NewUniqueValueRule("case_key_unique", controlplane.ScopeTestCase, controlplane.PhaseExtract, controlplane.EntityTestCase, []string{"Key"})
	issues, err := rule.Validate(ctx, domain.TestCase{ID: "tc-1", Key: "PROJ-1"}, Context{Store: s, ProjectKey: "PROJ"})
	require.NoError(t, err)
	assert.Len(t, issues, 1)
}

func TestCustomFieldRule_WrongTypeAndDisallowedValue(t *testing.T) {
	rule := NewCustomFieldRule("cf_constraints", controlplane.ScopeTestCase, controlplane.PhaseTransform, map[string]CustomFieldConstraint{
		"severity": {Type: "string", AllowedValues: []string{"low", "high"}},
		"retries":  {Type: "number"},
	})
	tc := domain.TestCase{
		ID: "tc-1",
		CustomFields: domain.CustomFields{
			"severity": domain.StringField("medium"),
			"retries":  domain.StringField("three"),
		},
	}
	issues, err := rule.Validate(context.Background(), tc, Context{})
	require.NoError(t, err)
	assert.Len(t, issues, 2)
}

func TestAttachmentRule_SizeAndExtension(t *testing.T) {
	rule := NewAttachmentRule("attachment_limits", controlplane.PhaseExtract, 1024, []string{"png", "jpg"})
	big := domain.Attachment{ID: "a1", Filename: "screenshot.exe", Size: 2048}

	issues, err := rule.Validate(context.Background(), big, Context{})
	require.NoError(t, err)
	assert.Len(t, issues, 2)

	small := domain.Attachment{ID: "a2", Filename: "screenshot.png", Size: 512}
	issues, err = rule.Validate(context.Background(), small, Context{})
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestTestStepValidationRule_FlagsEmptySteps(t *testing.T) {
	rule := NewTestStepValidationRule("step_content", controlplane.PhaseExtract)
	noSteps := domain.TestCase{ID: "tc-1"}
	issues, err := rule.Validate(context.Background(), noSteps, Context{})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, controlplane.LevelWarning, issues[0].Level)

	withBlank := domain.TestCase{ID: "tc-2", Steps: []domain.TestStep{{Order: 1, Description: "", ExpectedResult: "ok"}}}
	issues, err = rule.Validate(context.Background(), withBlank, Context{})
	require.NoError(t, err)
	assert.Len(t, issues, 1)
}

func TestDataIntegrityRule_NormalizesBeforeComparing(t *testing.T) {
	rule := NewDataIntegrityRule("name_matches", controlplane.PhaseValidate, []FieldPair{{SourceField: "Name", TargetField: "Name"}})
	vctx := Context{
		SourceEntity: domain.TestCase{ID: "tc-1", Name: "  Login Flow  "},
		TargetEntity: struct{ Name string }{Name: "login flow"},
	}
	issues, err := rule.Validate(context.Background(), nil, vctx)
	require.NoError(t, err)
	assert.Empty(t, issues)

	vctx.TargetEntity = struct{ Name string }{Name: "different"}
	issues, err = rule.Validate(context.Background(), nil, vctx)
	require.NoError(t, err)
	assert.Len(t, issues, 1)
}

func TestTestStatusMappingRule_FlagsMismatch(t *testing.T) {
	rule := NewTestStatusMappingRule("status_mapped", controlplane.PhaseValidate)
	vctx := Context{
		SourceEntity:   domain.TestExecution{ID: "ex-1", Status: "Pass"},
		TargetEntity:   struct{ Status string }{Status: "FAILED"},
		StatusMappings: map[string]string{"pass": "PASSED"},
	}
	issues, err := rule.Validate(context.Background(), nil, vctx)
	require.NoError(t, err)
	require.Len(t, issues, 1)

	vctx.TargetEntity = struct{ Status string }{Status: "PASSED"}
	issues, err = rule.Validate(context.Background(), nil, vctx)
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestReferentialIntegrityRule_RequiresMapping(t *testing.T) {
	s := store.New()
	ctx := context.Background()
	rule := NewReferentialIntegrityRule("execution_case_mapped", controlplane.ScopeTestExecution, controlplane.PhaseLoad, "TestCaseID", controlplane.MappingTestCaseToTestCase)

	exec := domain.TestExecution{ID: "ex-1", TestCaseID: "tc-1"}
	issues, err := rule.Validate(ctx, exec, Context{Store: s, ProjectKey: "PROJ"})
	require.NoError(t, err)
	require.Len(t, issues, 1)

	require.NoError(t, s.SaveEntityMapping(ctx, controlplane.EntityMapping{
		ProjectKey: "PROJ", MappingType: controlplane.MappingTestCaseToTestCase, SourceID: "tc-1", TargetID: "tgt-1",
	}))
	issues, err = rule.Validate(ctx, exec, Context{Store: s, ProjectKey: "PROJ"})
	require.NoError(t, err)
	assert.Empty(t, issues)
}

type stubSchema struct{ errs []string }

func (s stubSchema) Validate(any) ([]string, error) { return s.errs, nil }

func TestJsonSchemaRule_WrapsValidatorErrors(t *testing.T) {
	rule := NewJsonSchemaRule("schema_ok", controlplane.ScopeTestCase, controlplane.PhaseExtract, stubSchema{errs: []string{"name is required"}})
	issues, err := rule.Validate(context.Background(), domain.TestCase{ID: "tc-1"}, Context{})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "name is required", issues[0].Message)
}

func TestCustomFieldTransformationRule_EmptyAndTypeChange(t *testing.T) {
	rule := NewCustomFieldTransformationRule("cf_transform", controlplane.ScopeTestCase, controlplane.PhaseTransform, []string{"retries"})
	tc := domain.TestCase{
		ID: "tc-1",
		CustomFields: domain.CustomFields{
			"owner":   domain.StringField("alice"),
			"retries": domain.NumberField(3),
		},
	}
	vctx := Context{
		FieldMapper: func(field string, raw any) (any, error) {
			if field == "owner" {
				return domain.StringField(""), nil
			}
			if field == "retries" {
				return domain.StringField("3"), nil
			}
			return raw, nil
		},
	}
	issues, err := rule.Validate(context.Background(), tc, vctx)
	require.NoError(t, err)
	assert.Len(t, issues, 2)
}

func TestManager_DuplicateRuleIDWarnsAndOverwrites(t *testing.T) {
	reg := NewRegistry()
	var warned []string
	reg.OnDuplicate(func(id string) { warned = append(warned, id) })

	reg.Register(NewRequiredFieldRule("dup", controlplane.ScopeTestCase, controlplane.PhaseExtract, []string{"Name"}))
	reg.Register(NewRequiredFieldRule("dup", controlplane.ScopeTestCase, controlplane.PhaseExtract, []string{"Objective"}))

	assert.Equal(t, []string{"dup"}, warned)
	rules := reg.RulesFor(controlplane.ScopeTestCase, controlplane.PhaseExtract)
	require.Len(t, rules, 1)
}

type panickyRule struct{ baseRule }

func (p panickyRule) Validate(context.Context, any, Context) ([]controlplane.ValidationIssue, error) {
	panic("boom")
}

func TestManager_RulePanicBecomesSystemIssue(t *testing.T) {
	reg := NewRegistry()
	reg.Register(panickyRule{baseRule{id: "panicky", scope: controlplane.ScopeTestCase, phase: controlplane.PhaseExtract, enabled: true}})
	mgr := NewManager(reg, nil)

	issues := mgr.ExecuteValidation(context.Background(), "PROJ", domain.TestCase{ID: "tc-1"}, controlplane.ScopeTestCase, controlplane.PhaseExtract, Context{})
	require.Len(t, issues, 1)
	assert.Equal(t, controlplane.ScopeSystem, issues[0].Scope)
	assert.Equal(t, controlplane.LevelError, issues[0].Level)
	assert.True(t, mgr.HasErrorIssues())
	assert.False(t, mgr.HasCriticalIssues())
}
