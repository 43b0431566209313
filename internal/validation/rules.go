package validation

import (
	"context"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/heymumford/ztoq-migrate/internal/controlplane"
)

// fieldValue fetches a named field off entity, supporting both
// map[string]any payloads and plain structs (matched case-insensitively
// against the Go field name). This is the one place the validation
// package uses reflection, to let the dozen rules below operate uniformly
// over the heterogeneous domain structs without each rule hand-rolling a
// type switch per entity kind.
func fieldValue(entity any, field string) (any, bool) {
	if m, ok := entity.(map[string]any); ok {
		v, ok := m[field]
		return v, ok
	}
	v := reflect.ValueOf(entity)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, false
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, false
	}
	f := v.FieldByNameFunc(func(name string) bool { return strings.EqualFold(name, field) })
	if !f.IsValid() {
		return nil, false
	}
	return f.Interface(), true
}

func asString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case nil:
		return "", false
	default:
		return "", false
	}
}

func isEmptyValue(v any, present bool) bool {
	if !present || v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}

func baseIssue(level controlplane.IssueLevel, scope controlplane.Scope, msg, entityID, fieldName string) controlplane.ValidationIssue {
	return controlplane.ValidationIssue{
		Level:     level,
		Scope:     scope,
		Message:   msg,
		EntityID:  entityID,
		FieldName: fieldName,
	}
}

func entityID(entity any) string {
	if v, ok := fieldValue(entity, "ID"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// baseRule factors the id/scope/phase/enabled bookkeeping every concrete
// rule below embeds.
type baseRule struct {
	id      string
	scope   controlplane.Scope
	phase   controlplane.Phase
	level   controlplane.IssueLevel
	enabled bool
}

func (b baseRule) ID() string                     { return b.id }
func (b baseRule) Scope() controlplane.Scope      { return b.scope }
func (b baseRule) Phase() controlplane.Phase      { return b.phase }
func (b baseRule) Enabled() bool                  { return b.enabled }

// RequiredFieldRule fails when any of Fields is absent, nil, or an empty
// string on the entity.
type RequiredFieldRule struct {
	baseRule
	Fields []string
}

func NewRequiredFieldRule(id string, scope controlplane.Scope, phase controlplane.Phase, fields []string) RequiredFieldRule {
	return RequiredFieldRule{baseRule: baseRule{id: id, scope: scope, phase: phase, level: controlplane.LevelError, enabled: true}, Fields: fields}
}

func (r RequiredFieldRule) Validate(_ context.Context, entity any, _ Context) ([]controlplane.ValidationIssue, error) {
	var issues []controlplane.ValidationIssue
	for _, f := range r.Fields {
		v, ok := fieldValue(entity, f)
		if isEmptyValue(v, ok) {
			issues = append(issues, baseIssue(r.level, r.scope, "required field "+f+" is missing or empty", entityID(entity), f))
		}
	}
	return issues, nil
}

// LengthBounds configures StringLengthRule per field.
type LengthBounds struct {
	Min, Max int // zero means unbounded on that side
}

// StringLengthRule fails when a present string field's length falls
// outside its configured [Min, Max].
type StringLengthRule struct {
	baseRule
	Bounds map[string]LengthBounds
}

func NewStringLengthRule(id string, scope controlplane.Scope, phase controlplane.Phase, bounds map[string]LengthBounds) StringLengthRule {
	return StringLengthRule{baseRule: baseRule{id: id, scope: scope, phase: phase, level: controlplane.LevelError, enabled: true}, Bounds: bounds}
}

func (r StringLengthRule) Validate(_ context.Context, entity any, _ Context) ([]controlplane.ValidationIssue, error) {
	var issues []controlplane.ValidationIssue
	for field, b := range r.Bounds {
		v, ok := fieldValue(entity, field)
		s, isStr := asString(v)
		if !ok || !isStr || s == "" {
			continue
		}
		n := len(s)
		if (b.Min > 0 && n < b.Min) || (b.Max > 0 && n > b.Max) {
			issues = append(issues, baseIssue(r.level, r.scope, "field "+field+" length out of bounds", entityID(entity), field))
		}
	}
	return issues, nil
}

// PatternMatchRule fails when a present string field does not match its
// configured regex.
type PatternMatchRule struct {
	baseRule
	Patterns map[string]*regexp.Regexp
}

func NewPatternMatchRule(id string, scope controlplane.Scope, phase controlplane.Phase, patterns map[string]string) (PatternMatchRule, error) {
	compiled := map[string]*regexp.Regexp{}
	for field, pat := range patterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			return PatternMatchRule{}, err
		}
		compiled[field] = re
	}
	return PatternMatchRule{baseRule: baseRule{id: id, scope: scope, phase: phase, level: controlplane.LevelError, enabled: true}, Patterns: compiled}, nil
}

func (r PatternMatchRule) Validate(_ context.Context, entity any, _ Context) ([]controlplane.ValidationIssue, error) {
	var issues []controlplane.ValidationIssue
	for field, re := range r.Patterns {
		v, ok := fieldValue(entity, field)
		s, isStr := asString(v)
		if !ok || !isStr {
			continue
		}
		if !re.MatchString(s) {
			issues = append(issues, baseIssue(r.level, r.scope, "field "+field+" does not match required pattern", entityID(entity), field))
		}
	}
	return issues, nil
}

// RelationshipRule fails when the entity references another entity by id
// and no entity of RelatedType with that id exists in the store.
type RelationshipRule struct {
	baseRule
	RelationField string
	RelatedType   controlplane.EntityType
}

func NewRelationshipRule(id string, scope controlplane.Scope, phase controlplane.Phase, relationField string, relatedType controlplane.EntityType) RelationshipRule {
	return RelationshipRule{baseRule: baseRule{id: id, scope: scope, phase: phase, level: controlplane.LevelError, enabled: true}, RelationField: relationField, RelatedType: relatedType}
}

func (r RelationshipRule) Validate(ctx context.Context, entity any, vctx Context) ([]controlplane.ValidationIssue, error) {
	v, ok := fieldValue(entity, r.RelationField)
	relatedID, isStr := asString(v)
	if !ok || !isStr || relatedID == "" {
		return nil, nil
	}
	if vctx.Store == nil {
		return nil, nil
	}
	exists, err := vctx.Store.EntityExists(ctx, vctx.ProjectKey, r.RelatedType, relatedID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return []controlplane.ValidationIssue{baseIssue(r.level, r.scope, "related "+string(r.RelatedType)+" "+relatedID+" does not exist", entityID(entity), r.RelationField)}, nil
	}
	return nil, nil
}

// UniqueValueRule fails when another entity of the same type shares a
// value for any of UniqueFields.
type UniqueValueRule struct {
	baseRule
	EntityType   controlplane.EntityType
	UniqueFields []string
}

func NewUniqueValueRule(id string, scope controlplane.Scope, phase controlplane.Phase, entityType controlplane.EntityType, fields []string) UniqueValueRule {
	return UniqueValueRule{baseRule: baseRule{id: id, scope: scope, phase: phase, level: controlplane.LevelError, enabled: true}, EntityType: entityType, UniqueFields: fields}
}

func (r UniqueValueRule) Validate(ctx context.Context, entity any, vctx Context) ([]controlplane.ValidationIssue, error) {
	if vctx.Store == nil {
		return nil, nil
	}
	id := entityID(entity)
	var issues []controlplane.ValidationIssue
	for _, field := range r.UniqueFields {
		v, ok := fieldValue(entity, field)
		s, isStr := asString(v)
		if !ok || !isStr || s == "" {
			continue
		}
		dups, err := vctx.Store.FindDuplicates(ctx, vctx.ProjectKey, r.EntityType, field, s, id)
		if err != nil {
			return nil, err
		}
		if len(dups) > 0 {
			issues = append(issues, baseIssue(r.level, r.scope, "field "+field+" value is not unique", id, field))
		}
	}
	return issues, nil
}

// CustomFieldConstraint configures one custom field's type and allowed
// values for CustomFieldRule.
type CustomFieldConstraint struct {
	Type          string // string|number|boolean|date
	AllowedValues []string
}

// CustomFieldRule fails when a present custom field doesn't satisfy its
// configured type and allowed-values membership.
type CustomFieldRule struct {
	baseRule
	Constraints map[string]CustomFieldConstraint
}

func NewCustomFieldRule(id string, scope controlplane.Scope, phase controlplane.Phase, constraints map[string]CustomFieldConstraint) CustomFieldRule {
	return CustomFieldRule{baseRule: baseRule{id: id, scope: scope, phase: phase, level: controlplane.LevelError, enabled: true}, Constraints: constraints}
}

func (r CustomFieldRule) Validate(_ context.Context, entity any, _ Context) ([]controlplane.ValidationIssue, error) {
	cfv, ok := fieldValue(entity, "CustomFields")
	if !ok {
		return nil, nil
	}
	fields, ok := toStringAnyMap(cfv)
	if !ok {
		return nil, nil
	}
	var issues []controlplane.ValidationIssue
	for field, constraint := range r.Constraints {
		raw, present := fields[field]
		if !present {
			continue
		}
		if !typeMatches(raw, constraint.Type) {
			issues = append(issues, baseIssue(r.level, r.scope, "custom field "+field+" has wrong type", entityID(entity), field))
			continue
		}
		if len(constraint.AllowedValues) > 0 {
			s := strOf(raw)
			if !contains(constraint.AllowedValues, s) {
				issues = append(issues, baseIssue(r.level, r.scope, "custom field "+field+" value not in allowed set", entityID(entity), field))
			}
		}
	}
	return issues, nil
}

func toStringAnyMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	default:
		// domain.CustomFields is map[string]domain.FieldValue; reduce to any.
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Map {
			return nil, false
		}
		out := map[string]any{}
		for _, k := range rv.MapKeys() {
			out[k.String()] = rv.MapIndex(k).Interface()
		}
		return out, true
	}
}

func typeMatches(v any, kind string) bool {
	switch fv := v.(type) {
	case string:
		return kind == "string"
	case float64, int, int64:
		return kind == "number"
	case bool:
		return kind == "boolean"
	case time.Time:
		return kind == "date"
	default:
		// domain.FieldValue tagged variant.
		rv := reflect.ValueOf(fv)
		kindField := rv.FieldByName("Kind")
		if !kindField.IsValid() {
			return false
		}
		switch kindField.String() {
		case "string":
			return kind == "string"
		case "number":
			return kind == "number"
		case "bool":
			return kind == "boolean"
		case "date":
			return kind == "date"
		}
		return false
	}
}

func strOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		rv := reflect.ValueOf(v)
		if f := rv.FieldByName("Str"); f.IsValid() {
			return f.String()
		}
		return ""
	}
}

func contains(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}

// AttachmentRule fails when an attachment exceeds MaxSize or its extension
// is not in AllowedExtensions.
type AttachmentRule struct {
	baseRule
	MaxSize           int64 // 0 means unbounded
	AllowedExtensions []string
}

func NewAttachmentRule(id string, phase controlplane.Phase, maxSize int64, allowedExt []string) AttachmentRule {
	return AttachmentRule{baseRule: baseRule{id: id, scope: controlplane.ScopeAttachment, phase: phase, level: controlplane.LevelError, enabled: true}, MaxSize: maxSize, AllowedExtensions: allowedExt}
}

func (r AttachmentRule) Validate(_ context.Context, entity any, _ Context) ([]controlplane.ValidationIssue, error) {
	sizeV, _ := fieldValue(entity, "Size")
	size, _ := toInt64(sizeV)
	nameV, _ := fieldValue(entity, "Filename")
	name, _ := asString(nameV)

	var issues []controlplane.ValidationIssue
	if r.MaxSize > 0 && size > r.MaxSize {
		issues = append(issues, baseIssue(r.level, r.scope, "attachment exceeds maximum size", entityID(entity), "Size"))
	}
	if len(r.AllowedExtensions) > 0 {
		ext := strings.ToLower(extOf(name))
		if !contains(r.AllowedExtensions, ext) {
			issues = append(issues, baseIssue(r.level, r.scope, "attachment extension not allowed", entityID(entity), "Filename"))
		}
	}
	return issues, nil
}

func extOf(name string) string {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return ""
	}
	return name[i+1:]
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	default:
		return 0, false
	}
}

// TestStepValidationRule is a warning-only rule (never pre_migration):
// every test case must have at least one step, and each step a non-empty
// description and expected result.
type TestStepValidationRule struct {
	baseRule
}

func NewTestStepValidationRule(id string, phase controlplane.Phase) TestStepValidationRule {
	return TestStepValidationRule{baseRule{id: id, scope: controlplane.ScopeTestCase, phase: phase, level: controlplane.LevelWarning, enabled: true}}
}

func (r TestStepValidationRule) Validate(_ context.Context, entity any, _ Context) ([]controlplane.ValidationIssue, error) {
	stepsV, ok := fieldValue(entity, "Steps")
	if !ok {
		return []controlplane.ValidationIssue{baseIssue(r.level, r.scope, "test case has no steps", entityID(entity), "Steps")}, nil
	}
	rv := reflect.ValueOf(stepsV)
	if rv.Kind() != reflect.Slice || rv.Len() == 0 {
		return []controlplane.ValidationIssue{baseIssue(r.level, r.scope, "test case has no steps", entityID(entity), "Steps")}, nil
	}
	var issues []controlplane.ValidationIssue
	for i := 0; i < rv.Len(); i++ {
		step := rv.Index(i).Interface()
		descV, _ := fieldValue(step, "Description")
		desc, _ := asString(descV)
		expV, _ := fieldValue(step, "ExpectedResult")
		exp, _ := asString(expV)
		if strings.TrimSpace(desc) == "" {
			issues = append(issues, baseIssue(r.level, r.scope, "step has empty description", entityID(entity), "Steps"))
		}
		if strings.TrimSpace(exp) == "" {
			issues = append(issues, baseIssue(r.level, r.scope, "step has empty expected result", entityID(entity), "Steps"))
		}
	}
	return issues, nil
}

// normalize implements the DataIntegrity comparison rule ztoq uses:
// none -> "", bool -> lowercase string, number -> string, string or
// domain.FieldValue (string/number/bool/list member) -> trim+lower; any
// other type, including a date FieldValue, -> "".
func normalize(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case bool:
		if t {
			return "true"
		}
		return "false"
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case string:
		return strings.ToLower(strings.TrimSpace(t))
	default:
		return strings.ToLower(strings.TrimSpace(toGenericString(t)))
	}
}

func toGenericString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	// domain.FieldValue tagged variant: stringify the member Kind selects.
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Struct && rv.FieldByName("Kind").IsValid() {
		switch rv.FieldByName("Kind").String() {
		case "string":
			return rv.FieldByName("Str").String()
		case "number":
			return strconv.FormatFloat(rv.FieldByName("Num").Float(), 'g', -1, 64)
		case "bool":
			return strconv.FormatBool(rv.FieldByName("Bool").Bool())
		case "list":
			return strings.Join(rv.FieldByName("Values").Interface().([]string), ",")
		}
	}
	return ""
}

// FieldPair names one (source field, target field) comparison for
// DataIntegrityRule.
type FieldPair struct {
	SourceField, TargetField string
}

// DataIntegrityRule fails when normalized source and target field values
// diverge for any configured pair; it operates on vctx.SourceEntity and
// vctx.TargetEntity rather than the passed entity.
type DataIntegrityRule struct {
	baseRule
	FieldsToCompare []FieldPair
}

func NewDataIntegrityRule(id string, phase controlplane.Phase, pairs []FieldPair) DataIntegrityRule {
	return DataIntegrityRule{baseRule{id: id, scope: controlplane.ScopeRelationship, phase: phase, level: controlplane.LevelError, enabled: true}, pairs}
}

func (r DataIntegrityRule) Validate(_ context.Context, _ any, vctx Context) ([]controlplane.ValidationIssue, error) {
	var issues []controlplane.ValidationIssue
	for _, pair := range r.FieldsToCompare {
		sv, _ := fieldValue(vctx.SourceEntity, pair.SourceField)
		tv, _ := fieldValue(vctx.TargetEntity, pair.TargetField)
		if normalize(sv) != normalize(tv) {
			issues = append(issues, baseIssue(r.level, r.scope, "field mismatch: "+pair.SourceField+" vs "+pair.TargetField, entityID(vctx.SourceEntity), pair.SourceField))
		}
	}
	return issues, nil
}

// TestStatusMappingRule fails when the target's status doesn't equal the
// mapped value for the source's status, when a mapping is configured for
// that source status.
type TestStatusMappingRule struct {
	baseRule
}

func NewTestStatusMappingRule(id string, phase controlplane.Phase) TestStatusMappingRule {
	return TestStatusMappingRule{baseRule{id: id, scope: controlplane.ScopeTestExecution, phase: phase, level: controlplane.LevelError, enabled: true}}
}

func (r TestStatusMappingRule) Validate(_ context.Context, _ any, vctx Context) ([]controlplane.ValidationIssue, error) {
	sv, _ := fieldValue(vctx.SourceEntity, "Status")
	srcStatus, _ := asString(sv)
	want, configured := vctx.StatusMappings[strings.ToLower(srcStatus)]
	if !configured {
		return nil, nil
	}
	tv, _ := fieldValue(vctx.TargetEntity, "Status")
	gotStatus, _ := asString(tv)
	if gotStatus == "" {
		if tv2, ok := fieldValue(vctx.TargetEntity, "OverallStatus"); ok {
			gotStatus, _ = asString(tv2)
		}
	}
	if !strings.EqualFold(gotStatus, want) {
		return []controlplane.ValidationIssue{baseIssue(r.level, r.scope, "target status does not match configured mapping", entityID(vctx.SourceEntity), "Status")}, nil
	}
	return nil, nil
}

// ReferentialIntegrityRule fails when no EntityMapping of MappingType
// exists for the entity's ReferenceField (a source id).
type ReferentialIntegrityRule struct {
	baseRule
	ReferenceField string
	MappingType    controlplane.MappingType
}

func NewReferentialIntegrityRule(id string, scope controlplane.Scope, phase controlplane.Phase, refField string, mt controlplane.MappingType) ReferentialIntegrityRule {
	return ReferentialIntegrityRule{baseRule{id: id, scope: scope, phase: phase, level: controlplane.LevelError, enabled: true}, refField, mt}
}

func (r ReferentialIntegrityRule) Validate(ctx context.Context, entity any, vctx Context) ([]controlplane.ValidationIssue, error) {
	v, ok := fieldValue(entity, r.ReferenceField)
	sourceID, isStr := asString(v)
	if !ok || !isStr || sourceID == "" || vctx.Store == nil {
		return nil, nil
	}
	_, found, err := vctx.Store.GetEntityMapping(ctx, vctx.ProjectKey, r.MappingType, sourceID)
	if err != nil {
		return nil, err
	}
	if !found {
		return []controlplane.ValidationIssue{baseIssue(r.level, r.scope, "no mapping recorded for referenced entity", entityID(entity), r.ReferenceField)}, nil
	}
	return nil, nil
}

// JsonSchemaRule validates the entity (reduced to its JSON representation)
// against a JSON Schema Draft 2020-12 document via gojsonschema.
type JsonSchemaRule struct {
	baseRule
	Schema SchemaValidator
}

// SchemaValidator abstracts gojsonschema's loader/validator pair so this
// file doesn't need to import it directly; internal/validation/schema.go
// provides the concrete implementation.
type SchemaValidator interface {
	Validate(entity any) (errs []string, err error)
}

func NewJsonSchemaRule(id string, scope controlplane.Scope, phase controlplane.Phase, schema SchemaValidator) JsonSchemaRule {
	return JsonSchemaRule{baseRule{id: id, scope: scope, phase: phase, level: controlplane.LevelError, enabled: true}, schema}
}

func (r JsonSchemaRule) Validate(_ context.Context, entity any, _ Context) ([]controlplane.ValidationIssue, error) {
	errs, err := r.Schema.Validate(entity)
	if err != nil {
		return nil, err
	}
	var issues []controlplane.ValidationIssue
	for _, e := range errs {
		issues = append(issues, baseIssue(r.level, r.scope, e, entityID(entity), ""))
	}
	return issues, nil
}

// CustomFieldTransformationRule fails when transforming a present custom
// field through vctx.FieldMapper yields an empty result, or changes a
// NUMERIC field's underlying type.
type CustomFieldTransformationRule struct {
	baseRule
	NumericFields []string
}

func NewCustomFieldTransformationRule(id string, scope controlplane.Scope, phase controlplane.Phase, numericFields []string) CustomFieldTransformationRule {
	return CustomFieldTransformationRule{baseRule{id: id, scope: scope, phase: phase, level: controlplane.LevelError, enabled: true}, numericFields}
}

func (r CustomFieldTransformationRule) Validate(_ context.Context, entity any, vctx Context) ([]controlplane.ValidationIssue, error) {
	if vctx.FieldMapper == nil {
		return nil, nil
	}
	cfv, ok := fieldValue(entity, "CustomFields")
	if !ok {
		return nil, nil
	}
	fields, ok := toStringAnyMap(cfv)
	if !ok {
		return nil, nil
	}
	var issues []controlplane.ValidationIssue
	for field, raw := range fields {
		if normalize(raw) == "" {
			continue
		}
		mapped, err := vctx.FieldMapper(field, raw)
		if err != nil {
			return nil, err
		}
		if normalize(mapped) == "" {
			issues = append(issues, baseIssue(r.level, r.scope, "transformation of custom field "+field+" yielded empty value", entityID(entity), field))
			continue
		}
		if contains(r.NumericFields, field) && !typeMatches(mapped, "number") {
			issues = append(issues, baseIssue(r.level, r.scope, "transformation of numeric field "+field+" changed its type", entityID(entity), field))
		}
	}
	return issues, nil
}
