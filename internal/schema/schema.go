// Package schema resolves which fields a run extracts. Precedence is a
// user-provided schema, then a form template, then the built-in fallback
// field set. Whatever the source, field types always come from the shared
// registry and field order always follows the canonical ordering.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/fieldproof/fieldproof/internal/model"
)

// Input carries the optional schema sources, highest precedence first.
type Input struct {
	UserSchema   []byte // request-supplied {"fields": [{"key", "label", "type"}]}
	FormTemplate []byte // template {"fields": [{"name"}]}
	MaxFields    int
}

// Result is the resolved schema plus non-fatal resolution warnings.
type Result struct {
	Schema   model.ResolvedSchema
	Warnings []string
}

var userSchemaValidator = jsonschema.MustCompileString("user_schema.json", `{
	"type": "object",
	"required": ["fields"],
	"properties": {
		"fields": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["key"],
				"properties": {
					"key": {"type": "string"},
					"label": {"type": "string"},
					"type": {"type": "string"}
				}
			}
		}
	}
}`)

type userSchema struct {
	Fields []userField `json:"fields"`
}

type userField struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Type  string `json:"type"`
}

type formTemplate struct {
	Fields []templateField `json:"fields"`
}

type templateField struct {
	Name string `json:"name"`
}

// Resolve applies the precedence chain. An invalid source, or one that
// yields no supported fields, falls through to the next with a warning; the
// fallback always succeeds.
func Resolve(in Input) (Result, error) {
	maxFields := in.MaxFields
	if maxFields <= 0 {
		maxFields = len(model.FieldOrder)
	}

	var warnings []string

	if len(in.UserSchema) > 0 {
		res, err := resolveUser(in.UserSchema, maxFields)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("user_schema_invalid: %v", err))
		} else if len(res.Schema.ResolvedFields) > 0 {
			res.Warnings = append(warnings, res.Warnings...)
			return res, nil
		}
	}

	if len(in.FormTemplate) > 0 {
		res, err := resolveTemplate(in.FormTemplate, maxFields)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("form_template_invalid: %v", err))
		} else if len(res.Schema.ResolvedFields) > 0 {
			res.Warnings = append(warnings, res.Warnings...)
			return res, nil
		}
	}

	return Result{Schema: fallbackSchema(maxFields), Warnings: warnings}, nil
}

func resolveUser(raw []byte, maxFields int) (Result, error) {
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Result{}, fmt.Errorf("user schema is not valid JSON: %w", err)
	}
	if err := userSchemaValidator.Validate(decoded); err != nil {
		return Result{}, fmt.Errorf("user schema invalid: %w", err)
	}
	var us userSchema
	if err := json.Unmarshal(raw, &us); err != nil {
		return Result{}, fmt.Errorf("decoding user schema: %w", err)
	}

	labels := map[model.FieldKey]string{}
	var keys []model.FieldKey
	var unsupported []string
	for _, f := range us.Fields {
		key := model.FieldKey(f.Key)
		if !model.IsSupported(key) {
			unsupported = append(unsupported, f.Key)
			continue
		}
		if _, seen := labels[key]; !seen {
			keys = append(keys, key)
		}
		if f.Label != "" {
			labels[key] = f.Label
		} else if _, seen := labels[key]; !seen {
			labels[key] = ""
		}
	}
	sort.Strings(unsupported)
	if unsupported == nil {
		unsupported = []string{}
	}

	return Result{Schema: buildSchema(model.SourceUserSchema, keys, labels, unsupported, maxFields)}, nil
}

// resolveTemplate matches template field names against the registry's
// aliases. A name matching aliases of more than one key is ambiguous and
// skipped with a warning.
func resolveTemplate(raw []byte, maxFields int) (Result, error) {
	var tpl formTemplate
	if err := json.Unmarshal(raw, &tpl); err != nil {
		return Result{}, fmt.Errorf("form template is not valid JSON: %w", err)
	}

	labels := map[model.FieldKey]string{}
	var keys []model.FieldKey
	var warnings []string
	for _, tf := range tpl.Fields {
		matches := matchAliases(tf.Name)
		switch len(matches) {
		case 0:
			// Template fields outside the supported set are ignored.
		case 1:
			key := matches[0]
			if _, seen := labels[key]; !seen {
				keys = append(keys, key)
				labels[key] = tf.Name
			}
		default:
			warnings = append(warnings, fmt.Sprintf("template field %q is ambiguous: matches %v", tf.Name, matches))
		}
	}

	return Result{
		Schema:   buildSchema(model.SourceFormTemplate, keys, labels, []string{}, maxFields),
		Warnings: warnings,
	}, nil
}

// matchAliases returns every supported key with an alias appearing in the
// normalized template field name.
func matchAliases(name string) []model.FieldKey {
	norm := normalizeFieldName(name)
	var matches []model.FieldKey
	for _, key := range model.FieldOrder {
		for _, alias := range model.Aliases(key) {
			if strings.Contains(norm, normalizeFieldName(alias)) {
				matches = append(matches, key)
				break
			}
		}
	}
	return matches
}

func normalizeFieldName(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func fallbackSchema(maxFields int) model.ResolvedSchema {
	labels := map[model.FieldKey]string{}
	return buildSchema(model.SourceFallbackV1, model.FieldOrder, labels, []string{}, maxFields)
}

// buildSchema orders keys canonically and caps at maxFields.
func buildSchema(source model.SchemaSource, keys []model.FieldKey, labels map[model.FieldKey]string, unsupported []string, maxFields int) model.ResolvedSchema {
	want := map[model.FieldKey]bool{}
	for _, k := range keys {
		want[k] = true
	}

	fields := []model.FieldSpec{}
	for _, k := range model.FieldOrder {
		if !want[k] {
			continue
		}
		if len(fields) >= maxFields {
			break
		}
		spec, err := model.NewFieldSpec(k, labels[k])
		if err != nil {
			continue
		}
		fields = append(fields, spec)
	}
	return model.ResolvedSchema{
		SchemaSource:      source,
		ResolvedFields:    fields,
		UnsupportedFields: unsupported,
	}
}
