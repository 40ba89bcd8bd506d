package actions

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nick353/Automate-sub000/internal/domain"
	"github.com/nick353/Automate-sub000/internal/schedule"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemas describe the fields each action type must carry
var schemas = map[domain.ActionType]string{
	domain.ActionCreateTask: `{
		"type": "object",
		"required": ["data"],
		"properties": {
			"data": {
				"type": "object",
				"required": ["name"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"description": {"type": "string"},
					"task_prompt": {"type": "string"},
					"schedule": {"type": ["string", "null"]},
					"execution_location": {"enum": ["server", "local"]}
				}
			}
		}
	}`,
	domain.ActionUpdateTask: `{
		"type": "object",
		"required": ["task_id", "data"],
		"properties": {
			"task_id": {"type": "string", "minLength": 1},
			"data": {
				"type": "object",
				"anyOf": [
					{"required": ["name"]},
					{"required": ["description"]},
					{"required": ["task_prompt"]},
					{"required": ["environment_setup"]},
					{"required": ["schedule"]},
					{"required": ["execution_location"]},
					{"required": ["is_active"]},
					{"required": ["role_group"]}
				]
			}
		}
	}`,
	domain.ActionDeleteTask: `{
		"type": "object",
		"required": ["task_id"],
		"properties": {"task_id": {"type": "string", "minLength": 1}}
	}`,
	domain.ActionCreateTrigger: `{
		"type": "object",
		"required": ["task_id", "data"],
		"properties": {
			"task_id": {"type": "string", "minLength": 1},
			"data": {"type": "object"}
		}
	}`,
}

var (
	compileOnce sync.Once
	compiled    map[domain.ActionType]*jsonschema.Schema
	compileErr  error
)

func compileSchemas() (map[domain.ActionType]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		out := make(map[domain.ActionType]*jsonschema.Schema, len(schemas))
		for typ, src := range schemas {
			url := "mem://actions/" + string(typ) + ".json"
			if err := c.AddResource(url, strings.NewReader(src)); err != nil {
				compileErr = fmt.Errorf("add schema %s: %w", typ, err)
				return
			}
			s, err := c.Compile(url)
			if err != nil {
				compileErr = fmt.Errorf("compile schema %s: %w", typ, err)
				return
			}
			out[typ] = s
		}
		compiled = out
	})
	return compiled, compileErr
}

// ValidationError lists every invalid action of a batch by position
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid actions: " + strings.Join(e.Problems, "; ")
}

// Validate checks each action against its schema and parses any schedule
// as a cron expression
func Validate(batch *domain.ActionBatch) error {
	if batch == nil || len(batch.Actions) == 0 {
		return ErrNoPendingActions
	}
	schemaSet, err := compileSchemas()
	if err != nil {
		return err
	}

	var problems []string
	for i, a := range batch.Actions {
		label := fmt.Sprintf("#%d %s", i+1, a.Type)
		s, ok := schemaSet[a.Type]
		if !ok {
			problems = append(problems, label+": unknown action type")
			continue
		}
		doc, err := toDocument(a)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", label, err))
			continue
		}
		if err := s.Validate(doc); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %s", label, describeSchemaError(err)))
			continue
		}
		if err := validateSchedule(a); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", label, err))
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// toDocument renders the action as the generic JSON value the schema
// validator expects
func toDocument(a domain.PendingAction) (any, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	obj := doc.(map[string]any)
	if _, ok := obj["data"]; !ok {
		obj["data"] = map[string]any{}
	}
	return obj, nil
}

func describeSchemaError(err error) string {
	var verr *jsonschema.ValidationError
	if errors.As(err, &verr) {
		leaf := verr
		for len(leaf.Causes) > 0 {
			leaf = leaf.Causes[0]
		}
		if leaf.InstanceLocation != "" {
			return leaf.InstanceLocation + ": " + leaf.Message
		}
		return leaf.Message
	}
	return err.Error()
}

// validateSchedule checks the schedule fields of task and trigger actions
func validateSchedule(a domain.PendingAction) error {
	for _, expr := range schedule.Expressions(a) {
		if _, err := schedule.Parse(expr); err != nil {
			return fmt.Errorf("schedule %q: %w", expr, err)
		}
	}
	return nil
}
