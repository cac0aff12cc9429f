package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kaizencorps/stache/pkg/custody"
)

const actionSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["kind"],
  "additionalProperties": false,
  "properties": {
    "kind": {"enum": ["TRANSFER"]},
    "transfer": {
      "type": "object",
      "required": ["from", "to", "amount"],
      "additionalProperties": false,
      "properties": {
        "from": {"type": "string", "minLength": 1},
        "to": {"type": "string", "minLength": 1},
        "amount": {"type": "integer", "minimum": 1}
      }
    }
  },
  "if": {"properties": {"kind": {"const": "TRANSFER"}}},
  "then": {"required": ["transfer"]}
}`

const triggerSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["kind"],
  "additionalProperties": false,
  "properties": {
    "kind": {"enum": ["BALANCE"]},
    "balance": {
      "type": "object",
      "required": ["account", "threshold", "above"],
      "additionalProperties": false,
      "properties": {
        "account": {"type": "string", "minLength": 1},
        "threshold": {"type": "integer", "minimum": 0},
        "above": {"type": "boolean"}
      }
    }
  },
  "if": {"properties": {"kind": {"const": "BALANCE"}}},
  "then": {"required": ["balance"]}
}`

var (
	schemaOnce     sync.Once
	schemaErr      error
	compiledAction *jsonschema.Schema
	compiledTrig   *jsonschema.Schema
)

func compileSchemas() error {
	schemaOnce.Do(func() {
		compiledAction, schemaErr = compile("action", actionSchema)
		if schemaErr != nil {
			return
		}
		compiledTrig, schemaErr = compile("trigger", triggerSchema)
	})
	return schemaErr
}

func compile(name, schema string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://stache.schemas.local/payload/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("payload schema load failed: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("payload schema compile failed: %w", err)
	}
	return compiled, nil
}

// DecodeAction validates a raw action document and decodes it.
func DecodeAction(data []byte) (Action, error) {
	if err := compileSchemas(); err != nil {
		return Action{}, err
	}
	if err := validate(compiledAction, data); err != nil {
		return Action{}, fmt.Errorf("%v: %w", err, custody.ErrInvalidAction)
	}
	var a Action
	if err := json.Unmarshal(data, &a); err != nil {
		return Action{}, fmt.Errorf("decode action: %v: %w", err, custody.ErrInvalidAction)
	}
	return a, nil
}

// DecodeTrigger validates a raw trigger document and decodes it.
func DecodeTrigger(data []byte) (Trigger, error) {
	if err := compileSchemas(); err != nil {
		return Trigger{}, err
	}
	if err := validate(compiledTrig, data); err != nil {
		return Trigger{}, fmt.Errorf("%v: %w", err, custody.ErrInvalidTrigger)
	}
	var t Trigger
	if err := json.Unmarshal(data, &t); err != nil {
		return Trigger{}, fmt.Errorf("decode trigger: %v: %w", err, custody.ErrInvalidTrigger)
	}
	return t, nil
}

func validate(schema *jsonschema.Schema, data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("payload schema validation failed: %w", err)
	}
	return nil
}
