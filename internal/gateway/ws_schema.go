package gateway

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type wsSchemaRegistry struct {
	once    sync.Once
	initErr error
	request *jsonschema.Schema
	methods map[string]*jsonschema.Schema
}

var wsSchemas wsSchemaRegistry

func initWSSchemas() error {
	wsSchemas.once.Do(func() {
		reqSchema, err := jsonschema.CompileString("ws_request", wsRequestSchema)
		if err != nil {
			wsSchemas.initErr = err
			return
		}
		wsSchemas.request = reqSchema

		methods := map[string]string{
			"connect":        wsConnectParamsSchema,
			"ping":           wsEmptyParamsSchema,
			"config.get":     wsEmptyParamsSchema,
			"config.schema":  wsEmptyParamsSchema,
			"config.patch":   wsConfigPatchParamsSchema,
			"secrets.status": wsEmptyParamsSchema,
			"wizard.start":   wsWizardStartParamsSchema,
			"wizard.next":    wsWizardNextParamsSchema,
			"wizard.cancel":  wsWizardSessionParamsSchema,
			"wizard.status":  wsWizardSessionParamsSchema,
		}

		wsSchemas.methods = make(map[string]*jsonschema.Schema, len(methods))
		for name, schema := range methods {
			compiled, err := jsonschema.CompileString("ws_method_"+name, schema)
			if err != nil {
				wsSchemas.initErr = err
				return
			}
			wsSchemas.methods[name] = compiled
		}
	})
	return wsSchemas.initErr
}

func validateWSRequestFrame(raw []byte, frame *wsFrame) error {
	if err := initWSSchemas(); err != nil {
		return err
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	if err := wsSchemas.request.Validate(payload); err != nil {
		return err
	}
	if frame == nil {
		return fmt.Errorf("missing frame")
	}
	if schema := wsSchemas.methods[frame.Method]; schema != nil {
		var params any
		if len(frame.Params) == 0 {
			params = map[string]any{}
		} else if err := json.Unmarshal(frame.Params, &params); err != nil {
			return err
		}
		if err := schema.Validate(params); err != nil {
			return err
		}
	}
	return nil
}

const wsRequestSchema = `{
  "type": "object",
  "required": ["type", "id", "method"],
  "properties": {
    "type": { "const": "req" },
    "id": { "type": "string", "minLength": 1 },
    "method": { "type": "string", "minLength": 1 },
    "params": {}
  },
  "additionalProperties": true
}`

const wsEmptyParamsSchema = `{
  "type": "object",
  "additionalProperties": true
}`

const wsConnectParamsSchema = `{
  "type": "object",
  "properties": {
    "minProtocol": { "type": "integer", "minimum": 1 },
    "maxProtocol": { "type": "integer", "minimum": 1 },
    "client": {
      "type": "object",
      "properties": {
        "id": { "type": "string" },
        "version": { "type": "string" },
        "platform": { "type": "string" },
        "mode": { "type": "string" }
      },
      "additionalProperties": true
    },
    "auth": {
      "type": "object",
      "properties": {
        "token": { "type": "string" }
      },
      "additionalProperties": true
    }
  },
  "additionalProperties": true
}`

const wsConfigPatchParamsSchema = `{
  "type": "object",
  "required": ["patch", "baseHash"],
  "properties": {
    "patch": { "type": "string", "minLength": 1 },
    "baseHash": { "type": "string" },
    "note": { "type": "string" }
  },
  "additionalProperties": true
}`

const wsWizardStartParamsSchema = `{
  "type": "object",
  "properties": {
    "mode": { "type": "string" },
    "flow": { "type": "string" },
    "workspace": { "type": "string" }
  },
  "additionalProperties": true
}`

const wsWizardNextParamsSchema = `{
  "type": "object",
  "required": ["sessionId"],
  "properties": {
    "sessionId": { "type": "string", "minLength": 1 },
    "answer": {
      "type": "object",
      "properties": {
        "stepId": { "type": "string" },
        "value": {}
      },
      "additionalProperties": true
    }
  },
  "additionalProperties": true
}`

const wsWizardSessionParamsSchema = `{
  "type": "object",
  "required": ["sessionId"],
  "properties": {
    "sessionId": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`
