// Package schema validates raw asset payload documents against the wire
// contract before they reach the validation pipeline. Shape violations are
// hard rejections, unlike pipeline warnings which are advisory.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/tokenguard/tokenguard"
)

// payloadSchema is the contract for externally submitted asset payloads.
// Supply stays a string so arbitrary-precision values survive transport.
const payloadSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "AssetPayload",
  "type": "object",
  "required": ["name", "symbol", "decimals", "supply"],
  "additionalProperties": false,
  "properties": {
    "name": {
      "type": "string",
      "minLength": 1,
      "maxLength": 64
    },
    "symbol": {
      "type": "string",
      "minLength": 1,
      "maxLength": 16
    },
    "decimals": {
      "type": "integer",
      "minimum": 0,
      "maximum": 18
    },
    "supply": {
      "type": "string",
      "pattern": "^[0-9]+$"
    },
    "description": {
      "type": "string",
      "maxLength": 512
    },
    "iconUrl": {
      "type": "string",
      "maxLength": 2048
    },
    "network": {
      "type": "string",
      "maxLength": 64
    },
    "clientTimestamp": {
      "type": "string",
      "format": "date-time"
    }
  }
}`

var compiled = func() *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(payloadSchema))
	if err != nil {
		panic(fmt.Sprintf("schema: embedded payload schema does not compile: %v", err))
	}
	return s
}()

// PayloadSchema returns the embedded JSON Schema document.
func PayloadSchema() string {
	return payloadSchema
}

// ValidatePayload checks a raw JSON document against the payload contract.
// Violations come back as an invalid_payload *tokenguard.GuardError whose
// details map field paths to causes, one entry per violation.
func ValidatePayload(doc []byte) error {
	result, err := compiled.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return tokenguard.NewGuardError(tokenguard.ErrCodeInvalidPayload,
			fmt.Sprintf("payload is not valid JSON: %v", err), nil)
	}
	if result.Valid() {
		return nil
	}

	details := make(map[string]interface{}, len(result.Errors()))
	for _, violation := range result.Errors() {
		details[violation.Field()] = violation.Description()
	}
	return tokenguard.NewGuardError(tokenguard.ErrCodeInvalidPayload,
		"payload does not match the asset schema", details)
}

// ParsePayload validates and decodes a document in one step.
func ParsePayload(doc []byte) (tokenguard.AssetPayload, error) {
	if err := ValidatePayload(doc); err != nil {
		return tokenguard.AssetPayload{}, err
	}
	var payload tokenguard.AssetPayload
	if err := json.Unmarshal(doc, &payload); err != nil {
		return tokenguard.AssetPayload{}, tokenguard.NewGuardError(tokenguard.ErrCodeInvalidPayload,
			fmt.Sprintf("payload decode failed: %v", err), nil)
	}
	return payload, nil
}
