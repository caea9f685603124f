package connection

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/connkit/errors"
)

// configSchema is the canonical JSON Schema for externally supplied config
// documents. Duration fields are integers in nanoseconds, matching how
// time.Duration marshals.
const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "connkit connection config",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "name": {"type": "string"},
    "kind": {"type": "string", "enum": ["duplex", "pooled", "hybrid"]},
    "duplex_urls": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "rpc_urls": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "headers": {"type": "object", "additionalProperties": {"type": "string"}},
    "auth": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "scheme": {"type": "string", "enum": ["", "bearer", "basic"]},
        "token": {"type": "string"},
        "username": {"type": "string"},
        "password": {"type": "string"}
      }
    },
    "tls": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "ca_files": {"type": "array", "items": {"type": "string"}},
        "cert_file": {"type": "string"},
        "key_file": {"type": "string"},
        "server_name": {"type": "string"},
        "insecure_skip_verify": {"type": "boolean"},
        "min_version": {"type": "string", "enum": ["", "1.2", "1.3"]}
      }
    },
    "connect_timeout": {"type": "integer", "minimum": 0},
    "request_timeout": {"type": "integer", "minimum": 0},
    "acquire_timeout": {"type": "integer", "minimum": 0},
    "heartbeat_interval": {"type": "integer"},
    "heartbeat_timeout": {"type": "integer", "minimum": 0},
    "reconnect": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "initial_delay": {"type": "integer", "minimum": 0},
        "max_delay": {"type": "integer", "minimum": 0},
        "multiplier": {"type": "number", "minimum": 1},
        "jitter_ratio": {"type": "number", "minimum": 0, "maximum": 1},
        "max_attempts": {"type": "integer", "minimum": 0}
      }
    },
    "send_queue_size": {"type": "integer", "minimum": 0},
    "pool_min_size": {"type": "integer", "minimum": 0},
    "pool_max_size": {"type": "integer", "minimum": 0},
    "subscription_buffer_size": {"type": "integer", "minimum": 0}
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(configSchema)

// ParseConfig validates a JSON config document against the canonical schema
// and decodes it. Schema violations and decode failures both carry
// CodeConfigInvalid; the returned Config still needs Open (which applies
// defaults and Validate) before use.
func ParseConfig(raw []byte) (Config, error) {
	documentLoader := gojsonschema.NewBytesLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return Config{}, errors.WrapCode(err, errors.CodeConfigInvalid,
			"connection", "ParseConfig", "validate document")
	}

	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
		}
		return Config{}, errors.WrapCode(
			fmt.Errorf("schema violations: %s", strings.Join(problems, "; ")),
			errors.CodeConfigInvalid, "connection", "ParseConfig", "validate document")
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, errors.WrapCode(err, errors.CodeConfigInvalid,
			"connection", "ParseConfig", "decode document")
	}
	return cfg, nil
}
