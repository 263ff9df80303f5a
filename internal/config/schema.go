package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "chordd-config.schema.json"

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return compiler.Compile(schemaURL)
})

// Schema returns the JSON Schema for configuration documents.
func Schema() []byte {
	return schemaJSON
}

// ValidateDocument checks a raw configuration document against the
// schema. format is a file extension such as ".toml", "yaml" or "json".
// It catches unknown keys and wrong types that decoding would silently
// ignore.
func ValidateDocument(data []byte, format string) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	doc, err := decodeDocument(data, format)
	if err != nil {
		return err
	}

	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}

// decodeDocument decodes data generically and normalizes it to the value
// types encoding/json produces, which is what the validator expects.
func decodeDocument(data []byte, format string) (any, error) {
	var raw any
	switch strings.TrimPrefix(strings.ToLower(format), ".") {
	case "toml":
		m := map[string]any{}
		if _, err := toml.Decode(string(data), &m); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
		raw = m
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
		if raw == nil {
			raw = map[string]any{}
		}
	case "json":
		raw = nil
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}

	if raw != nil {
		var err error
		if data, err = json.Marshal(raw); err != nil {
			return nil, fmt.Errorf("normalize document: %w", err)
		}
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}
	return doc, nil
}
