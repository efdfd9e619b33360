package dispatch

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/llm-immersive/immersive/pkg/models"
)

//go:embed request.schema.json
var requestSchemaJSON string

// ErrInvalidRequest marks a message rejected before routing.
var ErrInvalidRequest = errors.New("invalid request")

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// Decode validates raw against the request schema and decodes it.
func Decode(raw json.RawMessage) (models.Request, error) {
	value, err := decodeStrictJSON(raw)
	if err != nil {
		return models.Request{}, fmt.Errorf("%w: decode JSON: %v", ErrInvalidRequest, err)
	}

	schema, err := loadSchema()
	if err != nil {
		return models.Request{}, fmt.Errorf("load schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return models.Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	var req models.Request
	if err := json.Unmarshal(bytes.TrimSpace(raw), &req); err != nil {
		return models.Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return req, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020

		if err := compiler.AddResource("request.schema.json", strings.NewReader(requestSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("request.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("message is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("message contains trailing content")
	}
	return value, nil
}
