package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/praxis-ai/praxis/internal/errors"
)

// Document is the on-disk capability configuration: a server list plus
// global settings.
type Document struct {
	// Prefix is prepended to remote tool names exposed to the provider.
	Prefix  string         `json:"prefix,omitempty"`
	Servers []ServerConfig `json:"servers"`
}

// DefaultPrefix is the reserved prefix for capability-routed tool names.
const DefaultPrefix = "mcp_"

// documentSchema is the structural contract for the config document.
// Semantic rules (unique ids, transport-specific fields) are checked in
// code because JSON Schema expresses them poorly.
const documentSchema = `{
	"type": "object",
	"required": ["servers"],
	"properties": {
		"prefix": {"type": "string", "minLength": 1},
		"servers": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "transport"],
				"properties": {
					"id": {"type": "string", "minLength": 1, "pattern": "^[A-Za-z0-9-]+$"},
					"name": {"type": "string"},
					"transport": {"enum": ["stdio", "sse", "streamable-http"]},
					"command": {"type": "string"},
					"args": {"type": "array", "items": {"type": "string"}},
					"env": {"type": "object", "additionalProperties": {"type": "string"}},
					"url": {"type": "string"},
					"enabled": {"type": "boolean"},
					"autoConnect": {"type": "boolean"}
				}
			}
		}
	}
}`

// LoadDocument reads and validates the capability config. A missing file
// yields an empty document rather than an error.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Document{Prefix: DefaultPrefix}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeConfigNotFound, "read capability config", errors.CategorySystem)
	}
	doc, violations, err := ParseDocument(data)
	if err != nil {
		return nil, err
	}
	if len(violations) > 0 {
		return nil, violationError(violations)
	}
	return doc, nil
}

// ParseDocument decodes and validates a config document. Violations are
// reported as a list so a caller can show every broken constraint at
// once; a document with violations is never applied.
func ParseDocument(data []byte) (*Document, []string, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, errors.Wrap(err, errors.CodeConfigInvalid, "capability config is not valid JSON", errors.CategoryUser)
	}

	violations := validateSchema(raw)

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, errors.Wrap(err, errors.CodeConfigInvalid, "decode capability config", errors.CategoryUser)
	}
	violations = append(violations, validateSemantics(&doc)...)
	if len(violations) > 0 {
		return nil, violations, nil
	}

	if doc.Prefix == "" {
		doc.Prefix = DefaultPrefix
	}
	return &doc, nil, nil
}

// SaveDocument validates and atomically persists the document.
func SaveDocument(path string, doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.CodeConfigInvalid, "encode capability config", errors.CategorySystem)
	}
	if _, violations, err := ParseDocument(data); err != nil {
		return err
	} else if len(violations) > 0 {
		return violationError(violations)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, errors.CodeConfigInvalid, "create config directory", errors.CategorySystem)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, errors.CodeConfigInvalid, "write capability config", errors.CategorySystem)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, errors.CodeConfigInvalid, "replace capability config", errors.CategorySystem)
	}
	return nil
}

// ApplyDocument persists the document and reconciles the manager against
// its server list. A rejected document leaves both the file and the
// manager untouched.
func (m *Manager) ApplyDocument(ctx context.Context, path string, doc *Document) error {
	if err := SaveDocument(path, doc); err != nil {
		return err
	}
	m.UpdateConfig(ctx, doc.Servers)
	return nil
}

func violationError(violations []string) error {
	return errors.User(errors.CodeConfigInvalid,
		"capability config rejected: "+strings.Join(violations, "; "))
}

func validateSchema(raw any) []string {
	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(documentSchema))
	if err != nil {
		return []string{fmt.Sprintf("internal schema parse: %v", err)}
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("capability.json", schemaDoc); err != nil {
		return []string{fmt.Sprintf("internal schema resource: %v", err)}
	}
	schema, err := compiler.Compile("capability.json")
	if err != nil {
		return []string{fmt.Sprintf("internal schema compile: %v", err)}
	}

	err = schema.Validate(raw)
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	var out []string
	flattenCauses(ve, &out)
	return out
}

func flattenCauses(ve *jsonschema.ValidationError, out *[]string) {
	if len(ve.Causes) == 0 {
		*out = append(*out, ve.Error())
		return
	}
	for _, cause := range ve.Causes {
		flattenCauses(cause, out)
	}
}

// validateSemantics checks the rules the schema cannot express.
func validateSemantics(doc *Document) []string {
	var out []string
	seen := make(map[string]bool)
	for i, srv := range doc.Servers {
		at := fmt.Sprintf("servers[%d] (%s)", i, srv.ID)
		if seen[srv.ID] {
			out = append(out, at+": duplicate server id")
		}
		seen[srv.ID] = true
		if strings.Contains(srv.ID, "_") {
			out = append(out, at+": server id must not contain underscores (they delimit tool names)")
		}
		switch srv.Transport {
		case TransportStdio:
			if srv.Command == "" {
				out = append(out, at+": stdio transport requires a command")
			}
		case TransportSSE, TransportStreamableHTTP:
			if srv.URL == "" {
				out = append(out, at+": "+string(srv.Transport)+" transport requires a url")
			}
		}
	}
	return out
}
