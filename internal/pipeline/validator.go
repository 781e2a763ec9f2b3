package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"pageforge/internal/domain"
)

const requestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["prompt", "imageProviderConfig"],
  "properties": {
    "prompt": {"type": "string", "minLength": 1, "maxLength": 8000},
    "testMode": {"type": "boolean"},
    "pageConfig": {
      "type": "object",
      "properties": {
        "title": {"type": "string", "maxLength": 200},
        "language": {"type": "string", "maxLength": 16},
        "theme": {"type": "string", "maxLength": 64},
        "imageWidth": {"type": "integer", "minimum": 64, "maximum": 4096},
        "imageHeight": {"type": "integer", "minimum": 64, "maximum": 4096},
        "maxImages": {"type": "integer", "minimum": 0, "maximum": 50},
        "rehostImages": {"type": "boolean"}
      }
    },
    "textProviderConfig": {
      "type": "object",
      "properties": {
        "provider": {"type": "string"},
        "apiKey": {"type": "string"},
        "model": {"type": "string"},
        "baseUrl": {"type": "string"},
        "temperature": {"type": "number", "minimum": 0, "maximum": 2}
      }
    },
    "imageProviderConfig": {
      "type": "object",
      "required": ["provider"],
      "properties": {
        "provider": {"type": "string", "minLength": 1},
        "apiKey": {"type": "string"},
        "model": {"type": "string"},
        "baseUrl": {"type": "string"},
        "size": {"type": "string"},
        "seed": {"type": "integer", "minimum": 0},
        "fallbacks": {"type": "array", "items": {"type": "string"}},
        "options": {"type": "object", "additionalProperties": {"type": "string"}}
      }
    }
  }
}`

var missingPropRe = regexp.MustCompile(`'([^']+)'|"([^"]+)"`)

// ValidatorOptions lists what the server can actually serve.
type ValidatorOptions struct {
	TextProviders  []string
	ImageProviders []string
	// ServerTextKeys names text providers that have a server-side API key,
	// so requests may omit their own.
	ServerTextKeys map[string]bool
	// ForceTestMode treats every submission as a test-mode submission.
	ForceTestMode bool
}

// Validator turns a raw submission body into a GenerationRequest or a
// field-level ValidationError.
type Validator struct {
	schema         *jsonschema.Schema
	textProviders  map[string]bool
	imageProviders map[string]bool
	serverKeys     map[string]bool
	forceTestMode  bool
}

func NewValidator(opts ValidatorOptions) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("request.json", strings.NewReader(requestSchema)); err != nil {
		return nil, fmt.Errorf("add request schema: %w", err)
	}
	schema, err := compiler.Compile("request.json")
	if err != nil {
		return nil, fmt.Errorf("compile request schema: %w", err)
	}
	return &Validator{
		schema:         schema,
		textProviders:  nameSet(opts.TextProviders),
		imageProviders: nameSet(opts.ImageProviders),
		serverKeys:     lowerKeys(opts.ServerTextKeys),
		forceTestMode:  opts.ForceTestMode,
	}, nil
}

// Validate checks raw against the request schema and the provider rules.
func (v *Validator) Validate(raw []byte) (domain.GenerationRequest, error) {
	var req domain.GenerationRequest
	verr := &domain.ValidationError{}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		verr.Add("body", "must be a JSON object")
		return req, verr
	}
	if err := v.schema.Validate(doc); err != nil {
		var se *jsonschema.ValidationError
		if !errors.As(err, &se) {
			return req, fmt.Errorf("validate request: %w", err)
		}
		collectSchemaErrors(se, verr)
		return req, verr
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		verr.Add("body", err.Error())
		return req, verr
	}

	req.Prompt = strings.TrimSpace(req.Prompt)
	req.Text.Provider = strings.ToLower(strings.TrimSpace(req.Text.Provider))
	req.Image.Provider = strings.ToLower(strings.TrimSpace(req.Image.Provider))
	if v.forceTestMode {
		req.TestMode = true
	}

	if req.Prompt == "" {
		verr.Add("prompt", "is required")
	}
	if !v.imageProviders[req.Image.Provider] {
		verr.Add("imageProviderConfig.provider", fmt.Sprintf("unknown provider %q", req.Image.Provider))
	}
	for _, fb := range req.Image.Fallbacks {
		if name := strings.ToLower(strings.TrimSpace(fb)); !v.imageProviders[name] {
			verr.Add("imageProviderConfig.fallbacks", fmt.Sprintf("unknown provider %q", fb))
		}
	}
	if !req.TestMode {
		switch {
		case req.Text.Provider == "":
			verr.Add("textProviderConfig.provider", "is required")
		case !v.textProviders[req.Text.Provider]:
			verr.Add("textProviderConfig.provider", fmt.Sprintf("unknown provider %q", req.Text.Provider))
		case strings.TrimSpace(req.Text.APIKey) == "" && !v.serverKeys[req.Text.Provider]:
			verr.Add("textProviderConfig.apiKey", "is required")
		}
	}

	if !verr.Empty() {
		return req, verr
	}
	return req, nil
}

// collectSchemaErrors flattens the schema error tree into dotted field names.
func collectSchemaErrors(e *jsonschema.ValidationError, out *domain.ValidationError) {
	if len(e.Causes) > 0 {
		for _, c := range e.Causes {
			collectSchemaErrors(c, out)
		}
		return
	}
	field := pointerToField(e.InstanceLocation)
	if strings.HasPrefix(e.Message, "missing properties") {
		for _, m := range missingPropRe.FindAllStringSubmatch(e.Message, -1) {
			name := m[1]
			if name == "" {
				name = m[2]
			}
			out.Add(joinField(field, name), "is required")
		}
		return
	}
	if field == "" {
		field = "body"
	}
	out.Add(field, e.Message)
}

func pointerToField(ptr string) string {
	ptr = strings.TrimPrefix(ptr, "#")
	ptr = strings.Trim(ptr, "/")
	return strings.ReplaceAll(ptr, "/", ".")
}

func joinField(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

func nameSet(names []string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[strings.ToLower(strings.TrimSpace(n))] = true
	}
	return out
}

func lowerKeys(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}
