// Package intake validates and canonicalizes request payloads before they
// reach the store or the routing engine.
package intake

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tphakala/errintake/internal/datastore/entities"
	"github.com/tphakala/errintake/internal/errors"
	"github.com/tphakala/errintake/internal/routing"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gorm.io/datatypes"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBase = "https://errintake.local/schemas/"

// Schema names.
const (
	SchemaError   = "error.schema.json"
	SchemaUser    = "user.schema.json"
	SchemaService = "service.schema.json"
	SchemaRule    = "rule.schema.json"
)

// Validator holds the compiled request schemas. It is safe for concurrent use.
type Validator struct {
	schemas map[string]*jsonschema.Schema
	printer *message.Printer
}

// NewValidator compiles the embedded schemas.
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	names := []string{SchemaError, SchemaUser, SchemaService, SchemaRule}
	for _, name := range names {
		data, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %s: %w", name, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to parse schema %s: %w", name, err)
		}
		if err := c.AddResource(schemaBase+name, doc); err != nil {
			return nil, fmt.Errorf("failed to add schema %s: %w", name, err)
		}
	}

	v := &Validator{
		schemas: make(map[string]*jsonschema.Schema, len(names)),
		printer: message.NewPrinter(language.English),
	}
	for _, name := range names {
		sch, err := c.Compile(schemaBase + name)
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
		}
		v.schemas[name] = sch
	}
	return v, nil
}

// Validate checks body against the named schema. Failures are validation
// category errors naming the offending fields.
func (v *Validator) Validate(schema string, body []byte) error {
	sch, ok := v.schemas[schema]
	if !ok {
		return errors.Newf("unknown schema %q", schema).Component("intake").Build()
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return invalid("request body is not valid JSON").Build()
	}
	if err := sch.Validate(inst); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return invalid("invalid request: " + v.describe(ve)).Context("schema", schema).Build()
		}
		return invalid("invalid request").Context("schema", schema).Build()
	}
	return nil
}

// describe flattens a validation error tree into "location: reason" pairs.
func (v *Validator) describe(ve *jsonschema.ValidationError) string {
	var leaves []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := "/" + strings.Join(e.InstanceLocation, "/")
			leaves = append(leaves, loc+": "+e.ErrorKind.LocalizedString(v.printer))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(leaves, "; ")
}

// ErrorSubmission is the body of POST /errors. Timestamp is kept as
// submitted once the schema has checked it as an RFC 3339 date-time.
type ErrorSubmission struct {
	Machine   string         `json:"machine"`
	Message   string         `json:"message"`
	Severity  *string        `json:"severity"`
	Timestamp *string        `json:"timestamp"`
	Context   map[string]any `json:"context"`
}

// ParseError validates an error submission and returns the record to store.
// The machine name is canonicalized, the message trimmed and the severity
// defaulted. The raw payload keeps every submitted field.
func (v *Validator) ParseError(body []byte) (*entities.ErrorRecord, error) {
	if err := v.Validate(SchemaError, body); err != nil {
		return nil, err
	}
	var sub ErrorSubmission
	if err := json.Unmarshal(body, &sub); err != nil {
		return nil, invalid("invalid request: " + err.Error()).Build()
	}

	machine := entities.CanonicalName(sub.Machine)
	if machine == "" {
		return nil, invalid("invalid request: /machine: must not be blank").Build()
	}
	msg := strings.TrimSpace(sub.Message)
	if msg == "" {
		return nil, invalid("invalid request: /message: must not be blank").Build()
	}
	severity := routing.DefaultSeverity
	if sub.Severity != nil {
		severity = *sub.Severity
	}

	// Audit copy with defaults applied and absent fields as null.
	sub.Severity = &severity
	raw, err := json.Marshal(sub)
	if err != nil {
		return nil, fmt.Errorf("failed to encode raw payload: %w", err)
	}

	return &entities.ErrorRecord{
		Machine:    machine,
		Message:    msg,
		Severity:   severity,
		RawPayload: datatypes.JSON(raw),
	}, nil
}

// ServiceInput is the body of POST /services.
type ServiceInput struct {
	Name  string `json:"name" yaml:"name"`
	Group string `json:"group" yaml:"group"`
}

// ParseService validates a service body.
func (v *Validator) ParseService(body []byte) (ServiceInput, error) {
	var in ServiceInput
	if err := v.decode(SchemaService, body, &in); err != nil {
		return in, err
	}
	return in, nil
}

// ParseUser validates a user body.
func (v *Validator) ParseUser(body []byte) (routing.UserInput, error) {
	var in routing.UserInput
	if err := v.decode(SchemaUser, body, &in); err != nil {
		return in, err
	}
	return in, nil
}

// CheckUser validates a user that did not arrive as a JSON body, such as a
// seed file entry, against the same schema as POST /users. The email is
// normalized first, matching what the store keeps.
func (v *Validator) CheckUser(in routing.UserInput) error {
	in.Email = routing.NormalizeEmail(in.Email)
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}
	return v.Validate(SchemaUser, body)
}

// ParseRule validates a rule body.
func (v *Validator) ParseRule(body []byte) (routing.RuleRequest, error) {
	var req routing.RuleRequest
	if err := v.decode(SchemaRule, body, &req); err != nil {
		return req, err
	}
	return req, nil
}

func (v *Validator) decode(schema string, body []byte, dst any) error {
	if err := v.Validate(schema, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return invalid("invalid request: " + err.Error()).Build()
	}
	return nil
}

func invalid(msg string) *errors.ErrorBuilder {
	return errors.Newf("%s", msg).
		Component("intake").
		Category(errors.CategoryValidation)
}
