package dataset

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// usersSchema describes the users file written by the merch setup tooling:
// an array of objects carrying at least a non-empty username.
const usersSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["username"],
    "properties": {
      "username": {"type": "string", "minLength": 1}
    }
  }
}`

// tokensSchema describes the auth token file: an array of non-empty strings.
const tokensSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {"type": "string", "minLength": 1}
}`

var (
	compiledUsers  = mustCompile("users.json", usersSchema)
	compiledTokens = mustCompile("tokens.json", tokensSchema)
)

func mustCompile(name, schema string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("dataset: invalid built-in schema %s: %v", name, err))
	}
	return compiler.MustCompile(name)
}

// validateShape checks decoded JSON against a schema and flattens the
// validation tree into one message per violated location.
func validateShape(schema *jsonschema.Schema, doc interface{}) error {
	err := schema.Validate(doc)
	if err == nil {
		return nil
	}

	validationErr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err
	}

	var msgs []string
	collectViolations(validationErr, &msgs)
	if len(msgs) == 0 {
		return err
	}
	if len(msgs) > 5 {
		msgs = append(msgs[:5], fmt.Sprintf("and %d more", len(msgs)-5))
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

func collectViolations(err *jsonschema.ValidationError, msgs *[]string) {
	if len(err.Causes) == 0 {
		loc := err.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		*msgs = append(*msgs, fmt.Sprintf("%s: %s", loc, err.Message))
		return
	}
	for _, cause := range err.Causes {
		collectViolations(cause, msgs)
	}
}
