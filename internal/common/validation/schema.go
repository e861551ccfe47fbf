// Package validation checks outbound payloads against JSON schemas before they
// leave for the backend.
package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Summary joins the failed checks into one human-readable line.
func (r *ValidationResult) Summary() string {
	parts := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return strings.Join(parts, "; ")
}

// submissionSchema describes the final application submit payload. The backend
// rejects malformed submissions anyway; validating here keeps the failure local
// and the wizard state untouched.
const submissionSchema = `{
  "type": "object",
  "required": ["email", "phone", "personal", "address", "education"],
  "properties": {
    "email": {"type": "string"},
    "phone": {"type": "string", "pattern": "^[0-9]{0,10}$"},
    "personal": {
      "type": "object",
      "required": ["firstName", "email", "phone"],
      "properties": {
        "firstName": {"type": "string", "minLength": 1},
        "email": {"type": "string", "minLength": 1},
        "phone": {"type": "string", "pattern": "^[0-9]{10}$"}
      }
    },
    "address": {
      "type": "object",
      "properties": {
        "pincode": {"type": "string"}
      }
    },
    "education": {"type": "object"},
    "ugEducation": {"type": "object"},
    "pgEducation": {"type": "object"},
    "documents": {"type": "object"},
    "examSchedule": {"type": "object"}
  }
}`

var submissionLoader = gojsonschema.NewStringLoader(submissionSchema)

// ValidateSubmission validates a submit payload against the submission schema.
func ValidateSubmission(payload map[string]interface{}) (*ValidationResult, error) {
	result, err := gojsonschema.Validate(submissionLoader, gojsonschema.NewGoLoader(payload))
	if err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}

	out := &ValidationResult{Valid: result.Valid()}
	for _, desc := range result.Errors() {
		out.Errors = append(out.Errors, ValidationError{
			Field:   desc.Field(),
			Message: desc.Description(),
		})
	}
	return out, nil
}
