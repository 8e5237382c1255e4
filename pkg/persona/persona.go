package persona

import (
	"fmt"
	"strings"
)

// ID represents a unique identifier for a persona in the system.
// Each persona has its own isolated memory space.
type ID string

// Collection returns the knowledge-base collection name for the persona.
func (id ID) Collection() string {
	return "persona_" + string(id)
}

// Profile describes a professional persona. Required fields are checked by
// Validate; callers decide whether a non-empty result is fatal.
type Profile struct {
	// ID is mandatory and determines the memory isolation boundary
	ID ID `json:"id" yaml:"id"`

	// Name is the persona's display name
	Name string `json:"name" yaml:"name"`

	// Title is the professional title (e.g. "Clinical Psychologist")
	Title string `json:"title,omitempty" yaml:"title"`

	// Approach is the therapeutic modality (e.g. "CBT", "psychodynamic")
	Approach string `json:"approach,omitempty" yaml:"approach"`

	// Specialties lists practice domains the persona is trained on
	Specialties []string `json:"specialties,omitempty" yaml:"specialties"`

	// Tone is a short free-form description of the conversational register
	Tone string `json:"tone,omitempty" yaml:"tone"`
}

// FieldError is a single field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface so a FieldError can be returned
// directly where an error is expected.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the profile's required fields and value constraints.
// It returns one FieldError per problem and an empty slice for a valid
// profile; it never panics and never returns a bare error.
func (p Profile) Validate() []FieldError {
	var errs []FieldError

	if strings.TrimSpace(string(p.ID)) == "" {
		errs = append(errs, FieldError{Field: "id", Message: "must not be empty"})
	} else if strings.ContainsAny(string(p.ID), " /\\") {
		errs = append(errs, FieldError{Field: "id", Message: "must not contain spaces or path separators"})
	}

	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, FieldError{Field: "name", Message: "must not be empty"})
	}

	for i, s := range p.Specialties {
		if strings.TrimSpace(s) == "" {
			errs = append(errs, FieldError{Field: fmt.Sprintf("specialties[%d]", i), Message: "must not be blank"})
		}
	}

	return errs
}
