package settings

import (
	"errors"
	"fmt"

	"github.com/aibox/toolperm/internal/permission"
)

// ValidationError describes a single validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks every rule source in the snapshot: rule syntax per scope,
// defaultMode values, the managed policy version, and tighten-only merging.
func Validate(snap *Snapshot) []ValidationError {
	var errs []ValidationError

	if m := snap.Managed; m != nil {
		if m.Version < 1 {
			errs = append(errs, ValidationError{
				Field:   "managed.version",
				Message: "must be >= 1",
			})
		}
		errs = append(errs, validateRules("managed.permissions.allow", m.Permissions.Allow)...)
		errs = append(errs, validateRules("managed.permissions.deny", m.Permissions.Deny)...)
	}

	for _, scope := range Scopes() {
		f := snap.Files[scope]
		if f == nil {
			continue
		}
		errs = append(errs, ValidateFile(string(scope), f)...)
	}

	if err := snap.CheckTightenOnly(); err != nil {
		var me *MergeError
		if errors.As(err, &me) {
			for _, v := range me.Violations {
				errs = append(errs, ValidationError{Field: "merge", Message: v})
			}
		}
	}

	return errs
}

// ValidateFile checks one settings document. prefix is prepended to every
// field path.
func ValidateFile(prefix string, f *File) []ValidationError {
	var errs []ValidationError
	p := f.Permissions

	errs = append(errs, validateRules(prefix+".permissions.allow", p.Allow)...)
	errs = append(errs, validateRules(prefix+".permissions.deny", p.Deny)...)

	if p.DefaultMode != "" {
		if _, err := permission.ParseMode(p.DefaultMode); err != nil {
			errs = append(errs, ValidationError{
				Field:   prefix + ".permissions.defaultMode",
				Message: err.Error(),
			})
		}
	}

	for i, d := range p.AdditionalDirectories {
		if d == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s.permissions.additionalDirectories[%d]", prefix, i),
				Message: "must not be empty",
			})
		}
	}

	return errs
}

func validateRules(field string, specs []string) []ValidationError {
	var errs []ValidationError
	for i, s := range specs {
		if _, err := permission.ParseRule(s, ""); err != nil {
			var pe *permission.ParseError
			msg := err.Error()
			if errors.As(err, &pe) {
				msg = pe.Err.Error()
			}
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s[%d]", field, i),
				Message: fmt.Sprintf("invalid rule %q: %s", s, msg),
			})
		}
	}
	return errs
}
