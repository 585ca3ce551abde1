package core

import "strings"

// FieldError reports an invalid request field that a validation tag cannot express.
type FieldError struct {
	Field string
	Error string
}

// ValidationError is a request error the API answers with 400 and a field map.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{Err: err, Fields: flds}
}

func (err *ValidationError) Error() string {
	if len(err.Fields) == 0 {
		if err.Err == nil {
			return "invalid request"
		}
		return err.Err.Error()
	}
	msgs := make([]string, 0, len(err.Fields))
	for _, fld := range err.Fields {
		msgs = append(msgs, fld.Field+": "+fld.Error)
	}
	return strings.Join(msgs, "; ")
}

// FieldMap returns the messages keyed by field.
func (err *ValidationError) FieldMap() map[string]string {
	m := make(map[string]string, len(err.Fields))
	for _, fld := range err.Fields {
		m[fld.Field] = fld.Error
	}
	return m
}
