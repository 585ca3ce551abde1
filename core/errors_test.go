package core

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	err := NewValidationError(nil,
		FieldError{Field: "year", Error: "bad year"},
		FieldError{Field: "week", Error: "bad week"},
	)
	vErr, ok := errors.Cause(errors.Wrap(err, "binding")).(*ValidationError)
	if assert.True(t, ok) {
		assert.Equal(t, map[string]string{"year": "bad year", "week": "bad week"}, vErr.FieldMap())
	}
	assert.Equal(t, "year: bad year; week: bad week", err.Error())

	assert.Equal(t, "parsing week", NewValidationError(errors.New("parsing week")).Error())
	assert.Equal(t, "invalid request", NewValidationError(nil).Error())
}
