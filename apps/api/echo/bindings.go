package echoapi

import (
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/edmm/core"
	"github.com/trezcool/edmm/core/auth"
	"github.com/trezcool/edmm/core/datasync"
)

type (
	loginRequest struct {
		Identifier string `json:"identifier" validate:"required"`
		Secret     string `json:"secret" validate:"required"`
	}

	doubleAuthRequest struct {
		Token  string `json:"token" validate:"required"`
		Choice string `json:"choice" validate:"required"`
	}

	dataQuery struct {
		Week string `query:"week" validate:"omitempty,monday"`
		Box  string `query:"box" validate:"omitempty,oneof=received sent"`
		Year string `query:"year" validate:"omitempty,max=9"`
	}

	messageQuery struct {
		ID   string `param:"id" validate:"required,numeric"`
		Mode string `query:"mode" validate:"omitempty,oneof=destinataire expediteur"`
	}

	doneRequest struct {
		Key  string `json:"key" validate:"required"`
		Done bool   `json:"done"`
	}

	// fetchResult is the outcome of a domain fetch.
	fetchResult struct {
		Success bool        `json:"success"`
		Data    interface{} `json:"data,omitempty"`
		Message string      `json:"message,omitempty"`
	}
)

func (r loginRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(r)
}

func (r loginRequest) credentials() auth.Credentials {
	return auth.Credentials{Identifier: core.CleanString(r.Identifier), Secret: r.Secret}
}

func (r doubleAuthRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(r)
}

func (q dataQuery) Validate(validate *validator.Validate) error {
	return validate.Struct(q)
}

// query builds the sync query of domain. It must be called on a validated dataQuery.
func (q dataQuery) query(domain string) (datasync.Query, error) {
	dq := datasync.Query{Domain: domain, Box: q.Box, Year: q.Year}
	if q.Week != "" {
		week, err := time.Parse(core.DateLayout, q.Week)
		if err != nil {
			return dq, core.NewValidationError(errors.Wrap(err, "parsing week"),
				core.FieldError{Field: "week", Error: "week must be a Monday formatted as YYYY-MM-DD"})
		}
		dq.Week = week
	}
	if q.Year != "" && !isSchoolYear(q.Year) {
		return dq, core.NewValidationError(nil, core.FieldError{Field: "year", Error: "year must be a school year such as 2023-2024"})
	}
	return dq, nil
}

// isSchoolYear reports whether year reads "YYYY-YYYY" with consecutive years.
func isSchoolYear(year string) bool {
	parts := strings.Split(year, "-")
	if len(parts) != 2 || len(parts[0]) != 4 || len(parts[1]) != 4 {
		return false
	}
	start, err1 := strconv.Atoi(parts[0])
	end, err2 := strconv.Atoi(parts[1])
	return err1 == nil && err2 == nil && end == start+1
}

func (q messageQuery) Validate(validate *validator.Validate) error {
	return validate.Struct(q)
}

func (r doneRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(r)
}
