package core

import (
	"testing"

	"github.com/go-playground/validator/v10"
)

func TestInitValidators(t *testing.T) {
	validate := validator.New()
	translator := NewTranslator()
	InitValidators(validate, translator)

	type payload struct {
		Name  string `json:"name" validate:"required,notblank"`
		Field string `json:"field" validate:"omitempty,identifier"`
	}

	tests := []struct {
		name     string
		data     payload
		wantErrs map[string]string
	}{
		{name: "valid", data: payload{Name: "Record", Field: "stakeholder_id"}},
		{name: "dotted identifier", data: payload{Name: "Record", Field: "Assignee.id"}},
		{name: "required", data: payload{}, wantErrs: map[string]string{"name": "this field is required"}},
		{name: "blank", data: payload{Name: "   "}, wantErrs: map[string]string{"name": "this field cannot be blank"}},
		{
			name: "bad identifier", data: payload{Name: "Record", Field: "1-field"},
			wantErrs: map[string]string{"field": "only letters, digits and underscores are allowed"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate.Struct(tt.data)
			if tt.wantErrs == nil {
				if err != nil {
					t.Fatalf("validate.Struct() unexpected error = %v", err)
				}
				return
			}
			vErrs, ok := err.(validator.ValidationErrors)
			if !ok {
				t.Fatalf("validate.Struct() error = %v; want validator.ValidationErrors", err)
			}
			got := TranslateErrors(vErrs, translator)
			for fld, msg := range tt.wantErrs {
				if got[fld] != msg {
					t.Errorf("failed! %s = %q; want %q", fld, got[fld], msg)
				}
			}
		})
	}
}

func TestCleanString(t *testing.T) {
	if got := CleanString("  Record "); got != "Record" {
		t.Errorf("CleanString() = %q; want %q", got, "Record")
	}
	if got := CleanString("  Record ", true /* lower */); got != "record" {
		t.Errorf("CleanString(lower) = %q; want %q", got, "record")
	}
}
