package querydesc_test

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/google/go-cmp/cmp"

	"github.com/trezcool/querydesc/core"
	. "github.com/trezcool/querydesc/core/querydesc"
	"github.com/trezcool/querydesc/tests"
)

func TestValidate(t *testing.T) {
	validate, translator := testutil.NewValidator()
	InitValidators(validate, translator, 3)

	chain := func(names ...string) *Node {
		var root, parent *Node
		for _, name := range names {
			n := &Node{Datasource: name}
			if root == nil {
				root = n
			} else {
				parent.Include = []*Node{n}
			}
			parent = n
		}
		return root
	}

	tests := []struct {
		name       string
		d          Descriptor
		wantFields map[string]string
	}{
		{name: "valid", d: Descriptor{Limit: 10, Root: chain("Record", "Stakeholder", "Tag")}},
		{name: "missing root", d: Descriptor{}, wantFields: map[string]string{"getThisData": "this field is required"}},
		{
			name:       "negative window",
			d:          Descriptor{Limit: -1, Offset: -1, Root: chain("Record")},
			wantFields: map[string]string{"limit": "limit must be 0 or greater", "offset": "offset must be 0 or greater"},
		},
		{
			name:       "blank datasource",
			d:          Descriptor{Root: &Node{Datasource: "Record", Include: []*Node{{Datasource: " "}}}},
			wantFields: map[string]string{"getThisData.include[0].datasource": "this field cannot be blank"},
		},
		{
			name:       "bad alias",
			d:          Descriptor{Root: &Node{Datasource: "Record", Alias: "my records"}},
			wantFields: map[string]string{"getThisData.as": "only letters, digits and underscores are allowed"},
		},
		{
			name:       "bad direction",
			d:          Descriptor{Root: &Node{Datasource: "Record", Order: []Order{{Field: "name", Direction: "UP"}}}},
			wantFields: map[string]string{"getThisData.order[0].direction": "direction must be one of [ASC DESC]"},
		},
		{
			name:       "duplicate datasource",
			d:          Descriptor{Root: chain("Record", "Stakeholder", "Record")},
			wantFields: map[string]string{"getThisData": "datasource Record is used by more than one node"},
		},
		{
			name:       "too deep",
			d:          Descriptor{Root: chain("Record", "Stakeholder", "Tag", "Comment")},
			wantFields: map[string]string{"getThisData": "includes cannot be nested more than 3 levels deep"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(validate, tt.d)
			if tt.wantFields == nil {
				if err != nil {
					t.Fatalf("Validate() unexpected error = %v", err)
				}
				return
			}
			vErrs, ok := err.(validator.ValidationErrors)
			if !ok {
				t.Fatalf("Validate() error = %v, want validator.ValidationErrors", err)
			}
			if diff := cmp.Diff(tt.wantFields, core.TranslateErrors(vErrs, translator)); diff != "" {
				t.Errorf("Validate() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPresets(t *testing.T) {
	validate, translator := testutil.NewValidator()
	InitValidators(validate, translator, 0)

	names := Presets()
	if diff := cmp.Diff([]string{"courses", "records", "stakeholder-detail", "study-groups"}, names); diff != "" {
		t.Errorf("Presets() mismatch (-want +got):\n%s", diff)
	}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			d, err := Preset(name)
			if err != nil {
				t.Fatalf("Preset() error = %v", err)
			}
			if err = Validate(validate, d); err != nil {
				t.Errorf("Validate() error = %v", err)
			}

			// every call returns a fresh descriptor
			d.Root.Datasource = "changed"
			again, _ := Preset(name)
			if again.Root.Datasource == "changed" {
				t.Error("Preset() returned a shared descriptor")
			}
		})
	}

	if _, err := Preset("lol"); err == nil {
		t.Error("Preset(\"lol\") error = nil")
	}
}
