package querydesc

import (
	"sort"

	"github.com/pkg/errors"
)

var ErrUnknownPreset = errors.New("unknown preset")

// presets are the initial descriptors of the platform screens, keyed by screen name.
var presets = map[string]func() Descriptor{
	// workspace record table: search box on Record, filter drawer on Stakeholder & Assignee
	"records": func() Descriptor {
		return Descriptor{
			Limit: 10,
			Root: &Node{
				Datasource: "Record",
				Attributes: []string{},
				Where:      map[string]interface{}{"name": nil, "status": nil, "tagId": nil},
				Order:      []Order{{Field: "createdAt", Direction: Desc}},
				Include: []*Node{
					{
						Datasource: "Stakeholder",
						Alias:      "stakeholder",
						Required:   boolPtr(false),
						Attributes: []string{"stakeholderId", "name"},
						Where:      map[string]interface{}{"stakeholderId": nil},
					},
					{
						Datasource: "Assignee",
						Alias:      "assignees",
						Required:   boolPtr(false),
						Attributes: []string{"userId", "name", "email"},
						Where:      map[string]interface{}{"userId": nil},
					},
				},
			},
		}
	},
	// stakeholder detail page: records of one stakeholder, with their tags & comments
	"stakeholder-detail": func() Descriptor {
		return Descriptor{
			Limit: 20,
			Root: &Node{
				Datasource: "Stakeholder",
				Where:      map[string]interface{}{"stakeholderId": nil},
				Include: []*Node{
					{
						Datasource: "Record",
						Alias:      "records",
						Required:   boolPtr(false),
						Where:      map[string]interface{}{"status": nil},
						Order:      []Order{{Field: "updatedAt", Direction: Desc}},
						Include: []*Node{
							{Datasource: "Tag", Alias: "tags", Required: boolPtr(false), Where: map[string]interface{}{"tagId": nil}},
							{Datasource: "Comment", Alias: "comments", Required: boolPtr(false), Attributes: []string{"commentId", "body", "createdAt"}},
						},
					},
				},
			},
		}
	},
	// course catalogue
	"courses": func() Descriptor {
		return Descriptor{
			Limit: 12,
			Root: &Node{
				Datasource: "Course",
				Where:      map[string]interface{}{"title": nil, "level": nil, "isPublished": true},
				Order:      []Order{{Field: "title", Direction: Asc}},
				Include: []*Node{
					{Datasource: "Instructor", Alias: "instructor", Required: boolPtr(true), Attributes: []string{"instructorId", "name"}},
					{Datasource: "Category", Alias: "categories", Required: boolPtr(false), Where: map[string]interface{}{"categoryId": nil}},
				},
			},
		}
	},
	// study groups & their members
	"study-groups": func() Descriptor {
		return Descriptor{
			Limit: 10,
			Root: &Node{
				Datasource: "StudyGroup",
				Where:      map[string]interface{}{"courseId": nil, "name": nil},
				Include: []*Node{
					{
						Datasource: "Member",
						Alias:      "members",
						Required:   boolPtr(false),
						Where:      map[string]interface{}{"role": nil},
						Include: []*Node{
							{Datasource: "User", Alias: "user", Required: boolPtr(true), Attributes: []string{"userId", "name", "avatar"}},
						},
					},
				},
			},
		}
	},
}

// Preset returns a fresh copy of the named screen descriptor.
func Preset(name string) (Descriptor, error) {
	newFn, ok := presets[name]
	if !ok {
		return Descriptor{}, errors.Wrap(ErrUnknownPreset, name)
	}
	return newFn(), nil
}

// Presets lists the preset names, sorted.
func Presets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func boolPtr(b bool) *bool { return &b }
