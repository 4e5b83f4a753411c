package querydesc

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDescriptor_UnmarshalJSON(t *testing.T) {
	data := []byte(`{
		"limit": 10,
		"offset": 20,
		"getThisData": {
			"datasource": "Record",
			"attributes": ["recordId", "name"],
			"where": {"name": null, "status": "open"},
			"order": [["createdAt", "desc"], ["name"]],
			"distinct": true,
			"include": [
				{"datasource": "Stakeholder", "as": "stakeholder", "required": false, "where": {"stakeholderId": null}}
			]
		}
	}`)

	var got Descriptor
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}

	req := false
	want := Descriptor{
		Limit:  10,
		Offset: 20,
		Root: &Node{
			Datasource: "Record",
			Attributes: []string{"recordId", "name"},
			Where:      map[string]interface{}{"name": nil, "status": "open"},
			Order:      []Order{{Field: "createdAt", Direction: Desc}, {Field: "name", Direction: Asc}},
			Extra:      map[string]interface{}{"distinct": true},
			Include: []*Node{
				{Datasource: "Stakeholder", Alias: "stakeholder", Required: &req, Where: map[string]interface{}{"stakeholderId": nil}},
			},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("json.Unmarshal() mismatch (-want +got):\n%s", diff)
	}
}

func TestNode_MarshalJSON(t *testing.T) {
	n := Node{
		Datasource: "Record",
		Where:      map[string]interface{}{"name": nil},
		Order:      []Order{{Field: "createdAt", Direction: Desc}},
		Extra:      map[string]interface{}{"distinct": true, "where": "ignored"},
	}
	got, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	want := `{"datasource":"Record","distinct":true,"order":[["createdAt","DESC"]],"where":{"name":null}}`
	if string(got) != want {
		t.Errorf("json.Marshal() = %s, want %s", got, want)
	}
}

func TestNode_emptyFieldsRoundTrip(t *testing.T) {
	d, err := Preset("records")
	if err != nil {
		t.Fatalf("Preset() error = %v", err)
	}
	d.Root.Include[0].Where = map[string]interface{}{}

	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	var got Descriptor
	if err = json.Unmarshal(data, &got); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if diff := cmp.Diff(d, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	store := NewStore(nopLogger{})
	if attrs, ok := store.GetField(got, "Record", "attributes"); !ok || len(attrs.([]string)) != 0 {
		t.Errorf("GetField(attributes) = %v, %v; want [], true", attrs, ok)
	}
	if where, ok := store.GetField(got, "Stakeholder", "where"); !ok || len(where.(map[string]interface{})) != 0 {
		t.Errorf("GetField(where) = %v, %v; want {}, true", where, ok)
	}

	// nil fields stay omitted
	n, err := json.Marshal(Node{Datasource: "Tag"})
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	if want := `{"datasource":"Tag"}`; string(n) != want {
		t.Errorf("json.Marshal() = %s, want %s", n, want)
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

func TestOrder_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    Order
		wantErr bool
	}{
		{name: "pair", data: `["name", "DESC"]`, want: Order{Field: "name", Direction: Desc}},
		{name: "lower case direction", data: `["name", "asc"]`, want: Order{Field: "name", Direction: Asc}},
		{name: "field only", data: `["name"]`, want: Order{Field: "name", Direction: Asc}},
		{name: "empty", data: `[]`, wantErr: true},
		{name: "too long", data: `["a", "ASC", "b"]`, wantErr: true},
		{name: "not an array", data: `"name"`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Order
			err := json.Unmarshal([]byte(tt.data), &got)
			if (err != nil) != tt.wantErr {
				t.Fatalf("json.Unmarshal() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("json.Unmarshal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNodeUpdate_UnmarshalJSON(t *testing.T) {
	var got NodeUpdate
	data := []byte(`{"where": {"stakeholderId": 42}, "as": "x", "include": [], "separate": true}`)
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}

	if diff := cmp.Diff(map[string]interface{}{"stakeholderId": float64(42)}, got.Where); diff != "" {
		t.Errorf("Where mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]interface{}{"separate": true}, got.Extra); diff != "" {
		t.Errorf("Extra mismatch (-want +got):\n%s", diff)
	}
	if len(got.Dropped) != 2 {
		t.Errorf("Dropped = %v, want [as include]", got.Dropped)
	}
	if got.IsEmpty() {
		t.Error("IsEmpty() = true, want false")
	}
	if !(NodeUpdate{}).IsEmpty() {
		t.Error("NodeUpdate{}.IsEmpty() = false, want true")
	}
}

func TestNode_Clone(t *testing.T) {
	orig := &Node{
		Datasource: "Record",
		Where:      map[string]interface{}{"tags": []interface{}{"a"}, "range": map[string]interface{}{"gte": 1}},
		Include:    []*Node{{Datasource: "Tag"}},
	}
	c := orig.Clone()
	c.Where["tags"].([]interface{})[0] = "b"
	c.Where["range"].(map[string]interface{})["gte"] = 2
	c.Include[0].Datasource = "Comment"

	if orig.Where["tags"].([]interface{})[0] != "a" || orig.Where["range"].(map[string]interface{})["gte"] != 1 {
		t.Errorf("Clone() shares where values: %v", orig.Where)
	}
	if orig.Include[0].Datasource != "Tag" {
		t.Errorf("Clone() shares includes")
	}
	if (*Node)(nil).Clone() != nil {
		t.Error("nil.Clone() != nil")
	}
}

func Test_closestName(t *testing.T) {
	names := []string{"Record", "Stakeholder", "Assignee"}
	tests := []struct {
		name string
		want string
	}{
		{name: "stakeholdr", want: "Stakeholder"},
		{name: "Recrod", want: "Record"},
		{name: "Course"},
		{name: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := closestName(tt.name, names); got != tt.want {
				t.Errorf("closestName() = %q, want %q", got, tt.want)
			}
		})
	}
}
