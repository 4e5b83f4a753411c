package querydesc

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// Directions
const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// node keys that a merge can never change
var reservedKeys = map[string]bool{"datasource": true, "as": true, "include": true}

// known node keys, everything else goes to Node.Extra
var nodeKeys = map[string]bool{
	"datasource": true,
	"as":         true,
	"required":   true,
	"attributes": true,
	"where":      true,
	"order":      true,
	"include":    true,
}

type Direction string

// Order is one ordering instruction, serialized as ["field", "ASC"|"DESC"].
type Order struct {
	Field     string    `json:"field" validate:"required,notblank"`
	Direction Direction `json:"direction" validate:"oneof=ASC DESC"`
}

func (o Order) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{o.Field, string(o.Direction)})
}

func (o *Order) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return errors.Wrap(err, "order must be a [field, direction] pair")
	}
	switch len(pair) {
	case 1:
		o.Field, o.Direction = pair[0], Asc
	case 2:
		o.Field, o.Direction = pair[0], Direction(strings.ToUpper(pair[1]))
	default:
		return errors.Errorf("order must be a [field, direction] pair, got %d items", len(pair))
	}
	return nil
}

// Descriptor is the request body sent to the generic search endpoints.
type Descriptor struct {
	Limit  int   `json:"limit" validate:"gte=0"`
	Offset int   `json:"offset" validate:"gte=0"`
	Root   *Node `json:"getThisData" validate:"required"`
}

// Clone returns a deep copy of the descriptor.
func (d Descriptor) Clone() Descriptor {
	d.Root = d.Root.Clone()
	return d
}

// Node is one entity of the include tree: "fetch Datasource, filtered by Where, ordered by Order,
// joined to Include".
type Node struct {
	Datasource string                 `json:"datasource" validate:"required,notblank,identifier"`
	Alias      string                 `json:"as,omitempty" validate:"omitempty,identifier"`
	Required   *bool                  `json:"required,omitempty"`
	Attributes []string               `json:"attributes,omitempty" validate:"omitempty,dive,required"`
	Where      map[string]interface{} `json:"where,omitempty"`
	Order      []Order                `json:"order,omitempty" validate:"omitempty,dive"`
	Include    []*Node                `json:"include,omitempty" validate:"omitempty,dive,required"`
	Extra      map[string]interface{} `json:"-"`
}

type nodeAlias Node

func (n Node) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(nodeAlias(n))
	// empty, non-nil attributes & where are meaningful ("all fields", "no filter"): keep them
	emptyAttrs := n.Attributes != nil && len(n.Attributes) == 0
	emptyWhere := n.Where != nil && len(n.Where) == 0
	if err != nil || (len(n.Extra) == 0 && !emptyAttrs && !emptyWhere) {
		return data, err
	}

	fields := make(map[string]json.RawMessage, len(nodeKeys)+len(n.Extra))
	if err = json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if emptyAttrs {
		fields["attributes"] = json.RawMessage("[]")
	}
	if emptyWhere {
		fields["where"] = json.RawMessage("{}")
	}
	for key, val := range n.Extra {
		if nodeKeys[key] {
			continue
		}
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, errors.Wrapf(err, "marshalling %q", key)
		}
		fields[key] = raw
	}
	return json.Marshal(fields)
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var alias nodeAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	extra, err := unknownKeys(data, nodeKeys)
	if err != nil {
		return err
	}
	alias.Extra = extra
	*n = Node(alias)
	return nil
}

// Clone returns a deep copy of the node and its includes.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := n.shallowClone()
	c.Attributes = cloneStrings(n.Attributes)
	c.Where = cloneMap(n.Where)
	c.Order = cloneOrders(n.Order)
	c.Extra = cloneMap(n.Extra)
	if n.Include != nil {
		c.Include = make([]*Node, len(n.Include))
		for i, child := range n.Include {
			c.Include[i] = child.Clone()
		}
	}
	return c
}

// shallowClone copies the node struct only; maps & slices are still shared.
func (n *Node) shallowClone() *Node {
	c := *n
	if n.Required != nil {
		req := *n.Required
		c.Required = &req
	}
	return &c
}

// NodeUpdate is a partial node. Nil fields are left untouched.
type NodeUpdate struct {
	Where      map[string]interface{} `json:"where,omitempty"`
	Order      []Order                `json:"order,omitempty" validate:"omitempty,dive"`
	Attributes []string               `json:"attributes,omitempty" validate:"omitempty,dive,required"`
	Required   *bool                  `json:"required,omitempty"`
	Extra      map[string]interface{} `json:"-"`

	// Dropped lists the structural keys (datasource, as, include) found while decoding.
	Dropped []string `json:"-"`
}

type nodeUpdateAlias NodeUpdate

func (u *NodeUpdate) UnmarshalJSON(data []byte) error {
	var alias nodeUpdateAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	extra, err := unknownKeys(data, nodeKeys)
	if err != nil {
		return err
	}
	alias.Extra = extra

	var raw map[string]json.RawMessage
	if err = json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key := range raw {
		if reservedKeys[key] {
			alias.Dropped = append(alias.Dropped, key)
		}
	}
	*u = NodeUpdate(alias)
	return nil
}

func (u NodeUpdate) IsEmpty() bool {
	return u.Where == nil && u.Order == nil && u.Attributes == nil && u.Required == nil && len(u.Extra) == 0
}

func unknownKeys(data []byte, known map[string]bool) (map[string]interface{}, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	var extra map[string]interface{}
	for key, val := range raw {
		if known[key] {
			continue
		}
		var v interface{}
		if err := json.Unmarshal(val, &v); err != nil {
			return nil, errors.Wrapf(err, "decoding %q", key)
		}
		if extra == nil {
			extra = make(map[string]interface{})
		}
		extra[key] = v
	}
	return extra, nil
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	c := make([]string, len(s))
	copy(c, s)
	return c
}

func cloneOrders(o []Order) []Order {
	if o == nil {
		return nil
	}
	c := make([]Order, len(o))
	copy(c, o)
	return c
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	c := make(map[string]interface{}, len(m))
	for k, v := range m {
		c[k] = cloneValue(v)
	}
	return c
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return cloneMap(val)
	case []interface{}:
		c := make([]interface{}, len(val))
		for i, item := range val {
			c[i] = cloneValue(item)
		}
		return c
	case []string:
		return cloneStrings(val)
	default:
		return v
	}
}
