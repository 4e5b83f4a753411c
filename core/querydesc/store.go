package querydesc

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/kat-co/vala"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/trezcool/querydesc/core"
)

// Merge policies
const (
	// MergeUpsert writes every key of an update, declared or not.
	MergeUpsert MergePolicy = "upsert"
	// MergeStrict only overwrites where & extra keys the node already declares.
	MergeStrict MergePolicy = "strict"
)

// minimum similarity for a datasource to be suggested on lookup miss
const suggestionCutoff = .6

type MergePolicy string

func ParseMergePolicy(s string) (MergePolicy, error) {
	switch p := MergePolicy(core.CleanString(s, true /* lower */)); p {
	case "", MergeUpsert:
		return MergeUpsert, nil
	case MergeStrict:
		return MergeStrict, nil
	default:
		return "", fmt.Errorf("unknown merge policy %q", s)
	}
}

type StoreOption func(*Store)

// WithDebug makes the Store panic on malformed descriptors instead of ignoring them.
func WithDebug(debug bool) StoreOption {
	return func(s *Store) { s.debug = debug }
}

func WithMergePolicy(policy MergePolicy) StoreOption {
	return func(s *Store) { s.policy = policy }
}

// Store reads & merges descriptors by datasource name. Descriptors are never modified in place:
// every write returns a new Descriptor sharing the untouched subtrees with its input.
// Nodes reachable from a Descriptor must therefore be treated as read-only.
type Store struct {
	logger core.Logger
	debug  bool
	policy MergePolicy
}

func NewStore(logger core.Logger, opts ...StoreOption) *Store {
	s := &Store{
		logger: logger,
		policy: MergeUpsert,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Policy() MergePolicy { return s.policy }

// Locate returns the first node named `datasource`: the root first, then a pre-order walk of the includes.
func (s *Store) Locate(d Descriptor, datasource string) (*Node, bool) {
	if !s.wellFormed(d, "Locate") {
		return nil, false
	}
	path := findPath(d.Root, datasource)
	if path == nil {
		return nil, false
	}
	return path[len(path)-1].node, true
}

// GetField projects the JSON field `field` of the node named `datasource`.
// Maps & slices are returned as copies.
func (s *Store) GetField(d Descriptor, datasource, field string) (interface{}, bool) {
	n, ok := s.Locate(d, datasource)
	if !ok {
		return nil, false
	}
	switch field {
	case "datasource":
		return n.Datasource, true
	case "as":
		return n.Alias, n.Alias != ""
	case "required":
		if n.Required == nil {
			return nil, false
		}
		return *n.Required, true
	case "attributes":
		return cloneStrings(n.Attributes), n.Attributes != nil
	case "where":
		return cloneMap(n.Where), n.Where != nil
	case "order":
		return cloneOrders(n.Order), n.Order != nil
	case "include":
		names := make([]string, 0, len(n.Include))
		for _, child := range n.Include {
			names = append(names, child.Datasource)
		}
		return names, n.Include != nil
	default:
		val, ok := n.Extra[field]
		return cloneValue(val), ok
	}
}

// GetWhere returns the where value of `key` on the node named `datasource`.
func (s *Store) GetWhere(d Descriptor, datasource, key string) (interface{}, bool) {
	n, ok := s.Locate(d, datasource)
	if !ok {
		return nil, false
	}
	val, ok := n.Where[key]
	return cloneValue(val), ok
}

// Merge applies `u` to the node named `datasource` and returns the new descriptor.
// Where keys are merged one by one, every other field of `u` replaces the node's value.
// An unknown datasource, or an update that changes nothing, returns `d` itself.
func (s *Store) Merge(d Descriptor, datasource string, u NodeUpdate) Descriptor {
	if !s.wellFormed(d, "Merge") {
		return d
	}
	path := findPath(d.Root, datasource)
	if path == nil {
		s.logMiss(d, datasource)
		return d
	}
	for _, key := range u.Dropped {
		s.logger.Warn(fmt.Sprintf("querydesc: %q cannot be merged, skipping", key), map[string]interface{}{"datasource": datasource})
	}

	target := path[len(path)-1].node
	updated := s.apply(target, u)
	if cmp.Equal(*target, *updated) {
		return d
	}

	// copy the root -> target path only
	for i := len(path) - 2; i >= 0; i-- {
		parent := path[i].node.shallowClone()
		parent.Include = make([]*Node, len(path[i].node.Include))
		copy(parent.Include, path[i].node.Include)
		parent.Include[path[i+1].index] = updated
		updated = parent
	}
	d.Root = updated
	return d
}

// Paginate sets the page window of the descriptor. Bounds are not checked against any total.
func (s *Store) Paginate(d Descriptor, offset, limit int) Descriptor {
	d.Offset = offset
	d.Limit = limit
	return d
}

// Datasources lists the datasource names of the descriptor in pre-order.
func (s *Store) Datasources(d Descriptor) []string {
	if d.Root == nil {
		return nil
	}
	var names []string
	walk(d.Root, 1, func(n *Node, _ int) { names = append(names, n.Datasource) })
	return names
}

func (s *Store) apply(orig *Node, u NodeUpdate) *Node {
	n := orig.shallowClone()
	ds := n.Datasource

	if u.Where != nil {
		n.Where = cloneMap(orig.Where)
		if n.Where == nil {
			n.Where = make(map[string]interface{}, len(u.Where))
		}
		for key, val := range u.Where {
			if s.declare(ds, "where", key, hasKey(orig.Where, key)) {
				n.Where[key] = cloneValue(val)
			}
		}
		if orig.Where == nil && len(n.Where) == 0 {
			n.Where = nil
		}
	}
	if u.Order != nil {
		n.Order = cloneOrders(u.Order)
	}
	if u.Attributes != nil {
		n.Attributes = cloneStrings(u.Attributes)
	}
	if u.Required != nil {
		req := *u.Required
		n.Required = &req
	}
	if len(u.Extra) > 0 {
		n.Extra = cloneMap(orig.Extra)
		if n.Extra == nil {
			n.Extra = make(map[string]interface{}, len(u.Extra))
		}
		for key, val := range u.Extra {
			if reservedKeys[key] || nodeKeys[key] {
				continue
			}
			if s.declare(ds, "field", key, hasKey(orig.Extra, key)) {
				n.Extra[key] = cloneValue(val)
			}
		}
		if orig.Extra == nil && len(n.Extra) == 0 {
			n.Extra = nil
		}
	}
	return n
}

// declare reports whether `key` may be written on the node.
func (s *Store) declare(datasource, kind, key string, exists bool) bool {
	if exists {
		return true
	}
	args := map[string]interface{}{"datasource": datasource, "key": key}
	if s.policy == MergeStrict {
		s.logger.Warn(fmt.Sprintf("querydesc: %s key %q is not declared, skipping", kind, key), args)
		return false
	}
	s.logger.Debug(fmt.Sprintf("querydesc: %s key %q is not declared, adding", kind, key), args)
	return true
}

func (s *Store) wellFormed(d Descriptor, op string) bool {
	validation := vala.BeginValidation().Validate(rootPresent(d))
	if s.debug {
		validation.CheckAndPanic()
		return true
	}
	if err := validation.Check(); err != nil {
		s.logger.Error(fmt.Sprintf("querydesc.%s: malformed descriptor", op), err)
		return false
	}
	return true
}

func (s *Store) logMiss(d Descriptor, datasource string) {
	args := map[string]interface{}{"datasource": datasource}
	if suggestion := closestName(datasource, s.Datasources(d)); suggestion != "" {
		args["suggestion"] = suggestion
	}
	s.logger.Info(fmt.Sprintf("querydesc: datasource %q not found", datasource), args)
}

func rootPresent(d Descriptor) vala.Checker {
	return func() (bool, string) {
		return d.Root != nil, "getThisData is required"
	}
}

type pathStep struct {
	node  *Node
	index int // index of node in its parent's Include
}

// findPath returns the path from the root to the first node named `datasource`, or nil.
func findPath(root *Node, datasource string) []pathStep {
	if root == nil {
		return nil
	}
	if root.Datasource == datasource {
		return []pathStep{{node: root, index: -1}}
	}
	for i, child := range root.Include {
		if sub := findPath(child, datasource); sub != nil {
			sub[0].index = i
			return append([]pathStep{{node: root, index: -1}}, sub...)
		}
	}
	return nil
}

// walk visits the tree in pre-order, root depth being 1.
func walk(n *Node, depth int, fn func(*Node, int)) {
	if n == nil {
		return
	}
	fn(n, depth)
	for _, child := range n.Include {
		walk(child, depth+1, fn)
	}
}

func hasKey(m map[string]interface{}, key string) bool {
	_, ok := m[key]
	return ok
}

// closestName returns the most similar name to `name`, if similar enough.
func closestName(name string, names []string) string {
	if name == "" || len(names) == 0 {
		return ""
	}
	type candidate struct {
		name  string
		ratio float64
	}
	candidates := make([]candidate, 0, len(names))
	lname := strings.ToLower(name)
	for _, n := range names {
		ratio := difflib.NewMatcher(strings.Split(lname, ""), strings.Split(strings.ToLower(n), "")).Ratio()
		if ratio >= suggestionCutoff {
			candidates = append(candidates, candidate{name: n, ratio: ratio})
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].ratio > candidates[j].ratio })
	return candidates[0].name
}
