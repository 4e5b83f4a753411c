package querydesc

import (
	"strconv"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
)

var (
	uniqueDatasourceTag  = "unique_datasource"
	uniqueDatasourceText = "datasource {0} is used by more than one node"

	maxDepthTag  = "max_depth"
	maxDepthText = "includes cannot be nested more than {0} levels deep"

	// DefaultMaxDepth is used when InitValidators is given a non-positive depth.
	DefaultMaxDepth = 8
)

// InitValidators registers the descriptor validations.
// core.InitValidators must have been called first.
func InitValidators(validate *validator.Validate, translator ut.Translator, maxDepth int) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	validate.RegisterStructValidation(descriptorStructValidation(maxDepth), Descriptor{})

	registerParamTranslation(validate, translator, uniqueDatasourceTag, uniqueDatasourceText)
	registerParamTranslation(validate, translator, maxDepthTag, maxDepthText)
}

func registerParamTranslation(validate *validator.Validate, translator ut.Translator, tag, text string) {
	_ = validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, false) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Param())
			return s
		},
	)
}

// descriptorStructValidation rejects descriptors where a datasource name is used twice
// (lookups would silently resolve to the first one) or nesting is too deep.
func descriptorStructValidation(maxDepth int) validator.StructLevelFunc {
	return func(sl validator.StructLevel) {
		d, ok := sl.Current().Interface().(Descriptor)
		if !ok || d.Root == nil {
			return
		}

		seen := make(map[string]bool)
		reported := make(map[string]bool)
		deepest := 0
		walk(d.Root, 1, func(n *Node, depth int) {
			if depth > deepest {
				deepest = depth
			}
			if seen[n.Datasource] && !reported[n.Datasource] {
				sl.ReportError(d.Root, "getThisData", "Root", uniqueDatasourceTag, n.Datasource)
				reported[n.Datasource] = true
			}
			seen[n.Datasource] = true
		})
		if deepest > maxDepth {
			sl.ReportError(d.Root, "getThisData", "Root", maxDepthTag, strconv.Itoa(maxDepth))
		}
	}
}

// Validate checks a descriptor before it is handed to a Store.
func Validate(validate *validator.Validate, d Descriptor) error {
	return validate.Struct(d)
}
