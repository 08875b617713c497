package policy

import (
	"reflect"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/szandany/policyguard/internal/pipeline"
)

// newEnv builds the CEL environment for one evaluation: the input and
// item variables plus the built-in helper functions bound to h. The
// helper service is constructed per request and injected here; there
// is no ambient global state.
func newEnv(h *pipeline.Helpers) (*cel.Env, error) {
	val := types.DefaultTypeAdapter.NativeToValue

	boolFn := func(name string, fn func([]string) bool) cel.EnvOption {
		return cel.Function(name,
			cel.Overload(name+"_dyn_list",
				[]*cel.Type{cel.DynType, cel.ListType(cel.StringType)}, cel.BoolType,
				cel.BinaryBinding(func(_, arg ref.Val) ref.Val {
					names, err := stringList(arg)
					if err != nil {
						return types.NewErr("%s: %v", name, err)
					}
					return types.Bool(fn(names))
				})))
	}

	return cel.NewEnv(
		cel.Variable("input", cel.DynType),
		cel.Variable("item", cel.DynType),

		cel.Function("jobs",
			cel.Overload("jobs_dyn",
				[]*cel.Type{cel.DynType}, cel.ListType(cel.StringType),
				cel.UnaryBinding(func(_ ref.Val) ref.Val {
					return val(h.Jobs())
				}))),
		cel.Function("orbs",
			cel.Overload("orbs_dyn",
				[]*cel.Type{cel.DynType}, cel.MapType(cel.StringType, cel.StringType),
				cel.UnaryBinding(func(_ ref.Val) ref.Val {
					return val(h.Orbs())
				}))),
		cel.Function("images",
			cel.Overload("images_dyn",
				[]*cel.Type{cel.DynType}, cel.ListType(cel.StringType),
				cel.UnaryBinding(func(_ ref.Val) ref.Val {
					return val(h.Images())
				}))),
		cel.Function("image_registries",
			cel.Overload("image_registries_dyn",
				[]*cel.Type{cel.DynType}, cel.MapType(cel.StringType, cel.StringType),
				cel.UnaryBinding(func(_ ref.Val) ref.Val {
					return val(h.ImageRegistries())
				}))),

		boolFn("require_jobs", h.RequireJobs),
		boolFn("require_orbs", h.RequireOrbs),
		boolFn("require_orbs_version", h.RequireOrbsVersion),
		boolFn("ban_orbs", h.BanOrbs),
		boolFn("ban_orbs_version", h.BanOrbsVersion),
		boolFn("require_image_registry", h.RequireImageRegistry),
	)
}

func stringList(v ref.Val) ([]string, error) {
	native, err := v.ConvertToNative(reflect.TypeOf([]string{}))
	if err != nil {
		return nil, err
	}
	return native.([]string), nil
}
