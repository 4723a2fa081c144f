// Package enumvalidator reports string literals written into struct fields
// whose type is a string enum, i.e. a named string type with declared
// constants. Such fields must be set from the constants.
package enumvalidator

import (
	"go/ast"
	"go/token"
	"go/types"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
)

var Analyzer = &analysis.Analyzer{
	Name:     "enumvalidator",
	Doc:      "reports string literals assigned to enum-typed struct fields",
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
}

func run(pass *analysis.Pass) (any, error) {
	insp := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)
	enums := &enumSet{seen: map[*types.Named]bool{}}

	filter := []ast.Node{(*ast.AssignStmt)(nil), (*ast.CompositeLit)(nil)}
	insp.Preorder(filter, func(n ast.Node) {
		switch n := n.(type) {
		case *ast.AssignStmt:
			if len(n.Lhs) != len(n.Rhs) {
				return
			}
			for i, lhs := range n.Lhs {
				sel, ok := lhs.(*ast.SelectorExpr)
				if !ok {
					continue
				}
				s := pass.TypesInfo.Selections[sel]
				if s == nil || s.Kind() != types.FieldVal || !enums.is(s.Type()) {
					continue
				}
				if lit, ok := stringLit(n.Rhs[i]); ok {
					pass.Reportf(lit.Pos(), "enum field %s assigned string literal %s", sel.Sel.Name, lit.Value)
				}
			}

		case *ast.CompositeLit:
			st, ok := underlyingStruct(pass.TypesInfo.TypeOf(n))
			if !ok {
				return
			}
			for _, elt := range n.Elts {
				kv, ok := elt.(*ast.KeyValueExpr)
				if !ok {
					continue
				}
				key, ok := kv.Key.(*ast.Ident)
				if !ok {
					continue
				}
				field := fieldByName(st, key.Name)
				if field == nil || !enums.is(field.Type()) {
					continue
				}
				if lit, ok := stringLit(kv.Value); ok {
					pass.Reportf(lit.Pos(), "enum field %s set to string literal %s", key.Name, lit.Value)
				}
			}
		}
	})
	return nil, nil
}

type enumSet struct {
	seen map[*types.Named]bool
}

// is reports whether t is a named string type whose package declares at
// least one constant of it.
func (e *enumSet) is(t types.Type) bool {
	named, ok := types.Unalias(t).(*types.Named)
	if !ok || named.Obj().Pkg() == nil {
		return false
	}
	if v, ok := e.seen[named]; ok {
		return v
	}

	found := false
	if basic, ok := named.Underlying().(*types.Basic); ok && basic.Info()&types.IsString != 0 {
		scope := named.Obj().Pkg().Scope()
		for _, name := range scope.Names() {
			if c, ok := scope.Lookup(name).(*types.Const); ok && types.Identical(c.Type(), named) {
				found = true
				break
			}
		}
	}
	e.seen[named] = found
	return found
}

func stringLit(expr ast.Expr) (*ast.BasicLit, bool) {
	lit, ok := ast.Unparen(expr).(*ast.BasicLit)
	if !ok || lit.Kind != token.STRING {
		return nil, false
	}
	return lit, true
}

func underlyingStruct(t types.Type) (*types.Struct, bool) {
	if t == nil {
		return nil, false
	}
	if ptr, ok := t.Underlying().(*types.Pointer); ok {
		t = ptr.Elem()
	}
	st, ok := t.Underlying().(*types.Struct)
	return st, ok
}

func fieldByName(st *types.Struct, name string) *types.Var {
	for i := range st.NumFields() {
		if f := st.Field(i); f.Name() == name {
			return f
		}
	}
	return nil
}
