// Package leaserelease defines an analyzer that checks pooled leases are
// released with defer in the function that acquired them.
//
// A lease is the first result of a method named Acquire whose type has a
// Release method. The check is syntactic: the lease variable must appear in
// a `defer lease.Release()` statement, or in a deferred closure calling it,
// somewhere in the same function body. Test files are skipped since pool
// tests release by hand to check the bookkeeping.
package leaserelease

import (
	"go/ast"
	"go/types"
	"strings"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
)

// Analyzer is the leaserelease analyzer.
var Analyzer = &analysis.Analyzer{
	Name:     "leaserelease",
	Doc:      "reports pool leases that are not released with defer",
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
}

func run(pass *analysis.Pass) (any, error) {
	insp, _ := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)
	if insp == nil {
		return nil, nil
	}

	nodes := []ast.Node{(*ast.FuncDecl)(nil), (*ast.FuncLit)(nil)}
	insp.Preorder(nodes, func(n ast.Node) {
		if strings.HasSuffix(pass.Fset.Position(n.Pos()).Filename, "_test.go") {
			return
		}
		var body *ast.BlockStmt
		switch fn := n.(type) {
		case *ast.FuncDecl:
			body = fn.Body
		case *ast.FuncLit:
			body = fn.Body
		}
		if body != nil {
			checkBody(pass, body)
		}
	})
	return nil, nil
}

func checkBody(pass *analysis.Pass, body *ast.BlockStmt) {
	released := deferredReleases(pass.TypesInfo, body)

	inspectShallow(body, func(n ast.Node) {
		as, ok := n.(*ast.AssignStmt)
		if !ok || len(as.Rhs) != 1 || len(as.Lhs) == 0 {
			return
		}
		call, ok := as.Rhs[0].(*ast.CallExpr)
		if !ok || !isAcquire(pass.TypesInfo, call) {
			return
		}
		id, ok := as.Lhs[0].(*ast.Ident)
		if !ok {
			return
		}
		if id.Name == "_" {
			pass.Reportf(call.Pos(), "lease from Acquire is discarded and can never be released")
			return
		}
		obj := objectOf(pass.TypesInfo, id)
		if obj == nil {
			return
		}
		if _, ok := released[obj]; !ok {
			pass.Reportf(call.Pos(), "lease %s from Acquire is not released with defer", id.Name)
		}
	})
}

// inspectShallow walks body without descending into nested function literals,
// which are checked on their own.
func inspectShallow(body *ast.BlockStmt, fn func(ast.Node)) {
	ast.Inspect(body, func(n ast.Node) bool {
		if _, ok := n.(*ast.FuncLit); ok {
			return false
		}
		if n != nil {
			fn(n)
		}
		return true
	})
}

func deferredReleases(info *types.Info, body *ast.BlockStmt) map[types.Object]struct{} {
	out := map[types.Object]struct{}{}
	inspectShallow(body, func(n ast.Node) {
		ds, ok := n.(*ast.DeferStmt)
		if !ok {
			return
		}
		ast.Inspect(ds.Call, func(nn ast.Node) bool {
			call, ok := nn.(*ast.CallExpr)
			if !ok {
				return true
			}
			sel, ok := call.Fun.(*ast.SelectorExpr)
			if !ok || sel.Sel.Name != "Release" {
				return true
			}
			if x, ok := sel.X.(*ast.Ident); ok {
				if obj := objectOf(info, x); obj != nil {
					out[obj] = struct{}{}
				}
			}
			return true
		})
	})
	return out
}

func objectOf(info *types.Info, id *ast.Ident) types.Object {
	if info == nil {
		return nil
	}
	if obj := info.Defs[id]; obj != nil {
		return obj
	}
	return info.Uses[id]
}

func isAcquire(info *types.Info, call *ast.CallExpr) bool {
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok || sel.Sel.Name != "Acquire" || info == nil {
		return false
	}
	fn, ok := info.Uses[sel.Sel].(*types.Func)
	if !ok {
		return false
	}
	sig, ok := fn.Type().(*types.Signature)
	if !ok || sig.Recv() == nil || sig.Results().Len() == 0 {
		return false
	}
	return hasRelease(sig.Results().At(0).Type())
}

func hasRelease(t types.Type) bool {
	ms := types.NewMethodSet(t)
	for i := range ms.Len() {
		if ms.At(i).Obj().Name() == "Release" {
			return true
		}
	}
	return false
}
