// Package osexitmain defines an analyzer that reports os.Exit in main.main.
//
// main.main has to return normally so that deferred cleanup (closing the
// data source, flushing the logger) runs. Both direct calls and function
// values such as `exit := os.Exit` are reported.
package osexitmain

import (
	"go/ast"
	"go/types"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
)

// Analyzer is the osexitmain analyzer.
var Analyzer = &analysis.Analyzer{
	Name:     "osexitmain",
	Doc:      "reports os.Exit used in main.main",
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
}

func run(pass *analysis.Pass) (any, error) {
	if pass.Pkg == nil || pass.Pkg.Name() != "main" {
		return nil, nil
	}

	insp, _ := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)
	if insp == nil {
		return nil, nil
	}

	insp.Preorder([]ast.Node{(*ast.FuncDecl)(nil)}, func(n ast.Node) {
		fd, ok := n.(*ast.FuncDecl)
		if !ok || fd.Recv != nil || fd.Name == nil || fd.Name.Name != "main" || fd.Body == nil {
			return
		}

		ast.Inspect(fd.Body, func(nn ast.Node) bool {
			sel, ok := nn.(*ast.SelectorExpr)
			if !ok {
				return true
			}
			if isOsExit(pass.TypesInfo, sel) {
				pass.Reportf(sel.Pos(), "os.Exit in main.main skips deferred cleanup; return from run and let main exit")
			}
			return true
		})
	})

	return nil, nil
}

func isOsExit(info *types.Info, sel *ast.SelectorExpr) bool {
	if info == nil || sel == nil || sel.Sel == nil {
		return false
	}
	fn, ok := info.Uses[sel.Sel].(*types.Func)
	if !ok || fn.Pkg() == nil {
		return false
	}
	return fn.Pkg().Path() == "os" && fn.Name() == "Exit"
}
