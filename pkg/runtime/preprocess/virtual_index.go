package preprocess

import (
	"fmt"
	"strconv"

	"github.com/itohio/tensorlang/pkg/ast"
	"github.com/itohio/tensorlang/pkg/backend"
	"github.com/itohio/tensorlang/pkg/core/math/tensor"
	"github.com/itohio/tensorlang/pkg/logger"
	"github.com/itohio/tensorlang/pkg/runtime/env"
)

// VirtualIndexPreprocessor expands tensor equations over virtual (time-
// stepped) indices into concrete timestep-ordered assignments. Main tensors
// keep a width-1 virtual dimension holding the current value (slot 0); SSA
// temporaries carry each timestep's computation so same-timestep consumers
// see just-computed values before copy-back.
type VirtualIndexPreprocessor struct{}

func (v *VirtualIndexPreprocessor) Name() string  { return "VirtualIndexPreprocessor" }
func (v *VirtualIndexPreprocessor) Priority() int { return 100 }

// defaultIterations is used when no driving tensor is bound.
const defaultIterations = 10

type virtualRef struct {
	tensor  string
	virtual string
}

type eqInfo struct {
	eq           *ast.TensorEquation
	lhsTensor    string
	lhsOffset    int // -1 for consumer-only equations
	rhsVirtuals  map[virtualRef]map[int]bool
	consumerOnly bool
}

func hasVirtualIndex(indices []ast.IndexOrSlice) bool {
	for _, ios := range indices {
		if idx, ok := ios.(*ast.Index); ok && idx.Virtual != nil {
			return true
		}
	}
	return false
}

func findVirtualIndices(ref ast.TensorRef) []ast.VirtualIndex {
	var out []ast.VirtualIndex
	for _, ios := range ref.Indices {
		if idx, ok := ios.(*ast.Index); ok && idx.Virtual != nil {
			out = append(out, *idx.Virtual)
		}
	}
	return out
}

// walkExpr visits every sub-expression.
func walkExpr(e ast.Expr, fn func(ast.Expr)) {
	if e == nil {
		return
	}
	fn(e)
	switch n := e.(type) {
	case *ast.ListExpr:
		for _, el := range n.Elems {
			walkExpr(el, fn)
		}
	case *ast.ParenExpr:
		walkExpr(n.Inner, fn)
	case *ast.CallExpr:
		for _, a := range n.Args {
			walkExpr(a, fn)
		}
	case *ast.BinaryExpr:
		walkExpr(n.LHS, fn)
		walkExpr(n.RHS, fn)
	case *ast.UnaryExpr:
		walkExpr(n.Operand, fn)
	}
}

func walkClauses(eq *ast.TensorEquation, fn func(ast.Expr)) {
	for _, cl := range eq.Clauses {
		walkExpr(cl.Expr, fn)
		if cl.Guard != nil {
			walkExpr(cl.Guard, fn)
		}
	}
}

// collectRHSVirtuals maps (tensor, virtual index) pairs of the RHS to the set
// of offsets read.
func collectRHSVirtuals(eq *ast.TensorEquation) map[virtualRef]map[int]bool {
	out := map[virtualRef]map[int]bool{}
	walkClauses(eq, func(e ast.Expr) {
		ref, ok := e.(*ast.RefExpr)
		if !ok {
			return
		}
		for _, ios := range ref.Ref.Indices {
			idx, ok := ios.(*ast.Index)
			if !ok || idx.Virtual == nil {
				continue
			}
			key := virtualRef{tensor: ref.Ref.Name.Name, virtual: idx.Virtual.Name.Name}
			if out[key] == nil {
				out[key] = map[int]bool{}
			}
			out[key][idx.Virtual.Offset] = true
		}
	})
	return out
}

func (v *VirtualIndexPreprocessor) ShouldPreprocess(st ast.Statement, e *env.Environment) bool {
	eq, ok := st.(*ast.TensorEquation)
	if !ok {
		return false
	}
	if hasVirtualIndex(eq.LHS.Indices) {
		return true
	}
	return len(collectRHSVirtuals(eq)) > 0
}

// Preprocess expands a single equation. Consumer-only equations map virtual
// references to slot 0; producers expand into per-timestep write-to-temp and
// copy-back pairs.
func (v *VirtualIndexPreprocessor) Preprocess(st ast.Statement, e *env.Environment) ([]ast.Statement, error) {
	eq, ok := st.(*ast.TensorEquation)
	if !ok {
		return []ast.Statement{st}, nil
	}

	lhsVirtuals := findVirtualIndices(eq.LHS)
	if len(lhsVirtuals) == 0 {
		if len(collectRHSVirtuals(eq)) == 0 {
			return []ast.Statement{st}, nil
		}
		// Consumer-only: current-value semantics, read slot 0.
		return []ast.Statement{substituteEquation(eq, nil, "", nil, keepLHS)}, nil
	}
	if len(lhsVirtuals) > 1 {
		return nil, fmt.Errorf("multiple virtual indices on LHS are not supported")
	}
	return v.PreprocessBatch([]ast.Statement{st}, e)
}

// PreprocessBatch expands a statement run, grouping virtual equations by
// driving index name, ordering each group by intra-timestep dependencies, and
// concatenating per-group expansions. Non-virtual statements pass through at
// their original position.
func (v *VirtualIndexPreprocessor) PreprocessBatch(stmts []ast.Statement, e *env.Environment) ([]ast.Statement, error) {
	groups := map[string][]*eqInfo{}
	var groupOrder []string
	addToGroup := func(name string, info *eqInfo) {
		if _, ok := groups[name]; !ok {
			groupOrder = append(groupOrder, name)
		}
		groups[name] = append(groups[name], info)
	}

	type slot struct {
		stmt  ast.Statement // non-virtual passthrough
		group string        // expansion anchor for this group
	}
	var layout []slot
	anchored := map[string]bool{}

	for _, st := range stmts {
		eq, ok := st.(*ast.TensorEquation)
		if !ok || !v.ShouldPreprocess(st, e) {
			layout = append(layout, slot{stmt: st})
			continue
		}

		lhsVirtuals := findVirtualIndices(eq.LHS)
		rhsV := collectRHSVirtuals(eq)

		if len(lhsVirtuals) == 0 {
			for key := range rhsV {
				info := &eqInfo{eq: eq, lhsTensor: env.Key(eq.LHS), lhsOffset: -1, rhsVirtuals: rhsV, consumerOnly: true}
				addToGroup(key.virtual, info)
				if !anchored[key.virtual] {
					anchored[key.virtual] = true
					layout = append(layout, slot{group: key.virtual})
				}
				break
			}
			continue
		}
		if len(lhsVirtuals) > 1 {
			return nil, fmt.Errorf("multiple virtual indices on LHS are not supported")
		}
		name := lhsVirtuals[0].Name.Name
		info := &eqInfo{eq: eq, lhsTensor: env.Key(eq.LHS), lhsOffset: lhsVirtuals[0].Offset, rhsVirtuals: rhsV}
		addToGroup(name, info)
		if !anchored[name] {
			anchored[name] = true
			layout = append(layout, slot{group: name})
		}
	}

	expansions := map[string][]ast.Statement{}
	for _, name := range groupOrder {
		expanded, err := v.expandGroup(name, groups[name], e)
		if err != nil {
			return nil, err
		}
		expansions[name] = expanded
	}

	var result []ast.Statement
	for _, s := range layout {
		if s.group != "" {
			result = append(result, expansions[s.group]...)
			continue
		}
		result = append(result, s.stmt)
	}
	return result, nil
}

func (v *VirtualIndexPreprocessor) expandGroup(virtualName string, infos []*eqInfo, e *env.Environment) ([]ast.Statement, error) {
	logger.Log.Debug().Str("group", virtualName).Int("equations", len(infos)).Msg("virtual-index expansion")

	hasProducer := false
	for _, info := range infos {
		if !info.consumerOnly {
			hasProducer = true
			break
		}
	}
	if !hasProducer {
		// No producer in scope: substitute slot 0 once per consumer.
		var out []ast.Statement
		for _, info := range infos {
			out = append(out, substituteEquation(info.eq, nil, "", nil, keepLHS))
		}
		return out, nil
	}

	order, err := topologicalOrder(infos)
	if err != nil {
		return nil, err
	}

	// Iteration count comes from the first equation's driving tensor.
	iterations := iterationCount(virtualName, e, infos[0].eq)

	// Producers need at least one slot in the virtual dimension.
	for _, info := range infos {
		if !info.consumerOnly {
			ensureMinimumVirtualSlots(info.eq, e, 1)
		}
	}

	var result []ast.Statement
	for t := 0; t < iterations; t++ {
		regularSubs := map[string]int{virtualName: t}

		tempNames := map[string]string{}
		for _, idx := range order {
			info := infos[idx]
			if !info.consumerOnly {
				tempNames[info.lhsTensor] = info.lhsTensor + "_next_" + strconv.Itoa(t)
			}
		}

		for _, idx := range order {
			info := infos[idx]

			// Same-timestep reads of a producer's output offset go through
			// its temporary.
			rhsTensorMap := map[string]string{}
			for key, offsets := range info.rhsVirtuals {
				if key.virtual != virtualName {
					continue
				}
				for _, other := range infos {
					if other.consumerOnly || other.lhsTensor != key.tensor {
						continue
					}
					if offsets[other.lhsOffset] {
						if temp, ok := tempNames[other.lhsTensor]; ok {
							rhsTensorMap[other.lhsTensor] = temp
						}
					}
				}
			}

			if info.consumerOnly {
				result = append(result, substituteEquation(info.eq, regularSubs, virtualName, rhsTensorMap, substituteLHS))
				continue
			}

			// Write to the SSA temporary: virtual indices are dropped from
			// the temporary's shape.
			write := substituteEquation(info.eq, regularSubs, virtualName, rhsTensorMap, dropLHSVirtual)
			write.LHS.Name.Name = tempNames[info.lhsTensor]
			result = append(result, write)
		}

		// Copy temporaries back into slot 0 of the main tensors.
		for _, idx := range order {
			info := infos[idx]
			if info.consumerOnly {
				continue
			}
			result = append(result, copyBackEquation(info.eq, tempNames[info.lhsTensor]))
		}
	}
	return result, nil
}

// topologicalOrder sorts a group so each equation runs after the producers it
// reads within a timestep. Cycles abort the expansion.
func topologicalOrder(infos []*eqInfo) ([]int, error) {
	adj := make([][]int, len(infos))
	for i, a := range infos {
		for j, b := range infos {
			if i == j {
				continue
			}
			// b depends on a when b reads a's output offset...
			edge := false
			for key, offsets := range b.rhsVirtuals {
				if key.tensor == a.lhsTensor && offsets[a.lhsOffset] {
					edge = true
					break
				}
			}
			// ...or references a's output tensor at all (consumer ordering).
			if !edge && referencesTensor(b.eq, a.lhsTensor) {
				edge = true
			}
			if edge {
				adj[i] = append(adj[i], j)
			}
		}
	}

	const (
		unvisited = iota
		inStack
		done
	)
	state := make([]int, len(infos))
	var order []int
	var visit func(int) error
	visit = func(n int) error {
		switch state[n] {
		case inStack:
			return fmt.Errorf("cyclic dependency detected in virtual-indexed equations")
		case done:
			return nil
		}
		state[n] = inStack
		for _, m := range adj[n] {
			if err := visit(m); err != nil {
				return err
			}
		}
		state[n] = done
		order = append(order, n)
		return nil
	}
	for i := range infos {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	// Reverse post-order.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order, nil
}

func referencesTensor(eq *ast.TensorEquation, name string) bool {
	found := false
	for _, cl := range eq.Clauses {
		walkExpr(cl.Expr, func(e ast.Expr) {
			if ref, ok := e.(*ast.RefExpr); ok && ref.Ref.Name.Name == name {
				found = true
			}
		})
		if found {
			return true
		}
	}
	return false
}

// iterationCount locates an RHS tensor indexed by the driving name whose axis
// exists in the environment and returns that axis's length.
func iterationCount(indexName string, e *env.Environment, eq *ast.TensorEquation) int {
	count := defaultIterations
	found := false
	walkClauses(eq, func(expr ast.Expr) {
		if found {
			return
		}
		refE, ok := expr.(*ast.RefExpr)
		if !ok {
			return
		}
		dim := -1
		for i, ios := range refE.Ref.Indices {
			if idx, ok := ios.(*ast.Index); ok && idx.Ident != nil && idx.Ident.Name == indexName {
				dim = i
				break
			}
		}
		if dim < 0 {
			return
		}
		t, err := e.LookupRef(refE.Ref)
		if err != nil {
			return
		}
		if dim < t.Rank() {
			count = t.Shape()[dim]
			found = true
		}
	})
	return count
}

// ensureMinimumVirtualSlots grows the LHS tensor so the virtual dimension
// exists with at least minSlots cells, preserving prior contents.
func ensureMinimumVirtualSlots(eq *ast.TensorEquation, e *env.Environment, minSlots int) {
	virtualDim := -1
	for i, ios := range eq.LHS.Indices {
		if idx, ok := ios.(*ast.Index); ok && idx.Virtual != nil {
			virtualDim = i
			break
		}
	}
	if virtualDim < 0 {
		return
	}
	name := env.Key(eq.LHS)
	existing, err := e.Lookup(name)
	if err != nil {
		return
	}

	old := existing.Dense()
	shape := old.Shape().Clone()
	switch {
	case virtualDim >= len(shape):
		for len(shape) <= virtualDim {
			shape = append(shape, minSlots)
		}
	case shape[virtualDim] < minSlots:
		shape[virtualDim] = minSlots
	default:
		return
	}

	grown := tensor.Zeros(shape)
	copyCorner(grown, old)
	e.Bind(name, backend.FromDense(grown))
}

// copyCorner copies src into the leading corner of dst.
func copyCorner(dst, src tensor.Dense) {
	if src.Size() == 0 {
		return
	}
	if src.Rank() == 0 {
		idx := make([]int, dst.Rank())
		dst.SetAt(src.Item(), idx...)
		return
	}
	coord := make([]int, src.Rank())
	dstCoord := make([]int, dst.Rank())
	for n := 0; n < src.Size(); n++ {
		for i := range dstCoord {
			dstCoord[i] = 0
		}
		copy(dstCoord, coord)
		dst.SetAt(src.At(coord...), dstCoord...)
		for d := len(coord) - 1; d >= 0; d-- {
			coord[d]++
			if coord[d] < src.Shape()[d] {
				break
			}
			coord[d] = 0
		}
	}
}
