// Package inspect implements C10, the smart inspector: given a DAP
// variablesReference, classify the value by type name / presentationHint
// and render a structured, bounded preview instead of a raw variable
// tree, per spec.md 4.9.
//
// Grounded on dap/adapter.go's variables/scopes handling for the shape of
// a DAP variable (name, value, type, variablesReference,
// presentationHint) and on the teacher's general posture of bounding any
// amount of work driven by external input (buildx bounds solve/progress
// fan-out the same way) rather than letting variable-tree size dictate
// broker memory.
package inspect

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	godap "github.com/google/go-dap"
)

// Fetcher is the narrow surface the inspector needs from a session: fetch
// the children of a variablesReference.
type Fetcher interface {
	FetchVariables(ctx context.Context, ref int) ([]godap.Variable, error)
}

// Kind classifies the rendered shape.
type Kind string

const (
	Tabular Kind = "tabular"
	Array   Kind = "array"
	Mapping Kind = "mapping"
	Sequence Kind = "sequence"
	Scalar  Kind = "scalar"
)

const (
	DefaultChildBudget  = 64
	mappingPreviewMax   = 20
	sequencePreviewMax  = 20
	mappingValueMax     = 80
	scalarValueMax      = 256
	arrayAxisPreviewMax = 6
	arrayDepthMax       = 3
)

// Result is the structured rendering returned to the caller.
type Result struct {
	Name      string
	Kind      Kind
	Header    map[string]string
	Columns   []Column       // tabular only
	Preview   []string       // mapping ("key: value") / sequence ("[i] value")
	Scalar    string         // scalar only
	Truncated bool
	Budget    Budget
}

// Column describes one column of a tabular frame's schema table.
type Column struct {
	Name      string
	Type      string
	NullCount string
}

// Budget tracks the bounded child-fetch work done for one inspect call.
type Budget struct {
	Max   int
	Spent int
}

func (b *Budget) take() bool {
	if b.Spent >= b.Max {
		return true
	}
	b.Spent++
	return false
}

var tabularTypeNames = map[string]bool{
	"DataFrame":   true,
	"Table":       true,
	"RecordBatch": true,
}

// Render classifies and renders the value behind a (name, value, type,
// ref, presentationHint) tuple, fetching at most budget children.
func Render(ctx context.Context, f Fetcher, name, typeName string, ref int, hintKind string, value string, budgetMax int) (Result, error) {
	res, err := render(ctx, f, typeName, ref, hintKind, value, budgetMax)
	res.Name = name
	return res, err
}

func render(ctx context.Context, f Fetcher, typeName string, ref int, hintKind string, value string, budgetMax int) (Result, error) {
	if budgetMax <= 0 {
		budgetMax = DefaultChildBudget
	}
	budget := Budget{Max: budgetMax}

	if ref == 0 {
		return Result{Kind: Scalar, Scalar: truncate(value, scalarValueMax)}, nil
	}

	if budget.take() {
		return Result{Kind: Scalar, Scalar: truncate(value, scalarValueMax), Truncated: true, Budget: budget}, nil
	}
	children, err := f.FetchVariables(ctx, ref)
	if err != nil {
		return Result{}, err
	}

	if isTabular(typeName) {
		return renderTabular(ctx, f, children, &budget)
	}
	if isArray(typeName, children) {
		return renderArray(ctx, f, children, &budget)
	}
	if isMapping(hintKind) {
		return renderMapping(children, &budget), nil
	}
	if isSequence(hintKind, children) {
		return renderSequence(children, &budget), nil
	}
	return Result{Kind: Scalar, Scalar: truncate(value, scalarValueMax), Budget: budget}, nil
}

func isTabular(typeName string) bool {
	for t := range tabularTypeNames {
		if strings.Contains(typeName, t) {
			return true
		}
	}
	return false
}

func isArray(typeName string, children []godap.Variable) bool {
	if strings.Contains(typeName, "ndarray") || strings.Contains(typeName, "Array") {
		return true
	}
	has := func(n string) bool {
		for _, c := range children {
			if c.Name == n {
				return true
			}
		}
		return false
	}
	return has("shape") && has("dtype")
}

func isMapping(hintKind string) bool {
	return hintKind == "dictionary" || hintKind == "map"
}

func isSequence(hintKind string, children []godap.Variable) bool {
	if hintKind == "array" {
		return true
	}
	for _, c := range children {
		if _, err := strconv.Atoi(c.Name); err != nil {
			return false
		}
	}
	return len(children) > 0
}

func renderTabular(ctx context.Context, f Fetcher, children []godap.Variable, budget *Budget) (Result, error) {
	header := map[string]string{}
	var schemaRef int
	for _, c := range children {
		switch c.Name {
		case "shape", "memory_usage", "nbytes":
			header[c.Name] = c.Value
		case "dtypes", "schema", "columns":
			schemaRef = c.VariablesReference
		}
	}

	var cols []Column
	if schemaRef != 0 && !budget.take() {
		schemaVars, err := f.FetchVariables(ctx, schemaRef)
		if err != nil {
			return Result{}, err
		}
		for _, sv := range schemaVars {
			cols = append(cols, Column{Name: sv.Name, Type: sv.Type, NullCount: ""})
		}
	}

	return Result{Kind: Tabular, Header: header, Columns: cols, Budget: *budget}, nil
}

func renderArray(ctx context.Context, f Fetcher, children []godap.Variable, budget *Budget) (Result, error) {
	header := map[string]string{}
	var dataRef int
	for _, c := range children {
		switch c.Name {
		case "shape", "dtype", "nbytes":
			header[c.Name] = c.Value
		case "data":
			dataRef = c.VariablesReference
		}
	}

	var preview []string
	ref := dataRef
	for depth := 0; depth < arrayDepthMax && ref != 0 && len(preview) < arrayAxisPreviewMax; depth++ {
		if budget.take() {
			return Result{Kind: Array, Header: header, Preview: preview, Truncated: true, Budget: *budget}, nil
		}
		elems, err := f.FetchVariables(ctx, ref)
		if err != nil {
			return Result{}, err
		}
		ref = 0
		for i, e := range elems {
			if i >= arrayAxisPreviewMax {
				break
			}
			preview = append(preview, truncate(e.Value, mappingValueMax))
			if ref == 0 {
				ref = e.VariablesReference
			}
		}
	}
	return Result{Kind: Array, Header: header, Preview: preview, Budget: *budget}, nil
}

func renderMapping(children []godap.Variable, budget *Budget) Result {
	sorted := append([]godap.Variable(nil), children...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	truncated := len(sorted) > mappingPreviewMax
	if truncated {
		sorted = sorted[:mappingPreviewMax]
	}
	preview := make([]string, len(sorted))
	for i, v := range sorted {
		preview[i] = fmt.Sprintf("%s: %s", v.Name, truncate(v.Value, mappingValueMax))
		budget.take()
	}
	return Result{Kind: Mapping, Preview: preview, Truncated: truncated, Budget: *budget}
}

func renderSequence(children []godap.Variable, budget *Budget) Result {
	n := len(children)
	truncated := n > sequencePreviewMax
	shown := children
	if truncated {
		shown = children[:sequencePreviewMax]
	}
	preview := make([]string, 0, len(shown)+1)
	for i, v := range shown {
		preview = append(preview, fmt.Sprintf("[%d] %s", i, truncate(v.Value, mappingValueMax)))
		budget.take()
	}
	if truncated {
		preview = append(preview, fmt.Sprintf("… %d more", n-sequencePreviewMax))
	}
	return Result{Kind: Sequence, Preview: preview, Truncated: truncated, Budget: *budget}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
