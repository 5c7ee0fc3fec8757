package template

import (
	"sort"
	texttemplate "text/template"
	"text/template/parse"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// CompleteParams tracks the parameters a workload defines (every variable
// referenced anywhere in its templates) against the parameters the user
// supplied, so unused user parameters can be reported.
type CompleteParams struct {
	workloadDefined map[string]struct{}
	userSpecified   map[string]any
}

// NewCompleteParams creates a tracker over the user-specified parameters.
func NewCompleteParams(userSpecified map[string]any) *CompleteParams {
	return &CompleteParams{
		workloadDefined: make(map[string]struct{}),
		userSpecified:   userSpecified,
	}
}

// AddWorkloadDefined records parameters referenced by a template.
func (c *CompleteParams) AddWorkloadDefined(names []string) {
	for _, name := range names {
		c.workloadDefined[name] = struct{}{}
	}
}

// SortedWorkloadDefined returns all workload-defined parameters in order.
func (c *CompleteParams) SortedWorkloadDefined() []string {
	names := make([]string, 0, len(c.workloadDefined))
	for name := range c.workloadDefined {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnusedUserParams returns the user-specified parameters that no template
// references, in sorted order.
func (c *CompleteParams) UnusedUserParams() []string {
	var unused []string
	for name := range c.userSpecified {
		if _, ok := c.workloadDefined[name]; !ok {
			unused = append(unused, name)
		}
	}
	sort.Strings(unused)
	return unused
}

// CloseMatches suggests, for each unknown name, the closest workload-defined
// parameters within an edit distance of 3.
func (c *CompleteParams) CloseMatches(unknown []string) []string {
	suggestions := make(map[string]struct{})
	for _, name := range unknown {
		for candidate := range c.workloadDefined {
			distance := levenshtein.DistanceForStrings(
				[]rune(name), []rune(candidate), levenshtein.DefaultOptions)
			if distance <= 3 {
				suggestions[candidate] = struct{}{}
			}
		}
	}
	result := make([]string, 0, len(suggestions))
	for s := range suggestions {
		result = append(result, s)
	}
	sort.Strings(result)
	return result
}

// referencedParams walks the parse tree and collects the names of all
// top-level variables the template references.
func referencedParams(t *texttemplate.Template) []string {
	seen := make(map[string]struct{})
	for _, assoc := range t.Templates() {
		if assoc.Tree != nil && assoc.Tree.Root != nil {
			walkNode(assoc.Tree.Root, seen)
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func walkNode(node parse.Node, seen map[string]struct{}) {
	switch n := node.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, child := range n.Nodes {
			walkNode(child, seen)
		}
	case *parse.ActionNode:
		walkPipe(n.Pipe, seen)
	case *parse.IfNode:
		walkBranch(&n.BranchNode, seen)
	case *parse.RangeNode:
		walkBranch(&n.BranchNode, seen)
	case *parse.WithNode:
		walkBranch(&n.BranchNode, seen)
	case *parse.TemplateNode:
		walkPipe(n.Pipe, seen)
	}
}

func walkBranch(n *parse.BranchNode, seen map[string]struct{}) {
	walkPipe(n.Pipe, seen)
	walkNode(n.List, seen)
	if n.ElseList != nil {
		walkNode(n.ElseList, seen)
	}
}

func walkPipe(pipe *parse.PipeNode, seen map[string]struct{}) {
	if pipe == nil {
		return
	}
	for _, cmd := range pipe.Cmds {
		for _, arg := range cmd.Args {
			switch a := arg.(type) {
			case *parse.FieldNode:
				if len(a.Ident) > 0 {
					seen[a.Ident[0]] = struct{}{}
				}
			case *parse.ChainNode:
				if field, ok := a.Node.(*parse.FieldNode); ok && len(field.Ident) > 0 {
					seen[field.Ident[0]] = struct{}{}
				}
			case *parse.PipeNode:
				walkPipe(a, seen)
			}
		}
	}
}
