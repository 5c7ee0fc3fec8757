// Package template assembles and renders workload definition files:
// fragment-glob expansion, variable substitution, and tracking of the
// parameters a workload exposes.
package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	texttemplate "text/template"
	"time"

	serrors "github.com/searchbench/sbench/internal/errors"
)

// collectPartsRe matches the fragment-collection directive, e.g.
// {{ benchmark.collect(parts="operations/*.json") }}.
var collectPartsRe = regexp.MustCompile(`\{\{\ +?benchmark\.collect\(parts="(.+?)"\)\ +?\}\}`)

// Source assembles a workload template from a file or string. It does not
// render; it only embeds fragments referenced via benchmark.collect(parts=...).
type Source struct {
	basePath    string
	fileName    string
	fileGlobber func(pattern string) ([]string, error)

	// Assembled is the fully expanded template source.
	Assembled string
}

// NewSource creates an assembler rooted at basePath.
func NewSource(basePath, fileName string) *Source {
	return &Source{
		basePath:    basePath,
		fileName:    fileName,
		fileGlobber: filepath.Glob,
	}
}

// LoadFromFile reads the root template file and expands all fragments.
func (s *Source) LoadFromFile() error {
	content, err := os.ReadFile(filepath.Join(s.basePath, s.fileName))
	if err != nil {
		return serrors.NewSyntaxError(
			fmt.Sprintf("could not load workload from %q: %v", s.fileName, err), s.fileName, "")
	}
	return s.LoadFromString(string(content))
}

// LoadFromString expands all fragments in the given template source.
func (s *Source) LoadFromString(templateSource string) error {
	assembled, err := s.replaceIncludes(s.basePath, templateSource)
	if err != nil {
		return err
	}
	s.Assembled = assembled
	return nil
}

// replaceIncludes recursively substitutes collect directives with the
// comma-joined contents of the matching fragment files. Nested directives
// resolve against the directory of their own fragment.
func (s *Source) replaceIncludes(basePath, fragment string) (string, error) {
	matches := collectPartsRe.FindAllStringSubmatch(fragment, -1)
	if len(matches) == 0 {
		return fragment, nil
	}

	replacements := make(map[string]string, len(matches))
	for _, m := range matches {
		globPattern := m[1]
		if _, done := replacements[globPattern]; done {
			continue
		}
		fullGlob := filepath.Join(basePath, globPattern)
		subSource, err := s.readGlobFiles(fullGlob)
		if err != nil {
			return "", err
		}
		expanded, err := s.replaceIncludes(filepath.Dir(fullGlob), subSource)
		if err != nil {
			return "", err
		}
		replacements[globPattern] = expanded
	}

	result := collectPartsRe.ReplaceAllStringFunc(fragment, func(directive string) string {
		pattern := collectPartsRe.FindStringSubmatch(directive)[1]
		return replacements[pattern]
	})
	return result, nil
}

func (s *Source) readGlobFiles(pattern string) (string, error) {
	files, err := s.fileGlobber(pattern)
	if err != nil {
		return "", fmt.Errorf("globbing %s: %w", pattern, err)
	}
	sort.Strings(files)
	parts := make([]string, 0, len(files))
	for _, name := range files {
		content, err := os.ReadFile(name)
		if err != nil {
			return "", fmt.Errorf("reading fragment %s: %w", name, err)
		}
		parts = append(parts, string(content))
	}
	return strings.Join(parts, ",\n"), nil
}

// RenderOptions parameterize template rendering.
type RenderOptions struct {
	// Vars are the user-supplied workload parameters, addressable as
	// {{ .name }} in the template.
	Vars map[string]any

	// BasePath anchors the glob helper. Empty disables globbing.
	BasePath string

	// Clock supplies the current time for the now / days_ago helpers.
	// Nil uses the wall clock.
	Clock func() time.Time

	// CompleteParams, when non-nil, records all parameters the template
	// references.
	CompleteParams *CompleteParams
}

// Render substitutes variables into an assembled template source.
func Render(source string, opts RenderOptions) (string, error) {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	tmpl := texttemplate.New("workload").
		Option("missingkey=zero").
		Funcs(helperFuncs(opts.BasePath, clock))

	parsed, err := tmpl.Parse(source)
	if err != nil {
		return "", serrors.NewSyntaxError(
			fmt.Sprintf("could not parse workload template: %v", err), "", "")
	}

	referenced := referencedParams(parsed)
	if opts.CompleteParams != nil {
		opts.CompleteParams.AddWorkloadDefined(referenced)
	}

	data := make(map[string]any, len(referenced))
	for _, name := range referenced {
		data[name] = nil
	}
	for k, v := range opts.Vars {
		data[k] = v
	}

	var out bytes.Buffer
	if err := parsed.Execute(&out, data); err != nil {
		return "", serrors.NewSyntaxError(
			fmt.Sprintf("could not render workload template: %v", err), "", "")
	}
	return out.String(), nil
}

// RenderFromFile assembles the template rooted at fileName and renders it.
func RenderFromFile(fileName string, vars map[string]any, completeParams *CompleteParams) (string, error) {
	basePath := filepath.Dir(fileName)
	src := NewSource(basePath, filepath.Base(fileName))
	if err := src.LoadFromFile(); err != nil {
		return "", err
	}
	return Render(src.Assembled, RenderOptions{
		Vars:           vars,
		BasePath:       basePath,
		CompleteParams: completeParams,
	})
}

// helperFuncs is the fixed set of internal helpers exposed to templates.
// User parameters can never shadow these.
func helperFuncs(basePath string, clock func() time.Time) texttemplate.FuncMap {
	return texttemplate.FuncMap{
		// now is the current timestamp in seconds.
		"now": func() int64 {
			return clock().Unix()
		},
		// days_ago renders the date n days before now, e.g. {{ days_ago 7 }}.
		"days_ago": func(days int) string {
			return clock().AddDate(0, 0, -days).Format("2006-01-02")
		},
		// glob lists files below the template directory.
		"glob": func(pattern string) []string {
			if basePath == "" {
				return nil
			}
			matches, err := filepath.Glob(filepath.Join(basePath, pattern))
			if err != nil {
				return nil
			}
			rel := make([]string, 0, len(matches))
			for _, m := range matches {
				if r, err := filepath.Rel(basePath, m); err == nil {
					rel = append(rel, r)
				}
			}
			return rel
		},
		// default substitutes a fallback for an unset parameter:
		// {{ .bulk_size | default 5000 }}.
		"default": func(def, value any) any {
			if value == nil {
				return def
			}
			return value
		},
		// exists_set_param emits a field only when the parameter is set:
		// {{ exists_set_param "index.codec" .index_codec }}.
		"exists_set_param": func(name string, value any) string {
			if value == nil {
				return ""
			}
			encoded, err := json.Marshal(value)
			if err != nil {
				return ""
			}
			return fmt.Sprintf(", %q: %s", name, encoded)
		},
		// tojson serializes any value as JSON.
		"tojson": func(value any) (string, error) {
			encoded, err := json.Marshal(value)
			return string(encoded), err
		},
	}
}
