// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tasks

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"text/template"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"

	agenterrors "github.com/tombee/agentrun/pkg/errors"
)

// Step kinds supported by declarative pipelines.
const (
	KindLLM         = "llm"
	KindJQ          = "jq"
	KindPassthrough = "passthrough"
)

var taskNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Definition is a pipeline declared in YAML.
//
//	name: summarize
//	steps:
//	  - name: pick
//	    kind: jq
//	    jq: {query: '{text: .document}'}
//	  - name: summarize
//	    kind: llm
//	    skip_if: 'len(previous.text) < 200'
//	    llm: {prompt: 'Summarize: {{.text}}'}
type Definition struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description,omitempty"`
	Steps       []StepDefinition `yaml:"steps"`

	source string
}

// StepDefinition declares one pipeline step.
type StepDefinition struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`

	// SkipIf is an expr boolean over input, previous, outputs and step.
	SkipIf string `yaml:"skip_if,omitempty"`

	// Input is a jq program applied to the previous step's output.
	Input string `yaml:"input,omitempty"`

	LLM *LLMStep `yaml:"llm,omitempty"`
	JQ  *JQStep  `yaml:"jq,omitempty"`

	skip   *vm.Program
	input  *jqProgram
	query  *jqProgram
	prompt *template.Template
	system *template.Template
}

// LLMStep configures an llm step. Prompt and System are Go templates
// rendered against the step input.
type LLMStep struct {
	Prompt    string `yaml:"prompt"`
	System    string `yaml:"system,omitempty"`
	Model     string `yaml:"model,omitempty"`
	MaxTokens int    `yaml:"max_tokens,omitempty"`
}

// JQStep configures a jq step.
type JQStep struct {
	Query string `yaml:"query"`
}

// Source returns the file the definition was loaded from, if any.
func (d *Definition) Source() string {
	return d.source
}

// Parse decodes and validates a definition. source names the origin in errors.
func Parse(data []byte, source string) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("%s: failed to parse task definition: %w", source, err)
	}
	def.source = source

	if err := def.compile(); err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	return &def, nil
}

// compile validates the definition and prepares its expressions. Every
// problem is reported, not just the first.
func (d *Definition) compile() error {
	var errs []error
	invalid := func(field, format string, args ...any) {
		errs = append(errs, &agenterrors.ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if !taskNamePattern.MatchString(d.Name) {
		invalid("name", "task name %q must start with a letter or digit and contain only letters, digits, '.', '_' or '-'", d.Name)
	}
	if len(d.Steps) == 0 {
		invalid("steps", "at least one step is required")
	}

	seen := make(map[string]bool)
	for i := range d.Steps {
		s := &d.Steps[i]
		field := fmt.Sprintf("steps[%d]", i)

		if s.Name == "" {
			invalid(field+".name", "step name is required")
		} else if seen[s.Name] {
			invalid(field+".name", "duplicate step name %q", s.Name)
		}
		seen[s.Name] = true

		if s.SkipIf != "" {
			prog, err := compileCondition(s.SkipIf)
			if err != nil {
				invalid(field+".skip_if", "%v", err)
			}
			s.skip = prog
		}
		if s.Input != "" {
			prog, err := compileJQ(s.Input)
			if err != nil {
				invalid(field+".input", "%v", err)
			}
			s.input = prog
		}

		switch s.Kind {
		case KindLLM:
			if s.LLM == nil || s.LLM.Prompt == "" {
				invalid(field+".llm.prompt", "llm steps require a prompt")
				continue
			}
			tmpl, err := parseTemplate(s.Name, s.LLM.Prompt)
			if err != nil {
				invalid(field+".llm.prompt", "%v", err)
			}
			s.prompt = tmpl
			if s.LLM.System != "" {
				sys, err := parseTemplate(s.Name+".system", s.LLM.System)
				if err != nil {
					invalid(field+".llm.system", "%v", err)
				}
				s.system = sys
			}
		case KindJQ:
			if s.JQ == nil || s.JQ.Query == "" {
				invalid(field+".jq.query", "jq steps require a query")
				continue
			}
			prog, err := compileJQ(s.JQ.Query)
			if err != nil {
				invalid(field+".jq.query", "%v", err)
			}
			s.query = prog
		case KindPassthrough:
		default:
			invalid(field+".kind", "unknown step kind %q (expected llm, jq or passthrough)", s.Kind)
		}
	}

	return errors.Join(errs...)
}

// LoadFile reads and parses one definition file.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task definition: %w", err)
	}
	return Parse(data, path)
}

// LoadFiles loads every file matched by the doublestar patterns. Files
// matched by more than one pattern are loaded once; two files declaring the
// same task name is an error.
func LoadFiles(patterns []string) ([]*Definition, error) {
	seen := make(map[string]bool)
	var paths []string
	for _, pattern := range patterns {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid task file pattern %q", pattern)
		}
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to expand task file pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				paths = append(paths, m)
			}
		}
	}
	sort.Strings(paths)

	defs := make([]*Definition, 0, len(paths))
	byName := make(map[string]string)
	for _, path := range paths {
		def, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if prev, ok := byName[def.Name]; ok {
			return nil, fmt.Errorf("%s: task %q is already defined in %s", path, def.Name, prev)
		}
		byName[def.Name] = path
		defs = append(defs, def)
	}
	return defs, nil
}
