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
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/tombee/agentrun/internal/controller/runner"
)

func compileCondition(source string) (*vm.Program, error) {
	prog, err := expr.Compile(source,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid skip_if expression: %w", err)
	}
	return prog, nil
}

// evaluateCondition runs a skip_if program against the pipeline state.
func evaluateCondition(prog *vm.Program, previous any, ec *runner.ExecutionContext) (bool, error) {
	prev, err := toJSONValue(previous)
	if err != nil {
		return false, err
	}
	outputs, err := toJSONValue(ec.Outputs())
	if err != nil {
		return false, err
	}

	env := map[string]any{
		"input":    ec.Input,
		"previous": prev,
		"outputs":  outputs,
		"step":     ec.CurrentStep(),
	}
	result, err := expr.Run(prog, env)
	if err != nil {
		return false, fmt.Errorf("skip_if evaluation failed: %w", err)
	}
	skip, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("skip_if must return boolean, got %T", result)
	}
	return skip, nil
}

var templateFuncs = template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
}

func parseTemplate(name, text string) (*template.Template, error) {
	tmpl, err := template.New(name).Funcs(templateFuncs).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("invalid template: %w", err)
	}
	return tmpl, nil
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}
