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
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/itchyny/gojq"
)

const (
	// jqTimeout bounds a single jq evaluation.
	jqTimeout = time.Second

	// jqMaxInputSize is the largest input, in JSON bytes, a jq program may see.
	jqMaxInputSize = 10 * 1024 * 1024
)

// jqProgram is a compiled jq query.
type jqProgram struct {
	source string
	code   *gojq.Code
}

func compileJQ(source string) (*jqProgram, error) {
	query, err := gojq.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("invalid jq expression: %w", err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("jq compilation failed: %w", err)
	}
	return &jqProgram{source: source, code: code}, nil
}

// Run evaluates the program. No result yields nil, one result is returned
// as is and several are collected into an array.
func (p *jqProgram) Run(ctx context.Context, data any) (any, error) {
	input, err := toJSONValue(data)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, jqTimeout)
	defer cancel()

	var results []any
	iter := p.code.RunWithContext(ctx, input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("jq execution timeout after %v", jqTimeout)
			}
			return nil, fmt.Errorf("jq %q: %w", p.source, err)
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// toJSONValue converts data to the plain maps, slices and float64 numbers
// gojq operates on.
func toJSONValue(data any) (any, error) {
	if data == nil {
		return nil, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("jq input is not JSON serializable: %w", err)
	}
	if len(raw) > jqMaxInputSize {
		return nil, fmt.Errorf("jq input size %d bytes exceeds limit of %d bytes", len(raw), jqMaxInputSize)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
