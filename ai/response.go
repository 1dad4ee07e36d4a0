// Copyright 2025 Poiesic Systems
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


package ai

import "strings"

// CleanResponse strips markdown code fences from a model response and
// repairs the JSON mistakes small models commonly make.
func CleanResponse(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return RepairJSON(strings.TrimSpace(s))
}

// RepairJSON attempts to fix common JSON formatting issues from LLM responses.
// It adds a missing opening quote before object keys (`, type":` becomes
// `, "type":`) and drops trailing commas before a closing brace or bracket.
// String contents are never modified.
func RepairJSON(s string) string {
	in := []rune(s)
	out := make([]rune, 0, len(in)+16)

	inString, escaped := false, false
	for i := 0; i < len(in); i++ {
		ch := in[i]

		if inString {
			out = append(out, ch)
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
			out = append(out, ch)
			continue
		case ',':
			if next := nextSignificant(in, i+1); next == '}' || next == ']' {
				continue
			}
		}

		out = append(out, ch)
		if ch != '{' && ch != ',' {
			continue
		}

		// Copy whitespace, then look for a bare key closed by `":`.
		j := i + 1
		for j < len(in) && isSpace(in[j]) {
			out = append(out, in[j])
			j++
		}
		k := j
		for k < len(in) && isKeyRune(in[k]) {
			k++
		}
		if k > j && isLetter(in[j]) && k+1 < len(in) && in[k] == '"' && in[k+1] == ':' {
			out = append(out, '"')
			out = append(out, in[j:k+1]...)
			i = k
			continue
		}
		i = j - 1
	}

	return string(out)
}

// nextSignificant returns the first non-whitespace rune at or after i, or 0.
func nextSignificant(in []rune, i int) rune {
	for ; i < len(in); i++ {
		if !isSpace(in[i]) {
			return in[i]
		}
	}
	return 0
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}

// isLetter returns true if the rune is an ASCII letter.
func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isKeyRune(r rune) bool {
	return isLetter(r) || r == '_' || (r >= '0' && r <= '9')
}
