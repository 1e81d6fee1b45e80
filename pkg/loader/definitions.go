// Copyright 2025 Nova Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package loader

import (
	"regexp"
	"strings"
)

var (
	packageRe = regexp.MustCompile(`(?m)^\s*package\s+([\w.]+)\s*;`)
	// Top-level declarations start in column zero; matching indented
	// declarations would report nested types under the wrong name.
	typeRe = regexp.MustCompile(`(?m)^(?:public\s+|final\s+|abstract\s+|sealed\s+|non-sealed\s+|strictfp\s+)*(?:class|interface|enum|record)\s+(\w+)`)
)

// HeuristicDefinitionSource extracts declared binary names from Java
// source with line-level pattern matching instead of a real parser. It
// finds top-level type declarations only; nested types resolve through
// their enclosing type's analysis elsewhere. A real semantic analyzer can
// replace it behind the same DefinitionSource seam without loader changes.
type HeuristicDefinitionSource struct {
	reader FileReader
}

// NewHeuristicDefinitionSource builds a DefinitionSource over the given
// file reader (disk or overlay).
func NewHeuristicDefinitionSource(reader FileReader) *HeuristicDefinitionSource {
	return &HeuristicDefinitionSource{reader: reader}
}

// BinaryNames returns package-qualified names for every top-level type
// declared in the file at path.
func (s *HeuristicDefinitionSource) BinaryNames(path string) ([]string, error) {
	text, err := s.reader.Read(path)
	if err != nil {
		return nil, err
	}
	src := stripComments(string(text))

	pkg := ""
	if m := packageRe.FindStringSubmatch(src); m != nil {
		pkg = m[1]
	}

	var names []string
	seen := make(map[string]bool)
	for _, m := range typeRe.FindAllStringSubmatch(src, -1) {
		name := m[1]
		if pkg != "" {
			name = pkg + "." + name
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names, nil
}

// stripComments blanks out // and /* */ comments so a declaration inside
// commented-out code is not reported. String literals are left alone: a
// brace-free pattern match never reaches inside them in a way that could
// produce a type keyword at line start.
func stripComments(src string) string {
	var b strings.Builder
	b.Grow(len(src))
	for i := 0; i < len(src); {
		if strings.HasPrefix(src[i:], "//") {
			end := strings.IndexByte(src[i:], '\n')
			if end < 0 {
				break
			}
			i += end
			continue
		}
		if strings.HasPrefix(src[i:], "/*") {
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				break
			}
			// Keep newlines so the (?m) anchors still see line structure.
			for _, r := range src[i : i+2+end+2] {
				if r == '\n' {
					b.WriteByte('\n')
				}
			}
			i += 2 + end + 2
			continue
		}
		b.WriteByte(src[i])
		i++
	}
	return b.String()
}
