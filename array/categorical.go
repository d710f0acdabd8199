// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package array

// Categorical is a run-length-free categorical vector: integer codes
// indexing into an ordered list of string levels. A code of -1 denotes a
// missing value, matching the usual pandas/Arrow convention.
type Categorical struct {
	Codes   []int32
	Levels  []string
	Ordered bool
}

func (c *Categorical) Shape() []int { return []int{len(c.Codes)} }

func (c *Categorical) DType() DType { return Int32 }

func (c *Categorical) Encoding() EncodingType { return EncodingCategorical }

// RowSlice returns a new Categorical restricted to the codes in idx.
func (c *Categorical) RowSlice(idx []int) *Categorical {
	codes := make([]int32, len(idx))
	for i, r := range idx {
		codes[i] = c.Codes[r]
	}
	return &Categorical{Codes: codes, Levels: c.Levels, Ordered: c.Ordered}
}

// Strings materializes the categorical vector as plain strings, using ""
// for missing codes.
func (c *Categorical) Strings() []string {
	out := make([]string, len(c.Codes))
	for i, code := range c.Codes {
		if code < 0 || int(code) >= len(c.Levels) {
			out[i] = ""
			continue
		}
		out[i] = c.Levels[code]
	}
	return out
}

// NewCategoricalFromStrings builds a Categorical from a plain string
// slice, interning each distinct value into Levels in first-seen order.
func NewCategoricalFromStrings(values []string) *Categorical {
	seen := make(map[string]int32, len(values))
	var levels []string
	codes := make([]int32, len(values))
	for i, v := range values {
		code, ok := seen[v]
		if !ok {
			code = int32(len(levels))
			levels = append(levels, v)
			seen[v] = code
		}
		codes[i] = code
	}
	return &Categorical{Codes: codes, Levels: levels}
}

// VStackCategorical vertically concatenates categorical vectors,
// reconciling their level lists (levels are merged in first-seen order
// across partitions, and codes are remapped accordingly).
func VStackCategorical(parts []*Categorical) *Categorical {
	if len(parts) == 0 {
		return &Categorical{}
	}
	levelIndex := make(map[string]int32)
	var levels []string
	var codes []int32
	for _, p := range parts {
		remap := make([]int32, len(p.Levels))
		for i, lvl := range p.Levels {
			code, ok := levelIndex[lvl]
			if !ok {
				code = int32(len(levels))
				levels = append(levels, lvl)
				levelIndex[lvl] = code
			}
			remap[i] = code
		}
		for _, code := range p.Codes {
			if code < 0 {
				codes = append(codes, -1)
				continue
			}
			codes = append(codes, remap[code])
		}
	}
	return &Categorical{Codes: codes, Levels: levels}
}
