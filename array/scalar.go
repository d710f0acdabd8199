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

// Scalar is a single unstructured value, used for uns entries that are
// not collections (e.g. a run parameter, a threshold).
type Scalar struct {
	Dtype DType
	Value any // float64, int64, bool, or string, matching Dtype
}

func (s *Scalar) Shape() []int { return nil }

func (s *Scalar) DType() DType { return s.Dtype }

func (s *Scalar) Encoding() EncodingType { return EncodingScalar }
