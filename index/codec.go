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

package index

import (
	"fmt"

	"github.com/annstore/anndata/array"
)

// encodeStrings/decodeStrings reuse array's Dense/String codec rather
// than inventing a second byte format for the same shape of data.
func encodeStrings(values []string) ([]byte, error) {
	d := &array.Dense{ShapeVal: []int{len(values)}, Dtype: array.String, Data: append([]string(nil), values...)}
	return array.Encode(d)
}

func decodeStrings(data []byte) ([]string, error) {
	a, err := array.Decode(array.EncodingDense, data)
	if err != nil {
		return nil, err
	}
	d, ok := a.(*array.Dense)
	if !ok {
		return nil, fmt.Errorf("index: decoded array is %T, not *array.Dense", a)
	}
	s, ok := d.Data.([]string)
	if !ok {
		return nil, fmt.Errorf("index: decoded Dense element type is %T, not []string", d.Data)
	}
	return s, nil
}
