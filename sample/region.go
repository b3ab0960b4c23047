// Copyright 2021 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package sample

import (
	"fmt"
	"strconv"
	"strings"
)

// Region is a half-open reference coordinate interval [Start, End).
// Regions are immutable once constructed.
type Region struct {
	Name  string
	Start int
	End   int
}

// String renders the region as <contig ID>:<1-based first pos>-<last pos>.
func (r Region) String() string {
	return fmt.Sprintf("%s:%d-%d", r.Name, r.Start+1, r.End)
}

// Size returns the number of reference bases spanned by the region.
func (r Region) Size() int {
	return r.End - r.Start
}

// Split partitions the region into subregions at most width bases
// wide, each overlapping its predecessor by overlap bases.  The final
// subregion keeps the original end coordinate and may be shorter than
// width.  Regions no wider than width are returned unchanged.
func (r Region) Split(width, overlap int) []Region {
	if width <= overlap {
		panic(fmt.Sprintf("region split width %d must exceed overlap %d", width, overlap))
	}
	if r.Size() <= width {
		return []Region{r}
	}
	var subs []Region
	step := width - overlap
	for start := r.Start; ; start += step {
		end := start + width
		if end >= r.End {
			subs = append(subs, Region{r.Name, start, r.End})
			return subs
		}
		subs = append(subs, Region{r.Name, start, end})
	}
}

// ParseRegion parses a region string of one of the forms
//   [contig ID]:[1-based first pos]-[last pos]
//   [contig ID]:[1-based pos]
//   [contig ID]
// returning 0-based half-open interval boundaries.  When there is no
// positional restriction, Start is 0 and End is -1; the caller is
// expected to clamp End to the reference length.
func ParseRegion(region string) (result Region, err error) {
	if len(region) == 0 {
		return result, fmt.Errorf("sample.ParseRegion: empty region string")
	}
	colonPos := strings.IndexByte(region, ':')
	if colonPos == -1 {
		result.Name = region
		result.Start = 0
		result.End = -1
		return result, nil
	}
	if colonPos == 0 {
		return result, fmt.Errorf("sample.ParseRegion: empty contig ID")
	}
	result.Name = region[0:colonPos]
	rangeStr := region[colonPos+1:]
	dashPos := strings.IndexByte(rangeStr, '-')
	if dashPos == -1 {
		var pos1 int
		if pos1, err = strconv.Atoi(rangeStr); err != nil {
			return result, err
		}
		if pos1 <= 0 {
			return result, fmt.Errorf("sample.ParseRegion: position %v in region string out of range", rangeStr)
		}
		result.Start = pos1 - 1
		result.End = pos1
		return result, nil
	}
	var start1, end0 int
	if start1, err = strconv.Atoi(rangeStr[:dashPos]); err != nil {
		return result, err
	}
	if start1 <= 0 {
		return result, fmt.Errorf("sample.ParseRegion: position %v in region string out of range", rangeStr[:dashPos])
	}
	if end0, err = strconv.Atoi(rangeStr[dashPos+1:]); err != nil {
		return result, err
	}
	if end0 < start1 {
		return result, fmt.Errorf("sample.ParseRegion: invalid range string %v", rangeStr)
	}
	result.Start = start1 - 1
	result.End = end0
	return result, nil
}
