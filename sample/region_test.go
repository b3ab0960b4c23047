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
package sample_test

import (
	"testing"

	"github.com/grailbio/polish/sample"
	"github.com/grailbio/testutil/expect"
)

func TestParseRegion(t *testing.T) {
	tests := []struct {
		region  string
		want    sample.Region
		wantErr bool
	}{
		{region: "chr1", want: sample.Region{Name: "chr1", Start: 0, End: -1}},
		{region: "chr1:100", want: sample.Region{Name: "chr1", Start: 99, End: 100}},
		{region: "chr1:100-200", want: sample.Region{Name: "chr1", Start: 99, End: 200}},
		{region: "chrX:1-1", want: sample.Region{Name: "chrX", Start: 0, End: 1}},
		{region: "", wantErr: true},
		{region: ":100-200", wantErr: true},
		{region: "chr1:0-200", wantErr: true},
		{region: "chr1:200-100", wantErr: true},
		{region: "chr1:ten-20", wantErr: true},
	}
	for _, tt := range tests {
		got, err := sample.ParseRegion(tt.region)
		if tt.wantErr {
			expect.True(t, err != nil, "region %q", tt.region)
			continue
		}
		expect.NoError(t, err, "region %q", tt.region)
		expect.EQ(t, got, tt.want, "region %q", tt.region)
	}
}

func TestRegionString(t *testing.T) {
	r := sample.Region{Name: "chr2", Start: 99, End: 200}
	expect.EQ(t, r.String(), "chr2:100-200")
	expect.EQ(t, r.Size(), 101)
}

func TestRegionSplit(t *testing.T) {
	r := sample.Region{Name: "chr1", Start: 0, End: 250}

	// Narrow regions come back unchanged.
	expect.EQ(t, r.Split(250, 10), []sample.Region{r})
	expect.EQ(t, r.Split(1000, 10), []sample.Region{r})

	got := r.Split(100, 10)
	expect.EQ(t, got, []sample.Region{
		{Name: "chr1", Start: 0, End: 100},
		{Name: "chr1", Start: 90, End: 190},
		{Name: "chr1", Start: 180, End: 250},
	})

	// No overlap.
	got = r.Split(100, 0)
	expect.EQ(t, got, []sample.Region{
		{Name: "chr1", Start: 0, End: 100},
		{Name: "chr1", Start: 100, End: 200},
		{Name: "chr1", Start: 200, End: 250},
	})
}
