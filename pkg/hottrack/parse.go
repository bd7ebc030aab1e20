// Copyright 2022 Intel Corporation. All Rights Reserved.
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

package hottrack

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ParseBytes parses a human-readable byte quantity such as "512M" or
// "2G" into a byte count. A bare number is interpreted as bytes. The
// recognized unit suffixes are k, M, G and T (optionally followed by
// "B"), all base 1024.
func ParseBytes(s string) (int64, error) {
	origS := s
	factor := int64(1)
	if len(s) == 0 {
		return 0, errors.New("syntax error in bytes: string is empty")
	}
	if s[len(s)-1] == 'B' {
		s = s[:len(s)-1]
	}
	if len(s) == 0 {
		return 0, errors.Errorf("syntax error in bytes %q: missing numeric part", origS)
	}
	numpart := s[:len(s)-1]
	switch c := s[len(s)-1]; {
	case c == 'k':
		factor = 1024
	case c == 'M':
		factor = 1024 * 1024
	case c == 'G':
		factor = 1024 * 1024 * 1024
	case c == 'T':
		factor = 1024 * 1024 * 1024 * 1024
	case '0' <= c && c <= '9':
		numpart = s
	default:
		return 0, errors.Errorf("syntax error in bytes %q: unexpected unit %q", origS, c)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(numpart), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "syntax error in bytes %q: bad numeric part %q", origS, numpart)
	}
	return n * factor, nil
}

// MustParseBytes is like ParseBytes but panics on error. Intended for
// parsing compile-time-known constants, not configuration from an
// untrusted source.
func MustParseBytes(s string) int64 {
	bytes, err := ParseBytes(s)
	if err != nil {
		panic(err)
	}
	return bytes
}
