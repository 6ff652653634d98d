// This file is part of probefinder.
//
// probefinder is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// probefinder is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with probefinder. If not, see <https://www.gnu.org/licenses/>.

package probe

import (
	"bufio"
	"os"
	"strings"
)

// lazyCache remembers, per source file, which line numbers matched the last
// lazy pattern run against it. The resolver clears it before every new
// ProbeRequest (§5 "the line cache is cleared before a new ProbeRequest").
type lazyCache struct {
	file    string
	pattern string
	lines   lineList
}

// matches reports whether the cache already holds results for file+pattern.
func (c *lazyCache) matches(file, pattern string) bool {
	return c.file == file && c.pattern == pattern && len(c.lines.slice()) > 0
}

// run opens file, compares every line's whitespace-stripped content against
// pattern's whitespace-stripped glob, and populates the cache with the
// 1-based line numbers that match. The file descriptor is closed on every
// exit path, including error paths (§5).
func (c *lazyCache) run(file, pattern string) error {
	c.file = file
	c.pattern = pattern
	c.lines.clear()

	f, err := os.Open(file)
	if err != nil {
		return wrapErr("lazy_match", IO, err)
	}
	defer f.Close()

	strippedPattern := stripWhitespace(pattern)

	lineNum := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNum++
		content := stripWhitespace(scanner.Text())
		if globMatch(strippedPattern, content) {
			c.lines.add(lineNum)
		}
	}
	if err := scanner.Err(); err != nil {
		return wrapErr("lazy_match", IO, err)
	}

	return nil
}

func stripWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// globMatch reports whether s matches the shell-style glob pattern
// (supporting only "*", which matches any run of characters, since that is
// all a lazy pattern needs). Matching is anchored at both ends.
func globMatch(pattern, s string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == s
	}

	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]

	last := len(parts) - 1
	if !strings.HasSuffix(s, parts[last]) {
		return false
	}
	if last > 0 {
		s = s[:len(s)-len(parts[last])]
	}

	for _, mid := range parts[1:last] {
		if mid == "" {
			continue
		}
		i := strings.Index(s, mid)
		if i < 0 {
			return false
		}
		s = s[i+len(mid):]
	}

	return true
}
