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
	"errors"
	"strings"

	"golang.org/x/sys/unix"
)

// tailMatch reports whether a and b match at path-component granularity from
// the right (§9 strtailcmp): one is a suffix of the other, comparing
// character by character from the end and stopping as soon as either string
// is exhausted.
func tailMatch(a, b string) bool {
	i, j := len(a)-1, len(b)-1
	for i >= 0 && j >= 0 {
		if a[i] != b[j] {
			return false
		}
		i--
		j--
	}
	return true
}

// resolvePath finds a readable file for the DWARF-reported path raw, per
// §4.11. With no prefix configured, it requires R_OK on raw directly. With a
// prefix, it repeatedly joins prefix with successively shorter suffixes of
// raw (stripping one leading path component at a time) until one is
// readable, an access error other than the retryable ones occurs, or the
// suffix is exhausted.
func resolvePath(raw, prefix string) (string, error) {
	if prefix == "" {
		if err := unix.Access(raw, unix.R_OK); err != nil {
			return "", wrapErr("resolve_path", IO, err)
		}
		return raw, nil
	}

	suffix := strings.TrimPrefix(raw, "/")
	for {
		candidate := prefix + "/" + suffix
		err := unix.Access(candidate, unix.R_OK)
		if err == nil {
			return candidate, nil
		}

		if !isRetryableAccessError(err) {
			return "", wrapErr("resolve_path", IO, err)
		}

		next, ok := stripLeadingComponent(suffix)
		if !ok {
			return "", errKind("resolve_path", NotFound)
		}
		suffix = next
	}
}

func isRetryableAccessError(err error) bool {
	return errors.Is(err, unix.ENOENT) ||
		errors.Is(err, unix.ENAMETOOLONG) ||
		errors.Is(err, unix.EROFS) ||
		errors.Is(err, unix.EFAULT)
}

// stripLeadingComponent removes the first "/"-delimited component of path,
// reporting false once there is nothing left to strip. Each call strictly
// shortens path, so repeated stripping terminates (§8).
func stripLeadingComponent(path string) (string, bool) {
	i := strings.IndexByte(path, '/')
	if i < 0 {
		return "", false
	}
	return path[i+1:], true
}
