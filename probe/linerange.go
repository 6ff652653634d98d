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
	"debug/dwarf"
	"io"
)

// lineRangeRequest is the two shapes §6's range_spec can take: either a
// function name with bounds relative to its declaration line, or a file with
// absolute line bounds.
type lineRangeRequest struct {
	Function   string
	StartRel   int
	EndRel     int
	SourceFile string
	StartAbs   int
	EndAbs     int
}

// findLineRange implements §4.10.
func findLineRange(ctx *evalContext, req lineRangeRequest) (LineRange, error) {
	var lines lineList
	var resolvedFile string

	r := ctx.reader
	r.Reset()

	for {
		cu, err := r.Next()
		if err != nil {
			return LineRange{}, wrapErr("find_line_range", Malformed, err)
		}
		if cu == nil {
			break
		}
		if cu.Tag != dwarf.TagCompileUnit {
			continue
		}

		var scope *dwarf.Entry
		var startAbs, endAbs int

		if req.Function != "" {
			sp, err := findSubprogramByName(ctx, cu, req.Function)
			if err != nil {
				return LineRange{}, err
			}
			if sp == nil {
				if err := r.SkipChildren(); err != nil {
					return LineRange{}, wrapErr("find_line_range", Malformed, err)
				}
				continue
			}
			declLine, ok := sp.Val(dwarf.AttrDeclLine).(int64)
			if !ok {
				if err := r.SkipChildren(); err != nil {
					return LineRange{}, wrapErr("find_line_range", Malformed, err)
				}
				continue
			}
			scope = sp
			startAbs = int(declLine) + req.StartRel
			endAbs = int(declLine) + req.EndRel
			lines.add(int(declLine))
		} else {
			startAbs = req.StartAbs
			endAbs = req.EndAbs
		}

		file, err := collectLinesInCU(ctx, cu, scope, req.SourceFile, startAbs, endAbs, &lines)
		if err != nil {
			return LineRange{}, err
		}
		if file != "" {
			resolvedFile = file
		}

		if err := r.SkipChildren(); err != nil {
			return LineRange{}, wrapErr("find_line_range", Malformed, err)
		}
	}

	return LineRange{
		File:  resolvedFile,
		Lines: lines.slice(),
		Found: len(lines.slice()) > 0,
	}, nil
}

func findSubprogramByName(ctx *evalContext, cu *dwarf.Entry, name string) (*dwarf.Entry, error) {
	return findChild(ctx.reader, cu, func(e *dwarf.Entry) walkVerdict {
		if e.Tag == dwarf.TagSubprogram && compareName(e, name) {
			return walkFound
		}
		return walkSkipChildren
	})
}

func collectLinesInCU(ctx *evalContext, cu, scope *dwarf.Entry, file string, startAbs, endAbs int, lines *lineList) (string, error) {
	lr, err := ctx.data.LineReader(cu)
	if err != nil {
		return "", wrapErr("find_line_range", Malformed, err)
	}
	if lr == nil {
		return "", nil
	}

	var resolvedFile string
	var entry dwarf.LineEntry
	for {
		if err := lr.Next(&entry); err != nil {
			if err == io.EOF {
				break
			}
			return "", wrapErr("find_line_range", Malformed, err)
		}
		if entry.EndSequence || entry.Line < startAbs || entry.Line > endAbs {
			continue
		}

		candidateFile, err := resolveSourcePath(ctx, entry.File.Name)
		if err != nil {
			continue
		}
		if file != "" && !tailMatch(candidateFile, file) {
			continue
		}

		if scope != nil {
			ranges, err := pcRanges(ctx.data, scope)
			if err != nil || !pcInRanges(ranges, entry.Address) {
				continue
			}
			if deeper, err := findInlineInstance(ctx.data, ctx.reader, scope, entry.Address); err == nil && deeper != nil {
				continue
			}
		}

		resolvedFile = candidateFile
		lines.add(entry.Line)
	}

	return resolvedFile, nil
}
