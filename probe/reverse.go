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

// reverseLookup implements §4.9: find the CU covering addr, an exact source
// line at addr if one exists, and the enclosing subprogram or inline
// instance to anchor a relative line or byte offset.
func reverseLookup(ctx *evalContext, addr uint64) (ProbePoint, bool, error) {
	r := ctx.reader
	r.Reset()

	for {
		cu, err := r.Next()
		if err != nil {
			return ProbePoint{}, false, wrapErr("reverse_lookup", Malformed, err)
		}
		if cu == nil {
			return ProbePoint{}, false, nil
		}
		if cu.Tag != dwarf.TagCompileUnit {
			continue
		}

		ranges, err := pcRanges(ctx.data, cu)
		if err != nil || !pcInRanges(ranges, addr) {
			if err := r.SkipChildren(); err != nil {
				return ProbePoint{}, false, wrapErr("reverse_lookup", Malformed, err)
			}
			continue
		}

		point, ok, err := reverseLookupInCU(ctx, cu, addr)
		if err != nil || ok {
			return point, ok, err
		}
		if err := r.SkipChildren(); err != nil {
			return ProbePoint{}, false, wrapErr("reverse_lookup", Malformed, err)
		}
	}
}

func reverseLookupInCU(ctx *evalContext, cu *dwarf.Entry, addr uint64) (ProbePoint, bool, error) {
	sp, err := findSubprogramByPC(ctx.data, ctx.reader, cu, addr)
	if err != nil {
		return ProbePoint{}, false, wrapErr("reverse_lookup", Malformed, err)
	}
	if sp == nil {
		return ProbePoint{}, false, nil
	}

	anchor := sp
	if inline, err := findInlineInstance(ctx.data, ctx.reader, sp, addr); err == nil && inline != nil {
		anchor = inline
		if origin, err := resolveAbstractOrigin(ctx.reader, inline); err == nil && origin != nil {
			anchor = origin
		} else {
			ctx.log.warnf("reverse_lookup", "inlined subroutine at %#x has no resolvable abstract origin", addr)
		}
	}

	point := ProbePoint{
		Symbol: subprogramSymbol(anchor),
		Offset: addr - subprogramEntryPC(sp),
	}

	file, line, ok, err := exactSourceLine(ctx, cu, addr)
	if err != nil {
		return ProbePoint{}, false, err
	}
	if ok {
		point.File = file
		point.Line = line
		point.HasLine = true

		if declLine, ok := anchor.Val(dwarf.AttrDeclLine).(int64); ok {
			point.RelativeLine = line - int(declLine)
		}
	}

	return point, true, nil
}

// exactSourceLine looks for a line table row whose Address equals addr
// exactly, per §4.9 step 2 ("at exactly addr").
func exactSourceLine(ctx *evalContext, cu *dwarf.Entry, addr uint64) (string, int, bool, error) {
	lr, err := ctx.data.LineReader(cu)
	if err != nil {
		return "", 0, false, wrapErr("reverse_lookup", Malformed, err)
	}
	if lr == nil {
		return "", 0, false, nil
	}

	var entry dwarf.LineEntry
	for {
		if err := lr.Next(&entry); err != nil {
			if err == io.EOF {
				return "", 0, false, nil
			}
			return "", 0, false, wrapErr("reverse_lookup", Malformed, err)
		}
		if entry.EndSequence || entry.Address != addr {
			continue
		}
		file, err := resolveSourcePath(ctx, entry.File.Name)
		if err != nil {
			return "", 0, false, nil
		}
		return file, entry.Line, true, nil
	}
}
