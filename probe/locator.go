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
	"encoding/binary"
	"io"
	"strings"
)

// subprogramFrameBase resolves a subprogram's DW_AT_frame_base at pc into
// the canonical form evalLocationExpr needs (§4.6 step 1).
func subprogramFrameBase(data *dwarf.Data, sp *dwarf.Entry, pc uint64, frames *frameSection) (frameBase, error) {
	fld := sp.AttrField(dwarf.AttrFrameBase)
	if fld == nil {
		return frameBase{kind: frameBaseNone}, nil
	}
	expr, ok := fld.Val.([]uint8)
	if !ok {
		return frameBase{}, errKind("subprogram_frame_base", NotSupported)
	}
	return resolveFrameBase(expr, pc, frames)
}

// resolveArgName determines an argument's display name per §4.7 step 1: the
// user's override if given, otherwise a synthesis from the expression and
// field chain with ':' rewritten to '_' (the type-cast separator a front end
// may have embedded directly in the expression text).
func resolveArgName(spec ArgSpec) string {
	if spec.DisplayName != "" {
		return spec.DisplayName
	}

	var b strings.Builder
	b.WriteString(spec.Expression)
	for _, step := range spec.Fields {
		switch {
		case step.IsIndex:
			b.WriteByte('_')
		case step.IsDereference:
			b.WriteString("__")
			b.WriteString(step.Name)
		default:
			b.WriteByte('_')
			b.WriteString(step.Name)
		}
	}
	return strings.ReplaceAll(b.String(), ":", "_")
}

// findScopedVariable looks for name first among sp's own locals/parameters,
// then, failing that, among cu's top-level globals (§4.7 step 3: "walking
// outward up to and including the CU").
func findScopedVariable(r *dwarf.Reader, cu, sp *dwarf.Entry, name string) (*dwarf.Entry, error) {
	if sp != nil {
		die, err := findVariableOrParameter(r, sp, name)
		if err != nil {
			return nil, err
		}
		if die != nil {
			return die, nil
		}
	}

	return findChild(r, cu, func(e *dwarf.Entry) walkVerdict {
		if e.Tag == dwarf.TagVariable && compareName(e, name) {
			return walkFound
		}
		if e.Tag == dwarf.TagSubprogram {
			return walkSkipChildren
		}
		return walkSkipChildren
	})
}

// variableLocationExpr selects the location expression in effect for
// varDie at pc, following a loclist offset when its DW_AT_location uses one
// instead of a literal expression.
func variableLocationExpr(varDie *dwarf.Entry, pc uint64, order binary.ByteOrder, locData []uint8, cuLowpc uint64) ([]uint8, error) {
	fld := varDie.AttrField(dwarf.AttrLocation)
	if fld == nil {
		return nil, errKind("variable_location", NotFound)
	}

	switch v := fld.Val.(type) {
	case []uint8:
		return v, nil
	case int64:
		return loclistExprAt(locData, order, int(v), cuLowpc, pc)
	case uint64:
		return loclistExprAt(locData, order, int(v), cuLowpc, pc)
	default:
		return nil, errKind("variable_location", NotSupported)
	}
}

func loclistExprAt(locData []uint8, order binary.ByteOrder, ptr int, cuLowpc uint64, pc uint64) ([]uint8, error) {
	if locData == nil {
		return nil, errKind("variable_location", NotSupported)
	}
	entries, err := parseLoclist(locData, order, ptr, cuLowpc)
	if err != nil {
		return nil, err
	}
	return selectLocationEntry(entries, pc)
}

// resolveArg carries out §4.7 in full: naming, raw-token passthrough,
// variable lookup, location evaluation, field walking, and type tagging.
func resolveArg(ctx *evalContext, cu, sp *dwarf.Entry, pc uint64, fb frameBase, spec ArgSpec) (TraceArg, error) {
	name := resolveArgName(spec)

	if isRawToken(spec.Expression) {
		return TraceArg{Name: name, Value: spec.Expression}, nil
	}

	varDie, err := findScopedVariable(ctx.reader, cu, sp, spec.Expression)
	if err != nil {
		return TraceArg{}, wrapErr("resolve_arg", NotFound, err)
	}
	if varDie == nil {
		return TraceArg{}, errKind("resolve_arg", NotFound)
	}

	expr, err := variableLocationExpr(varDie, pc, ctx.byteOrder, ctx.locData, cuLowpc(cu))
	if err != nil {
		return TraceArg{}, err
	}

	value, err := evalLocationExpr(expr, ctx.byteOrder, fb, entryName(varDie))
	if err != nil {
		return TraceArg{}, err
	}

	var regName string
	if value.registerValue {
		name2, ok := ctx.cfg.RegisterName(value.register)
		if !ok {
			return TraceArg{}, errKind("resolve_arg", OutOfRange)
		}
		regName = name2
	}

	var finalType *dwarf.Entry
	if len(spec.Fields) > 0 {
		rootType, err := resolveTypeEntry(ctx.data, ctx.reader, varDie)
		if err != nil {
			return TraceArg{}, wrapErr("resolve_arg", Invalid, err)
		}
		value, finalType, err = walkFields(ctx.data, ctx.reader, rootType, spec.Fields, value)
		if err != nil {
			return TraceArg{}, err
		}
	}

	arg := TraceArg{
		Name:         name,
		Indirections: flattenIndirections(value.indirections),
		IsReference:  value.isReference,
	}
	switch {
	case value.symbol != "":
		arg.Value = "@" + value.symbol
	case value.registerValue:
		arg.Value = regName
	default:
		return TraceArg{}, errKind("resolve_arg", NotSupported)
	}

	if spec.TypeCast != "" {
		arg.TypeTag = spec.TypeCast
	} else if len(spec.Fields) > 0 {
		tag, err := typeTagFromResolved(finalType, ctx.log)
		if err != nil {
			return TraceArg{}, err
		}
		arg.TypeTag = tag
	} else {
		tag, err := typeTag(ctx.data, ctx.reader, varDie, ctx.log)
		if err != nil {
			return TraceArg{}, err
		}
		arg.TypeTag = tag
	}

	return arg, nil
}

func flattenIndirections(frames []indirectionFrame) []int64 {
	if len(frames) == 0 {
		return nil
	}
	out := make([]int64, len(frames))
	for i, f := range frames {
		out[i] = f.offset
	}
	return out
}

func cuLowpc(cu *dwarf.Entry) uint64 {
	switch v := cu.Val(dwarf.AttrLowpc).(type) {
	case uint64:
		return v
	default:
		return 0
	}
}

// emitAtSubprogram runs §4.6+§4.7 for every ArgSpec in req against sp at pc,
// producing one ProbeResult. symbol/offset identify the probe site itself;
// when symbol is empty (a nameless function) the raw pc is used as offset.
func emitAtSubprogram(ctx *evalContext, cu, sp *dwarf.Entry, pc uint64, symbol string, offset uint64, req *ProbeRequest) (ProbeResult, error) {
	fb, err := subprogramFrameBase(ctx.data, sp, pc, ctx.frames)
	if err != nil {
		return ProbeResult{}, err
	}

	if symbol == "" {
		offset = pc
	}

	result := ProbeResult{Symbol: symbol, Offset: offset}
	for _, spec := range req.Args {
		arg, err := resolveArg(ctx, cu, sp, pc, fb, spec)
		if err != nil {
			return ProbeResult{}, err
		}
		result.Args = append(result.Args, arg)
	}
	return result, nil
}

// findProbesByFunction implements §4.8's by-function dispatch.
func findProbesByFunction(ctx *evalContext, cu *dwarf.Entry, req *ProbeRequest, out *[]ProbeResult) error {
	var outerErr error
	_, err := findChild(ctx.reader, cu, func(e *dwarf.Entry) walkVerdict {
		if e.Tag != dwarf.TagSubprogram || !compareName(e, req.Function) {
			return walkSkipChildren
		}

		if req.SourceFile != "" {
			if !subprogramInFile(ctx, cu, e, req.SourceFile) {
				return walkSkipChildren
			}
		}

		isInline := isInlineSubprogram(e)
		if isInline {
			if err := emitInlineInstances(ctx, cu, e, req, out); err != nil {
				outerErr = err
				return walkFound
			}
			return walkSkipChildren
		}

		if err := emitOutOfLineFunction(ctx, cu, e, req, out); err != nil {
			outerErr = err
			return walkFound
		}
		return walkSkipChildren
	})
	if err != nil {
		return wrapErr("find_probes", Malformed, err)
	}
	return outerErr
}

func isInlineSubprogram(sp *dwarf.Entry) bool {
	v, ok := sp.Val(dwarf.AttrInline).(int64)
	return ok && v != 0
}

func subprogramInFile(ctx *evalContext, cu, sp *dwarf.Entry, file string) bool {
	ranges, err := pcRanges(ctx.data, sp)
	if err != nil || len(ranges) == 0 {
		return false
	}
	lr, err := ctx.data.LineReader(cu)
	if err != nil || lr == nil {
		return false
	}
	var entry dwarf.LineEntry
	if err := lr.SeekPC(ranges[0][0], &entry); err != nil {
		return false
	}
	resolvedFile, err := resolveSourcePath(ctx, entry.File.Name)
	if err != nil {
		return false
	}
	return tailMatch(resolvedFile, file)
}

func emitInlineInstances(ctx *evalContext, cu, sp *dwarf.Entry, req *ProbeRequest, out *[]ProbeResult) error {
	var walkErr error
	_, err := findChild(ctx.reader, sp, func(e *dwarf.Entry) walkVerdict {
		if e.Tag != dwarf.TagInlinedSubroutine {
			return walkContinue
		}
		ranges, err := pcRanges(ctx.data, e)
		if err != nil || len(ranges) == 0 {
			return walkSkipChildren
		}
		pc := ranges[0][0]

		if len(*out) >= ctx.cfg.MaxProbes {
			walkErr = errKind("find_probes", OutOfRange)
			return walkFound
		}

		result, err := emitAtSubprogram(ctx, cu, sp, pc, entryName(sp), 0, req)
		if err != nil {
			walkErr = err
			return walkFound
		}
		*out = append(*out, result)
		return walkSkipChildren
	})
	if err != nil {
		return wrapErr("find_probes", Malformed, err)
	}
	return walkErr
}

func emitOutOfLineFunction(ctx *evalContext, cu, sp *dwarf.Entry, req *ProbeRequest, out *[]ProbeResult) error {
	entryPC, ok := sp.Val(dwarf.AttrLowpc).(uint64)
	if !ok {
		return errKind("find_probes", NotFound)
	}

	pc := entryPC
	switch {
	case req.ByteOffset != 0:
		pc = entryPC + req.ByteOffset
	case req.RelativeLine != 0:
		declLine, ok := sp.Val(dwarf.AttrDeclLine).(int64)
		if !ok {
			return errKind("find_probes", NotFound)
		}
		return findProbesByLineScoped(ctx, cu, sp, req.SourceFile, int(declLine)+req.RelativeLine, req, out)
	case req.LazyPattern != "":
		return findProbesByLazyScoped(ctx, cu, sp, req, out)
	}

	if len(*out) >= ctx.cfg.MaxProbes {
		return errKind("find_probes", OutOfRange)
	}
	result, err := emitAtSubprogram(ctx, cu, sp, pc, entryName(sp), pc-entryPC, req)
	if err != nil {
		return err
	}
	*out = append(*out, result)
	return nil
}

// findProbesByLine implements §4.8's by-file+line dispatch.
func findProbesByLine(ctx *evalContext, cu *dwarf.Entry, req *ProbeRequest, out *[]ProbeResult) error {
	return findProbesByLineScoped(ctx, cu, nil, req.SourceFile, req.AbsoluteLine, req, out)
}

func findProbesByLineScoped(ctx *evalContext, cu, scope *dwarf.Entry, file string, line int, req *ProbeRequest, out *[]ProbeResult) error {
	lr, err := ctx.data.LineReader(cu)
	if err != nil {
		return wrapErr("find_probes", Malformed, err)
	}
	if lr == nil {
		return nil
	}

	var entry dwarf.LineEntry
	for {
		if err := lr.Next(&entry); err != nil {
			if err == io.EOF {
				break
			}
			return wrapErr("find_probes", Malformed, err)
		}
		if entry.EndSequence || entry.Line != line {
			continue
		}
		resolvedFile, err := resolveSourcePath(ctx, entry.File.Name)
		if err != nil || !tailMatch(resolvedFile, file) {
			continue
		}

		sp, err := findEnclosingSubprogram(ctx, cu, scope, entry.Address)
		if err != nil {
			return err
		}
		if sp == nil {
			continue
		}

		if len(*out) >= ctx.cfg.MaxProbes {
			return errKind("find_probes", OutOfRange)
		}
		result, err := emitAtSubprogram(ctx, cu, sp, entry.Address, subprogramSymbol(sp), entry.Address-subprogramEntryPC(sp), req)
		if err != nil {
			return err
		}
		*out = append(*out, result)
	}

	return nil
}

// findProbesByLazy implements §4.8's lazy-pattern dispatch.
func findProbesByLazy(ctx *evalContext, cu *dwarf.Entry, req *ProbeRequest, out *[]ProbeResult) error {
	return findProbesByLazyScoped(ctx, cu, nil, req, out)
}

func findProbesByLazyScoped(ctx *evalContext, cu, scope *dwarf.Entry, req *ProbeRequest, out *[]ProbeResult) error {
	if !ctx.lazy.matches(req.SourceFile, req.LazyPattern) {
		resolved, err := resolveSourcePath(ctx, req.SourceFile)
		if err != nil {
			return wrapErr("find_probes", IO, err)
		}
		if err := ctx.lazy.run(resolved, req.LazyPattern); err != nil {
			return err
		}
	}

	lr, err := ctx.data.LineReader(cu)
	if err != nil {
		return wrapErr("find_probes", Malformed, err)
	}
	if lr == nil {
		return nil
	}

	var entry dwarf.LineEntry
	for {
		if err := lr.Next(&entry); err != nil {
			if err == io.EOF {
				break
			}
			return wrapErr("find_probes", Malformed, err)
		}
		if entry.EndSequence || !ctx.lazy.lines.contains(entry.Line) {
			continue
		}
		resolvedFile, err := resolveSourcePath(ctx, entry.File.Name)
		if err != nil || !tailMatch(resolvedFile, req.SourceFile) {
			continue
		}

		sp, err := findEnclosingSubprogram(ctx, cu, scope, entry.Address)
		if err != nil {
			return err
		}
		if sp == nil {
			continue
		}
		if scope != nil {
			if deeper, err := findInlineInstance(ctx.data, ctx.reader, sp, entry.Address); err == nil && deeper != nil {
				continue
			}
		}

		if len(*out) >= ctx.cfg.MaxProbes {
			return errKind("find_probes", OutOfRange)
		}
		result, err := emitAtSubprogram(ctx, cu, sp, entry.Address, subprogramSymbol(sp), entry.Address-subprogramEntryPC(sp), req)
		if err != nil {
			return err
		}
		*out = append(*out, result)
	}

	return nil
}

// findEnclosingSubprogram locates the out-of-line subprogram covering pc,
// optionally constrained to scope.
func findEnclosingSubprogram(ctx *evalContext, cu, scope *dwarf.Entry, pc uint64) (*dwarf.Entry, error) {
	if scope != nil {
		ranges, err := pcRanges(ctx.data, scope)
		if err != nil {
			return nil, wrapErr("find_probes", Malformed, err)
		}
		if !pcInRanges(ranges, pc) {
			return nil, nil
		}
		return scope, nil
	}
	sp, err := findSubprogramByPC(ctx.data, ctx.reader, cu, pc)
	if err != nil {
		return nil, wrapErr("find_probes", Malformed, err)
	}
	return sp, nil
}

func subprogramSymbol(sp *dwarf.Entry) string {
	return entryName(sp)
}

func subprogramEntryPC(sp *dwarf.Entry) uint64 {
	pc, _ := sp.Val(dwarf.AttrLowpc).(uint64)
	return pc
}
