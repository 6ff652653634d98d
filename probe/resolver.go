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
	"debug/elf"
	"encoding/binary"

	"github.com/jetsetilly/probefinder/config"
)

// Config is re-exported from the config package so that callers only need
// to import probe to construct a Resolver; it is not redefined here.
type Config = config.Config

// evalContext bundles the per-call state every algorithm in this package
// needs: the DWARF reader (exclusively owned by this Resolver, §5), the
// resolved Call Frame Information and .debug_loc sections (nil if the
// binary carries neither), the injected Config, and the lazy-match cache
// cleared at the start of each ProbeRequest.
type evalContext struct {
	data      *dwarf.Data
	reader    *dwarf.Reader
	byteOrder binary.ByteOrder
	frames    *frameSection
	locData   []uint8
	cfg       Config
	log       *logWriter
	lazy      lazyCache
}

// Resolver is a DWARF probe resolver opened against a single ELF binary. It
// owns the debug-info reader exclusively for its lifetime (§5); concurrent
// calls on the same Resolver are not supported.
type Resolver struct {
	ctx *evalContext
}

// Open opens path as an ELF binary, reads its DWARF debug information, and
// returns a Resolver configured per cfg. Only DWARF version 4 is supported,
// matching the subset this package evaluates.
func Open(path string, cfg Config) (*Resolver, error) {
	ef, err := elf.Open(path)
	if err != nil {
		return nil, wrapErr("open", IO, err)
	}
	defer ef.Close()

	data, err := ef.DWARF()
	if err != nil {
		return nil, wrapErr("open", Malformed, err)
	}

	ctx := &evalContext{
		data:      data,
		reader:    data.Reader(),
		byteOrder: ef.ByteOrder,
		cfg:       cfg,
		log:       newLogWriter(cfg.Log),
	}

	if sec := ef.Section(".debug_frame"); sec != nil {
		if raw, err := sec.Data(); err == nil {
			if fr, err := newFrameSection(raw, ef.ByteOrder); err == nil {
				ctx.frames = fr
			} else {
				ctx.log.warnf("open", "ignoring unparseable .debug_frame: %v", err)
			}
		}
	}

	if sec := ef.Section(".debug_loc"); sec != nil {
		if raw, err := sec.Data(); err == nil {
			ctx.locData = raw
		}
	}

	return &Resolver{ctx: ctx}, nil
}

// resolveSourcePath applies §4.11's prefix-retry algorithm using the
// Resolver's configured SourcePrefix.
func resolveSourcePath(ctx *evalContext, raw string) (string, error) {
	return resolvePath(raw, ctx.cfg.SourcePrefix)
}

// FindProbes resolves req into zero or more concrete probe sites (§4.8),
// dispatching on req.Target. The returned slice is empty, not nil, when no
// candidates matched and no error occurred.
func (res *Resolver) FindProbes(req ProbeRequest) ([]ProbeResult, error) {
	ctx := res.ctx
	ctx.reader.Reset()
	ctx.lazy = lazyCache{}

	results := make([]ProbeResult, 0)

	for {
		cu, err := ctx.reader.Next()
		if err != nil {
			return results, wrapErr("find_probes", Malformed, err)
		}
		if cu == nil {
			break
		}
		if cu.Tag != dwarf.TagCompileUnit {
			continue
		}

		var dispatchErr error
		switch req.Target {
		case TargetFunction:
			dispatchErr = findProbesByFunction(ctx, cu, &req, &results)
		case TargetLine:
			dispatchErr = findProbesByLine(ctx, cu, &req, &results)
		case TargetLazy:
			dispatchErr = findProbesByLazy(ctx, cu, &req, &results)
		}
		if dispatchErr != nil {
			return results, dispatchErr
		}

		if err := ctx.reader.SkipChildren(); err != nil {
			return results, wrapErr("find_probes", Malformed, err)
		}
	}

	return results, nil
}

// ReverseLookup resolves a raw address into a ProbePoint (§4.9). The bool
// result is false, with a zero ProbePoint and nil error, when addr falls
// outside any compilation unit's PC ranges.
func (res *Resolver) ReverseLookup(addr uint64) (ProbePoint, bool, error) {
	return reverseLookup(res.ctx, addr)
}

// FindLineRange resolves a function-relative or file-absolute line range
// (§4.10).
func (res *Resolver) FindLineRange(req lineRangeRequest) (LineRange, error) {
	return findLineRange(res.ctx, req)
}

// LineRangeRequest is the exported constructor form of lineRangeRequest; the
// type itself stays unexported since its zero value (neither Function nor
// SourceFile set) is never meaningful on its own.
type LineRangeRequest = lineRangeRequest
