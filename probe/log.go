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

import "github.com/jetsetilly/probefinder/logger"

// logWriter adapts a caller-supplied *logger.Log (or nil, when the caller
// declined to configure one) to the handful of severities this package
// actually emits: clamped type widths, an unparseable .debug_frame section,
// and inlined subroutines without a resolvable abstract origin (§4.13). A nil logWriter silently discards everything, so every
// call site can log unconditionally rather than guard on cfg.Log != nil.
type logWriter struct {
	log *logger.Log
}

func newLogWriter(l *logger.Log) *logWriter {
	return &logWriter{log: l}
}

func (w *logWriter) warnf(tag, format string, args ...any) {
	if w == nil || w.log == nil {
		return
	}
	w.log.Logf(logger.Allow, logger.Warning, tag, format, args...)
}

func (w *logWriter) infof(tag, format string, args ...any) {
	if w == nil || w.log == nil {
		return
	}
	w.log.Logf(logger.Allow, logger.Info, tag, format, args...)
}
