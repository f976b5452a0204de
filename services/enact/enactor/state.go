// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package enactor

// State is the enactor's position in a run.
//
//	INIT -> LOOP{ADVANCE -> FILTER -> CHECK} -> EXTRACT_READY -> DONE
//
// FAILED is reachable from any state on device error or overflow.
type State int32

const (
	StateInit State = iota
	StateAdvance
	StateFilter
	StateCheck
	StateExtractReady
	StateDone
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateAdvance:
		return "advance"
	case StateFilter:
		return "filter"
	case StateCheck:
		return "check_termination"
	case StateExtractReady:
		return "extract_ready"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
