// Copyright 2026 Blink Labs Software
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

package disclosure

// State is a disclosure session state
type State int

const (
	StateUninitialized State = iota
	StateKeypairReady
	StateRequestBuilt
	StateSigned
	StatePending
	StateComplete
	StateTimedOut
	StateDenied
	StateFailed
	StateCancelled
)

var stateNames = map[State]string{
	StateUninitialized: "uninitialized",
	StateKeypairReady:  "keypair-ready",
	StateRequestBuilt:  "request-built",
	StateSigned:        "signed",
	StatePending:       "pending",
	StateComplete:      "complete",
	StateTimedOut:      "timed-out",
	StateDenied:        "denied",
	StateFailed:        "failed",
	StateCancelled:     "cancelled",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible without Reset
func (s State) Terminal() bool {
	switch s {
	case StateComplete, StateTimedOut, StateDenied, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}
