/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package status

// Status is the internal lifecycle state of a transfer record.
type Status string

const (
	Pending   Status = "PENDING"
	Confirmed Status = "CONFIRMED"
	Complete  Status = "COMPLETE"
	Failed    Status = "FAILED"
)

// Priority orders statuses for the anti-regression rule. A mapped status
// only advances a record when its priority is strictly greater than the
// stored one; FAILED bypasses the comparison and always wins.
func (s Status) Priority() int {
	switch s {
	case Pending:
		return 1
	case Confirmed:
		return 2
	case Complete:
		return 3
	default:
		return 0
	}
}

// Terminal reports whether no further transition out of s is accepted.
// FAILED is fully terminal: a later success notification never resurrects
// a failed record.
func (s Status) Terminal() bool {
	return s == Complete || s == Failed
}

// Success reports whether s is a state that triggers the one-time balance
// credit for single-step transfers.
func (s Status) Success() bool {
	return s == Confirmed || s == Complete
}

// providerStates is the total mapping table from the wallet provider's
// transaction lifecycle states. States not listed here map to nothing and
// must be treated by callers as "do not advance".
var providerStates = map[string]Status{
	"INITIATED":              Pending,
	"QUEUED":                 Pending,
	"PENDING_RISK_SCREENING": Pending,
	"SENT":                   Pending,
	"ACCELERATED":            Pending,
	"CONFIRMED":              Confirmed,
	"COMPLETE":               Complete,
	"FAILED":                 Failed,
	"DENIED":                 Failed,
	"CANCELLED":              Failed,
}

// FromProviderState maps a provider-reported state string to an internal
// status. ok is false for unknown states.
func FromProviderState(state string) (Status, bool) {
	s, ok := providerStates[state]
	return s, ok
}

// Supersedes reports whether next may replace current: FAILED replaces any
// non-terminal status, and otherwise only a strictly higher priority
// advances. Once a record is FAILED nothing replaces it.
func Supersedes(current, next Status) bool {
	if current == Failed {
		return false
	}
	if next == Failed {
		return true
	}
	return next.Priority() > current.Priority()
}
