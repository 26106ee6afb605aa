// Copyright 2025 Kadir Pekel
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

package domain

// StatusKind enumerates the possible shapes of an AssistantStatus.
type StatusKind string

const (
	StatusAwaitingActors StatusKind = "awaiting_actors"
	StatusIdle           StatusKind = "idle"
	StatusProcessing     StatusKind = "processing"
	StatusAwaitingTools  StatusKind = "awaiting_tools"
	StatusWait           StatusKind = "wait"
	StatusDone           StatusKind = "done"
	StatusError          StatusKind = "error"
)

// AssistantStatus is exactly one of the variants spec §3 names. Only the
// fields relevant to Kind are meaningful.
type AssistantStatus struct {
	Kind StatusKind

	// StatusAwaitingTools
	Pending map[string]struct{}

	// StatusWait
	WaitReason WaitReason

	// StatusDone
	DoneOK      bool
	DoneSummary string
	DoneErr     string

	// StatusError
	ErrorMessage string
}

func Idle() AssistantStatus                 { return AssistantStatus{Kind: StatusIdle} }
func AwaitingActors() AssistantStatus        { return AssistantStatus{Kind: StatusAwaitingActors} }
func Processing() AssistantStatus            { return AssistantStatus{Kind: StatusProcessing} }
func AwaitingTools(pending map[string]struct{}) AssistantStatus {
	return AssistantStatus{Kind: StatusAwaitingTools, Pending: pending}
}
func Wait(reason WaitReason) AssistantStatus { return AssistantStatus{Kind: StatusWait, WaitReason: reason} }
func DoneOK(summary string) AssistantStatus {
	return AssistantStatus{Kind: StatusDone, DoneOK: true, DoneSummary: summary}
}
func DoneErr(reason string) AssistantStatus {
	return AssistantStatus{Kind: StatusDone, DoneOK: false, DoneErr: reason}
}
func ErrorStatus(message string) AssistantStatus {
	return AssistantStatus{Kind: StatusError, ErrorMessage: message}
}

// Equal compares two statuses for structural equality.
func (s AssistantStatus) Equal(o AssistantStatus) bool {
	if s.Kind != o.Kind {
		return false
	}
	switch s.Kind {
	case StatusAwaitingTools:
		if len(s.Pending) != len(o.Pending) {
			return false
		}
		for id := range s.Pending {
			if _, ok := o.Pending[id]; !ok {
				return false
			}
		}
		return true
	case StatusWait:
		return s.WaitReason == o.WaitReason
	case StatusDone:
		return s.DoneOK == o.DoneOK && s.DoneSummary == o.DoneSummary && s.DoneErr == o.DoneErr
	case StatusError:
		return s.ErrorMessage == o.ErrorMessage
	default:
		return true
	}
}
