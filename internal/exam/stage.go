// Package exam defines shared grading-flow types.
package exam

import "fmt"

// Stage identifies one capture-and-upload step within a grading session.
type Stage string

// Capture stages, in submission order.
const (
	StageExamCode  Stage = "exam_code"
	StageStudentID Stage = "student_id"
	StagePart1     Stage = "p1"
	StagePart2     Stage = "p2"
	StagePart3     Stage = "p3"
)

// Step is the sequencer state. Steps only move forward; a failed stage call
// leaves the step unchanged so the same capture can be retried.
type Step int

const (
	StepInit Step = iota
	StepAwaitingExamCode
	StepAwaitingStudentID
	StepAwaitingPart1
	StepAwaitingPart2
	StepAwaitingPart3
	StepFinished
)

// String returns a short label for logs and views.
func (s Step) String() string {
	switch s {
	case StepInit:
		return "init"
	case StepAwaitingExamCode:
		return "exam-code"
	case StepAwaitingStudentID:
		return "student-id"
	case StepAwaitingPart1:
		return "part-1"
	case StepAwaitingPart2:
		return "part-2"
	case StepAwaitingPart3:
		return "part-3"
	case StepFinished:
		return "finished"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// StageInfo binds a stage to its endpoint, the response field that confirms
// successful processing, the upload filename, and the step transition.
type StageInfo struct {
	Stage    Stage
	Endpoint string
	Field    string
	Filename string
	Awaiting Step
	Next     Step
}

var stageTable = map[Stage]StageInfo{
	StageExamCode: {
		Stage:    StageExamCode,
		Endpoint: "/exam/exam_code",
		Field:    "exam_code",
		Filename: "exam_code.jpg",
		Awaiting: StepAwaitingExamCode,
		Next:     StepAwaitingStudentID,
	},
	StageStudentID: {
		Stage:    StageStudentID,
		Endpoint: "/exam/student_id",
		Field:    "student_id",
		Filename: "student_id.jpg",
		Awaiting: StepAwaitingStudentID,
		Next:     StepAwaitingPart1,
	},
	StagePart1: {
		Stage:    StagePart1,
		Endpoint: "/exam/p1",
		Field:    "score_p1",
		Filename: "p1.jpg",
		Awaiting: StepAwaitingPart1,
		Next:     StepAwaitingPart2,
	},
	StagePart2: {
		Stage:    StagePart2,
		Endpoint: "/exam/p2",
		Field:    "score_p2",
		Filename: "p2.jpg",
		Awaiting: StepAwaitingPart2,
		Next:     StepAwaitingPart3,
	},
	StagePart3: {
		Stage:    StagePart3,
		Endpoint: "/exam/p3",
		Field:    "score_p3",
		Filename: "p3.jpg",
		Awaiting: StepAwaitingPart3,
		Next:     StepFinished,
	},
}

// StageOrder lists stages in the order the sequencer accepts them.
var StageOrder = []Stage{StageExamCode, StageStudentID, StagePart1, StagePart2, StagePart3}

// Info returns the stage table entry for a stage.
func Info(stage Stage) (StageInfo, bool) {
	info, ok := stageTable[stage]
	return info, ok
}

// StageForStep returns the stage whose upload the given step awaits.
func StageForStep(step Step) (StageInfo, bool) {
	for _, stage := range StageOrder {
		info := stageTable[stage]
		if info.Awaiting == step {
			return info, true
		}
	}
	return StageInfo{}, false
}

// Label returns a user-facing description of a stage capture.
func (s Stage) Label() string {
	switch s {
	case StageExamCode:
		return "exam code"
	case StageStudentID:
		return "student ID"
	case StagePart1:
		return "answer part 1"
	case StagePart2:
		return "answer part 2"
	case StagePart3:
		return "answer part 3"
	default:
		return string(s)
	}
}
