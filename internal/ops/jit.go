package ops

import (
	"fmt"
	"strconv"

	"github.com/danmuck/muxctl/internal/device"
	"github.com/rs/zerolog/log"
)

// DefaultMaxPacketSize is sent with QSetMaxPacketSize.
const DefaultMaxPacketSize = 1024

// Stage names one control command in the JIT sequence.
type Stage string

const (
	StagePacketSize    Stage = "packet-size"
	StageWorkingDir    Stage = "working-dir"
	StageArgv          Stage = "argv"
	StageLaunchConfirm Stage = "launch-confirm"
	StageDetach        Stage = "detach"
)

// JITState is the position reached in the control sequence.
type JITState int

const (
	StateIdle JITState = iota
	StatePacketSizeSet
	StateWorkingDirSet
	StateArgvSet
	StateLaunchConfirmed
	StateDetached
)

func (s JITState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePacketSizeSet:
		return "packet_size_set"
	case StateWorkingDirSet:
		return "working_dir_set"
	case StateArgvSet:
		return "argv_set"
	case StateLaunchConfirmed:
		return "launch_confirmed"
	case StateDetached:
		return "detached"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

type controlStep struct {
	stage Stage
	next  JITState
	run   func(device.ControlSession) (string, error)
}

// Enabler drives debugserver through launch-and-detach. Observe, when set,
// sees the outcome of every issued command.
type Enabler struct {
	MaxPacketSize int
	Observe       func(stage Stage, err error)
}

func (e Enabler) steps(rec ApplicationRecord) []controlStep {
	size := e.MaxPacketSize
	if size <= 0 {
		size = DefaultMaxPacketSize
	}
	command := func(cmd string) func(device.ControlSession) (string, error) {
		return func(s device.ControlSession) (string, error) { return s.SendCommand(cmd) }
	}
	return []controlStep{
		{stage: StagePacketSize, next: StatePacketSizeSet, run: command(fmt.Sprintf("QSetMaxPacketSize: %d", size))},
		{stage: StageWorkingDir, next: StateWorkingDirSet, run: command("QSetWorkingDir: " + rec.ContainerPath)},
		// argv[0] and the sole argument are both the executable path.
		{stage: StageArgv, next: StateArgvSet, run: func(s device.ControlSession) (string, error) {
			return s.SetArgv([]string{rec.BundlePath, rec.BundlePath})
		}},
		{stage: StageLaunchConfirm, next: StateLaunchConfirmed, run: command("qLaunchSuccess")},
		{stage: StageDetach, next: StateDetached, run: command("D")},
	}
}

// Run issues the sequence in order and stops at the first failure. It
// returns the last state reached; only StateDetached is success.
func (e Enabler) Run(s device.ControlSession, rec ApplicationRecord) (JITState, error) {
	state := StateIdle
	for _, step := range e.steps(rec) {
		reply, err := step.run(s)
		if e.Observe != nil {
			e.Observe(step.stage, err)
		}
		if err != nil {
			return state, &CommandError{Stage: step.stage, Reply: reply, Err: err}
		}
		state = step.next
		log.Debug().
			Str("bundle_id", rec.BundleIdentifier).
			Str("stage", string(step.stage)).
			Stringer("state", state).
			Str("reply", reply).
			Msg("control command ok")
	}
	return state, nil
}
