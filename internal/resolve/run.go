package resolve

import (
	"errors"

	"github.com/charmbracelet/log"

	"elfdata/internal/buildid"
	"elfdata/internal/discover"
	"elfdata/internal/elfx"
	"elfdata/internal/match"
)

// State is a step in a request's lifetime. Each request moves forward only
// and ends in StateDone or one of the failure states.
type State int

const (
	StateUnvalidated State = iota
	StateValidated
	StateResolving
	StateExtracting
	StateDone
	StateConfigError
	StateNotFoundError
	StateIOError
	StateMalformedInputError
)

var stateNames = [...]string{
	StateUnvalidated:         "unvalidated",
	StateValidated:           "validated",
	StateResolving:           "resolving",
	StateExtracting:          "extracting",
	StateDone:                "done",
	StateConfigError:         "config-error",
	StateNotFoundError:       "not-found-error",
	StateIOError:             "io-error",
	StateMalformedInputError: "malformed-input-error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s >= StateDone
}

func failureState(err error) State {
	var e *buildid.Error
	if !errors.As(err, &e) {
		return StateIOError
	}
	switch e.Kind {
	case buildid.KindConfig:
		return StateConfigError
	case buildid.KindNotFound:
		return StateNotFoundError
	case buildid.KindMalformedInput:
		return StateMalformedInputError
	}
	return StateIOError
}

// run carries one request from StateUnvalidated to a terminal state.
type run struct {
	req    Request
	open   elfx.OpenFunc
	dirs   []string
	logger *log.Logger
	state  State
}

func (ru *run) to(s State) {
	if ru.state.Terminal() || s <= ru.state {
		panic("resolve: invalid transition " + ru.state.String() + " -> " + s.String())
	}
	ru.logger.Debug("state", "from", ru.state, "to", s)
	ru.state = s
}

func (ru *run) fail(err error) error {
	ru.to(failureState(err))
	ru.logger.Debug("request failed", "err", err)
	return err
}

func (ru *run) execute() ([]Entry, error) {
	if err := ru.req.Validate(); err != nil {
		return nil, ru.fail(err)
	}
	ru.to(StateValidated)

	ru.to(StateResolving)
	var (
		mods []*discover.Module
		ex   buildid.Extractor
	)
	switch ru.req.Mode {
	case ExplicitPair:
		mod, err := ResolvePair(ru.open, ru.req.StrippedPath, ru.req.DebugPath)
		if err != nil {
			return nil, ru.fail(err)
		}
		defer ru.release("module", mod.Close)
		mods = []*discover.Module{mod}
		ex = buildid.Scan{Open: ru.open}
	default:
		set, err := ru.report()
		if err != nil {
			return nil, ru.fail(err)
		}
		defer ru.release("module set", set.Close)
		ru.logger.Debug("reported modules", "count", set.Len())
		// Validate already compiled the patterns once.
		m, err := match.New(ru.req.match())
		if err != nil {
			return nil, ru.fail(buildid.Configf("%v", err))
		}
		mods, err = Collect(set.Begin(), m)
		if err != nil {
			return nil, ru.fail(err)
		}
		ex = buildid.Attached{}
	}

	ru.to(StateExtracting)
	entries := make([]Entry, 0, len(mods))
	for _, mod := range mods {
		id, err := ex.Extract(mod)
		if err != nil {
			return nil, ru.fail(err)
		}
		info := mod.Info()
		e := Entry{
			Name:    info.Name,
			File:    info.File,
			Debug:   info.Debug,
			Start:   info.Start,
			End:     info.End,
			BuildID: buildid.Encode(id),
		}
		ru.logger.Debug("module", "name", e.Name, "file", e.File, "debug", e.Debug, "note", info.HasBuildID, "build_id", e.BuildID)
		entries = append(entries, e)
	}
	ru.to(StateDone)
	return entries, nil
}

func (ru *run) release(what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		ru.logger.Warn("release failed", "what", what, "err", err)
	}
}
