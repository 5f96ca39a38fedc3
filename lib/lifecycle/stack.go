package lifecycle

import (
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("lifecycle")

// Action is a single teardown step. Actions are expected not to fail under
// correct usage; if a collaborator can fail during stop the error is logged
// but does not prevent the remaining actions from running.
type Action func() error

// namedAction pairs an action with the name of the service it stops. The name
// is only used for shutdown logging.
type namedAction struct {
	name string
	fn   Action
}

// Stack is an ordered list of teardown actions. Actions pushed in construction
// order A, B, C are executed by Unwind in order C, B, A.
type Stack struct {
	actions []namedAction
}

// NewStack creates an empty teardown stack.
func NewStack() *Stack {
	return &Stack{}
}

// Push appends a teardown action to the stack. The name identifies the
// service being stopped in shutdown logs.
func (s *Stack) Push(name string, fn Action) {
	s.actions = append(s.actions, namedAction{name: name, fn: fn})
}

// Len returns the number of pending teardown actions.
func (s *Stack) Len() int {
	return len(s.actions)
}

// Unwind pops and executes all actions from the end backward until the stack
// is empty. Every action runs exactly once: the stack is drained even if an
// action fails, and a second Unwind call is a no-op.
func (s *Stack) Unwind() {
	for len(s.actions) > 0 {
		last := s.actions[len(s.actions)-1]
		s.actions = s.actions[:len(s.actions)-1]

		if err := last.fn(); err != nil {
			log.Errorf("stopping %s: %v", last.name, err)
		} else {
			log.Debugf("stopped %s", last.name)
		}
	}
}
