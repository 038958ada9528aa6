package daemon

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionStateTouchMovesToFront(t *testing.T) {
	t.Parallel()

	s := &SessionState{}
	s.Touch("a.go", "b.go", "c.go")
	assert.Equal(t, []string{"c.go", "b.go", "a.go"}, s.WorkingSet())

	s.Touch("a.go")
	assert.Equal(t, []string{"a.go", "c.go", "b.go"}, s.WorkingSet())
}

func TestSessionStateEvictsPastCap(t *testing.T) {
	t.Parallel()

	s := &SessionState{}
	for i := 0; i < workingSetCap+10; i++ {
		s.Touch(fmt.Sprintf("file%d.go", i))
	}

	ws := s.WorkingSet()
	assert.Len(t, ws, workingSetCap)
	assert.Equal(t, fmt.Sprintf("file%d.go", workingSetCap+9), ws[0])
	assert.NotContains(t, ws, "file0.go")
}

func TestSessionStateRootChangeResetsWorkingSet(t *testing.T) {
	t.Parallel()

	s := &SessionState{}
	s.SetRoot("/proj/a")
	s.Touch("main.go")
	s.SetRoot("/proj/a") // same root: no reset
	assert.Equal(t, []string{"main.go"}, s.WorkingSet())

	s.SetRoot("/proj/b")
	assert.Empty(t, s.WorkingSet())
	assert.Equal(t, "/proj/b", s.Root())
}

func TestSessionStateNilSafe(t *testing.T) {
	t.Parallel()

	var s *SessionState
	s.Touch("a.go")
	s.SetRoot("/x")
	assert.Nil(t, s.WorkingSet())
	assert.Empty(t, s.Root())
}

func TestSessionFromContextAbsent(t *testing.T) {
	t.Parallel()

	assert.Nil(t, SessionFromContext(context.Background()))

	s := &SessionState{}
	ctx := WithSession(context.Background(), s)
	assert.Same(t, s, SessionFromContext(ctx))
}
