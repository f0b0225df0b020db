package shm

import (
	"fmt"
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/suite"
)

type fatalError string

// catchFatal runs fn with fatalf turned into a panic and returns the fatal message,
// or "" when fn returned normally.
func catchFatal(fn func()) (msg string) {
	orig := fatalf
	fatalf = func(format string, a ...interface{}) {
		panic(fatalError(fmt.Sprintf(format, a...)))
	}
	defer func() {
		fatalf = orig
		if r := recover(); r != nil {
			f, ok := r.(fatalError)
			if !ok {
				panic(r)
			}
			msg = string(f)
		}
	}()
	fn()
	return ""
}

type MutexTestSuite struct {
	suite.Suite
	word mutexWord
	m    *Mutex
}

func (s *MutexTestSuite) SetupTest() {
	s.word = mutexWord{}
	s.m = initializeMutexAt(unsafe.Pointer(&s.word), "test")
}

func (s *MutexTestSuite) TestLockRecordsOwner() {
	s.Equal(0, s.m.Owner())
	s.m.Lock()
	s.Equal(int(selfPID), s.m.Owner())
	s.m.Unlock()
	s.Equal(0, s.m.Owner())
	s.Equal(mutexUnlocked, s.word.state)
}

func (s *MutexTestSuite) TestMutualExclusion() {
	pool, err := ants.NewPool(8)
	s.Require().NoError(err)
	defer pool.Release()

	const workers, rounds = 8, 2000
	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		s.Require().NoError(pool.Submit(func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				s.m.Lock()
				counter++
				s.m.Unlock()
			}
		}))
	}
	wg.Wait()
	s.Equal(workers*rounds, counter)
	s.Equal(mutexUnlocked, s.word.state)
}

func (s *MutexTestSuite) TestLockBlocksUntilUnlock() {
	s.m.Lock()
	acquired := make(chan struct{})
	go func() {
		s.m.Lock()
		close(acquired)
		s.m.Unlock()
	}()

	select {
	case <-acquired:
		s.Fail("lock acquired while held")
	case <-time.After(50 * time.Millisecond):
	}
	s.m.Unlock()
	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		s.Fail("waiter never woke up")
	}
}

func (s *MutexTestSuite) TestUnlockOfFreeMutexIsFatal() {
	msg := catchFatal(func() {
		s.word.owner = selfPID
		s.m.Unlock()
	})
	s.Contains(msg, "unlock of an unlocked mutex")
}

func (s *MutexTestSuite) TestUnlockByNonOwnerIsFatal() {
	s.m.Lock()
	s.word.owner = selfPID + 1
	msg := catchFatal(s.m.Unlock)
	s.Contains(msg, "held by pid")
	s.word.owner = selfPID
	s.m.Unlock()
}

func (s *MutexTestSuite) TestInitializeTwiceIsFatal() {
	msg := catchFatal(func() { initializeMutexAt(unsafe.Pointer(&s.word), "test") })
	s.Contains(msg, "initialized twice")
}

func (s *MutexTestSuite) TestAttachUninitializedIsFatal() {
	var w mutexWord
	msg := catchFatal(func() { mutexAt(unsafe.Pointer(&w), "raw") })
	s.Contains(msg, "before initialization")
	s.Empty(catchFatal(func() { mutexAt(unsafe.Pointer(&s.word), "test") }))
}

func (s *MutexTestSuite) TestGuard() {
	var v uint64 = 3
	s.m.Lock()
	g := &Guard[uint64]{m: s.m, value: &v}
	s.Equal(uint64(3), g.Get())
	g.Set(4)
	*g.Value() += 1
	g.Unlock()
	s.Equal(uint64(5), v)
	s.Equal(0, s.m.Owner())

	s.Contains(catchFatal(g.Unlock), "unlocked twice")
	s.Contains(catchFatal(func() { g.Get() }), "released guard")
}

func TestMutexTestSuite(t *testing.T) {
	suite.Run(t, new(MutexTestSuite))
}
