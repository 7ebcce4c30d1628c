package components_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	components "github.com/centraunit/goallin_components"
	"github.com/stretchr/testify/suite"
)

type TaskProcessorTestSuite struct {
	suite.Suite
}

func (s *TaskProcessorTestSuite) TestRejectsInvalidArguments() {
	_, err := components.NewTaskProcessor("", 1)
	s.Error(err)
	_, err = components.NewTaskProcessor("main", 0)
	s.Error(err)
}

func (s *TaskProcessorTestSuite) TestLimitsConcurrency() {
	processor, err := components.NewTaskProcessor("main", 2)
	s.Require().NoError(err)

	var running, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		s.Require().NoError(processor.Submit(func() {
			defer wg.Done()
			now := atomic.AddInt32(&running, 1)
			for {
				observed := atomic.LoadInt32(&peak)
				if now <= observed || atomic.CompareAndSwapInt32(&peak, observed, now) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&running, -1)
		}))
	}
	wg.Wait()

	s.LessOrEqual(atomic.LoadInt32(&peak), int32(2))
	s.NoError(processor.Shutdown(context.Background()))
}

func (s *TaskProcessorTestSuite) TestShutdownDrainsTasks() {
	processor, err := components.NewTaskProcessor("main", 4)
	s.Require().NoError(err)

	var completed int32
	for i := 0; i < 8; i++ {
		s.Require().NoError(processor.Submit(func() {
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&completed, 1)
		}))
	}
	s.NoError(processor.Shutdown(context.Background()))
	s.Equal(int32(8), atomic.LoadInt32(&completed))

	s.Error(processor.Submit(func() {}))
}

func (s *TaskProcessorTestSuite) TestConcurrentSubmitAndShutdown() {
	processor, err := components.NewTaskProcessor("main", 2)
	s.Require().NoError(err)

	var accepted, completed int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			if processor.Submit(func() { atomic.AddInt32(&completed, 1) }) != nil {
				return
			}
			atomic.AddInt32(&accepted, 1)
		}
	}()

	time.Sleep(time.Millisecond)
	s.NoError(processor.Shutdown(context.Background()))
	<-done

	// Every accepted task was part of the drain.
	s.Equal(atomic.LoadInt32(&accepted), atomic.LoadInt32(&completed))
}

func (s *TaskProcessorTestSuite) TestShutdownHonorsDeadline() {
	processor, err := components.NewTaskProcessor("main", 1)
	s.Require().NoError(err)

	release := make(chan struct{})
	s.Require().NoError(processor.Submit(func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	s.ErrorIs(processor.Shutdown(ctx), context.DeadlineExceeded)

	close(release)
	s.NoError(processor.Shutdown(context.Background()))
}

func TestTaskProcessorSuite(t *testing.T) {
	suite.Run(t, new(TaskProcessorTestSuite))
}
