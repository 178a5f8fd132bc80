package tasks

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// TaskManager runs named background tasks. Starting a task under a name
// that is already taken stops the old task first, so a worker can be
// re-pointed without leaking goroutines.
type TaskManager struct {
	mu    sync.Mutex
	tasks map[string]*Task
	Log   *logrus.Entry
}

type Task struct {
	name          string
	stop          chan struct{}
	stopped       bool
	stopMutex     sync.Mutex
	notifyStopped chan struct{}
	Log           *logrus.Entry
}

func NewTaskManager(log *logrus.Entry) *TaskManager {
	return &TaskManager{Log: log, tasks: map[string]*Task{}}
}

// Close stops every running task, giving them a grace period to wind down.
func (t *TaskManager) Close() error {
	t.mu.Lock()
	tasks := make([]*Task, 0, len(t.tasks))
	for _, task := range t.tasks {
		tasks = append(tasks, task)
	}
	t.tasks = map[string]*Task{}
	t.mu.Unlock()

	c := make(chan struct{}, 1)

	go func() {
		for _, task := range tasks {
			task.Stop()
		}
		c <- struct{}{}
	}()

	select {
	case <-c:
	case <-time.After(3 * time.Second):
		t.Log.Warn("background tasks did not stop within the grace period")
	}

	return nil
}

func (t *TaskManager) NewTask(name string, f func(stop chan struct{})) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old := t.tasks[name]; old != nil {
		t.Log.WithField("task", name).Debug("asking task to stop")
		old.Stop()
	}

	stop := make(chan struct{}, 1) // we don't want to block on this in case the task already returned
	notifyStopped := make(chan struct{})

	task := &Task{
		name:          name,
		stop:          stop,
		notifyStopped: notifyStopped,
		Log:           t.Log,
	}
	t.tasks[name] = task

	go func() {
		f(stop)
		close(notifyStopped)
	}()
}

func (t *Task) Stop() {
	t.stopMutex.Lock()
	defer t.stopMutex.Unlock()
	if t.stopped {
		return
	}
	close(t.stop)
	t.Log.WithField("task", t.name).Debug("closed stop channel, waiting for task to return")
	<-t.notifyStopped
	t.stopped = true
}

// NewTickerTask is a convenience function for making a new task that repeats some action once per e.g. minute.
// The before function gets called ahead of the first run.
// If you handle a message on the stop channel in f() you need to send a message on the notifyStopped channel because returning is not sufficient. Here, unlike in a regular task, simply returning means we're now going to wait till the next tick to run again.
func (t *TaskManager) NewTickerTask(name string, duration time.Duration, before func(stop chan struct{}), f func(stop, notifyStopped chan struct{})) {
	notifyStopped := make(chan struct{}, 10)

	t.NewTask(name, func(stop chan struct{}) {
		if before != nil {
			before(stop)
		}
		tickChan := time.NewTicker(duration)
		defer tickChan.Stop()
		// calling f first so that we're not waiting for the first tick
		f(stop, notifyStopped)
		for {
			select {
			case <-notifyStopped:
				t.Log.WithField("task", name).Debug("exiting ticker task due to notifyStopped channel")
				return
			case <-stop:
				t.Log.WithField("task", name).Debug("exiting ticker task due to stop channel")
				return
			case <-tickChan.C:
				f(stop, notifyStopped)
			}
		}
	})
}
