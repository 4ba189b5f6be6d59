package common

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/apex/log"
)

// TaskHandler callback to execute a submitted task parameter
type TaskHandler func(taskParam interface{}) error

// TaskProcessor processing module implementing a single-goroutine event loop model.
//
// Request structs are submitted from any goroutine and dispatched to the handler
// registered for their concrete type. Because one loop services all requests,
// handlers may touch shared module state without additional locking.
type TaskProcessor interface {
	Submit(newTaskParam interface{}, useContext context.Context) error
	ProcessNewTaskParam(newTaskParam interface{}) error
	SetTaskExecutionMap(newMap map[reflect.Type]TaskHandler) error
	AddToTaskExecutionMap(theType reflect.Type, handler TaskHandler) error
	StartEventLoop(wg *sync.WaitGroup) error
	StopEventLoop() error
}

// taskProcessorImpl implements TaskProcessor
type taskProcessorImpl struct {
	Component
	name             string
	operationContext context.Context
	contextCancel    context.CancelFunc
	newTasks         chan interface{}
	executionMap     map[reflect.Type]TaskHandler
}

// GetNewTaskProcessorInstance get instance of TaskProcessor
func GetNewTaskProcessorInstance(
	name string, taskBuffer int, rootCtxt context.Context,
) (TaskProcessor, error) {
	logTags := log.Fields{
		"module": "common", "component": fmt.Sprintf("task-processor/%s", name),
	}
	ctxt, cancel := context.WithCancel(rootCtxt)
	return &taskProcessorImpl{
		Component:        Component{LogTags: logTags},
		name:             name,
		operationContext: ctxt,
		contextCancel:    cancel,
		newTasks:         make(chan interface{}, taskBuffer),
		executionMap:     make(map[reflect.Type]TaskHandler),
	}, nil
}

// Submit submit a new task parameter for processing.
//
// Fails once the processor has stopped. The select alone is not enough for
// that: with buffer space free, the send and the cancelled context are both
// ready and the runtime picks between them at random, so the stop condition
// is checked explicitly on both sides of the select.
func (p *taskProcessorImpl) Submit(newTaskParam interface{}, useContext context.Context) error {
	if p.operationContext.Err() != nil {
		return fmt.Errorf("[TP %s] processor has stopped", p.name)
	}
	select {
	case p.newTasks <- newTaskParam:
		if p.operationContext.Err() != nil {
			return fmt.Errorf("[TP %s] processor has stopped", p.name)
		}
		return nil
	case <-useContext.Done():
		return useContext.Err()
	case <-p.operationContext.Done():
		return fmt.Errorf("[TP %s] processor has stopped", p.name)
	}
}

// SetTaskExecutionMap replace the task param to execution mapping
func (p *taskProcessorImpl) SetTaskExecutionMap(newMap map[reflect.Type]TaskHandler) error {
	log.WithFields(p.LogTags).Debug("Changing task execution mapping")
	p.executionMap = newMap
	return nil
}

// AddToTaskExecutionMap add a new entry to the task param to execution mapping
func (p *taskProcessorImpl) AddToTaskExecutionMap(
	theType reflect.Type, handler TaskHandler,
) error {
	log.WithFields(p.LogTags).Debugf("Registering handler for %s", theType)
	p.executionMap[theType] = handler
	return nil
}

// ProcessNewTaskParam process a new task param
func (p *taskProcessorImpl) ProcessNewTaskParam(newTaskParam interface{}) error {
	if len(p.executionMap) == 0 {
		return fmt.Errorf("[TP %s] no task execution mapping set", p.name)
	}
	if theHandler, ok := p.executionMap[reflect.TypeOf(newTaskParam)]; ok {
		return theHandler(newTaskParam)
	}
	return fmt.Errorf(
		"[TP %s] no matching handler found for %s", p.name, reflect.TypeOf(newTaskParam),
	)
}

// StopEventLoop stop the task param processing event loop
func (p *taskProcessorImpl) StopEventLoop() error {
	log.WithFields(p.LogTags).Info("Stopping event loop")
	p.contextCancel()
	return nil
}

// StartEventLoop start the event loop
func (p *taskProcessorImpl) StartEventLoop(wg *sync.WaitGroup) error {
	log.WithFields(p.LogTags).Info("Starting event loop")
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer log.WithFields(p.LogTags).Info("Event loop exiting")
		for {
			select {
			case <-p.operationContext.Done():
				return
			case newTaskParam, ok := <-p.newTasks:
				if !ok {
					log.WithFields(p.LogTags).Error(
						"Event loop terminating. Failed to read new task param",
					)
					return
				}
				if err := p.ProcessNewTaskParam(newTaskParam); err != nil {
					log.WithError(err).WithFields(p.LogTags).Error("Failed to process new task param")
				}
			}
		}
	}()
	return nil
}
