package errors

import (
	"errors"
	"sort"
	"sync"
)

// ErrorCollector collects template errors from concurrent compiles, keyed by
// template name.
type ErrorCollector struct {
	errors map[string]error
	mutex  sync.RWMutex
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{
		errors: make(map[string]error),
	}
}

// Add records err for a template. Nil errors are ignored.
func (ec *ErrorCollector) Add(template string, err error) {
	if err == nil {
		return
	}
	var qe *QuillError
	if errors.As(err, &qe) {
		qe.WithTemplate(template)
	}

	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.errors[template] = err
}

// Get returns the error recorded for a template.
func (ec *ErrorCollector) Get(template string) (error, bool) {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	err, ok := ec.errors[template]

	return err, ok
}

// Templates returns the names of templates with errors, sorted.
func (ec *ErrorCollector) Templates() []string {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()

	names := make([]string, 0, len(ec.errors))
	for name := range ec.errors {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// HasErrors returns true if there are any errors
func (ec *ErrorCollector) HasErrors() bool {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()

	return len(ec.errors) > 0
}

// Count returns the number of templates with errors.
func (ec *ErrorCollector) Count() int {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()

	return len(ec.errors)
}

// Err joins all collected errors in template order, or returns nil.
func (ec *ErrorCollector) Err() error {
	names := ec.Templates()
	if len(names) == 0 {
		return nil
	}

	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	errs := make([]error, 0, len(names))
	for _, name := range names {
		errs = append(errs, ec.errors[name])
	}

	return errors.Join(errs...)
}
