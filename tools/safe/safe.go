package safe

import (
	"fmt"
	"reflect"

	"PPRelay/tools/errs"

	"go.uber.org/zap"
)

// MustNotNil panics if the given value is nil.
// Useful for enforcing required fields during struct initialization.
func MustNotNil(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("%s must not be nil", name))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			panic(fmt.Sprintf("%s must not be nil", name))
		}
	}
}

// Go starts f in a new goroutine and logs instead of crashing when it panics.
func Go(log *zap.Logger, name string, f func()) {
	go Run(log, name, f)
}

// Run calls f on the current goroutine with the same recovery as Go.
func Run(log *zap.Logger, name string, f func()) {
	defer func() {
		if r := recover(); r != nil {
			if log == nil {
				log = zap.L()
			}
			log.Error("panic recovered", zap.String("task", name), zap.Error(errs.ErrPanic(r)), zap.Stack("stack"))
		}
	}()
	f()
}
