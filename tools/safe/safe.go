package safe

import (
	"fmt"
	"reflect"

	"PPRoom/logger"
	"PPRoom/tools/errs"

	"go.uber.org/zap"
)

// MustNotNil panics if the given value is nil.
// Useful for enforcing required dependencies during construction.
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

// Go starts f on a new goroutine that logs and swallows panics, so one broken
// connection cannot take the process down. onPanic, if set, runs after recovery.
func Go(name string, f func(), onPanic func(error)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				err := errs.ErrPanic(r)
				logger.Error("[safe] panic recovered", zap.String("goroutine", name), zap.Error(err))
				if onPanic != nil {
					onPanic(err)
				}
			}
		}()
		f()
	}()
}
