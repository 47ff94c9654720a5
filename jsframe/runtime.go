package jsframe

import (
	"fmt"

	"github.com/dop251/goja"
)

// innerRuntime calls the test runtime object found at Options.RuntimePath inside the frame. The
// object is looked up again on every call, since the page may replace it while bootstrapping.
type innerRuntime struct {
	frame *Frame
}

func (r innerRuntime) invoke(method string, args ...interface{}) (goja.Value, error) {
	var result goja.Value
	path := r.frame.options.RuntimePath + "." + method
	err := r.frame.call(func(vm *goja.Runtime) error {
		this, fnValue := resolve(vm, path)
		fn, ok := goja.AssertFunction(fnValue)
		if !ok {
			return fmt.Errorf("%s is not a function", path)
		}
		values := make([]goja.Value, 0, len(args))
		for _, a := range args {
			values = append(values, vm.ToValue(a))
		}
		v, err := fn(this, values...)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

func (r innerRuntime) IsComplete() (bool, error) {
	v, err := r.invoke("isComplete")
	if err != nil {
		return false, err
	}
	return v.ToBoolean(), nil
}

func (r innerRuntime) Run(name, code string, timeoutTicks int, quickFixOnException bool) error {
	_, err := r.invoke("run", name, code, timeoutTicks, quickFixOnException)
	return err
}

func (r innerRuntime) Errors() (string, error) {
	v, err := r.invoke("getErrors")
	if err != nil {
		return "", err
	}
	if !isPresent(v) {
		return "", nil
	}
	return v.String(), nil
}
