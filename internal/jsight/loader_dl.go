//go:build darwin || freebsd || linux

package jsight

import (
	"fmt"

	"github.com/ebitengine/purego"
)

type dynamicLoader struct{}

func (dynamicLoader) Load(path string) (Library, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return nil, err
	}
	return &dynamicLibrary{handle: handle}, nil
}

type dynamicLibrary struct {
	handle uintptr
}

func (l *dynamicLibrary) Bind(symbol string, fptr any) (err error) {
	addr, err := purego.Dlsym(l.handle, symbol)
	if err != nil {
		return err
	}
	if addr == 0 {
		return fmt.Errorf("symbol %s resolved to nil", symbol)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("register %s: %v", symbol, r)
		}
	}()
	purego.RegisterFunc(fptr, addr)
	return nil
}

func (l *dynamicLibrary) Close() error {
	return purego.Dlclose(l.handle)
}
