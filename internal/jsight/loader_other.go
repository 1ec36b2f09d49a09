//go:build !(darwin || freebsd || linux)

package jsight

import (
	"fmt"
	"runtime"
)

type dynamicLoader struct{}

func (dynamicLoader) Load(path string) (Library, error) {
	return nil, fmt.Errorf("dynamic loading is not supported on %s", runtime.GOOS)
}
