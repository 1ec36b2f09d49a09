package jsight

// Loader opens shared libraries.
type Loader interface {
	Load(path string) (Library, error)
}

// Library is an opened shared library.
type Library interface {
	// Bind resolves symbol and stores a callable for it into fptr, which must
	// point to a func variable whose signature matches the C declaration.
	Bind(symbol string, fptr any) error
	// Close unloads the library.
	Close() error
}

// DefaultLoader loads libraries with the platform dynamic linker.
var DefaultLoader Loader = dynamicLoader{}
