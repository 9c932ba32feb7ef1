package pipe

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Transport creates unidirectional byte streams. Closing the write end makes
// the reader observe io.EOF once buffered data is drained; closing the read
// end makes further writes fail.
type Transport interface {
	Name() string
	Pipe() (io.ReadCloser, io.WriteCloser, error)
}

const (
	OSName     = "os"
	MemoryName = "mem"
)

// OS is backed by kernel pipes from os.Pipe.
type OS struct{}

func (OS) Name() string { return OSName }

func (OS) Pipe() (io.ReadCloser, io.WriteCloser, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	return r, w, nil
}

// Memory is backed by io.Pipe: unbuffered, every write waits for a reader.
type Memory struct{}

func (Memory) Name() string { return MemoryName }

func (Memory) Pipe() (io.ReadCloser, io.WriteCloser, error) {
	r, w := io.Pipe()
	return r, w, nil
}

var transports = map[string]Transport{
	OSName:     OS{},
	MemoryName: Memory{},
}

// Lookup returns the transport registered under name.
func Lookup(name string) (Transport, error) {
	t, ok := transports[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown transport %q (want one of %s)", name, strings.Join(Names(), ", "))
	}
	return t, nil
}

// Names lists the registered transports in sorted order.
func Names() []string {
	names := make([]string, 0, len(transports))
	for name := range transports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
