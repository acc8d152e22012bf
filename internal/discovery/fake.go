package discovery

import "context"

// Fake is a Discoverer that returns a fixed container list, used by tests
// that exercise the monitor loops without a Docker daemon.
type Fake struct {
	Containers []Container
	Err        error
}

func (f *Fake) List(_ context.Context) ([]Container, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Containers, nil
}
