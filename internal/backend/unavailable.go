package backend

import "context"

// Unavailable returns a backend whose every call fails with err. The state
// store built over it starts in its error phase and serves the default
// document offline.
func Unavailable(err error) Backend {
	return unavailable{err: err}
}

type unavailable struct {
	err error
}

func (u unavailable) Read(context.Context) ([]byte, bool, error) { return nil, false, u.err }

func (u unavailable) Write(context.Context, []byte) error { return u.err }

func (u unavailable) Subscribe(context.Context) (Subscription, error) { return nil, u.err }

func (u unavailable) Ping(context.Context) error { return u.err }

func (u unavailable) Close() error { return nil }
