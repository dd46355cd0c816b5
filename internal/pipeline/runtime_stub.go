//go:build !govips || !cgo

package pipeline

func Startup(workers int) error {
	return nil
}

func Shutdown() {}

func newTransformer() (Transformer, error) {
	return stdTransformer{}, nil
}
