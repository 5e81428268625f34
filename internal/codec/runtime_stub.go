//go:build !govips || !cgo

package codec

import "go.uber.org/zap"

func Startup(*zap.Logger) error {
	return nil
}

func Shutdown() {}

func Backend() string {
	return "portable"
}

func platformAdapters() []Adapter {
	return nil
}
