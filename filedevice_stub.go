//go:build !linux || !(amd64 || arm64)

package ringbuf

import "os"

// FileDevice requires futex support; on other platforms the constructors
// fail and the loopback device remains available.
type FileDevice struct{}

func CreateFileDevice(name string, regionSize int, peerID uint16) (*FileDevice, error) {
	return nil, &AttachError{Op: "create device", Err: ErrUnsupported}
}

func OpenFileDevice(name string, peerID uint16) (*FileDevice, error) {
	return nil, &AttachError{Op: "open device", Err: ErrUnsupported}
}

func (d *FileDevice) MapRegion() ([]byte, error)             { return nil, ErrUnsupported }
func (d *FileDevice) UnmapRegion() error                     { return ErrUnsupported }
func (d *FileDevice) WriteDoorbell(value uint32)             {}
func (d *FileDevice) ReadRegister(off uint32) uint32         { return 0 }
func (d *FileDevice) AllocVectors(n int) ([]VectorID, error) { return nil, ErrUnsupported }
func (d *FileDevice) OnInterrupt(v VectorID, fn func())      {}
func (d *FileDevice) Close() error                           { return nil }

func RemoveDeviceFile(name string) error { return os.ErrNotExist }
