//go:build linux && (amd64 || arm64)

/*
 * Copyright 2025 The Ring-Buffer-on-IVshmem Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package ringbuf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// FileDevice is a Device backed by a mapped file, typically under /dev/shm.
// It emulates the ivshmem transport between two processes on one host: the
// file starts with a device header page holding a register block per peer,
// followed by the shared region the protocol runs over. Doorbell writes land
// in the target peer's register block and wake it through a shared futex
// word; a per-process dispatcher goroutine waits on that word and invokes the
// registered vector callbacks.
//
// Device file layout:
//
//	0x000  magic "IVSHMRB\0"
//	0x008  u32 version
//	0x00C  u32 region offset (devHeaderSize)
//	0x010  u64 region size
//	0x100  register block, peer 0 (64 bytes)
//	0x140  register block, peer 1
//	0x1000 shared region
const (
	deviceMagic   = "IVSHMRB\x00"
	deviceVersion = uint32(1)
	devHeaderSize = 4096
	maxPeers      = 2

	regBlockBase = 0x100
	regBlockSize = 64

	// Register block fields, relative to the block start. The first four
	// mirror the ivshmem register offsets so ReadRegister is a direct
	// window onto the block.
	blkIntrMask   = 0x00
	blkIntrStatus = 0x04
	blkIVPosition = 0x08
	blkDoorbell   = 0x0C
	blkIntrSeq    = 0x10 // futex word the dispatcher sleeps on
)

// FileDevice implements Device over a shared file mapping.
type FileDevice struct {
	file       *os.File
	mem        []byte
	path       string
	peerID     uint16
	regionOff  uint32
	regionSize uint64

	mu       sync.Mutex
	handlers map[VectorID]func()

	quit      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	closed    atomic.Bool
}

// CreateFileDevice creates and maps a new device file with a shared region of
// regionSize bytes, attaching as peerID. The file must not already exist.
func CreateFileDevice(name string, regionSize int, peerID uint16) (*FileDevice, error) {
	if regionSize < MinRegionSize {
		return nil, &AttachError{Op: "create device", Err: errors.New("region size below protocol minimum")}
	}
	if peerID >= maxPeers {
		return nil, &AttachError{Op: "create device", Err: fmt.Errorf("peer id %d out of range", peerID)}
	}
	path := deviceFilePath(name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return nil, &AttachError{Op: "create device file", Err: err}
	}
	total := int64(devHeaderSize) + int64(regionSize)
	if err := file.Truncate(total); err != nil {
		file.Close()
		os.Remove(path)
		return nil, &AttachError{Op: "size device file", Err: err}
	}
	mem, err := unix.Mmap(int(file.Fd()), 0, int(total), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, &AttachError{Op: "map device file", Err: err}
	}

	copy(mem[0:8], deviceMagic)
	putU32(mem, 0x08, deviceVersion)
	putU32(mem, 0x0C, devHeaderSize)
	putU64(mem, 0x10, uint64(regionSize))
	for p := uint16(0); p < maxPeers; p++ {
		putU32(mem, regBlockBase+uint32(p)*regBlockSize+blkIVPosition, uint32(p))
	}

	d := newFileDevice(file, mem, path, peerID)
	logDebug("device created", "path", path, "region", regionSize, "peer", peerID)
	return d, nil
}

// OpenFileDevice maps an existing device file, attaching as peerID.
func OpenFileDevice(name string, peerID uint16) (*FileDevice, error) {
	if peerID >= maxPeers {
		return nil, &AttachError{Op: "open device", Err: fmt.Errorf("peer id %d out of range", peerID)}
	}
	path := deviceFilePath(name)

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, &AttachError{Op: "open device file", Err: err}
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, &AttachError{Op: "stat device file", Err: err}
	}
	if info.Size() < devHeaderSize+MinRegionSize {
		file.Close()
		return nil, &AttachError{Op: "open device", Err: fmt.Errorf("device file too small: %d bytes", info.Size())}
	}
	mem, err := unix.Mmap(int(file.Fd()), 0, int(info.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, &AttachError{Op: "map device file", Err: err}
	}

	if string(mem[0:8]) != deviceMagic {
		unix.Munmap(mem)
		file.Close()
		return nil, &AttachError{Op: "open device", Err: errors.New("bad device magic")}
	}
	if v := getU32(mem, 0x08); v != deviceVersion {
		unix.Munmap(mem)
		file.Close()
		return nil, &AttachError{Op: "open device", Err: fmt.Errorf("unsupported device version %d", v)}
	}
	regionOff := getU32(mem, 0x0C)
	regionSize := getU64(mem, 0x10)
	if uint64(regionOff)+regionSize > uint64(len(mem)) {
		unix.Munmap(mem)
		file.Close()
		return nil, &AttachError{Op: "open device", Err: errors.New("region bounds exceed device file")}
	}

	d := newFileDevice(file, mem, path, peerID)
	d.regionOff = regionOff
	d.regionSize = regionSize
	logDebug("device opened", "path", path, "region", regionSize, "peer", peerID)
	return d, nil
}

func newFileDevice(file *os.File, mem []byte, path string, peerID uint16) *FileDevice {
	d := &FileDevice{
		file:       file,
		mem:        mem,
		path:       path,
		peerID:     peerID,
		regionOff:  devHeaderSize,
		regionSize: uint64(len(mem) - devHeaderSize),
		handlers:   make(map[VectorID]func()),
		quit:       make(chan struct{}),
	}
	d.wg.Add(1)
	go d.dispatch()
	return d
}

// block returns a pointer to the 32-bit register cell off bytes into peer p's
// register block.
func (d *FileDevice) block(p uint16, off uint32) *uint32 {
	return (*uint32)(unsafe.Pointer(&d.mem[regBlockBase+uint32(p)*regBlockSize+off]))
}

// MapRegion returns the shared region portion of the mapping.
func (d *FileDevice) MapRegion() ([]byte, error) {
	if d.closed.Load() {
		return nil, errors.New("ringbuf: device closed")
	}
	return d.mem[d.regionOff : uint64(d.regionOff)+d.regionSize], nil
}

// UnmapRegion releases the caller's region view. The mapping itself lives
// until Close, since the device header shares it.
func (d *FileDevice) UnmapRegion() error { return nil }

// WriteDoorbell posts an interrupt to the target peer: the pending vector bit
// is set in its status register and its futex word is woken. Fire-and-forget;
// a peer with no dispatcher simply never observes the bit.
func (d *FileDevice) WriteDoorbell(value uint32) {
	peer, vec := SplitDoorbell(value)
	if peer >= maxPeers || int(vec) >= maxVectors {
		return
	}
	atomic.StoreUint32(d.block(peer, blkDoorbell), value)
	// Atomic OR via CAS; atomic.OrUint32 needs Go 1.23+.
	status := d.block(peer, blkIntrStatus)
	for {
		old := atomic.LoadUint32(status)
		if atomic.CompareAndSwapUint32(status, old, old|1<<uint(vec)) {
			break
		}
	}
	seq := d.block(peer, blkIntrSeq)
	atomic.AddUint32(seq, 1)
	futexWake(seq, 1)
}

// ReadRegister reads from this peer's own register block.
func (d *FileDevice) ReadRegister(off uint32) uint32 {
	switch off {
	case RegIntrMask, RegIntrStatus, RegIVPosition, RegDoorbell:
		return atomic.LoadUint32(d.block(d.peerID, off))
	default:
		return 0
	}
}

// AllocVectors hands out vector ids 0..n-1; the status register has one
// pending bit per vector.
func (d *FileDevice) AllocVectors(n int) ([]VectorID, error) {
	if n <= 0 || n > maxVectors {
		return nil, fmt.Errorf("vector count %d out of range", n)
	}
	out := make([]VectorID, n)
	for i := range out {
		out[i] = VectorID(i)
	}
	return out, nil
}

// OnInterrupt registers (or, with nil, removes) the callback for vector v.
func (d *FileDevice) OnInterrupt(v VectorID, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fn == nil {
		delete(d.handlers, v)
		return
	}
	d.handlers[v] = fn
}

// dispatch is the per-process interrupt context: it sleeps on this peer's
// futex word, swaps out the pending vector bits, and invokes the registered
// callbacks. Callbacks run on this goroutine and must not block.
func (d *FileDevice) dispatch() {
	defer d.wg.Done()
	status := d.block(d.peerID, blkIntrStatus)
	seq := d.block(d.peerID, blkIntrSeq)
	for {
		select {
		case <-d.quit:
			return
		default:
		}

		s := atomic.LoadUint32(seq)
		pending := atomic.SwapUint32(status, 0)
		if pending != 0 {
			d.invoke(pending)
			continue
		}
		futexWait(seq, s)
	}
}

func (d *FileDevice) invoke(pending uint32) {
	for v := 0; v < maxVectors; v++ {
		if pending&(1<<uint(v)) == 0 {
			continue
		}
		d.mu.Lock()
		fn := d.handlers[VectorID(v)]
		d.mu.Unlock()
		if fn != nil {
			fn()
		}
	}
}

// Close stops the dispatcher, unmaps the device, and closes the file. The
// file itself is left in place for other peers; see RemoveDeviceFile.
func (d *FileDevice) Close() error {
	var firstErr error
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.quit)
		// Kick our own futex word so the dispatcher observes quit.
		seq := d.block(d.peerID, blkIntrSeq)
		atomic.AddUint32(seq, 1)
		futexWake(seq, 1)
		d.wg.Wait()

		if err := unix.Munmap(d.mem); err != nil && firstErr == nil {
			firstErr = err
		}
		d.mem = nil
		if err := d.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	return firstErr
}

// RemoveDeviceFile unlinks a device file created by CreateFileDevice.
func RemoveDeviceFile(name string) error {
	return os.Remove(deviceFilePath(name))
}

// deviceFilePath places device files under /dev/shm when available, falling
// back to the temp directory. Absolute names are used as-is.
func deviceFilePath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return filepath.Join("/dev/shm", "ivshmem_ringbuf_"+name)
	}
	return filepath.Join(os.TempDir(), "ivshmem_ringbuf_"+name)
}

// Little-endian header field helpers. The device header is only ever written
// at create time, before any peer can race on it.

func putU32(b []byte, off uint32, v uint32) {
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
	b[off+2] = byte(v >> 16)
	b[off+3] = byte(v >> 24)
}

func getU32(b []byte, off uint32) uint32 {
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
}

func putU64(b []byte, off uint32, v uint64) {
	putU32(b, off, uint32(v))
	putU32(b, off+4, uint32(v>>32))
}

func getU64(b []byte, off uint32) uint64 {
	return uint64(getU32(b, off)) | uint64(getU32(b, off+4))<<32
}
