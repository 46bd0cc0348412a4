//go:build linux && (amd64 || arm64)

package ringbuf

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// devicePath returns an absolute device file path under a per-test temp dir,
// keeping test devices out of /dev/shm.
func devicePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "ringbuf-test-dev")
}

func TestFileDeviceCreateOpen(t *testing.T) {
	path := devicePath(t)

	creator, err := CreateFileDevice(path, testRegionSize, 0)
	if err != nil {
		t.Fatalf("CreateFileDevice failed: %v", err)
	}
	defer creator.Close()

	// Creating over an existing file must refuse, not truncate.
	if _, err := CreateFileDevice(path, testRegionSize, 1); err == nil {
		t.Fatal("CreateFileDevice over an existing file succeeded")
	}

	opener, err := OpenFileDevice(path, 1)
	if err != nil {
		t.Fatalf("OpenFileDevice failed: %v", err)
	}
	defer opener.Close()

	if id := creator.ReadRegister(RegIVPosition); id != 0 {
		t.Fatalf("creator IVPosition = %d, want 0", id)
	}
	if id := opener.ReadRegister(RegIVPosition); id != 1 {
		t.Fatalf("opener IVPosition = %d, want 1", id)
	}

	memC, err := creator.MapRegion()
	if err != nil {
		t.Fatalf("creator MapRegion failed: %v", err)
	}
	memO, err := opener.MapRegion()
	if err != nil {
		t.Fatalf("opener MapRegion failed: %v", err)
	}
	if len(memC) != testRegionSize || len(memO) != testRegionSize {
		t.Fatalf("region sizes = %d, %d, want %d", len(memC), len(memO), testRegionSize)
	}

	// Both handles see one shared region through the file mapping.
	copy(memC[PayloadOffset:], "shared")
	if !bytes.Equal(memO[PayloadOffset:PayloadOffset+6], []byte("shared")) {
		t.Fatal("write through one handle not visible through the other")
	}

	if err := RemoveDeviceFile(path); err != nil {
		t.Fatalf("RemoveDeviceFile failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("device file still present after remove: %v", err)
	}
}

func TestOpenFileDeviceRejectsBadFile(t *testing.T) {
	path := devicePath(t)

	// Too small to even hold the device header.
	if err := os.WriteFile(path, []byte("junk"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := OpenFileDevice(path, 0); err == nil {
		t.Fatal("opened a file smaller than the device header")
	}

	// Large enough but wrong magic.
	if err := os.WriteFile(path, make([]byte, devHeaderSize+MinRegionSize), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	_, err := OpenFileDevice(path, 0)
	if err == nil {
		t.Fatal("opened a device file with zeroed magic")
	}
	var attachErr *AttachError
	if !errors.As(err, &attachErr) {
		t.Fatalf("open failure not an *AttachError: %v", err)
	}
}

func TestFileDeviceDoorbell(t *testing.T) {
	path := devicePath(t)

	target, err := CreateFileDevice(path, testRegionSize, 0)
	if err != nil {
		t.Fatalf("CreateFileDevice failed: %v", err)
	}
	defer target.Close()
	ringer, err := OpenFileDevice(path, 1)
	if err != nil {
		t.Fatalf("OpenFileDevice failed: %v", err)
	}
	defer ringer.Close()

	fired := make(chan struct{}, 1)
	target.OnInterrupt(VectorID(2), func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	bell := DoorbellValue(0, VectorID(2))
	ringer.WriteDoorbell(bell)

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("doorbell never woke the target dispatcher")
	}
	if got := target.ReadRegister(RegDoorbell); got != bell {
		t.Fatalf("target doorbell register = %#x, want %#x", got, bell)
	}
}

func TestFileDeviceSessionRoundTrip(t *testing.T) {
	path := devicePath(t)

	devC, err := CreateFileDevice(path, testRegionSize, 0)
	if err != nil {
		t.Fatalf("CreateFileDevice failed: %v", err)
	}
	defer devC.Close()
	devP, err := OpenFileDevice(path, 1)
	if err != nil {
		t.Fatalf("OpenFileDevice failed: %v", err)
	}
	defer devP.Close()

	received := make(chan []byte, 1)
	consumer, err := Attach(devC, Config{
		Role: Consumer,
		OnMessage: func(p []byte) {
			msg := make([]byte, len(p))
			copy(msg, p)
			received <- msg
		},
	})
	if err != nil {
		t.Fatalf("consumer attach failed: %v", err)
	}
	defer consumer.Close()

	producer, err := Attach(devP, Config{Role: Producer, TargetPeer: 0})
	if err != nil {
		t.Fatalf("producer attach failed: %v", err)
	}
	defer producer.Close()

	want := []byte("HELLO\x00")
	if err := producer.Send(want); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case got := <-received:
		if !bytes.Equal(got, want) {
			t.Fatalf("received %q, want %q", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message never delivered across the file device")
	}
}
