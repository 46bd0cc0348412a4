// Command ringctl operates a ring buffer device file from the shell: create
// or remove the device, inspect queue state, send messages as the producer,
// and receive them as the consumer.
//
// Usage:
//
//	ringctl -dev demo -region 1048576 create
//	ringctl -dev demo -peer 1 send "HELLO"
//	ringctl -dev demo recv
//	ringctl -dev demo -json status
//	ringctl -dev demo watch
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/sugawarayuuta/sonnet"
	ringbuf "github.com/xiyurain/Ring-Buffer-on-IVshmem"
)

var (
	devName  = flag.String("dev", "ringbuf0", "device file name")
	region   = flag.Int("region", 1<<20, "shared region size in bytes (create)")
	peerID   = flag.Uint("peer", 0, "local peer id (0 or 1)")
	source   = flag.Uint("source", ringbuf.DefaultSourceID, "source id stamped on sent messages")
	expected = flag.Uint("expect", ringbuf.DefaultSourceID, "source id expected on received messages")
	target   = flag.Uint("target", 0, "peer rung by the doorbell after a send")
	asJSON   = flag.Bool("json", false, "print status as JSON")
)

func main() {
	log.SetFlags(0)
	flag.Parse()
	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: ringctl [flags] create|remove|status|send|recv|watch")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cmd := flag.Arg(0)
	switch cmd {
	case "create":
		dev, err := ringbuf.CreateFileDevice(*devName, *region, uint16(*peerID))
		if err != nil {
			log.Fatalf("create: %v", err)
		}
		defer dev.Close()
		// Attaching once initializes the queue metadata in the fresh region.
		sess := attach(dev, ringbuf.Consumer)
		sess.Close()
		fmt.Printf("created %s: region %d bytes\n", *devName, *region)

	case "remove":
		if err := ringbuf.RemoveDeviceFile(*devName); err != nil {
			log.Fatalf("remove: %v", err)
		}

	case "status":
		sess, dev := open(ringbuf.Consumer)
		defer dev.Close()
		defer sess.Close()
		st := sess.State()
		if *asJSON {
			out, err := sonnet.Marshal(st)
			if err != nil {
				log.Fatalf("status: encode: %v", err)
			}
			fmt.Println(string(out))
			return
		}
		fmt.Printf("queued records: %d\n", st.QueuedRecords)
		fmt.Printf("free ring bytes: %d / %d\n", st.FreeBytes, st.Capacity)
		fmt.Printf("indices: in=%d out=%d\n", st.In, st.Out)
		fmt.Printf("payload area: %d bytes, cursor at %d\n", st.PayloadCap, st.Cursor)
		fmt.Printf("lock held: %v\n", st.LockHeld)
		fmt.Printf("local id: %d (%s)\n", st.LocalID, st.Role)

	case "send":
		if flag.NArg() < 2 {
			log.Fatalf("send: missing message argument")
		}
		sess, dev := open(ringbuf.Producer)
		defer dev.Close()
		defer sess.Close()
		msg := flag.Arg(1)
		if err := sess.Send([]byte(msg)); err != nil {
			log.Fatalf("send: %v", err)
		}
		fmt.Printf("sent %d bytes\n", len(msg))

	case "recv":
		sess, dev := open(ringbuf.Consumer)
		defer dev.Close()
		defer sess.Close()
		buf := make([]byte, ringbuf.RingSize)
		n, err := sess.Receive(buf)
		if err != nil {
			log.Fatalf("recv: %v", err)
		}
		if n == 0 {
			fmt.Println("no message")
			return
		}
		fmt.Printf("recv %d bytes: %q\n", n, buf[:n])

	case "watch":
		dev, err := ringbuf.OpenFileDevice(*devName, uint16(*peerID))
		if err != nil {
			log.Fatalf("watch: %v", err)
		}
		defer dev.Close()
		sess, err := ringbuf.Attach(dev, ringbuf.Config{
			Role:           ringbuf.Consumer,
			ExpectedSource: uint32(*expected),
			OnMessage: func(p []byte) {
				fmt.Printf("recv %d bytes: %q\n", len(p), p)
			},
		})
		if err != nil {
			log.Fatalf("watch: %v", err)
		}
		defer sess.Close()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt)
		fmt.Println("watching for messages; interrupt to stop")
		<-sig

	default:
		log.Fatalf("unknown command %q", cmd)
	}
}

func open(role ringbuf.Role) (*ringbuf.Session, *ringbuf.FileDevice) {
	dev, err := ringbuf.OpenFileDevice(*devName, uint16(*peerID))
	if err != nil {
		log.Fatalf("open device: %v", err)
	}
	return attach(dev, role), dev
}

func attach(dev *ringbuf.FileDevice, role ringbuf.Role) *ringbuf.Session {
	sess, err := ringbuf.Attach(dev, ringbuf.Config{
		Role:           role,
		SourceID:       uint32(*source),
		ExpectedSource: uint32(*expected),
		TargetPeer:     uint16(*target),
	})
	if err != nil {
		log.Fatalf("attach: %v", err)
	}
	return sess
}
