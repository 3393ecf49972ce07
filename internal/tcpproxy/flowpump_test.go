package tcpproxy

import (
	"net"
	"testing"
	"time"
)

// TestFlowPumpWatermarkPausesAndResumesReads drives a flowPump between two
// net.Pipe ends, which make Write synchronous with a matching Read, so the
// amount of unwritten (pending) data is fully under the test's control
// rather than depending on real kernel socket buffer sizes.
func TestFlowPumpWatermarkPausesAndResumesReads(t *testing.T) {
	srcServer, srcClient := net.Pipe()
	dstServer, dstClient := net.Pipe()

	var counter uint64
	pump := newFlowPump(srcServer, dstServer, &counter, FlowWatermarks{High: 3, Low: 1}, nil)

	runDone := make(chan error, 1)
	go func() { runDone <- pump.run() }()

	go func() {
		srcClient.Write([]byte{1})
		srcClient.Write([]byte{2})
		srcClient.Write([]byte{3})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for pump.Pending() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("pending never reached the high watermark, got %d", pump.Pending())
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Nothing has drained dst yet, so the pump must be paused: a fourth
	// byte written at src sits unread until the low watermark is crossed.
	fourthWritten := make(chan error, 1)
	go func() {
		_, err := srcClient.Write([]byte{4})
		fourthWritten <- err
	}()

	select {
	case <-fourthWritten:
		t.Fatal("fourth write completed while the pump should be paused at the high watermark")
	case <-time.After(200 * time.Millisecond):
	}

	// Draining two bytes out the dst side drops pending from 3 to 1, at
	// the low watermark, which must resume reads.
	buf := make([]byte, 1)
	if _, err := dstClient.Read(buf); err != nil {
		t.Fatalf("read dst 1: %v", err)
	}
	if _, err := dstClient.Read(buf); err != nil {
		t.Fatalf("read dst 2: %v", err)
	}

	select {
	case err := <-fourthWritten:
		if err != nil {
			t.Fatalf("fourth write: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pump never resumed reading after pending dropped to the low watermark")
	}

	srcClient.Close()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("pump.run did not return after src closed")
	}

	go func() {
		drain := make([]byte, 1)
		for {
			if _, err := dstClient.Read(drain); err != nil {
				return
			}
		}
	}()
	select {
	case <-pump.Drained():
	case <-time.After(2 * time.Second):
		t.Fatal("pump never drained its remaining queued writes")
	}
	dstClient.Close()
}
