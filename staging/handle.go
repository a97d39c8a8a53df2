package staging

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"io"
	"os"
	"sync/atomic"
	"time"
)

// handlePrefix marks staged handles so they are never confused with URLs.
const handlePrefix = "stg-"

var (
	// machineID is a 3-byte identifier for this host.
	machineID = readMachineID()

	// counter is incremented for every handle (low 3 bytes are used).
	counter = readRandomUint32()
)

func readMachineID() [3]byte {
	var mid [3]byte
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		_, _ = io.ReadFull(rand.Reader, mid[:])
		return mid
	}
	sum := ComputeHash([]byte(hostname)).Hex()
	raw, _ := hex.DecodeString(sum[:6])
	copy(mid[:], raw)
	return mid
}

func readRandomUint32() uint32 {
	var b [4]byte
	_, _ = io.ReadFull(rand.Reader, b[:])
	return binary.BigEndian.Uint32(b[:])
}

// newHandle generates a session-unique handle for a staged entry.
// Layout of the 12 encoded bytes:
//
//   - 4 bytes: seconds since epoch
//   - 3 bytes: machine identifier
//   - 2 bytes: process id
//   - 3 bytes: counter
//
// The hex form is safe to use as a file name.
func newHandle() string {
	var id [12]byte

	binary.BigEndian.PutUint32(id[0:4], uint32(time.Now().Unix()))
	copy(id[4:7], machineID[:])
	binary.BigEndian.PutUint16(id[7:9], uint16(os.Getpid()))

	c := atomic.AddUint32(&counter, 1)
	id[9] = byte(c >> 16)
	id[10] = byte(c >> 8)
	id[11] = byte(c)

	return handlePrefix + hex.EncodeToString(id[:])
}

// validHandle reports whether h has the shape produced by newHandle. Anything
// else can never name a staged entry, and must never be joined into a path.
func validHandle(h string) bool {
	if len(h) != len(handlePrefix)+24 || h[:len(handlePrefix)] != handlePrefix {
		return false
	}
	_, err := hex.DecodeString(h[len(handlePrefix):])
	return err == nil
}
