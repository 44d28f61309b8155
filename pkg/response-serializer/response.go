// Package serializer converts HTTP responses to and from the byte snapshots
// kept in the cache store. A snapshot is an immutable copy of the response
// status, headers and body, together with the time it was stored.
package serializer

import (
	"bufio"
	"bytes"
	"net/http"
	"strconv"
	"time"
)

// The stored-at time is carried inside the serialized headers and stripped
// again on read, so the snapshot stays a single opaque blob for the store.
const storedAtHeaderName = "Shell-Cache-Stored-At"

type Snapshot struct {
	Response *http.Response
	// The value of the clock at the time the response was stored.
	// Needed for age calculation.
	StoredAt time.Time
}

// SnapshotToBytes serializes a snapshot into the HTTP/1.1 wire representation
// of its response. The response body remains readable after serialization.
func SnapshotToBytes(s Snapshot) ([]byte, error) {
	res := s.Response
	res.Header.Set(storedAtHeaderName, strconv.FormatInt(s.StoredAt.Unix(), 10))
	bts, err := responseToBytes(res)
	// remove the extra header again, the response may still be sent onward
	res.Header.Del(storedAtHeaderName)
	return bts, err
}

// BytesToSnapshot reconstructs a snapshot from its serialized form.
func BytesToSnapshot(b []byte) (Snapshot, error) {
	snap := Snapshot{}
	res, err := bytesToResponse(b)
	if err != nil {
		return snap, err
	}
	snap.Response = res
	storedAtInt, err := strconv.ParseInt(res.Header.Get(storedAtHeaderName), 10, 64)
	if err != nil {
		return snap, err
	}
	snap.StoredAt = time.Unix(storedAtInt, 0)
	res.Header.Del(storedAtHeaderName)
	return snap, nil
}

// bytesToResponse converts a byte slice to a http.Response.
func bytesToResponse(b []byte) (*http.Response, error) {
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), nil)
}

// responseToBytes converts a response to a byte slice.
// It returns the HTTP/1.1 representation of the response.
func responseToBytes(res *http.Response) ([]byte, error) {
	// write response to buffer
	buf := &bytes.Buffer{}
	if err := res.Write(buf); err != nil {
		return nil, err
	}
	// set response body back
	bts := buf.Bytes()
	clonedRes, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(bts)), res.Request)
	if err != nil {
		return nil, err
	}
	res.Body = clonedRes.Body
	// return buffer bytes
	return bts, nil
}
