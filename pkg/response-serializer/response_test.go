package serializer

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestResponseToBytesBodyIntact(t *testing.T) {
	response := `HTTP/1.1 200 OK
Server: Test

This is the body`

	res, err := http.ReadResponse(bufio.NewReader(strings.NewReader(response)), nil)
	if err != nil {
		panic(err)
	}

	_, err = responseToBytes(res)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	if fmt.Sprintf("%s", body) != "This is the body" {
		t.Fatalf("Body: %s", body)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	response := `HTTP/1.1 200 OK
Content-Type: text/css

body{}`

	res, err := http.ReadResponse(bufio.NewReader(strings.NewReader(response)), nil)
	if err != nil {
		panic(err)
	}
	storedAt := time.Now().Truncate(time.Second)

	bts, err := SnapshotToBytes(Snapshot{Response: res, StoredAt: storedAt})
	if err != nil {
		t.Fatalf("Error creating bytes: %+v", err)
	}
	snap, err := BytesToSnapshot(bts)
	if err != nil {
		t.Fatalf("Error creating snapshot: %+v", err)
	}

	if ct := snap.Response.Header.Get("Content-Type"); ct != "text/css" {
		t.Fatalf("Content-Type is %s", ct)
	}
	if got := snap.Response.Header.Get(storedAtHeaderName); got != "" {
		t.Fatalf("Stored-at header leaked: %s", got)
	}
	if !snap.StoredAt.Equal(storedAt) {
		t.Fatalf("StoredAt is %v, want %v", snap.StoredAt, storedAt)
	}
	body, err := io.ReadAll(snap.Response.Body)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	if string(body) != "body{}" {
		t.Fatalf("Body: %s", body)
	}
}

func TestSerializationLeavesSourceReadable(t *testing.T) {
	response := `HTTP/1.1 200 OK
Server: Test

still here`

	res, err := http.ReadResponse(bufio.NewReader(strings.NewReader(response)), nil)
	if err != nil {
		panic(err)
	}

	if _, err := SnapshotToBytes(Snapshot{Response: res, StoredAt: time.Now()}); err != nil {
		t.Fatalf("Error: %v", err)
	}
	if got := res.Header.Get(storedAtHeaderName); got != "" {
		t.Fatalf("Stored-at header left on source: %s", got)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	if string(body) != "still here" {
		t.Fatalf("Body: %s", body)
	}
}
