// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/maasstorage/api"
	"github.com/canonical/maasstorage/core/devicetree"
	"github.com/canonical/maasstorage/internal/command"
)

type clientSuite struct{}

var _ = gc.Suite(&clientSuite{})

const gib = uint64(1024 * 1024 * 1024)

func testTree(name string) *devicetree.Tree {
	return &devicetree.Tree{
		SystemID:     "abc123",
		Architecture: "amd64/generic",
		BlockDevices: []devicetree.BlockDevice{{
			ID: 1, Kind: devicetree.Physical, Name: name,
			Size: 100 * gib, AvailableSize: 100 * gib,
		}},
	}
}

// newTestServer runs a websocket endpoint that feeds every decoded
// request to handle. handle writes any responses itself.
func newTestServer(handle func(conn *websocket.Conn, req map[string]interface{})) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req map[string]interface{}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			handle(conn, req)
		}
	}))
}

func respondSuccess(conn *websocket.Conn, req map[string]interface{}, result interface{}) {
	conn.WriteJSON(map[string]interface{}{
		"type":       1,
		"request_id": req["request_id"],
		"rtype":      0,
		"result":     result,
	})
}

func respondError(conn *websocket.Conn, req map[string]interface{}, body interface{}) {
	conn.WriteJSON(map[string]interface{}{
		"type":       1,
		"request_id": req["request_id"],
		"rtype":      1,
		"error":      body,
	})
}

func (s *clientSuite) newClient(c *gc.C, srv *httptest.Server) *api.Client {
	client, err := api.NewClient(api.Config{
		Address:       "ws" + strings.TrimPrefix(srv.URL, "http"),
		DialTimeout:   5 * time.Second,
		RetryDelay:    10 * time.Millisecond,
		RetryAttempts: 2,
	}, nil)
	c.Assert(err, jc.ErrorIsNil)
	return client
}

func (s *clientSuite) TestSubmitRoundTrip(c *gc.C) {
	var gotMethod string
	srv := newTestServer(func(conn *websocket.Conn, req map[string]interface{}) {
		gotMethod = req["method"].(string)
		respondSuccess(conn, req, testTree("sda"))
	})
	defer srv.Close()
	client := s.newClient(c, srv)
	defer client.Close()

	tree, err := client.Submit(context.Background(), command.CreateCacheSet{
		SystemID: "abc123", BlockID: 1,
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(gotMethod, gc.Equals, "machine.create_cache_set")
	c.Assert(tree, gc.NotNil)
	c.Check(tree.SystemID, gc.Equals, "abc123")
	c.Check(tree.BlockDevices[0].Name, gc.Equals, "sda")
}

func (s *clientSuite) TestSubmitValidationError(c *gc.C) {
	srv := newTestServer(func(conn *websocket.Conn, req map[string]interface{}) {
		respondError(conn, req, map[string][]string{
			"mount_point": {"path is required"},
		})
	})
	defer srv.Close()
	client := s.newClient(c, srv)
	defer client.Close()

	_, err := client.Submit(context.Background(), command.UnmountSpecial{
		SystemID: "abc123", MountPoint: "/tmp",
	})
	verr, ok := err.(command.ValidationError)
	c.Assert(ok, jc.IsTrue)
	c.Check(verr, gc.DeepEquals, command.ValidationError{
		"mount_point": {"path is required"},
	})
}

func (s *clientSuite) TestSubmitPlainError(c *gc.C) {
	srv := newTestServer(func(conn *websocket.Conn, req map[string]interface{}) {
		respondError(conn, req, "machine is deploying")
	})
	defer srv.Close()
	client := s.newClient(c, srv)
	defer client.Close()

	_, err := client.Submit(context.Background(), command.DeleteDisk{
		SystemID: "abc123", BlockID: 1,
	})
	c.Assert(err, gc.ErrorMatches, "machine is deploying")
}

func (s *clientSuite) TestSubmitNullResult(c *gc.C) {
	srv := newTestServer(func(conn *websocket.Conn, req map[string]interface{}) {
		respondSuccess(conn, req, nil)
	})
	defer srv.Close()
	client := s.newClient(c, srv)
	defer client.Close()

	tree, err := client.Submit(context.Background(), command.DeleteDisk{
		SystemID: "abc123", BlockID: 1,
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(tree, gc.IsNil)
}

func (s *clientSuite) TestSubscribe(c *gc.C) {
	srv := newTestServer(func(conn *websocket.Conn, req map[string]interface{}) {
		switch req["method"] {
		case "machine.set_active":
			respondSuccess(conn, req, testTree("sda"))
		case "machine.update_disk":
			respondSuccess(conn, req, nil)
			conn.WriteJSON(map[string]interface{}{
				"type":   2,
				"name":   "machine",
				"action": "update",
				"data":   testTree("sda-renamed"),
			})
		}
	})
	defer srv.Close()
	client := s.newClient(c, srv)
	defer client.Close()

	changes, stop, err := client.Subscribe(context.Background(), "abc123")
	c.Assert(err, jc.ErrorIsNil)

	tree := nextTree(c, changes)
	c.Check(tree.BlockDevices[0].Name, gc.Equals, "sda")

	_, err = client.Submit(context.Background(), command.UpdateDisk{
		SystemID: "abc123", BlockID: 1, Name: "sda-renamed",
	})
	c.Assert(err, jc.ErrorIsNil)
	tree = nextTree(c, changes)
	c.Check(tree.BlockDevices[0].Name, gc.Equals, "sda-renamed")

	stop()
	select {
	case _, ok := <-changes:
		c.Check(ok, jc.IsFalse)
	case <-time.After(10 * time.Second):
		c.Fatalf("channel never closed")
	}
	// A second stop is a no-op.
	stop()
}

func (s *clientSuite) TestSubscribeIgnoresOtherMachines(c *gc.C) {
	srv := newTestServer(func(conn *websocket.Conn, req map[string]interface{}) {
		switch req["method"] {
		case "machine.set_active":
			respondSuccess(conn, req, testTree("sda"))
		case "machine.update_disk":
			respondSuccess(conn, req, nil)
			other := testTree("sdz")
			other.SystemID = "zzz999"
			conn.WriteJSON(map[string]interface{}{
				"type": 2, "name": "machine", "action": "update", "data": other,
			})
			conn.WriteJSON(map[string]interface{}{
				"type": 2, "name": "machine", "action": "update", "data": testTree("sda-2"),
			})
		}
	})
	defer srv.Close()
	client := s.newClient(c, srv)
	defer client.Close()

	changes, stop, err := client.Subscribe(context.Background(), "abc123")
	c.Assert(err, jc.ErrorIsNil)
	defer stop()
	c.Check(nextTree(c, changes).BlockDevices[0].Name, gc.Equals, "sda")

	_, err = client.Submit(context.Background(), command.UpdateDisk{
		SystemID: "abc123", BlockID: 1, Name: "sda-2",
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(nextTree(c, changes).BlockDevices[0].Name, gc.Equals, "sda-2")
}

func (s *clientSuite) TestSubmitAfterClose(c *gc.C) {
	srv := newTestServer(func(conn *websocket.Conn, req map[string]interface{}) {})
	defer srv.Close()
	client := s.newClient(c, srv)
	c.Assert(client.Close(), jc.ErrorIsNil)

	_, err := client.Submit(context.Background(), command.DeleteDisk{
		SystemID: "abc123", BlockID: 1,
	})
	c.Assert(err, gc.ErrorMatches, "client closed")
}

func nextTree(c *gc.C, changes <-chan *devicetree.Tree) *devicetree.Tree {
	select {
	case tree, ok := <-changes:
		c.Assert(ok, jc.IsTrue)
		return tree
	case <-time.After(10 * time.Second):
		c.Fatalf("no tree delivered")
	}
	return nil
}
