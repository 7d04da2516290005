package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

/*************************************************************************************************/
/* TEST CONN                                                                                     */
/*************************************************************************************************/

// testConn is an in-memory Conn. Messages written by hub are available on out.
type testConn struct {
	in     chan string
	out    chan string
	closed chan struct{}
	once   sync.Once
}

func newTestConn(outSize int) *testConn {
	return &testConn{
		in:     make(chan string),
		out:    make(chan string, outSize),
		closed: make(chan struct{}),
	}
}

func (c *testConn) ReadText() (string, error) {
	select {
	case text := <-c.in:
		return text, nil
	case <-c.closed:
		return "", net.ErrClosed
	}
}

func (c *testConn) WriteText(text string) error {
	select {
	case c.out <- text:
		return nil
	case <-c.closed:
		return net.ErrClosed
	}
}

func (c *testConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// brokenWriteConn reads like testConn but fails every write.
type brokenWriteConn struct {
	*testConn
}

var errBrokenWrite = errors.New("broken write")

func (c brokenWriteConn) WriteText(string) error {
	return errBrokenWrite
}

/*************************************************************************************************/
/* TEST SUITE                                                                                    */
/*************************************************************************************************/

// Test suite for Hub
type HubUnitTestSuite struct {
	suite.Suite
	hub *Hub
	ctx context.Context
}

// Run HubUnitTestSuite test suite
func TestHubUnitTestSuite(t *testing.T) {
	suite.Run(t, new(HubUnitTestSuite))
}

// HubUnitTestSuite - Before each test
func (suite *HubUnitTestSuite) SetupTest() {
	hub, err := NewHub(HubConfig{
		OutboxSize:     16,
		TracerProvider: trace.NewNoopTracerProvider(),
	}, zaptest.NewLogger(suite.T()))
	require.NoError(suite.T(), err)
	suite.hub = hub
	suite.hub.now = func() time.Time {
		return time.Date(2024, 11, 30, 13, 4, 5, 0, time.UTC)
	}
	suite.ctx = context.Background()
}

func (suite *HubUnitTestSuite) serve(c Conn) <-chan error {
	done := make(chan error, 1)
	go func() { done <- suite.hub.Serve(suite.ctx, c) }()
	return done
}

// join starts a session of a new user and waits until it is registered.
func (suite *HubUnitTestSuite) join(username string) (*testConn, <-chan error) {
	users := suite.hub.Users()
	c := newTestConn(16)
	done := suite.serve(c)
	c.in <- `{"type":"connect","username":"` + username + `"}`
	require.Eventually(suite.T(), func() bool {
		return suite.hub.Users() == users+1
	}, 2*time.Second, time.Millisecond)
	return c, done
}

func (suite *HubUnitTestSuite) receive(c *testConn) string {
	select {
	case text := <-c.out:
		return text
	case <-time.After(2 * time.Second):
		suite.T().Fatal("no message received")
		return ""
	}
}

func (suite *HubUnitTestSuite) silent(c *testConn) {
	select {
	case text := <-c.out:
		suite.T().Fatalf("unexpected message: %s", text)
	case <-time.After(50 * time.Millisecond):
	}
}

func (suite *HubUnitTestSuite) wait(done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		suite.T().Fatal("session has not ended")
		return nil
	}
}

/*************************************************************************************************/
/* HUB - TESTS                                                                                   */
/*************************************************************************************************/

// # Description
//
// Join is announced to other users only and messages are stamped and delivered to everyone but the
// sender.
func (suite *HubUnitTestSuite) TestJoinAndMessage() {
	alice, _ := suite.join("alice")
	bob, _ := suite.join("bob")

	require.JSONEq(suite.T(),
		`{"username":"bob","message":"bergabung!","time":"13:04:05","type":"announcement"}`,
		suite.receive(alice),
	)
	suite.silent(bob)

	bob.in <- `{"type":"message","username":"bob","message":"Halo semua"}`
	require.JSONEq(suite.T(),
		`{"username":"bob","message":"Halo semua","time":"13:04:05","type":"message"}`,
		suite.receive(alice),
	)
	suite.silent(bob)
	require.EqualValues(suite.T(), 1, suite.hub.messages.Load())
}

// # Description
//
// Sender name comes from the session, not from the request.
func (suite *HubUnitTestSuite) TestMessageUsernameFromSession() {
	alice, _ := suite.join("alice")
	bob, _ := suite.join("bob")
	suite.receive(alice)

	bob.in <- `{"type":"message","username":"alice","message":"spoof"}`

	var msg ChatMessage
	require.NoError(suite.T(), json.Unmarshal([]byte(suite.receive(alice)), &msg))
	require.Equal(suite.T(), "bob", msg.Username)
}

// # Description
//
// Second user with the same name gets an error message and is disconnected.
func (suite *HubUnitTestSuite) TestUsernameInUse() {
	suite.join("alice")

	c := newTestConn(1)
	done := suite.serve(c)
	c.in <- `{"type":"connect","username":"alice"}`

	require.Equal(suite.T(), `{"type":"error","message":"Username is already in use."}`, suite.receive(c))
	require.ErrorIs(suite.T(), suite.wait(done), ErrUsernameInUse)
	require.Equal(suite.T(), 1, suite.hub.Users())
}

// # Description
//
// Leaving frees the username and is reported as clean session end.
func (suite *HubUnitTestSuite) TestLeave() {
	alice, done := suite.join("alice")
	alice.Close()
	require.NoError(suite.T(), suite.wait(done))
	require.Zero(suite.T(), suite.hub.Users())

	suite.join("alice")
}

// # Description
//
// Location updates are delivered to other users and a joining user gets the last known locations.
func (suite *HubUnitTestSuite) TestLocation() {
	alice, _ := suite.join("alice")
	bob, _ := suite.join("bob")
	suite.receive(alice)

	alice.in <- `{"type":"location","lat":-6.2,"lon":106.8}`
	require.JSONEq(suite.T(), `{"type":"location","username":"alice","lat":-6.2,"lon":106.8}`, suite.receive(bob))
	suite.silent(alice)

	alice.in <- `{"type":"location","lat":-7.25,"lon":112.75}`
	suite.receive(bob)

	carol, _ := suite.join("carol")
	require.JSONEq(suite.T(), `{"type":"location","username":"alice","lat":-7.25,"lon":112.75}`, suite.receive(carol))
	suite.silent(carol)
}

// # Description
//
// Location of a user who left is not sent to users joining later.
func (suite *HubUnitTestSuite) TestLocationForgottenOnLeave() {
	alice, done := suite.join("alice")
	bob, _ := suite.join("bob")
	suite.receive(alice)

	alice.in <- `{"type":"location","lat":1,"lon":2}`
	suite.receive(bob)

	alice.Close()
	suite.wait(done)

	carol, _ := suite.join("carol")
	suite.silent(carol)
}

// # Description
//
// Malformed and unknown requests are skipped, the session goes on.
func (suite *HubUnitTestSuite) TestBadRequestsSkipped() {
	alice, _ := suite.join("alice")
	bob, done := suite.join("bob")
	suite.receive(alice)

	bob.in <- `not json`
	bob.in <- `{"message":"no type"}`
	bob.in <- `{"type":"dance"}`
	bob.in <- `{"type":"location","lat":1}`
	bob.in <- `{"type":"message","message":"still here"}`

	var msg ChatMessage
	require.NoError(suite.T(), json.Unmarshal([]byte(suite.receive(alice)), &msg))
	require.Equal(suite.T(), "still here", msg.Message)
	select {
	case err := <-done:
		suite.T().Fatalf("session ended: %v", err)
	default:
	}
}

// # Description
//
// Session must start with a connect request with non empty username.
func (suite *HubUnitTestSuite) TestFirstRequest() {
	for _, test := range []struct {
		text string
		err  error
	}{
		{`{"type":"message","message":"hi"}`, ErrNotConnected},
		{`{"type":"connect"}`, ErrEmptyUsername},
		{`{`, ErrBadRequest},
	} {
		c := newTestConn(1)
		done := suite.serve(c)
		c.in <- test.text
		require.ErrorIs(suite.T(), suite.wait(done), test.err)
	}
	require.Zero(suite.T(), suite.hub.Users())
}

// # Description
//
// User which does not read its messages is dropped when its outbox overflows, others are not
// affected.
func (suite *HubUnitTestSuite) TestSlowConsumerDropped() {
	suite.hub.outbox = 1

	slow := newTestConn(0)
	slowDone := suite.serve(slow)
	slow.in <- `{"type":"connect","username":"slow"}`
	require.Eventually(suite.T(), func() bool { return suite.hub.Users() == 1 }, 2*time.Second, time.Millisecond)

	fast, _ := suite.join("fast")
	for i := 0; i < 3; i++ {
		fast.in <- `{"type":"message","message":"flood"}`
	}

	require.ErrorIs(suite.T(), suite.wait(slowDone), ErrSlowConsumer)
	require.Equal(suite.T(), 1, suite.hub.Users())
	require.EqualValues(suite.T(), 1, suite.hub.dropped.Load())
}

// # Description
//
// Joining user gets the location of every other user even when there are more of them than the
// outbox holds.
func (suite *HubUnitTestSuite) TestLocationSnapshotLargerThanOutbox() {
	suite.hub.outbox = 2

	const known = 5
	suite.hub.mu.Lock()
	for i := 0; i < known; i++ {
		name := "user" + strconv.Itoa(i)
		suite.hub.locations[name] = Location{Type: TypeLocation, Username: name, Lat: float64(i), Lon: float64(i)}
	}
	suite.hub.mu.Unlock()

	dave, _ := suite.join("dave")
	seen := make(map[string]bool)
	for i := 0; i < known; i++ {
		var loc Location
		require.NoError(suite.T(), json.Unmarshal([]byte(suite.receive(dave)), &loc))
		require.Equal(suite.T(), TypeLocation, loc.Type)
		seen[loc.Username] = true
	}
	require.Len(suite.T(), seen, known)
	suite.silent(dave)
}

// # Description
//
// Failure to deliver the username in use reply is logged and the session still ends with
// ErrUsernameInUse.
func (suite *HubUnitTestSuite) TestUsernameInUseReplyFailed() {
	core, logs := observer.New(zapcore.DebugLevel)
	hub, err := NewHub(HubConfig{TracerProvider: trace.NewNoopTracerProvider()}, zap.New(core))
	require.NoError(suite.T(), err)
	suite.hub = hub

	suite.join("alice")

	c := brokenWriteConn{newTestConn(1)}
	done := suite.serve(c)
	c.in <- `{"type":"connect","username":"alice"}`
	require.ErrorIs(suite.T(), suite.wait(done), ErrUsernameInUse)

	entries := logs.FilterMessage("username in use reply failed").All()
	require.Len(suite.T(), entries, 1)
	require.Equal(suite.T(), errBrokenWrite.Error(), entries[0].ContextMap()["error"])
}
